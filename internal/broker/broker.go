// SPDX-License-Identifier: MIT

// Package broker implements the durable three-tier priority queue on
// Redis.
//
// Each tier owns a set of keys under mf:q:<tier>:
//
//	waiting    zset  score = (100-priority)*2^40 + seq  (priority desc, then FIFO)
//	scheduled  zset  score = nextAttemptAt in ms        (backoff parking lot)
//	active     zset  score = visibility deadline in ms  (claimed entries)
//	completed  zset  score = ack time in ms             (operator inspection)
//	dead       zset  score = death time in ms           (failed tombstones)
//	entry:<id> hash  payload json, priority, attempts, timestamps
//
// Claim atomically promotes due scheduled entries, requeues entries
// whose visibility deadline has lapsed (stalled deliveries) and pops the
// best waiting entry into active. All mutations run as Lua scripts, so
// concurrent workers on one Redis never double-claim.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mediaforge-io/mediaforge/internal/config"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

const keyPrefix = "mf:q:"

// Backoff bases per tier, doubled per attempt.
var backoffBase = map[types.QueueTier]time.Duration{
	types.QueueTierHigh:   1 * time.Second,
	types.QueueTierNormal: 2 * time.Second,
	types.QueueTierLow:    5 * time.Second,
}

// Retention windows for settled entries.
const (
	completedRetention = 24 * time.Hour
	completedMax       = 1000
	deadRetention      = 7 * 24 * time.Hour
)

// Entry is one queued job as the broker sees it.
type Entry struct {
	JobID         string
	Tier          types.QueueTier
	Payload       model.JobData
	Priority      int
	AttemptsMade  int
	EnqueuedAt    time.Time
	NextAttemptAt time.Time
}

// EntryState reports where in a queue an entry currently sits.
type EntryState string

const (
	EntryStateWaiting   EntryState = "waiting"
	EntryStateScheduled EntryState = "scheduled"
	EntryStateActive    EntryState = "active"
	EntryStateDead      EntryState = "dead"
)

// QueueStats are the per-queue counters surfaced to operators.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats maps each tier to its counters.
type Stats map[types.QueueTier]QueueStats

// Options tune the broker.
type Options struct {
	// MaxAttempts is the delivery budget before dead-lettering. Default 3.
	MaxAttempts int
}

// Broker is the Redis-backed queue client shared by submitters and
// workers.
type Broker struct {
	rdb         *redis.Client
	logger      zerolog.Logger
	maxAttempts int
}

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig, opts Options, logger zerolog.Logger) (*Broker, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker: redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to queue broker")
	return NewWithClient(client, opts, logger), nil
}

// NewWithClient wraps an existing client. Tests use this with miniredis.
func NewWithClient(client *redis.Client, opts Options, logger zerolog.Logger) *Broker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &Broker{rdb: client, logger: logger, maxAttempts: opts.MaxAttempts}
}

// Close releases the Redis connection pool.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

// HealthCheck verifies broker connectivity.
func (b *Broker) HealthCheck(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func tierKey(tier types.QueueTier, part string) string {
	return keyPrefix + string(tier) + ":" + part
}

func entryKeyPrefix(tier types.QueueTier) string {
	return keyPrefix + string(tier) + ":entry:"
}

func entryKey(tier types.QueueTier, jobID string) string {
	return entryKeyPrefix(tier) + jobID
}

// Enqueue durably adds an entry to the tier queue. The broker-side ID
// equals the job ID, so a duplicate enqueue for a live entry is a
// dedup'd no-op (single-active-entry invariant). Returns true when a
// new entry was created.
func (b *Broker) Enqueue(ctx context.Context, tier types.QueueTier, data model.JobData) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("broker: marshal payload: %w", err)
	}

	priority := data.Priority
	if priority < 1 || priority > 100 {
		priority = 50
	}

	now := time.Now().UnixMilli()
	res, err := enqueueScript.Run(ctx, b.rdb,
		[]string{entryKey(tier, data.JobID), tierKey(tier, "waiting"), tierKey(tier, "seq")},
		data.JobID, payload, priority, now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("broker: enqueue: %w", err)
	}

	if res == 1 {
		b.logger.Debug().
			Str("job_id", data.JobID).
			Str("queue", string(tier)).
			Int("priority", priority).
			Msg("entry enqueued")
	}
	return res == 1, nil
}

// Claim pops the next due entry of the tier, making it invisible until
// the visibility timeout elapses. Returns (nil, nil) when the queue has
// no due entries. The caller must Ack or Nack before the deadline or
// the entry becomes visible again.
func (b *Broker) Claim(ctx context.Context, tier types.QueueTier, visibility time.Duration) (*Entry, error) {
	now := time.Now()
	deadline := now.Add(visibility).UnixMilli()

	jobID, err := claimScript.Run(ctx, b.rdb,
		[]string{
			tierKey(tier, "waiting"),
			tierKey(tier, "scheduled"),
			tierKey(tier, "active"),
			tierKey(tier, "seq"),
		},
		now.UnixMilli(), deadline, entryKeyPrefix(tier),
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: claim: %w", err)
	}

	entry, err := b.loadEntry(ctx, tier, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Entry hash vanished between pop and load; drop the claim.
		_ = b.rdb.ZRem(ctx, tierKey(tier, "active"), jobID).Err()
		return nil, nil
	}
	return entry, nil
}

// Ack settles a claimed entry as done (successfully or with a
// non-retriable failure recorded in the metadata store). The entry
// moves to the completed set and its hash expires after the retention
// window.
func (b *Broker) Ack(ctx context.Context, entry *Entry) error {
	now := time.Now().UnixMilli()
	err := ackScript.Run(ctx, b.rdb,
		[]string{tierKey(entry.Tier, "active"), tierKey(entry.Tier, "completed"), entryKey(entry.Tier, entry.JobID)},
		entry.JobID, now, int64(completedRetention.Seconds()), completedMax,
	).Err()
	if err != nil {
		return fmt.Errorf("broker: ack: %w", err)
	}
	return nil
}

// Nack reports a retriable failure. The entry's attempt counter is
// incremented; below the attempt budget it is re-scheduled with
// exponential backoff, otherwise it moves to the dead set and is never
// delivered again. Returns the attempts made and whether the entry was
// dead-lettered.
func (b *Broker) Nack(ctx context.Context, entry *Entry, reason string) (attempts int, dead bool, err error) {
	base, ok := backoffBase[entry.Tier]
	if !ok {
		base = time.Second
	}

	res, err := nackScript.Run(ctx, b.rdb,
		[]string{tierKey(entry.Tier, "active"), tierKey(entry.Tier, "scheduled"), tierKey(entry.Tier, "dead"), entryKey(entry.Tier, entry.JobID)},
		entry.JobID, time.Now().UnixMilli(), b.maxAttempts, base.Milliseconds(), int64(deadRetention.Seconds()),
	).Int()
	if err != nil {
		return 0, false, fmt.Errorf("broker: nack: %w", err)
	}

	if res < 0 {
		attempts = -res
		b.logger.Warn().
			Str("job_id", entry.JobID).
			Str("queue", string(entry.Tier)).
			Int("attempt", attempts).
			Str("reason", reason).
			Msg("entry dead-lettered")
		return attempts, true, nil
	}

	b.logger.Debug().
		Str("job_id", entry.JobID).
		Str("queue", string(entry.Tier)).
		Int("attempt", res).
		Str("reason", reason).
		Msg("entry re-scheduled with backoff")
	return res, false, nil
}

// Find scans all tiers for a live entry with the given job ID. At most
// one exists. Returns (nil, "", nil) when no queue holds the job.
func (b *Broker) Find(ctx context.Context, jobID string) (*Entry, EntryState, error) {
	for _, tier := range types.AllQueueTiers() {
		entry, err := b.loadEntry(ctx, tier, jobID)
		if err != nil {
			return nil, "", err
		}
		if entry == nil {
			continue
		}

		state, err := b.stateOf(ctx, tier, jobID)
		if err != nil {
			return nil, "", err
		}
		if state == "" {
			// Hash lingers after settle (retention); not a live entry.
			continue
		}
		return entry, state, nil
	}
	return nil, "", nil
}

// Remove deletes a waiting or scheduled entry from whichever queue
// holds it. Claimed (active) and settled entries are left alone; the
// call is a no-op then, matching cancel semantics.
func (b *Broker) Remove(ctx context.Context, jobID string) (bool, error) {
	for _, tier := range types.AllQueueTiers() {
		res, err := removeScript.Run(ctx, b.rdb,
			[]string{tierKey(tier, "waiting"), tierKey(tier, "scheduled"), entryKey(tier, jobID)},
			jobID,
		).Int()
		if err != nil {
			return false, fmt.Errorf("broker: remove: %w", err)
		}
		if res == 1 {
			b.logger.Debug().Str("job_id", jobID).Str("queue", string(tier)).Msg("entry removed")
			return true, nil
		}
	}
	return false, nil
}

// Stats returns per-queue counters.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	out := make(Stats, 3)
	for _, tier := range types.AllQueueTiers() {
		pipe := b.rdb.Pipeline()
		waiting := pipe.ZCard(ctx, tierKey(tier, "waiting"))
		scheduled := pipe.ZCard(ctx, tierKey(tier, "scheduled"))
		active := pipe.ZCard(ctx, tierKey(tier, "active"))
		completed := pipe.ZCard(ctx, tierKey(tier, "completed"))
		dead := pipe.ZCard(ctx, tierKey(tier, "dead"))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("broker: stats: %w", err)
		}

		out[tier] = QueueStats{
			Waiting:   waiting.Val() + scheduled.Val(),
			Active:    active.Val(),
			Completed: completed.Val(),
			Failed:    dead.Val(),
		}
	}
	return out, nil
}

// TrimRetention drops settled zset members past their retention
// windows. Entry hashes expire on their own; this keeps the index sets
// in step. Invoked by the periodic sweep.
func (b *Broker) TrimRetention(ctx context.Context) error {
	now := time.Now()
	for _, tier := range types.AllQueueTiers() {
		if err := b.rdb.ZRemRangeByScore(ctx, tierKey(tier, "completed"),
			"-inf", fmt.Sprintf("%d", now.Add(-completedRetention).UnixMilli())).Err(); err != nil {
			return fmt.Errorf("broker: trim completed: %w", err)
		}
		if err := b.rdb.ZRemRangeByScore(ctx, tierKey(tier, "dead"),
			"-inf", fmt.Sprintf("%d", now.Add(-deadRetention).UnixMilli())).Err(); err != nil {
			return fmt.Errorf("broker: trim dead: %w", err)
		}
	}
	return nil
}

func (b *Broker) loadEntry(ctx context.Context, tier types.QueueTier, jobID string) (*Entry, error) {
	fields, err := b.rdb.HGetAll(ctx, entryKey(tier, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: load entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := &Entry{JobID: jobID, Tier: tier}
	if err := json.Unmarshal([]byte(fields["payload"]), &entry.Payload); err != nil {
		return nil, fmt.Errorf("broker: corrupt payload for %s: %w", jobID, err)
	}
	entry.Priority = atoiDefault(fields["priority"], 50)
	entry.AttemptsMade = atoiDefault(fields["attempts"], 0)
	entry.EnqueuedAt = time.UnixMilli(int64(atoiDefault(fields["enqueued_at_ms"], 0))).UTC()
	entry.NextAttemptAt = time.UnixMilli(int64(atoiDefault(fields["next_attempt_ms"], 0))).UTC()
	return entry, nil
}

func (b *Broker) stateOf(ctx context.Context, tier types.QueueTier, jobID string) (EntryState, error) {
	for _, probe := range []struct {
		part  string
		state EntryState
	}{
		{"waiting", EntryStateWaiting},
		{"scheduled", EntryStateScheduled},
		{"active", EntryStateActive},
		{"dead", EntryStateDead},
	} {
		err := b.rdb.ZScore(ctx, tierKey(tier, probe.part), jobID).Err()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("broker: state probe: %w", err)
		}
		return probe.state, nil
	}
	return "", nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}
