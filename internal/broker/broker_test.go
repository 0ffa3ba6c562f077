package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

func newTestBroker(t *testing.T, opts Options) (*Broker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, opts, zerolog.Nop()), client
}

func testJobData(jobID string, priority int) model.JobData {
	return model.JobData{
		JobID:          jobID,
		OrgID:          "org-1",
		UserID:         "user-1",
		MediaID:        "media-1",
		ActionID:       "img_resize",
		ActionCategory: types.ActionCategoryModify,
		Parameters:     []byte(`{"mode":"percentage","percentage":50}`),
		Priority:       priority,
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	created, err := b.Enqueue(ctx, types.QueueTierHigh, testJobData("job-1", 50))
	require.NoError(t, err)
	assert.True(t, created)

	// A live entry with the same job id is never duplicated.
	created, err = b.Enqueue(ctx, types.QueueTierHigh, testJobData("job-1", 90))
	require.NoError(t, err)
	assert.False(t, created)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[types.QueueTierHigh].Waiting)
}

func TestClaimOrdersByPriorityThenFIFO(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierNormal, testJobData("low-a", 10))
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, types.QueueTierNormal, testJobData("high", 90))
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, types.QueueTierNormal, testJobData("low-b", 10))
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		entry, err := b.Claim(ctx, types.QueueTierNormal, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, entry)
		order = append(order, entry.JobID)
	}
	// Higher priority wins; equal priorities keep enqueue order.
	assert.Equal(t, []string{"high", "low-a", "low-b"}, order)

	entry, err := b.Claim(ctx, types.QueueTierNormal, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClaimEmptyQueue(t *testing.T) {
	b, _ := newTestBroker(t, Options{})

	entry, err := b.Claim(context.Background(), types.QueueTierLow, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClaimRedeliversAfterVisibilityLapse(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierHigh, testJobData("job-1", 50))
	require.NoError(t, err)

	first, err := b.Claim(ctx, types.QueueTierHigh, 30*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Invisible while claimed.
	hidden, err := b.Claim(ctx, types.QueueTierHigh, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	// Visible again after the deadline lapses (at-least-once).
	time.Sleep(50 * time.Millisecond)
	second, err := b.Claim(ctx, types.QueueTierHigh, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job-1", second.JobID)
	assert.Equal(t, "org-1", second.Payload.OrgID)
}

func TestAckSettlesEntry(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierHigh, testJobData("job-1", 50))
	require.NoError(t, err)
	entry, err := b.Claim(ctx, types.QueueTierHigh, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.NoError(t, b.Ack(ctx, entry))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[types.QueueTierHigh].Waiting)
	assert.Equal(t, int64(0), stats[types.QueueTierHigh].Active)
	assert.Equal(t, int64(1), stats[types.QueueTierHigh].Completed)

	// Settled entries are no longer live.
	found, state, err := b.Find(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Empty(t, state)
}

func rewriteScheduledToDue(t *testing.T, client *redis.Client, tier types.QueueTier, jobID string) {
	t.Helper()
	require.NoError(t, client.ZAdd(context.Background(), tierKey(tier, "scheduled"),
		redis.Z{Score: 0, Member: jobID}).Err())
}

func TestNackSchedulesRetryWithBackoff(t *testing.T) {
	b, client := newTestBroker(t, Options{MaxAttempts: 3})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierNormal, testJobData("job-1", 50))
	require.NoError(t, err)
	entry, err := b.Claim(ctx, types.QueueTierNormal, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)

	attempts, dead, err := b.Nack(ctx, entry, "transient storage error")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, dead)

	// Parked in scheduled; not claimable before the backoff elapses.
	found, state, err := b.Find(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, EntryStateScheduled, state)
	assert.Equal(t, 1, found.AttemptsMade)
	assert.True(t, found.NextAttemptAt.After(time.Now()))

	none, err := b.Claim(ctx, types.QueueTierNormal, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	// Once due, the entry is promoted and redelivered.
	rewriteScheduledToDue(t, client, types.QueueTierNormal, "job-1")
	redelivered, err := b.Claim(ctx, types.QueueTierNormal, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, 1, redelivered.AttemptsMade)
}

func TestNackDeadLettersAtAttemptBudget(t *testing.T) {
	b, client := newTestBroker(t, Options{MaxAttempts: 3})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierHigh, testJobData("job-1", 50))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		entry, err := b.Claim(ctx, types.QueueTierHigh, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, entry)

		attempts, dead, err := b.Nack(ctx, entry, "still failing")
		require.NoError(t, err)
		assert.Equal(t, attempt, attempts)
		assert.Equal(t, attempt == 3, dead)

		if !dead {
			rewriteScheduledToDue(t, client, types.QueueTierHigh, "job-1")
		}
	}

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[types.QueueTierHigh].Failed)

	_, state, err := b.Find(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, EntryStateDead, state)

	// Dead entries are never delivered again.
	none, err := b.Claim(ctx, types.QueueTierHigh, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRemoveWaitingEntry(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierLow, testJobData("job-1", 50))
	require.NoError(t, err)

	removed, err := b.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, removed)

	found, _, err := b.Find(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRemoveIsNoopForClaimedEntry(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierLow, testJobData("job-1", 50))
	require.NoError(t, err)
	entry, err := b.Claim(ctx, types.QueueTierLow, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)

	removed, err := b.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, removed)

	// The worker's view is intact.
	_, state, err := b.Find(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, EntryStateActive, state)
}

func TestFindScansAllTiers(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, types.QueueTierLow, testJobData("job-low", 30))
	require.NoError(t, err)

	entry, state, err := b.Find(ctx, "job-low")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.QueueTierLow, entry.Tier)
	assert.Equal(t, EntryStateWaiting, state)
	assert.Equal(t, 30, entry.Priority)

	entry, _, err = b.Find(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestTrimRetention(t *testing.T) {
	b, client := newTestBroker(t, Options{})
	ctx := context.Background()

	stale := float64(time.Now().Add(-48 * time.Hour).UnixMilli())
	require.NoError(t, client.ZAdd(ctx, tierKey(types.QueueTierHigh, "completed"),
		redis.Z{Score: stale, Member: "old-job"}).Err())

	require.NoError(t, b.TrimRetention(ctx))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[types.QueueTierHigh].Completed)
}
