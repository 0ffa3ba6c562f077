// SPDX-License-Identifier: MIT

// Package worker runs the per-queue consumer pool. Each worker claims
// entries from exactly one queue tier, executes the action and settles
// the job through the metadata store's CAS primitive. Workers never
// report back to submitters; terminal job rows are the only channel.
package worker

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/metrics"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/telemetry"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

const (
	// idlePoll is the sleep between claim attempts on an empty queue.
	idlePoll = 500 * time.Millisecond

	// claimRate caps claims per worker to protect downstream services.
	claimRate = 10

	// visibilitySlack extends the broker visibility window past the job
	// deadline so a live worker is never raced by a redelivery.
	visibilitySlack = 30 * time.Second
)

// Options configure the pool.
type Options struct {
	// Concurrency is the number of workers per queue tier.
	Concurrency int

	// JobTimeout is the per-job execution deadline.
	JobTimeout time.Duration

	// RetentionDays sets result media expiry.
	RetentionDays int
}

// Pool owns the worker goroutines for all three queue tiers.
type Pool struct {
	store    *store.Store
	broker   *broker.Broker
	objects  objstore.Store
	registry *actions.Registry
	opts     Options
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewPool wires a pool. Run starts it.
func NewPool(st *store.Store, br *broker.Broker, objects objstore.Store, registry *actions.Registry, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 300 * time.Second
	}
	if opts.RetentionDays < 1 {
		opts.RetentionDays = 30
	}
	return &Pool{
		store:    st,
		broker:   br,
		objects:  objects,
		registry: registry,
		opts:     opts,
		logger:   log.WithComponent("worker"),
		tracer:   telemetry.Tracer("worker"),
	}
}

// Run starts Concurrency workers per tier and blocks until ctx is
// cancelled and all workers have drained their in-flight job.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	pid := os.Getpid()
	n := 0
	for _, tier := range types.AllQueueTiers() {
		for i := 0; i < p.opts.Concurrency; i++ {
			n++
			id := workerID(pid, n)
			w := &consumer{
				pool:     p,
				tier:     tier,
				workerID: id,
				limiter:  rate.NewLimiter(rate.Limit(claimRate), 1),
				logger: log.Derive(func(lc *zerolog.Context) {
					*lc = lc.Str(log.FieldComponent, "worker").
						Str(log.FieldWorkerID, id).
						Str(log.FieldQueue, string(tier))
				}),
			}
			g.Go(func() error { return w.run(ctx) })
		}
	}

	p.logger.Info().
		Int("workers", n).
		Dur("job_timeout", p.opts.JobTimeout).
		Msg("worker pool started")
	return g.Wait()
}

type consumer struct {
	pool     *Pool
	tier     types.QueueTier
	workerID string
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func (c *consumer) run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil // context cancelled
		}

		entry, err := c.pool.broker.Claim(ctx, c.tier, c.pool.opts.JobTimeout+visibilitySlack)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("claim failed")
			if !sleepCtx(ctx, idlePoll) {
				return nil
			}
			continue
		}
		if entry == nil {
			if !sleepCtx(ctx, idlePoll) {
				return nil
			}
			continue
		}

		metrics.JobsClaimed.WithLabelValues(string(c.tier)).Inc()
		c.logger.Info().
			Str(log.FieldJobID, entry.JobID).
			Str(log.FieldActionID, entry.Payload.ActionID).
			Int(log.FieldAttempt, entry.AttemptsMade).
			Msg("entry claimed")

		c.handle(ctx, entry)
	}
}

// handle executes one delivery end to end and settles the broker entry.
// The job-scoped deadline is detached from ctx so an in-flight job
// finishes (or fails on its own terms) during shutdown.
func (c *consumer) handle(ctx context.Context, entry *broker.Entry) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.pool.opts.JobTimeout)
	defer cancel()
	jobCtx = log.ContextWithJobID(jobCtx, entry.JobID)

	jobCtx, span := c.pool.tracer.Start(jobCtx, "worker.execute",
		trace.WithAttributes(telemetry.JobAttributes(entry.JobID, entry.Payload.ActionID, string(c.tier))...))
	defer span.End()

	start := time.Now()
	err := c.execute(jobCtx, entry)
	switch {
	case err == nil:
		c.ack(jobCtx, entry)
		metrics.ObserveJobDuration(string(c.tier), entry.Payload.ActionID, time.Since(start))

	case err == errAbandoned:
		// The job settled elsewhere (cancel or competing worker); the
		// entry is spent.
		c.ack(jobCtx, entry)

	case fault.IsRetriable(err):
		span.SetAttributes(telemetry.ErrorAttributes(string(fault.CodeOf(err)))...)
		c.nack(jobCtx, entry, err)

	default:
		span.SetAttributes(telemetry.ErrorAttributes(string(fault.CodeOf(err)))...)
		c.settleFailed(jobCtx, entry, err, entry.AttemptsMade)
		c.ack(jobCtx, entry)
		metrics.ObserveJobDuration(string(c.tier), entry.Payload.ActionID, time.Since(start))
	}
}

func (c *consumer) ack(ctx context.Context, entry *broker.Entry) {
	if err := c.pool.broker.Ack(ctx, entry); err != nil {
		// The entry will stall and be redelivered; the CAS guard makes
		// the redelivery harmless.
		c.logger.Error().Err(err).Str(log.FieldJobID, entry.JobID).Msg("ack failed")
	}
}

func (c *consumer) nack(ctx context.Context, entry *broker.Entry, cause error) {
	attempts, dead, err := c.pool.broker.Nack(ctx, entry, cause.Error())
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldJobID, entry.JobID).Msg("nack failed")
		return
	}

	metrics.JobRetries.WithLabelValues(string(c.tier)).Inc()
	if !dead {
		c.logger.Warn().
			Str(log.FieldJobID, entry.JobID).
			Int(log.FieldAttempt, attempts).
			Err(cause).
			Msg("retriable failure, backing off")
		return
	}

	// Out of attempts: the tombstone never redelivers, so the job row
	// must settle here.
	c.settleFailed(ctx, entry, cause, attempts)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
