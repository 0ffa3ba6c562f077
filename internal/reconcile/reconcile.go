// Package reconcile runs the periodic sweeps that keep the metadata
// store, the broker and the object store in agreement: orphaned jobs
// are force-failed, expired media is removed and broker retention is
// enforced. The sweeps guarantee there is no LOST or STUCK job state.
package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/metrics"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

const (
	sweepSchedule = "@every 1m"

	// Batch caps per sweep keep each tick bounded.
	maxStalledBatch = 500
	maxExpiryBatch  = 200
)

// Reconciler owns the periodic sweeps.
type Reconciler struct {
	store      *store.Store
	broker     *broker.Broker
	objects    objstore.Store
	jobTimeout time.Duration
	logger     zerolog.Logger
	cron       *cron.Cron
}

// New wires a reconciler. Start schedules it.
func New(st *store.Store, br *broker.Broker, objects objstore.Store, jobTimeout time.Duration) *Reconciler {
	return &Reconciler{
		store:      st,
		broker:     br,
		objects:    objects,
		jobTimeout: jobTimeout,
		logger:     log.WithComponent("reconcile"),
	}
}

// Start schedules the sweep every minute and blocks until ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(sweepSchedule, func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info().Str("schedule", sweepSchedule).Msg("reconciler started")

	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done() // wait for a running sweep to finish
	return nil
}

// Sweep runs all reconciliation passes once.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepStalledJobs(ctx)
	r.sweepExpiredMedia(ctx)
	if err := r.broker.TrimRetention(ctx); err != nil {
		r.logger.Error().Err(err).Msg("broker retention trim failed")
	}
	r.exportQueueDepth(ctx)
}

// sweepStalledJobs force-fails non-terminal jobs that lost their broker
// entry and have shown no activity for over twice the job timeout.
func (r *Reconciler) sweepStalledJobs(ctx context.Context) {
	jobs, err := r.store.ListUnsettledJobs(ctx, maxStalledBatch)
	if err != nil {
		r.logger.Error().Err(err).Msg("unsettled job listing failed")
		return
	}

	cutoff := time.Now().Add(-2 * r.jobTimeout)
	for _, job := range jobs {
		if lastActivity(job).After(cutoff) {
			continue
		}

		entry, _, err := r.broker.Find(ctx, job.ID)
		if err != nil {
			r.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("broker lookup failed")
			continue
		}
		if entry != nil {
			// Still live in a queue; a worker will get to it.
			continue
		}

		r.failStalled(ctx, job)
	}
}

func (r *Reconciler) failStalled(ctx context.Context, job *model.Job) {
	code := string(fault.CodeStalled)
	msg := "job lost its queue entry and exceeded twice the execution deadline"
	now := time.Now().UTC()

	settled, err := r.store.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued, types.JobStatusProcessing},
		types.JobStatusFailed,
		store.JobPatch{CompletedAt: &now, ErrorCode: &code, ErrorMessage: &msg})
	if err != nil {
		if fault.CodeOf(err) != fault.CodeStateMismatch {
			r.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("stalled-job transition failed")
		}
		return
	}

	if err := r.store.InsertUsage(ctx, &model.UsageRecord{
		OrgID:          settled.OrgID,
		UserID:         settled.UserID,
		APIKeyID:       settled.APIKeyID,
		JobID:          settled.ID,
		ActionID:       settled.ActionID,
		ActionCategory: settled.ActionCategory,
		Status:         settled.Status,
	}); err != nil {
		r.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("usage record emit failed")
	}

	metrics.StalledJobs.Inc()
	r.logger.Warn().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldOrgID, job.OrgID).
		Str(log.FieldOldStatus, string(job.Status)).
		Msg("stalled job failed by reconciler")
}

// sweepExpiredMedia soft-deletes media past its expiry and removes the
// blobs best-effort. This also collects orphaned partial uploads from
// cancelled jobs once their retention lapses.
func (r *Reconciler) sweepExpiredMedia(ctx context.Context) {
	expired, err := r.store.ListExpiredMedia(ctx, time.Now(), maxExpiryBatch)
	if err != nil {
		r.logger.Error().Err(err).Msg("expired media listing failed")
		return
	}

	for _, media := range expired {
		if err := r.store.SoftDeleteMedia(ctx, media.OrgID, media.ID); err != nil {
			r.logger.Error().Err(err).Str(log.FieldMediaID, media.ID).Msg("media expiry failed")
			continue
		}

		if err := r.objects.Delete(ctx, media.StoragePath); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldPath, media.StoragePath).Msg("expired blob delete failed")
		}
		if media.ThumbnailPath != "" {
			if err := r.objects.Delete(ctx, media.ThumbnailPath); err != nil {
				r.logger.Warn().Err(err).Str(log.FieldPath, media.ThumbnailPath).Msg("expired thumbnail delete failed")
			}
		}

		metrics.MediaExpired.Inc()
		r.logger.Info().
			Str(log.FieldMediaID, media.ID).
			Str(log.FieldOrgID, media.OrgID).
			Msg("expired media removed")
	}
}

func (r *Reconciler) exportQueueDepth(ctx context.Context) {
	stats, err := r.broker.Stats(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("queue stats failed")
		return
	}
	for tier, qs := range stats {
		metrics.SetQueueDepth(string(tier), qs.Waiting, qs.Active)
	}
}

// lastActivity is the most recent lifecycle timestamp of a job.
func lastActivity(job *model.Job) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	if job.QueuedAt != nil {
		return *job.QueuedAt
	}
	return job.CreatedAt
}
