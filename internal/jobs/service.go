// SPDX-License-Identifier: MIT

// Package jobs implements the submission and lifecycle surface of the
// pipeline: submit, get, list, result, cancel, delete and queue stats.
// Workers consume what this package enqueues; see internal/worker.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/metrics"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/telemetry"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

// rpcTimeout bounds each broker round-trip made on the submit path.
const rpcTimeout = 5 * time.Second

// Service coordinates job submission and lifecycle against the metadata
// store, the broker and the object store.
type Service struct {
	store    *store.Store
	broker   *broker.Broker
	objects  objstore.Store
	registry *actions.Registry
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewService wires the submission coordinator.
func NewService(st *store.Store, br *broker.Broker, objects objstore.Store, registry *actions.Registry) *Service {
	return &Service{
		store:    st,
		broker:   br,
		objects:  objects,
		registry: registry,
		logger:   log.WithComponent("jobs"),
		tracer:   telemetry.Tracer("jobs"),
	}
}

// SubmitRequest is the input contract of Submit.
type SubmitRequest struct {
	OrgID        string          `json:"organizationId"`
	UserID       string          `json:"userId,omitempty"`
	APIKeyID     string          `json:"apiKeyId,omitempty"`
	InputMediaID string          `json:"inputMediaId"`
	ActionID     string          `json:"actionId"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Priority     int             `json:"priority,omitempty"`
}

// Submit validates the request, persists the job and enqueues it on the
// tier derived from the input file size. On success the returned job is
// QUEUED; a cancel racing the enqueue may yield a CANCELLED job instead.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.submit")
	defer span.End()

	job, err := s.submit(ctx, req)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(string(fault.CodeOf(err)))...)
		return nil, err
	}
	span.SetAttributes(telemetry.JobAttributes(job.ID, job.ActionID, string(job.Tier))...)
	return job, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	if req.OrgID == "" || req.InputMediaID == "" || req.ActionID == "" {
		return nil, fault.Validation("submission requires organizationId, inputMediaId and actionId")
	}

	priority := req.Priority
	if priority == 0 {
		priority = 50
	}
	if priority < 1 || priority > 100 {
		return nil, fault.Validation("priority must be in [1,100], got %d", priority)
	}

	media, err := s.store.GetMedia(ctx, req.OrgID, req.InputMediaID)
	if err != nil {
		return nil, err
	}
	if !media.IsReady() {
		return nil, fault.NotFound("media %s is not ready", req.InputMediaID)
	}

	action, err := s.registry.Get(req.ActionID)
	if err != nil {
		return nil, err
	}
	if action.MediaType != media.MediaType {
		return nil, fault.New(fault.CodeActionNotSupported,
			"action %s handles %s media, input is %s", action.ID, action.MediaType, media.MediaType)
	}

	params := map[string]any{}
	if len(req.Parameters) > 0 {
		if err := json.Unmarshal(req.Parameters, &params); err != nil {
			return nil, fault.Validation("parameters must be a JSON object: %v", err)
		}
	}
	if err := action.Validate(params); err != nil {
		return nil, err
	}

	tier := types.TierForSize(media.FileSizeBytes)
	job := &model.Job{
		ID:             uuid.NewString(),
		OrgID:          req.OrgID,
		UserID:         req.UserID,
		APIKeyID:       req.APIKeyID,
		InputMediaID:   media.ID,
		ActionID:       action.ID,
		ActionCategory: action.Category,
		Parameters:     req.Parameters,
		Priority:       priority,
		Tier:           tier,
	}
	if err := s.store.CreateJobPending(ctx, job); err != nil {
		return nil, err
	}

	data := model.JobData{
		JobID:          job.ID,
		OrgID:          job.OrgID,
		UserID:         job.UserID,
		APIKeyID:       job.APIKeyID,
		MediaID:        media.ID,
		ActionID:       action.ID,
		ActionCategory: action.Category,
		Parameters:     req.Parameters,
		Priority:       priority,
	}
	if err := s.enqueueWithRetry(ctx, tier, data); err != nil {
		// The PENDING row stays behind; the reconciler settles it if the
		// broker never comes back.
		return nil, err
	}

	now := time.Now().UTC()
	queued, err := s.store.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending}, types.JobStatusQueued,
		store.JobPatch{QueuedAt: &now})
	if err != nil {
		if fault.CodeOf(err) == fault.CodeStateMismatch {
			// Cancelled between insert and enqueue; evict our entry and
			// hand back the job as the caller left it.
			if _, rmErr := s.broker.Remove(ctx, job.ID); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str(log.FieldJobID, job.ID).
					Msg("could not evict entry for cancelled job")
			}
			return s.store.GetJob(ctx, req.OrgID, job.ID, "")
		}
		return nil, err
	}

	metrics.JobsSubmitted.WithLabelValues(string(tier), action.ID).Inc()
	s.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldOrgID, job.OrgID).
		Str(log.FieldActionID, action.ID).
		Str(log.FieldQueue, string(tier)).
		Int("priority", priority).
		Msg("job submitted")
	return queued, nil
}

// enqueueWithRetry pushes the entry with bounded retries on broker RPC
// failures. Enqueue is idempotent on the job ID, so a retry after an
// ambiguous failure cannot double-queue.
func (s *Service) enqueueWithRetry(ctx context.Context, tier types.QueueTier, data model.JobData) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()
		_, err := s.broker.Enqueue(opCtx, tier, data)
		return err
	}, policy)
}

// Get loads a tenant-scoped job. userID additionally narrows the read
// when non-empty.
func (s *Service) Get(ctx context.Context, orgID, jobID, userID string) (*model.Job, error) {
	if orgID == "" {
		return nil, fault.Validation("organizationId is required")
	}
	return s.store.GetJob(ctx, orgID, jobID, userID)
}

// List returns one page of an org's jobs plus the total count.
func (s *Service) List(ctx context.Context, orgID string, filter store.JobFilter, page, limit int) ([]*model.Job, int, error) {
	return s.store.ListJobs(ctx, orgID, filter, page, limit)
}

// Result describes a completed job's output.
type Result struct {
	Type    types.ResultType `json:"type"`
	Data    json.RawMessage  `json:"data,omitempty"`
	MediaID string           `json:"mediaId,omitempty"`
}

// GetResult returns the result of a COMPLETED job. Non-terminal jobs
// report ILLEGAL_STATE; FAILED and CANCELLED jobs have no result.
func (s *Service) GetResult(ctx context.Context, orgID, jobID, userID string) (*Result, error) {
	job, err := s.store.GetJob(ctx, orgID, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusCompleted {
		return nil, fault.IllegalState("job %s is %s, result available only when completed", jobID, job.Status)
	}
	return &Result{
		Type:    job.ResultType,
		Data:    job.ResultData,
		MediaID: job.ResultMediaID,
	}, nil
}

// Cancel moves a non-terminal job to CANCELLED and evicts its queue
// entry. A PROCESSING job is cancelled cooperatively: the worker
// observes the status at its final CAS and abandons the result.
func (s *Service) Cancel(ctx context.Context, orgID, jobID, userID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, orgID, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fault.IllegalState("job %s is already %s", jobID, job.Status)
	}

	if job.Status == types.JobStatusPending || job.Status == types.JobStatusQueued {
		if _, err := s.broker.Remove(ctx, jobID); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("broker eviction failed during cancel")
		}
	}

	now := time.Now().UTC()
	cancelled, err := s.store.TransitionJob(ctx, jobID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued, types.JobStatusProcessing},
		types.JobStatusCancelled,
		store.JobPatch{CompletedAt: &now})
	if err != nil {
		if fault.CodeOf(err) == fault.CodeStateMismatch {
			// A worker settled the job while we were cancelling.
			return nil, fault.IllegalState("job %s settled before cancellation", jobID)
		}
		return nil, err
	}

	s.emitUsage(ctx, cancelled)
	metrics.JobsSettled.WithLabelValues(string(cancelled.Tier), string(types.JobStatusCancelled), "").Inc()
	s.logger.Info().
		Str(log.FieldJobID, jobID).
		Str(log.FieldOrgID, orgID).
		Str(log.FieldOldStatus, string(job.Status)).
		Msg("job cancelled")
	return cancelled, nil
}

// emitUsage appends a ledger record for a job settled on this path.
// Failures are logged only.
func (s *Service) emitUsage(ctx context.Context, job *model.Job) {
	rec := &model.UsageRecord{
		OrgID:            job.OrgID,
		UserID:           job.UserID,
		APIKeyID:         job.APIKeyID,
		JobID:            job.ID,
		ActionID:         job.ActionID,
		ActionCategory:   job.ActionCategory,
		Status:           job.Status,
		ProcessingTimeMs: job.ProcessingTimeMs,
	}
	if err := s.store.InsertUsage(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("usage record emit failed")
	}
}

// Delete removes a job row. When alsoDeleteResultFile is set and the
// job produced a single result media, that media is soft-deleted and
// its blobs removed best-effort.
func (s *Service) Delete(ctx context.Context, orgID, jobID, userID string, alsoDeleteResultFile bool) error {
	job, err := s.store.GetJob(ctx, orgID, jobID, userID)
	if err != nil {
		return err
	}

	if job.Status == types.JobStatusPending || job.Status == types.JobStatusQueued {
		if _, err := s.broker.Remove(ctx, jobID); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("broker eviction failed during delete")
		}
	}

	if alsoDeleteResultFile && job.ResultMediaID != "" {
		s.deleteResultMedia(ctx, orgID, job.ResultMediaID)
	}

	if err := s.store.DeleteJob(ctx, orgID, jobID); err != nil {
		return err
	}

	s.logger.Info().Str(log.FieldJobID, jobID).Str(log.FieldOrgID, orgID).Msg("job deleted")
	return nil
}

func (s *Service) deleteResultMedia(ctx context.Context, orgID, mediaID string) {
	media, err := s.store.GetMedia(ctx, orgID, mediaID)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldMediaID, mediaID).Msg("result media lookup failed during delete")
		return
	}
	if err := s.store.SoftDeleteMedia(ctx, orgID, mediaID); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldMediaID, mediaID).Msg("result media soft delete failed")
		return
	}

	// Blob cleanup is best-effort; the retention sweep catches leftovers.
	if err := s.objects.Delete(ctx, media.StoragePath); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldPath, media.StoragePath).Msg("result blob delete failed")
	}
	if media.ThumbnailPath != "" {
		if err := s.objects.Delete(ctx, media.ThumbnailPath); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldPath, media.ThumbnailPath).Msg("thumbnail delete failed")
		}
	}
}

// QueueStats reports per-queue counters for the ops surface.
func (s *Service) QueueStats(ctx context.Context) (broker.Stats, error) {
	return s.broker.Stats(ctx)
}
