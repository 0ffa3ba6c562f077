package worker

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- etag compatibility, not security
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/metrics"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/thumbnail"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

// errAbandoned signals that the job settled outside this worker (cancel
// or a competing claim); the delivery is acked without writing anything.
var errAbandoned = errors.New("worker: job abandoned")

func workerID(pid, n int) string {
	return fmt.Sprintf("worker-%d-%d", pid, n)
}

// transientStore marks uncoded metadata-store errors (driver I/O,
// connection loss) as retriable storage faults so the delivery is
// nacked instead of settled. Coded errors keep their meaning.
func transientStore(err error, msg string) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Transient(fault.CodeStorage, err, "%s", msg)
}

// execute runs one delivery: claim the job row, run the action, persist
// the result and settle COMPLETED. A nil return means the job row is
// terminal (completed here or failed-and-recorded); errAbandoned means
// another writer won; a retriable error asks the caller to nack.
func (c *consumer) execute(ctx context.Context, entry *broker.Entry) error {
	job, started, err := c.claimJob(ctx, entry)
	if err != nil {
		return err
	}

	action, err := c.pool.registry.Get(entry.Payload.ActionID)
	if err != nil {
		// Registered at submission, gone now. Non-retriable.
		return err
	}

	media, err := c.pool.store.GetMedia(ctx, entry.Payload.OrgID, entry.Payload.MediaID)
	if err != nil {
		// Missing media stays non-retriable; a store outage is not.
		return transientStore(err, "input media lookup failed")
	}

	blob, _, err := c.pool.objects.Get(ctx, media.StoragePath)
	if err != nil {
		return err // storage errors are retriable
	}

	params := map[string]any{}
	if len(entry.Payload.Parameters) > 0 {
		if err := json.Unmarshal(entry.Payload.Parameters, &params); err != nil {
			return fault.Validation("stored parameters are not a JSON object: %v", err)
		}
	}

	outcome, err := action.Execute(ctx, &actions.Context{
		Bytes:    blob,
		FileInfo: media,
		Params:   params,
		OrgID:    entry.Payload.OrgID,
		UserID:   entry.Payload.UserID,
		JobID:    entry.JobID,
	})
	if err != nil {
		// Non-retriable unless the executor explicitly raised a
		// Transient marker.
		return fault.ClassifyExecutor(err)
	}

	patch, err := c.buildResultPatch(ctx, entry, outcome)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	completed := now
	processing := now.Sub(started).Milliseconds()
	if processing < 1 {
		processing = 1
	}
	retries := entry.AttemptsMade
	patch.CompletedAt = &completed
	patch.ProcessingTimeMs = &processing
	patch.RetryCount = &retries
	patch.WorkerWitness = &c.workerID

	settled, err := c.pool.store.TransitionJob(ctx, entry.JobID,
		[]types.JobStatus{types.JobStatusProcessing}, types.JobStatusCompleted, *patch)
	if err != nil {
		if fault.CodeOf(err) == fault.CodeStateMismatch {
			// Cancelled mid-flight or taken over; discard our result.
			c.logger.Warn().Str(log.FieldJobID, entry.JobID).
				Msg("result discarded, job settled elsewhere")
			return errAbandoned
		}
		return transientStore(err, "completion transition failed")
	}

	c.emitUsage(ctx, settled)
	metrics.JobsSettled.WithLabelValues(string(c.tier), string(types.JobStatusCompleted), "").Inc()
	c.logger.Info().
		Str(log.FieldJobID, entry.JobID).
		Str(log.FieldActionID, job.ActionID).
		Int64("processing_time_ms", processing).
		Str("result_type", string(settled.ResultType)).
		Msg("job completed")
	return nil
}

// claimJob moves the job row to PROCESSING under this worker's name.
// A PENDING row is claimed directly: a crash between enqueue and the
// queued transition leaves PENDING rows with live broker entries, and a
// delivery is proof of enqueue. A row already PROCESSING is taken over
// with its recorded worker as CAS witness (stalled redelivery).
func (c *consumer) claimJob(ctx context.Context, entry *broker.Entry) (*model.Job, time.Time, error) {
	started := time.Now().UTC()
	job, err := c.pool.store.TransitionJob(ctx, entry.JobID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued}, types.JobStatusProcessing,
		store.JobPatch{WorkerID: &c.workerID, StartedAt: &started})
	if err == nil {
		return job, started, nil
	}
	if fault.CodeOf(err) == fault.CodeNotFound {
		return nil, started, errAbandoned
	}
	if fault.CodeOf(err) != fault.CodeStateMismatch {
		return nil, started, fault.Transient(fault.CodeStorage, err, "job claim failed")
	}

	observed, err := c.pool.store.GetJob(ctx, "", entry.JobID, "")
	if err != nil {
		return nil, started, errAbandoned
	}
	if observed.Status != types.JobStatusProcessing {
		// Terminal (cancelled before pickup, or settled by a worker
		// whose ack was lost). Nothing to do with this delivery.
		return nil, started, errAbandoned
	}

	// The broker only redelivers after the previous claim's visibility
	// lapsed, so the recorded worker is dead or wedged. Take over.
	witness := observed.WorkerID
	job, err = c.pool.store.TransitionJob(ctx, entry.JobID,
		[]types.JobStatus{types.JobStatusProcessing}, types.JobStatusProcessing,
		store.JobPatch{WorkerID: &c.workerID, StartedAt: &started, WorkerWitness: &witness})
	if err != nil {
		return nil, started, errAbandoned
	}

	c.logger.Warn().
		Str(log.FieldJobID, entry.JobID).
		Str("previous_worker", witness).
		Msg("took over stalled job")
	return job, started, nil
}

// buildResultPatch persists outcome side effects (uploads, media rows)
// and returns the job columns recording them.
func (c *consumer) buildResultPatch(ctx context.Context, entry *broker.Entry, outcome *actions.Outcome) (*store.JobPatch, error) {
	patch := &store.JobPatch{}

	switch outcome.Type {
	case types.ResultTypeJSON:
		data := outcome.Data
		if data == nil {
			data = map[string]any{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fault.Wrap(fault.CodeProcessing, err, "result data is not serializable")
		}
		rt := types.ResultTypeJSON
		patch.ResultType = &rt
		patch.ResultData = raw

	case types.ResultTypeFile:
		if outcome.File == nil {
			return nil, fault.New(fault.CodeProcessing, "file outcome without file")
		}
		mediaRow, err := c.persistResultFile(ctx, entry, *outcome.File)
		if err != nil {
			return nil, err
		}
		meta := outcome.File.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fault.Wrap(fault.CodeProcessing, err, "result metadata is not serializable")
		}
		rt := types.ResultTypeFile
		patch.ResultType = &rt
		patch.ResultMediaID = &mediaRow.ID
		patch.ResultData = raw

	case types.ResultTypeFiles:
		fileIDs := make([]string, 0, len(outcome.Files))
		for _, out := range outcome.Files {
			mediaRow, err := c.persistResultFile(ctx, entry, out)
			if err != nil {
				return nil, err
			}
			fileIDs = append(fileIDs, mediaRow.ID)
		}
		raw, err := json.Marshal(map[string]any{"fileIds": fileIDs})
		if err != nil {
			return nil, fault.Wrap(fault.CodeProcessing, err, "result data is not serializable")
		}
		rt := types.ResultTypeFiles
		patch.ResultType = &rt
		patch.ResultData = raw

	default:
		return nil, fault.New(fault.CodeProcessing, "action returned unknown outcome type %q", outcome.Type)
	}

	return patch, nil
}

// persistResultFile uploads one produced file, inserts its MediaFile row
// and best-effort generates a thumbnail for images.
func (c *consumer) persistResultFile(ctx context.Context, entry *broker.Entry, out actions.FileOutput) (*model.MediaFile, error) {
	mediaType := types.MediaTypeAudio
	if isImageMime(out.MimeType) {
		mediaType = types.MediaTypeImage
	}

	now := time.Now().UTC()
	var storagePath string
	if out.Filename != "" {
		storagePath = objstore.BuildPathNamed(entry.Payload.OrgID, mediaType, now, out.Filename)
	} else {
		name := fmt.Sprintf("%s_%s.%s", entry.Payload.ActionID, uuid.NewString(), objstore.ExtFromMime(out.MimeType))
		storagePath = objstore.BuildPathNamed(entry.Payload.OrgID, mediaType, now, name)
	}

	if _, err := c.pool.objects.Put(ctx, storagePath, bytes.NewReader(out.Bytes), out.MimeType, nil); err != nil {
		return nil, err // retriable
	}

	md5sum := md5.Sum(out.Bytes) // #nosec G401 -- integrity tag, not security
	sha := sha256.Sum256(out.Bytes)
	metaJSON, _ := json.Marshal(out.Metadata)
	expires := now.AddDate(0, 0, c.pool.opts.RetentionDays)

	mediaRow := &model.MediaFile{
		ID:             uuid.NewString(),
		OrgID:          entry.Payload.OrgID,
		UserID:         entry.Payload.UserID,
		MediaType:      mediaType,
		MimeType:       out.MimeType,
		OriginalName:   out.Filename,
		StoragePath:    storagePath,
		FileSizeBytes:  int64(len(out.Bytes)),
		ChecksumMD5:    fmt.Sprintf("%x", md5sum),
		ChecksumSHA256: fmt.Sprintf("%x", sha),
		Metadata:       metaJSON,
		ExpiresAt:      &expires,
	}
	if err := c.pool.store.CreateMedia(ctx, mediaRow); err != nil {
		return nil, transientStore(err, "result media insert failed")
	}

	if thumbnail.SupportedMime(out.MimeType) {
		c.generateThumbnail(ctx, mediaRow, out.Bytes)
	}
	return mediaRow, nil
}

// generateThumbnail is best-effort; failures are logged and counted but
// never fail the job.
func (c *consumer) generateThumbnail(ctx context.Context, media *model.MediaFile, src []byte) {
	thumb, err := thumbnail.Generate(src)
	if err != nil {
		metrics.ThumbnailFailures.Inc()
		c.logger.Warn().Err(err).Str(log.FieldMediaID, media.ID).Msg("thumbnail generation failed")
		return
	}

	thumbPath := objstore.ThumbnailPathOf(media.StoragePath)
	if _, err := c.pool.objects.Put(ctx, thumbPath, bytes.NewReader(thumb), thumbnail.ContentType, nil); err != nil {
		metrics.ThumbnailFailures.Inc()
		c.logger.Warn().Err(err).Str(log.FieldPath, thumbPath).Msg("thumbnail upload failed")
		return
	}
	if err := c.pool.store.SetThumbnailPath(ctx, media.ID, thumbPath); err != nil {
		metrics.ThumbnailFailures.Inc()
		c.logger.Warn().Err(err).Str(log.FieldMediaID, media.ID).Msg("thumbnail path update failed")
	}
}

// settleFailed records a terminal FAILED state for a delivery that is
// out of retries or hit a non-retriable error.
func (c *consumer) settleFailed(ctx context.Context, entry *broker.Entry, cause error, attempts int) {
	code := string(fault.CodeOf(cause))
	msg := cause.Error()
	now := time.Now().UTC()

	settled, err := c.pool.store.TransitionJob(ctx, entry.JobID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued, types.JobStatusProcessing},
		types.JobStatusFailed,
		store.JobPatch{
			CompletedAt:  &now,
			ErrorCode:    &code,
			ErrorMessage: &msg,
			RetryCount:   &attempts,
		})
	if err != nil {
		if fault.CodeOf(err) == fault.CodeStateMismatch {
			// Already terminal (e.g. cancelled); nothing to record.
			return
		}
		c.logger.Error().Err(err).Str(log.FieldJobID, entry.JobID).Msg("failed-state transition failed")
		return
	}

	c.emitUsage(ctx, settled)
	metrics.JobsSettled.WithLabelValues(string(c.tier), string(types.JobStatusFailed), code).Inc()
	c.logger.Warn().
		Str(log.FieldJobID, entry.JobID).
		Str(log.FieldErrorCode, code).
		Int(log.FieldAttempt, attempts).
		Msg("job failed")
}

// emitUsage appends one ledger record for a settled job. Ledger failures
// are logged only; they never unsettle the job.
func (c *consumer) emitUsage(ctx context.Context, job *model.Job) {
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
	if err := c.pool.store.InsertUsage(ctx, rec); err != nil {
		c.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("usage record emit failed")
	}
}

func isImageMime(mime string) bool {
	return len(mime) >= 6 && mime[:6] == "image/"
}
