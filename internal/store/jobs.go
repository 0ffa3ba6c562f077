package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

const jobColumns = `id, org_id, user_id, api_key_id, input_media_id, action_id,
	action_category, parameters_json, priority, tier, status, retry_count,
	worker_id, created_at_ms, queued_at_ms, started_at_ms, completed_at_ms,
	result_type, result_media_id, result_data_json, error_code, error_message,
	processing_time_ms`

// CreateJobPending inserts a new job row in status pending.
// CreatedAt is stamped here; the caller supplies everything else.
func (s *Store) CreateJobPending(ctx context.Context, job *model.Job) error {
	if job.ID == "" || job.OrgID == "" {
		return fault.Validation("job requires id and organization")
	}

	job.Status = types.JobStatusPending
	job.CreatedAt = time.Now().UTC()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO jobs (
			id, org_id, user_id, api_key_id, input_media_id, action_id,
			action_category, parameters_json, priority, tier, status,
			retry_count, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		job.ID, job.OrgID, nullStr(job.UserID), nullStr(job.APIKeyID),
		job.InputMediaID, job.ActionID, string(job.ActionCategory),
		nullStr(string(job.Parameters)), job.Priority, string(job.Tier),
		string(job.Status), job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// JobPatch carries the optional column updates applied alongside a
// status transition. Nil fields are left untouched.
type JobPatch struct {
	QueuedAt         *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	WorkerID         *string
	RetryCount       *int
	ResultType       *types.ResultType
	ResultMediaID    *string
	ResultData       []byte
	ErrorCode        *string
	ErrorMessage     *string
	ProcessingTimeMs *int64

	// WorkerWitness, when set, adds worker_id to the CAS predicate.
	// Used for stalled-entry takeover of a PROCESSING job.
	WorkerWitness *string
}

// TransitionJob is the compare-and-set primitive guarding the job state
// machine. The status is updated to `to` only if the current status is
// one of `from`; otherwise the observed state is reported as a
// STATE_MISMATCH (or NOT_FOUND if the row is gone). All status writes
// in the system go through here.
func (s *Store) TransitionJob(ctx context.Context, jobID string, from []types.JobStatus, to types.JobStatus, patch JobPatch) (*model.Job, error) {
	if len(from) == 0 {
		return nil, fault.Validation("transition requires at least one source status")
	}

	set := []string{"status = ?"}
	args := []any{string(to)}

	if patch.QueuedAt != nil {
		set = append(set, "queued_at_ms = ?")
		args = append(args, patch.QueuedAt.UnixMilli())
	}
	if patch.StartedAt != nil {
		set = append(set, "started_at_ms = ?")
		args = append(args, patch.StartedAt.UnixMilli())
	}
	if patch.CompletedAt != nil {
		set = append(set, "completed_at_ms = ?")
		args = append(args, patch.CompletedAt.UnixMilli())
	}
	if patch.WorkerID != nil {
		set = append(set, "worker_id = ?")
		args = append(args, *patch.WorkerID)
	}
	if patch.RetryCount != nil {
		set = append(set, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.ResultType != nil {
		set = append(set, "result_type = ?")
		args = append(args, string(*patch.ResultType))
	}
	if patch.ResultMediaID != nil {
		set = append(set, "result_media_id = ?")
		args = append(args, *patch.ResultMediaID)
	}
	if patch.ResultData != nil {
		set = append(set, "result_data_json = ?")
		args = append(args, string(patch.ResultData))
	}
	if patch.ErrorCode != nil {
		set = append(set, "error_code = ?")
		args = append(args, *patch.ErrorCode)
	}
	if patch.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.ProcessingTimeMs != nil {
		set = append(set, "processing_time_ms = ?")
		args = append(args, *patch.ProcessingTimeMs)
	}

	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(set, ", "), strings.Join(placeholders, ","))
	// id sits between SET args and status args; rebuild in order.
	final := make([]any, 0, len(args)+1)
	final = append(final, args[:len(args)-len(from)]...)
	final = append(final, jobID)
	final = append(final, args[len(args)-len(from):]...)

	if patch.WorkerWitness != nil {
		query += " AND worker_id = ?"
		final = append(final, *patch.WorkerWitness)
	}

	res, err := s.DB.ExecContext(ctx, query, final...)
	if err != nil {
		return nil, fmt.Errorf("store: transition job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: transition job: %w", err)
	}
	if rows == 0 {
		observed, getErr := s.GetJob(ctx, "", jobID, "")
		if getErr != nil {
			return nil, getErr
		}
		return nil, fault.New(fault.CodeStateMismatch,
			"job %s is %s, expected one of %v", jobID, observed.Status, from)
	}

	return s.GetJob(ctx, "", jobID, "")
}

// GetJob loads a job. orgID and userID scope the read when non-empty;
// an empty orgID is reserved for internal (worker/reconciler) callers.
func (s *Store) GetJob(ctx context.Context, orgID, jobID, userID string) (*model.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", jobColumns)
	args := []any{jobID}

	if orgID != "" {
		query += " AND org_id = ?"
		args = append(args, orgID)
	}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	job, err := scanJob(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fault.NotFound("job %s not found", jobID)
	}
	return job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status  types.JobStatus
	MediaID string
	UserID  string
}

// ListJobs returns one page of an org's jobs ordered by creation time
// descending, plus the unpaged total.
func (s *Store) ListJobs(ctx context.Context, orgID string, filter JobFilter, page, limit int) ([]*model.Job, int, error) {
	if orgID == "" {
		return nil, 0, fault.Validation("listing jobs requires an organization")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where := "org_id = ?"
	args := []any{orgID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.MediaID != "" {
		where += " AND input_media_id = ?"
		args = append(args, filter.MediaID)
	}
	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count jobs: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM jobs WHERE %s ORDER BY created_at_ms DESC, id DESC LIMIT ? OFFSET ?",
		jobColumns, where)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// DeleteJob hard-deletes a job row. The lifecycle controller guarantees
// the job is terminal or broker-evicted before calling this.
func (s *Store) DeleteJob(ctx context.Context, orgID, jobID string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM jobs WHERE id = ? AND org_id = ?", jobID, orgID)
	if err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fault.NotFound("job %s not found", jobID)
	}
	return nil
}

// ListUnsettledJobs returns non-terminal jobs for the reconciliation
// sweep, oldest first.
func (s *Store) ListUnsettledJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
		WHERE status IN (?, ?, ?)
		ORDER BY created_at_ms ASC LIMIT ?`, jobColumns)

	rows, err := s.DB.QueryContext(ctx, query,
		string(types.JobStatusPending), string(types.JobStatusQueued),
		string(types.JobStatusProcessing), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unsettled jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*model.Job, error) {
	var job model.Job
	var userID, apiKeyID, params, workerID sql.NullString
	var resultType, resultMediaID, resultData, errorCode, errorMessage sql.NullString
	var createdAt int64
	var queuedAt, startedAt, completedAt, processingMs sql.NullInt64
	var category, tier, status string

	err := scanner.Scan(
		&job.ID, &job.OrgID, &userID, &apiKeyID, &job.InputMediaID, &job.ActionID,
		&category, &params, &job.Priority, &tier, &status, &job.RetryCount,
		&workerID, &createdAt, &queuedAt, &startedAt, &completedAt,
		&resultType, &resultMediaID, &resultData, &errorCode, &errorMessage,
		&processingMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}

	job.UserID = strOrEmpty(userID)
	job.APIKeyID = strOrEmpty(apiKeyID)
	job.ActionCategory = types.ActionCategory(category)
	job.Tier = types.QueueTier(tier)
	job.Status = types.JobStatus(status)
	job.WorkerID = strOrEmpty(workerID)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.QueuedAt = msToTime(queuedAt)
	job.StartedAt = msToTime(startedAt)
	job.CompletedAt = msToTime(completedAt)
	if params.Valid {
		job.Parameters = []byte(params.String)
	}
	job.ResultType = types.ResultType(strOrEmpty(resultType))
	job.ResultMediaID = strOrEmpty(resultMediaID)
	if resultData.Valid {
		job.ResultData = []byte(resultData.String)
	}
	job.ErrorCode = strOrEmpty(errorCode)
	job.ErrorMessage = strOrEmpty(errorMessage)
	if processingMs.Valid {
		job.ProcessingTimeMs = processingMs.Int64
	}
	return &job, nil
}
