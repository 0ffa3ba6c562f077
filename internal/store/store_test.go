package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestJob(orgID string) *model.Job {
	return &model.Job{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		UserID:         "user-1",
		InputMediaID:   uuid.NewString(),
		ActionID:       "img_resize",
		ActionCategory: types.ActionCategoryModify,
		Parameters:     json.RawMessage(`{"mode":"percentage","percentage":50}`),
		Priority:       50,
		Tier:           types.QueueTierHigh,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	got, err := s.GetJob(ctx, "org-1", job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
	assert.Equal(t, "img_resize", got.ActionID)
	assert.Equal(t, 50, got.Priority)
	assert.JSONEq(t, `{"mode":"percentage","percentage":50}`, string(got.Parameters))
	assert.Nil(t, got.QueuedAt)
	assert.Nil(t, got.StartedAt)
}

func TestGetJob_TenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	// Same job under a foreign org is NOT_FOUND.
	_, err := s.GetJob(ctx, "org-2", job.ID, "")
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))

	// Unscoped internal read works.
	got, err := s.GetJob(ctx, "", job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "org-1", got.OrgID)
}

func TestTransitionJob_CASHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	now := time.Now().UTC()
	got, err := s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending}, types.JobStatusQueued,
		JobPatch{QueuedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, got.Status)
	require.NotNil(t, got.QueuedAt)
	assert.WithinDuration(t, now, *got.QueuedAt, time.Second)
}

func TestTransitionJob_CASMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	now := time.Now().UTC()
	_, err := s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending}, types.JobStatusCancelled,
		JobPatch{CompletedAt: &now})
	require.NoError(t, err)

	// Terminal job never re-enters the pipeline.
	_, err = s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued}, types.JobStatusProcessing,
		JobPatch{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeStateMismatch, fault.CodeOf(err))

	got, err := s.GetJob(ctx, "org-1", job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)
}

func TestTransitionJob_WorkerWitnessTakeover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	now := time.Now().UTC()
	w1 := "worker-1"
	_, err := s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusQueued}, types.JobStatusProcessing,
		JobPatch{WorkerID: &w1, StartedAt: &now})
	require.NoError(t, err)

	// A second worker with a stale witness loses.
	w2 := "worker-2"
	stale := "worker-x"
	_, err = s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusProcessing}, types.JobStatusProcessing,
		JobPatch{WorkerID: &w2, WorkerWitness: &stale})
	require.Error(t, err)

	// With the correct witness the takeover succeeds.
	got, err := s.TransitionJob(ctx, job.ID,
		[]types.JobStatus{types.JobStatusProcessing}, types.JobStatusProcessing,
		JobPatch{WorkerID: &w2, WorkerWitness: &w1})
	require.NoError(t, err)
	assert.Equal(t, "worker-2", got.WorkerID)
}

func TestTransitionJob_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.TransitionJob(context.Background(), "ghost",
		[]types.JobStatus{types.JobStatusPending}, types.JobStatusQueued, JobPatch{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestListJobs_FiltersAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateJobPending(ctx, newTestJob("org-1")))
	}
	other := newTestJob("org-2")
	require.NoError(t, s.CreateJobPending(ctx, other))

	jobs, total, err := s.ListJobs(ctx, "org-1", JobFilter{}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, jobs, 3)

	jobs, total, err = s.ListJobs(ctx, "org-1", JobFilter{Status: types.JobStatusPending}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = s.ListJobs(ctx, "org-2", JobFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, other.ID, jobs[0].ID)
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("org-1")
	require.NoError(t, s.CreateJobPending(ctx, job))

	// Foreign org cannot delete.
	require.Error(t, s.DeleteJob(ctx, "org-2", job.ID))

	require.NoError(t, s.DeleteJob(ctx, "org-1", job.ID))
	_, err := s.GetJob(ctx, "org-1", job.ID, "")
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestMedia_CreateGetSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(30 * 24 * time.Hour).UTC()
	m := &model.MediaFile{
		ID:            uuid.NewString(),
		OrgID:         "org-1",
		MediaType:     types.MediaTypeImage,
		MimeType:      "image/png",
		StoragePath:   "org-1/image/2026/01/01/a.png",
		FileSizeBytes: 1024,
		Metadata:      json.RawMessage(`{"width":16,"height":16}`),
		ExpiresAt:     &exp,
	}
	require.NoError(t, s.CreateMedia(ctx, m))

	got, err := s.GetMedia(ctx, "org-1", m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReady())
	assert.Equal(t, int64(1024), got.FileSizeBytes)
	require.NotNil(t, got.ExpiresAt)

	_, err = s.GetMedia(ctx, "org-2", m.ID)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))

	require.NoError(t, s.SoftDeleteMedia(ctx, "org-1", m.ID))
	got, err = s.GetMedia(ctx, "org-1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MediaStatusDeleted, got.Status)
}

func TestListExpiredMedia(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	future := time.Now().Add(time.Hour).UTC()

	expired := &model.MediaFile{
		ID: uuid.NewString(), OrgID: "org-1", MediaType: types.MediaTypeImage,
		MimeType: "image/png", StoragePath: "p1", FileSizeBytes: 1, ExpiresAt: &past,
	}
	fresh := &model.MediaFile{
		ID: uuid.NewString(), OrgID: "org-1", MediaType: types.MediaTypeImage,
		MimeType: "image/png", StoragePath: "p2", FileSizeBytes: 1, ExpiresAt: &future,
	}
	require.NoError(t, s.CreateMedia(ctx, expired))
	require.NoError(t, s.CreateMedia(ctx, fresh))

	out, err := s.ListExpiredMedia(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, expired.ID, out[0].ID)
}

func TestUsageLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertUsage(ctx, &model.UsageRecord{
			OrgID:            "org-1",
			JobID:            uuid.NewString(),
			ActionID:         "img_resize",
			ActionCategory:   types.ActionCategoryModify,
			Status:           types.JobStatusCompleted,
			ProcessingTimeMs: 100,
			AITokensUsed:     7,
		}))
	}

	sum, err := s.SumUsage(ctx, "org-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Jobs)
	assert.Equal(t, int64(300), sum.ProcessingTimeMs)
	assert.Equal(t, int64(21), sum.AITokensUsed)

	sum, err = s.SumUsage(ctx, "org-2", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, sum.Jobs)
}
