package jobs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

type testEnv struct {
	svc    *Service
	store  *store.Store
	broker *broker.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	br := broker.NewWithClient(client, broker.Options{}, zerolog.Nop())

	objects, err := objstore.NewFSStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	registry := actions.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(actions.Descriptor{
		ID:        "img_noop",
		MediaType: types.MediaTypeImage,
		Category:  types.ActionCategoryProcess,
		Execute: func(_ context.Context, _ *actions.Context) (*actions.Outcome, error) {
			return actions.JSONOutcome(map[string]any{"ok": true}), nil
		},
	}))
	require.NoError(t, registry.Register(actions.Descriptor{
		ID:        "img_strict",
		MediaType: types.MediaTypeImage,
		Category:  types.ActionCategoryModify,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"width": {"type": "integer", "minimum": 1}},
			"required": ["width"],
			"additionalProperties": false
		}`),
		Execute: func(_ context.Context, _ *actions.Context) (*actions.Outcome, error) {
			return actions.JSONOutcome(nil), nil
		},
	}))
	require.NoError(t, registry.Register(actions.Descriptor{
		ID:        "aud_noop",
		MediaType: types.MediaTypeAudio,
		Category:  types.ActionCategoryProcess,
		Execute: func(_ context.Context, _ *actions.Context) (*actions.Outcome, error) {
			return actions.JSONOutcome(nil), nil
		},
	}))
	registry.Freeze()

	return &testEnv{
		svc:    NewService(st, br, objects, registry),
		store:  st,
		broker: br,
	}
}

func (e *testEnv) addMedia(t *testing.T, orgID string, mediaType types.MediaType, sizeBytes int64) *model.MediaFile {
	t.Helper()
	mime := "image/png"
	if mediaType == types.MediaTypeAudio {
		mime = "audio/wav"
	}
	m := &model.MediaFile{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		MediaType:     mediaType,
		MimeType:      mime,
		StoragePath:   orgID + "/" + uuid.NewString(),
		FileSizeBytes: sizeBytes,
	}
	require.NoError(t, e.store.CreateMedia(context.Background(), m))
	return m
}

func TestSubmitQueuesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		UserID:       "user-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
		Priority:     50,
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusQueued, job.Status)
	assert.Equal(t, types.QueueTierHigh, job.Tier)
	assert.NotNil(t, job.QueuedAt)

	entry, state, err := env.broker.Find(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, broker.EntryStateWaiting, state)
	assert.Equal(t, media.ID, entry.Payload.MediaID)
}

func TestSubmitRoutesLargeFilesToLowQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeAudio, 30*types.MiB)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "aud_noop",
	})
	require.NoError(t, err)
	assert.Equal(t, types.QueueTierLow, job.Tier)

	stats, err := env.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats[types.QueueTierLow].Waiting, int64(1))
}

func TestSubmitRejectsInvalidParameters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	_, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_strict",
		Parameters:   json.RawMessage(`{"width": "not a number"}`),
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))

	// Synchronous rejection leaves no job row behind.
	jobsList, total, err := env.svc.List(ctx, "org-1", store.JobFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, jobsList)
}

func TestSubmitRejectsMediaTypeMismatch(t *testing.T) {
	env := newTestEnv(t)
	media := env.addMedia(t, "org-1", types.MediaTypeAudio, 1024)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeActionNotSupported, fault.CodeOf(err))
}

func TestSubmitRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "nope",
	})
	assert.Equal(t, fault.CodeActionNotFound, fault.CodeOf(err))
}

func TestSubmitRejectsMissingMedia(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: uuid.NewString(),
		ActionID:     "img_noop",
	})
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestSubmitRejectsForeignMedia(t *testing.T) {
	env := newTestEnv(t)
	media := env.addMedia(t, "org-2", types.MediaTypeImage, 1024)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestCancelQueuedJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
		Priority:     1,
	})
	require.NoError(t, err)

	cancelled, err := env.svc.Cancel(ctx, "org-1", job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt)
	assert.Empty(t, cancelled.ResultMediaID)
	require.NotNil(t, cancelled.CompletedAt)

	// The queue entry is gone.
	entry, _, err := env.broker.Find(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCancelIsNotIdempotentButStable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	require.NoError(t, err)

	first, err := env.svc.Cancel(ctx, "org-1", job.ID, "")
	require.NoError(t, err)

	// The second cancel reports the terminal state and changes nothing.
	_, err = env.svc.Cancel(ctx, "org-1", job.ID, "")
	require.Error(t, err)
	assert.Equal(t, fault.CodeIllegalState, fault.CodeOf(err))

	after, err := env.svc.Get(ctx, "org-1", job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.Status, after.Status)
	assert.Equal(t, first.CompletedAt.UnixMilli(), after.CompletedAt.UnixMilli())
}

func TestCancelTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, "org-2", job.ID, "")
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestGetResultRequiresCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	require.NoError(t, err)

	_, err = env.svc.GetResult(ctx, "org-1", job.ID, "")
	require.Error(t, err)
	assert.Equal(t, fault.CodeIllegalState, fault.CodeOf(err))
}

func TestDeleteQueuedJobEvictsEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	job, err := env.svc.Submit(ctx, SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, "org-1", job.ID, "", false))

	_, err = env.svc.Get(ctx, "org-1", job.ID, "")
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))

	entry, _, err := env.broker.Find(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSubmitRejectsOutOfRangePriority(t *testing.T) {
	env := newTestEnv(t)
	media := env.addMedia(t, "org-1", types.MediaTypeImage, 1024)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		OrgID:        "org-1",
		InputMediaID: media.ID,
		ActionID:     "img_noop",
		Priority:     101,
	})
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
}
