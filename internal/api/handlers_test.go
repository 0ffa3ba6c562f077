package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/mediaforge-io/mediaforge/internal/jobs"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
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
			return actions.JSONOutcome(nil), nil
		},
	}))
	registry.Freeze()

	svc := jobs.NewService(st, br, objects, registry)
	return New(":0", svc, st, br, registry), st
}

func seedMedia(t *testing.T, st *store.Store, orgID string) *model.MediaFile {
	t.Helper()
	m := &model.MediaFile{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		MediaType:     types.MediaTypeImage,
		MimeType:      "image/png",
		StoragePath:   orgID + "/" + uuid.NewString(),
		FileSizeBytes: 1024,
	}
	require.NoError(t, st.CreateMedia(context.Background(), m))
	return m
}

func doJSON(t *testing.T, h http.Handler, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if org != "" {
		req.Header.Set(headerOrgID, org)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndGetJob(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.routes()
	media := seedMedia(t, st, "org-1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/", "org-1", map[string]any{
		"inputMediaId": media.ID,
		"actionId":     "img_noop",
		"priority":     50,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.JobStatusQueued, job.Status)
	assert.Equal(t, "org-1", job.OrgID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID, "org-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Foreign org sees 404, not 403 (no existence oracle).
	rec = doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID, "org-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitValidationFailure(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.routes()
	seedMedia(t, st, "org-1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/", "org-1", map[string]any{
		"inputMediaId": uuid.NewString(),
		"actionId":     "img_noop",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["errorCode"])
}

func TestSubmitRequiresOrgHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/api/v1/jobs/", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelFlow(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.routes()
	media := seedMedia(t, st, "org-1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/", "org-1", map[string]any{
		"inputMediaId": media.ID, "actionId": "img_noop",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second cancel conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", "org-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Result of a cancelled job conflicts too.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID+"/result", "org-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListJobsPaging(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.routes()
	media := seedMedia(t, st, "org-1")

	for i := 0; i < 4; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/", "org-1", map[string]any{
			"inputMediaId": media.ID, "actionId": "img_noop",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs/?page=1&limit=3", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs  []model.Job `json:"jobs"`
		Total int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Total)
	assert.Len(t, body.Jobs, 3)
}

func TestQueueStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodGet, "/api/v1/queues/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]broker.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "high")
	assert.Contains(t, stats, "normal")
	assert.Contains(t, stats, "low")
}

func TestListActionsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodGet, "/api/v1/actions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Actions []actionView `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Actions, 1)
	assert.Equal(t, "img_noop", body.Actions[0].ID)
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
