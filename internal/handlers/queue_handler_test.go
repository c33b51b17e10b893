package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/pharmasync/internal/database"
	"github.com/prudhvinik1/pharmasync/internal/models"
	"github.com/prudhvinik1/pharmasync/internal/repositories"
	"github.com/prudhvinik1/pharmasync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	calls  int
	err    error
	status models.SyncStatus
}

func (f *fakeRequester) RequestSync() error {
	f.calls++
	return f.err
}

func (f *fakeRequester) Status() models.SyncStatus {
	return f.status
}

type fakeSyncer struct {
	result models.SyncResult
}

func (f fakeSyncer) RunSyncPass(context.Context) models.SyncResult {
	return f.result
}

func newTestRouter(t *testing.T, queue repositories.QueueRepository, requester SyncRequester, syncer services.Syncer) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	router.Route("/api", NewQueueHandler(queue, requester, syncer, nil).Routes)
	return router
}

func getTestQueue(t *testing.T) *repositories.SQLiteQueueRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLiteDB(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue, err := repositories.NewSQLiteQueueRepository(ctx, db)
	require.NoError(t, err)
	return queue
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestEnqueue_Success tests that a valid mutation is stored and a sync is requested
func TestEnqueue_Success(t *testing.T) {
	queue := getTestQueue(t)
	requester := &fakeRequester{}
	router := newTestRouter(t, queue, requester, fakeSyncer{})

	rec := doRequest(t, router, http.MethodPost, "/api/queue",
		`{"endpoint":"/api/expenses","method":"POST","payload":{"amount":8500,"payee":"Metro Fuel Station"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.NotZero(t, resp.Timestamp)
	assert.True(t, resp.SyncScheduled)
	assert.Equal(t, 1, requester.calls)

	pending, err := queue.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"amount":8500,"payee":"Metro Fuel Station"}`, string(pending[0].Payload))
}

// TestEnqueue_SyncUnavailable tests that the entry is kept when no background sync is running
func TestEnqueue_SyncUnavailable(t *testing.T) {
	queue := getTestQueue(t)
	router := newTestRouter(t, queue, &fakeRequester{err: services.ErrSyncUnavailable}, fakeSyncer{})

	rec := doRequest(t, router, http.MethodPost, "/api/queue", `{"endpoint":"/api/tasks/4","method":"DELETE"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.SyncScheduled)

	count, err := queue.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestEnqueue_InvalidInput tests that malformed requests are refused without storing anything
func TestEnqueue_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"endpoint":`},
		{"empty endpoint", `{"endpoint":"","method":"POST"}`},
		{"unknown method", `{"endpoint":"/api/tasks","method":"GET"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := getTestQueue(t)
			requester := &fakeRequester{}
			router := newTestRouter(t, queue, requester, fakeSyncer{})

			rec := doRequest(t, router, http.MethodPost, "/api/queue", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, requester.calls)
			count, err := queue.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

type brokenQueue struct {
	repositories.QueueRepository
}

func (brokenQueue) Enqueue(context.Context, string, models.Method, any) (*models.QueueEntry, error) {
	return nil, &repositories.PersistenceError{Op: "enqueue", Err: errors.New("database or disk is full")}
}

// TestEnqueue_NotSaved tests that a storage failure is reported to the caller as not saved
func TestEnqueue_NotSaved(t *testing.T) {
	requester := &fakeRequester{}
	router := newTestRouter(t, brokenQueue{}, requester, fakeSyncer{})

	rec := doRequest(t, router, http.MethodPost, "/api/queue", `{"endpoint":"/api/expenses","method":"POST","payload":{}}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"not saved"}`, rec.Body.String())
	assert.Equal(t, 0, requester.calls)
}

// TestList tests that pending entries are returned in replay order
func TestList(t *testing.T) {
	ctx := context.Background()
	queue := getTestQueue(t)
	router := newTestRouter(t, queue, &fakeRequester{}, fakeSyncer{})

	rec := doRequest(t, router, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"entries":[]}`, rec.Body.String())

	_, err := queue.Enqueue(ctx, "/api/leave-requests", models.MethodPost, map[string]int{"days": 2})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "/api/leave-requests/5/status", models.MethodPatch, map[string]string{"status": "approved"})
	require.NoError(t, err)

	rec = doRequest(t, router, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "/api/leave-requests", resp.Entries[0].Endpoint)
	assert.Equal(t, models.MethodPatch, resp.Entries[1].Method)
}

// TestRequestSync tests the accepted and unavailable responses
func TestRequestSync(t *testing.T) {
	queue := getTestQueue(t)

	rec := doRequest(t, newTestRouter(t, queue, &fakeRequester{}, fakeSyncer{}), http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, newTestRouter(t, queue, &fakeRequester{err: services.ErrSyncUnavailable}, fakeSyncer{}), http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestRunSync tests that a manual pass returns its result
func TestRunSync(t *testing.T) {
	syncer := fakeSyncer{result: models.SyncResult{Synced: 1, Stopped: true, Reason: models.StopTransport, FailedID: 2}}
	router := newTestRouter(t, getTestQueue(t), &fakeRequester{}, syncer)

	rec := doRequest(t, router, http.MethodPost, "/api/sync/run", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"synced":1,"stopped":true,"reason":"transport","failed_id":2}`, rec.Body.String())
}

// TestStatus tests that the scheduler snapshot is returned with the queue depth
func TestStatus(t *testing.T) {
	queue := getTestQueue(t)
	_, err := queue.Enqueue(context.Background(), "/api/tasks", models.MethodPost, nil)
	require.NoError(t, err)

	requester := &fakeRequester{status: models.SyncStatus{
		Running:      true,
		Connectivity: models.ConnectivityOffline,
		Pending:      []string{"sync-forms"},
	}}
	router := newTestRouter(t, queue, requester, fakeSyncer{})

	rec := doRequest(t, router, http.MethodGet, "/api/sync/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true,"connectivity":"offline","pending":["sync-forms"],"queued":1}`, rec.Body.String())
}

// TestEnqueue_BodyTooLarge tests that an oversized body is refused without storing anything
func TestEnqueue_BodyTooLarge(t *testing.T) {
	queue := getTestQueue(t)
	requester := &fakeRequester{}
	router := newTestRouter(t, queue, requester, fakeSyncer{})

	body := `{"endpoint":"/api/attachments","method":"POST","payload":"` + strings.Repeat("x", MaxEnqueueBody) + `"}`
	rec := doRequest(t, router, http.MethodPost, "/api/queue", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, requester.calls)
	count, err := queue.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
