package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/store/memory"
)

type stubEnqueuer struct {
	requestedBy string
	err         error
}

func (s *stubEnqueuer) EnqueueReconcile(_ context.Context, requestedBy string) (string, error) {
	s.requestedBy = requestedBy
	if s.err != nil {
		return "", s.err
	}
	return "task-42", nil
}

func newHandlerRouter(results reconcile.ResultStore, enqueuer reconcile.Enqueuer) http.Handler {
	r := chi.NewRouter()
	reconcile.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), results, enqueuer).MountRoutes(r)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerLatestAndHistory(t *testing.T) {
	store := memory.New()
	router := newHandlerRouter(store, nil)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/trust/reconciliation/latest?company_id=1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/trust/reconciliation/latest", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	older := reconcile.Result{ID: uuid.New(), RunID: uuid.New(), CompanyID: 1, CheckedPayments: 3}
	newer := reconcile.Result{ID: uuid.New(), RunID: uuid.New(), CompanyID: 1, MissingPostings: 1, AutoRepairs: 1}
	other := reconcile.Result{ID: uuid.New(), RunID: uuid.New(), CompanyID: 2}
	for _, r := range []reconcile.Result{older, newer, other} {
		require.NoError(t, store.InsertReconciliationResult(context.Background(), r))
	}

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/trust/reconciliation/latest?company_id=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var latest reconcile.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, newer.RunID, latest.RunID)
	assert.Equal(t, 1, latest.MissingPostings)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/trust/reconciliation/history?company_id=1&per_page=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Results    []reconcile.Result `json:"results"`
		Pagination shared.Pagination  `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Results, 1)
	assert.Equal(t, newer.RunID, history.Results[0].RunID)
	assert.Equal(t, 2, history.Pagination.Total)
	assert.Equal(t, 2, history.Pagination.TotalPages)
}

func TestHandlerRun(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newHandlerRouter(memory.New(), enq)

	req := httptest.NewRequest(http.MethodPost, "/trust/reconciliation/run", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), "auditor@odyssey"))
	rec := serve(router, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task-42", body["task_id"])
	assert.Equal(t, "auditor@odyssey", enq.requestedBy)

	enq.err = errors.New("redis down")
	rec = serve(router, httptest.NewRequest(http.MethodPost, "/trust/reconciliation/run", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHandlerRunWithoutQueue(t *testing.T) {
	router := newHandlerRouter(memory.New(), nil)
	rec := serve(router, httptest.NewRequest(http.MethodPost, "/trust/reconciliation/run", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerRunIsRateLimited(t *testing.T) {
	router := newHandlerRouter(memory.New(), &stubEnqueuer{})
	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		codes = append(codes, serve(router, httptest.NewRequest(http.MethodPost, "/trust/reconciliation/run", nil)).Code)
	}
	assert.Equal(t, http.StatusAccepted, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[5])
}
