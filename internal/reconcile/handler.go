package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-trust/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
)

// Enqueuer schedules an asynchronous reconciliation run.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, requestedBy string) (string, error)
}

// Handler exposes reconciliation snapshots and the manual trigger.
type Handler struct {
	logger    *slog.Logger
	results   ResultStore
	enqueuer  Enqueuer
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the reconciliation handler. Manual runs are limited per client IP.
func NewHandler(logger *slog.Logger, results ResultStore, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		results:   results,
		enqueuer:  enqueuer,
		rateLimit: httprate.LimitByIP(5, time.Minute),
	}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trust/reconciliation/latest", h.handleLatest)
	r.Get("/trust/reconciliation/history", h.handleHistory)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/trust/reconciliation/run", h.handleRun)
	})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.results.LatestReconciliationResult(r.Context(), companyID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, fmt.Errorf("no reconciliation result for company %d", companyID)))
			return
		}
		h.logger.Error("load reconciliation result", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, perPage = shared.NormalizePage(page, perPage)
	results, total, err := h.results.ListReconciliationResults(r.Context(), companyID, page, perPage)
	if err != nil {
		h.logger.Error("list reconciliation results", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, errors.New("reconciliation queue not configured")))
		return
	}
	actor := shared.ActorFromContext(r.Context())
	taskID, err := h.enqueuer.EnqueueReconcile(r.Context(), actor)
	if err != nil {
		h.logger.Error("enqueue reconciliation", slog.Any("error", err))
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, err))
		return
	}
	h.logger.Info("trust reconciliation requested", slog.String("task_id", taskID), slog.String("actor", actor))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func companyParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("company_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.Classify(httpx.ErrValidation, fmt.Errorf("company_id must be a positive integer, got %q", raw))
	}
	return id, nil
}
