package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-trust/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

type trustService interface {
	CreateTrustAccount(ctx context.Context, in CreateAccountInput) (TrustAccount, error)
	RecordBuyerPayment(ctx context.Context, in BuyerPaymentInput) (PostingResult, error)
	PostTransaction(ctx context.Context, in PostTransactionInput) (PostingResult, error)
	CalculateSettlement(ctx context.Context, in CalculateSettlementInput) (TrustSettlement, error)
	ApplyTaxDeductions(ctx context.Context, ref AccountRef) (ApplyResult, error)
	TransferToSeller(ctx context.Context, in TransferInput) (PostingResult, error)
	CloseTrustAccount(ctx context.Context, in CloseInput) (TrustAccount, error)
	TransitionWorkflowState(ctx context.Context, in TransitionInput) (TrustAccount, error)
	VerifyAndRepairAccountInvariants(ctx context.Context, ref AccountRef) (VerifyResult, error)
	MarkTaxRecordPaid(ctx context.Context, in MarkTaxPaidInput) (TaxRecord, error)
	GetAccount(ctx context.Context, ref AccountRef) (TrustAccount, error)
	GetAccountByProperty(ctx context.Context, companyID, propertyID int64) (TrustAccount, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]TrustAccount, shared.Pagination, error)
	GetLedger(ctx context.Context, ref AccountRef, page PageRequest) ([]TrustTransaction, shared.Pagination, error)
	GetSettlement(ctx context.Context, ref AccountRef) (TrustSettlement, error)
	GetTaxSummary(ctx context.Context, ref AccountRef) (TaxSummary, error)
	ListAuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Log, shared.Pagination, error)
}

// Handler exposes the trust API as JSON.
type Handler struct {
	logger  *slog.Logger
	service trustService
}

// NewHandler constructs the trust HTTP handler.
func NewHandler(logger *slog.Logger, service trustService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers trust routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/trust", func(r chi.Router) {
		r.Get("/accounts", h.handleListAccounts)
		r.Post("/accounts", h.handleCreateAccount)
		r.Get("/properties/{propertyID}/account", h.handleAccountByProperty)
		r.Post("/payments", h.handleRecordPayment)
		r.Get("/audit-logs", h.handleAuditLogs)
		r.Post("/tax-records/{taxRecordID}/paid", h.handleMarkTaxPaid)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/", h.handleGetAccount)
			r.Get("/ledger", h.handleLedger)
			r.Post("/transactions", h.handlePostTransaction)
			r.Get("/settlement", h.handleGetSettlement)
			r.Post("/settlement", h.handleCalculateSettlement)
			r.Post("/deductions", h.handleApplyDeductions)
			r.Post("/transfers", h.handleTransfer)
			r.Post("/close", h.handleClose)
			r.Post("/transitions", h.handleTransition)
			r.Post("/verify", h.handleVerify)
			r.Get("/tax-summary", h.handleTaxSummary)
			r.Get("/audit-logs", h.handleAccountAuditLogs)
		})
	})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in CreateAccountInput
	if !h.decode(w, r, &in) {
		return
	}
	account, err := h.service.CreateTrustAccount(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	accounts, pagination, err := h.service.ListAccounts(r.Context(), AccountFilter{
		CompanyID:     companyID,
		Status:        AccountStatus(q.Get("status")),
		WorkflowState: WorkflowState(q.Get("workflow_state")),
		Search:        q.Get("search"),
		Page:          page,
		PerPage:       perPage,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts, "pagination": pagination})
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleAccountByProperty(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	propertyID, err := strconv.ParseInt(chi.URLParam(r, "propertyID"), 10, 64)
	if err != nil || propertyID <= 0 {
		h.respondError(w, r, fmt.Errorf("%w: invalid property id", ErrValidation))
		return
	}
	account, err := h.service.GetAccountByProperty(r.Context(), companyID, propertyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var in BuyerPaymentInput
	if !h.decode(w, r, &in) {
		return
	}
	if in.SourceEvent == "" {
		in.SourceEvent = "api:payment_confirmed"
	}
	result, err := h.service.RecordBuyerPayment(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	txns, pagination, err := h.service.GetLedger(r.Context(), ref, PageRequest{Page: page, PerPage: perPage})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns, "pagination": pagination})
}

func (h *Handler) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	var in PostTransactionInput
	if !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.AccountID = ref.CompanyID, ref.AccountID
	result, err := h.service.PostTransaction(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	settlement, err := h.service.GetSettlement(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settlement)
}

func (h *Handler) handleCalculateSettlement(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	var in CalculateSettlementInput
	if r.ContentLength != 0 && !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.AccountID = ref.CompanyID, ref.AccountID
	settlement, err := h.service.CalculateSettlement(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settlement)
}

func (h *Handler) handleApplyDeductions(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	result, err := h.service.ApplyTaxDeductions(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	var in TransferInput
	if !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.AccountID = ref.CompanyID, ref.AccountID
	result, err := h.service.TransferToSeller(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	var in CloseInput
	if r.ContentLength != 0 && !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.AccountID = ref.CompanyID, ref.AccountID
	account, err := h.service.CloseTrustAccount(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	var in TransitionInput
	if !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.AccountID = ref.CompanyID, ref.AccountID
	account, err := h.service.TransitionWorkflowState(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	result, err := h.service.VerifyAndRepairAccountInvariants(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleTaxSummary(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetTaxSummary(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleMarkTaxPaid(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "taxRecordID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid tax record id", ErrValidation))
		return
	}
	var in MarkTaxPaidInput
	if !h.decode(w, r, &in) {
		return
	}
	in.CompanyID, in.TaxRecordID = companyID, id
	record, err := h.service.MarkTaxRecordPaid(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	h.listAuditLogs(w, r, audit.Filter{
		CompanyID:  companyID,
		EntityType: audit.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Action:     audit.Action(q.Get("action")),
	})
}

func (h *Handler) handleAccountAuditLogs(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.accountRef(w, r)
	if !ok {
		return
	}
	h.listAuditLogs(w, r, audit.Filter{
		CompanyID:  ref.CompanyID,
		EntityType: audit.EntityTrustAccount,
		EntityID:   ref.AccountID.String(),
		Action:     audit.Action(r.URL.Query().Get("action")),
	})
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request, filter audit.Filter) {
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	logs, pagination, err := h.service.ListAuditLogs(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "pagination": pagination})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: malformed body: %v", ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) companyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("company_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, r, fmt.Errorf("%w: company_id must be a positive integer", ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) accountRef(w http.ResponseWriter, r *http.Request) (AccountRef, bool) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return AccountRef{}, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid account id", ErrValidation))
		return AccountRef{}, false
	}
	return AccountRef{CompanyID: companyID, AccountID: id}, true
}

// respondError maps trust errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, ErrValidation):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case IsValidation(err):
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnprocessable, err))
	case IsInvariant(err), errors.Is(err, ErrAccountExists):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	case IsTransient(err):
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, err))
	default:
		h.logger.Error("trust request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
