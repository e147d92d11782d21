package trust_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

func newTestServer(t *testing.T) (*harness, http.Handler) {
	t.Helper()
	h := newHarness(t)
	router := chi.NewRouter()
	trust.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), h.service).MountRoutes(router)
	return h, router
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandlerPaymentFlow(t *testing.T) {
	h, srv := newTestServer(t)
	h.store.SetPurchasePrice(companyID, propertyID, money("100000"))

	rec := doJSON(t, srv, http.MethodPost, "/trust/accounts", `{"company_id":1,"property_id":42,"initial_workflow_state":"LISTED"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	account := decodeBody[trust.TrustAccount](t, rec)
	require.Equal(t, trust.StateListed, account.WorkflowState)

	payment := `{"company_id":1,"property_id":42,"amount":"30000","payment_id":"pay1","reference":"deposit"}`
	rec = doJSON(t, srv, http.MethodPost, "/trust/payments", payment)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	posted := decodeBody[trust.PostingResult](t, rec)
	require.False(t, posted.Duplicate)
	require.Equal(t, "api:payment_confirmed", posted.Transaction.SourceEvent)
	requireMoney(t, "30000", posted.Account.RunningBalance)

	rec = doJSON(t, srv, http.MethodPost, "/trust/payments", payment)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody[trust.PostingResult](t, rec).Duplicate)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/trust/accounts/%s/ledger?company_id=1", account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[struct {
		Transactions []trust.TrustTransaction `json:"transactions"`
	}](t, rec)
	require.Len(t, ledger.Transactions, 1)

	rec = doJSON(t, srv, http.MethodGet, "/trust/properties/42/account?company_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, account.ID, decodeBody[trust.TrustAccount](t, rec).ID)

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/trust/accounts/%s/settlement?company_id=1", account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settlement := decodeBody[trust.TrustSettlement](t, rec)
	requireMoney(t, "80000", settlement.NetPayout)

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/trust/accounts/%s/deductions?company_id=1", account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decodeBody[trust.ApplyResult](t, rec)
	requireMoney(t, "10000", applied.Account.RunningBalance)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/trust/accounts/%s/tax-summary?company_id=1", account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	requireMoney(t, "20000", decodeBody[trust.TaxSummary](t, rec).Total)
}

func TestHandlerErrorMapping(t *testing.T) {
	h, srv := newTestServer(t)
	account, err := h.service.CreateTrustAccount(t.Context(), trust.CreateAccountInput{CompanyID: companyID, PropertyID: propertyID, InitialWorkflowState: trust.StateValued})
	require.NoError(t, err)
	base := fmt.Sprintf("/trust/accounts/%s", account.ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing company", http.MethodGet, base, "", http.StatusBadRequest},
		{"bad account id", http.MethodGet, "/trust/accounts/not-a-uuid?company_id=1", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/trust/payments", `{`, http.StatusBadRequest},
		{"validation", http.MethodPost, "/trust/payments", `{"company_id":1,"property_id":42,"amount":"0","payment_id":"x"}`, http.StatusBadRequest},
		{"unknown account", http.MethodGet, fmt.Sprintf("/trust/accounts/%s?company_id=1", uuid.New()), "", http.StatusNotFound},
		{"other tenant", http.MethodGet, base + "?company_id=2", "", http.StatusNotFound},
		{"invalid transition", http.MethodPost, base + "/transitions?company_id=1", `{"to":"SETTLED"}`, http.StatusUnprocessableEntity},
		{"settlement missing", http.MethodPost, base + "/deductions?company_id=1", "", http.StatusUnprocessableEntity},
		{"overdraft", http.MethodPost, base + "/transactions?company_id=1", `{"type":"REFUND","debit":"5"}`, http.StatusConflict},
		{"sale value unknown", http.MethodPost, base + "/settlement?company_id=1", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			problem := decodeBody[httpx.ProblemDetail](t, rec)
			assert.Equal(t, tt.status, problem.Status)
			assert.NotEmpty(t, problem.Detail)
		})
	}
}

func TestHandlerCloseAndAudit(t *testing.T) {
	h, srv := newTestServer(t)
	account, err := h.service.CreateTrustAccount(t.Context(), trust.CreateAccountInput{CompanyID: companyID, PropertyID: propertyID})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/trust/accounts/%s/close?company_id=1", account.ID), `{"lock_reason":"withdrawn"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[trust.TrustAccount](t, rec)
	require.Equal(t, trust.AccountStatusClosed, closed.Status)
	require.Equal(t, "withdrawn", closed.LockReason)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/trust/accounts/%s/audit-logs?company_id=1", account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[struct {
		AuditLogs []struct {
			Action string `json:"action"`
		} `json:"audit_logs"`
	}](t, rec)
	require.Len(t, logs.AuditLogs, 2)
	require.Equal(t, "CLOSED", logs.AuditLogs[0].Action)
	require.Equal(t, "CREATED", logs.AuditLogs[1].Action)

	rec = doJSON(t, srv, http.MethodGet, "/trust/accounts?company_id=1&status=CLOSED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Accounts []trust.TrustAccount `json:"accounts"`
	}](t, rec)
	require.Len(t, list.Accounts, 1)
}

func TestHandlerVerify(t *testing.T) {
	h, srv := newTestServer(t)
	h.openListed(t)
	res := h.pay(t, "pay1", "10")

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/trust/accounts/%s/verify?company_id=1", res.Account.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[trust.VerifyResult](t, rec)
	require.Empty(t, result.Mismatches)
	require.False(t, result.Repaired)
}
