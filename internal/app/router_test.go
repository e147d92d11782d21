package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/observability"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
	_ "github.com/odyssey-erp/odyssey-trust/testing"
)

func newTestRouter(t *testing.T, health map[string]Pinger) http.Handler {
	t.Helper()
	cfg := &Config{TrustStoreDriver: StoreDriverMemory, TrustTxMode: "auto", TrustCGTRate: "0.20",
		TrustVATSaleRate: "0.15", TrustVATOnCommissionRate: "0.155", AppRateLimit: 1000}
	backend, err := OpenBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	service, err := NewTrustService(context.Background(), cfg, backend, trust.NewLocalLocker(), nil)
	require.NoError(t, err)

	return NewRouter(RouterParams{
		Config:       cfg,
		TrustHandler: trust.NewHandler(nil, service),
		Metrics:      observability.NewMetrics(),
		Health:       health,
	})
}

func TestHealthzReportsComponents(t *testing.T) {
	router := newTestRouter(t, map[string]Pinger{
		"store": PingFunc(func(context.Context) error { return nil }),
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"store":"ok"`)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHealthzDegradedWhenDependencyDown(t *testing.T) {
	router := newTestRouter(t, map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"redis":"down"`)
}

func TestActorHeaderIsRecordedInAuditLog(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/trust/accounts", strings.NewReader(`{"company_id":1,"property_id":42,"opening_balance":"0"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "ops@odyssey")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/trust/audit-logs?company_id=1&action=CREATED", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		AuditLogs []audit.Log `json:"audit_logs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.AuditLogs)
	require.Equal(t, "ops@odyssey", body.AuditLogs[0].PerformedBy)
}

func TestMetricsEndpointMounted(t *testing.T) {
	router := newTestRouter(t, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"}`)
}

func TestTestModeFlag(t *testing.T) {
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "0")
	require.False(t, RefreshTestMode())
	require.False(t, InTestMode())

	t.Setenv(TestModeEnv, "1")
	require.True(t, RefreshTestMode())
}
