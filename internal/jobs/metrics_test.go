package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("trust_reconciliation").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("trust_reconciliation").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("trust_reconciliation", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("trust_reconciliation", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("trust_reconciliation")))
}

func TestFindingsAndPayments(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddFindings(FindingMissingPosting, 7, 3)
	m.AddFindings(FindingMissingPosting, 7, 0)
	m.AddFindings(FindingAutoRepair, -1, 1)
	m.ObservePayment("posted")
	m.ObservePayment("duplicate")
	m.ObservePayment("posted")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.findings.WithLabelValues(FindingMissingPosting, "7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.findings.WithLabelValues(FindingAutoRepair, "0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payments.WithLabelValues("posted")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddFindings(FindingRepairFailed, 1, 2)
	m.ObservePayment("failed")
}
