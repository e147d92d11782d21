// Package reconcile detects and repairs drift between the trust ledger and its source payments.
package reconcile

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxDetails caps itemized rows stored per tenant result.
const MaxDetails = 500

// LeaseName identifies the singleton reconciliation lease.
const LeaseName = "trust:reconciliation"

// ErrRunInProgress indicates another run holds the lease.
var ErrRunInProgress = errors.New("reconcile: run already in progress")

// DetailKind classifies an itemized finding.
type DetailKind string

const (
	DetailMissingPosting  DetailKind = "MISSING_POSTING"
	DetailBalanceMismatch DetailKind = "BALANCE_MISMATCH"
	DetailRepairFailed    DetailKind = "REPAIR_FAILED"
	DetailCheckFailed     DetailKind = "CHECK_FAILED"
)

// Detail is one itemized finding.
type Detail struct {
	Kind           DetailKind       `json:"kind"`
	PaymentID      string           `json:"payment_id,omitempty"`
	TrustAccountID *uuid.UUID       `json:"trust_account_id,omitempty"`
	PropertyID     int64            `json:"property_id,omitempty"`
	Expected       *decimal.Decimal `json:"expected,omitempty"`
	Actual         *decimal.Decimal `json:"actual,omitempty"`
	Message        string           `json:"message"`
}

// Result is the persisted outcome of one run for one tenant.
type Result struct {
	ID                uuid.UUID `json:"id"`
	RunID             uuid.UUID `json:"run_id"`
	CompanyID         int64     `json:"company_id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	CheckedPayments   int       `json:"checked_payments"`
	CheckedAccounts   int       `json:"checked_accounts"`
	MissingPostings   int       `json:"missing_postings"`
	BalanceMismatches int       `json:"balance_mismatches"`
	AutoRepairs       int       `json:"auto_repairs"`
	Details           []Detail  `json:"details"`
	Error             string    `json:"error,omitempty"`
}

func (r *Result) addDetail(d Detail) {
	if len(r.Details) < MaxDetails {
		r.Details = append(r.Details, d)
	}
}

// Summary describes one run across all tenants.
type Summary struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// Totals sums the per-tenant counters.
func (s Summary) Totals() (missing, mismatches, repairs int) {
	for _, r := range s.Results {
		missing += r.MissingPostings
		mismatches += r.BalanceMismatches
		repairs += r.AutoRepairs
	}
	return missing, mismatches, repairs
}
