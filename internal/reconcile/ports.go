package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// LeaseStore persists the job lease. AcquireLease succeeds when the lease is free, expired, or
// already held by holder.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// ResultStore persists per-tenant results.
type ResultStore interface {
	InsertReconciliationResult(ctx context.Context, result Result) error
	LatestReconciliationResult(ctx context.Context, companyID int64) (Result, error)
	ListReconciliationResults(ctx context.Context, companyID int64, page, perPage int) ([]Result, int, error)
}

// PaymentSource lists completed sale payments from the payment pipeline.
type PaymentSource interface {
	TenantsWithSalePayments(ctx context.Context) ([]int64, error)
	CompanySalePayments(ctx context.Context, companyID int64) ([]trust.SalePayment, error)
}

// Ledger is the read side of the trust store used for comparison.
type Ledger interface {
	FindTransactionByPayment(ctx context.Context, companyID int64, paymentID string) (trust.TrustTransaction, error)
	LatestTransaction(ctx context.Context, companyID int64, accountID uuid.UUID) (trust.TrustTransaction, error)
	ListAccounts(ctx context.Context, filter trust.AccountFilter) ([]trust.TrustAccount, int, error)
}

// Emitter re-publishes the upstream payment confirmed event.
type Emitter interface {
	EmitPaymentConfirmed(ctx context.Context, payment trust.SalePayment) error
}

// Realigner resets a drifted account balance.
type Realigner interface {
	RealignBalance(ctx context.Context, ref trust.AccountRef, expected decimal.Decimal, sourceEvent string) (trust.TrustAccount, error)
}
