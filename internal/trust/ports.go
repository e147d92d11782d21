package trust

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// AccountStore persists trust accounts. Accounts are never deleted.
type AccountStore interface {
	// InsertAccount returns ErrAccountExists when an OPEN/SETTLED account exists for the property.
	InsertAccount(ctx context.Context, account TrustAccount) error
	GetAccount(ctx context.Context, companyID int64, id uuid.UUID) (TrustAccount, error)
	// LockAccount reads the account, holding a row lock when the store is inside a transaction.
	LockAccount(ctx context.Context, companyID int64, id uuid.UUID) (TrustAccount, error)
	FindActiveAccount(ctx context.Context, companyID, propertyID int64) (TrustAccount, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]TrustAccount, int, error)
	UpdateAccount(ctx context.Context, account TrustAccount) error
}

// LedgerStore is append-only: there is deliberately no update or delete.
type LedgerStore interface {
	// InsertTransaction returns ErrDuplicatePayment on a posted payment id and
	// ErrConcurrentPosting when the account sequence is already taken.
	InsertTransaction(ctx context.Context, txn TrustTransaction) error
	FindTransactionByPayment(ctx context.Context, companyID int64, paymentID string) (TrustTransaction, error)
	LatestTransaction(ctx context.Context, companyID int64, accountID uuid.UUID) (TrustTransaction, error)
	// ListTransactions returns rows in sequence order.
	ListTransactions(ctx context.Context, companyID int64, accountID uuid.UUID, page PageRequest) ([]TrustTransaction, int, error)
	AllTransactions(ctx context.Context, companyID int64, accountID uuid.UUID) ([]TrustTransaction, error)
	SumDebits(ctx context.Context, companyID int64, accountID, settlementID uuid.UUID, txType TransactionType) (decimal.Decimal, error)
}

// SettlementStore persists the single settlement per account.
type SettlementStore interface {
	UpsertSettlement(ctx context.Context, settlement TrustSettlement) error
	GetSettlement(ctx context.Context, companyID int64, accountID uuid.UUID) (TrustSettlement, error)
}

// TaxStore persists tax records. Records are never deleted.
type TaxStore interface {
	InsertTaxRecord(ctx context.Context, record TaxRecord) error
	GetTaxRecord(ctx context.Context, companyID int64, id uuid.UUID) (TaxRecord, error)
	ListTaxRecords(ctx context.Context, companyID int64, accountID uuid.UUID) ([]TaxRecord, error)
	MarkTaxRecordPaid(ctx context.Context, record TaxRecord) error
}

// Store is the full ledger store seen by one unit of work.
type Store interface {
	AccountStore
	LedgerStore
	SettlementStore
	TaxStore
	audit.Sink
	audit.Reader
}

// Transactor is implemented by stores able to run a function atomically. Implementations return
// ErrTransactionsUnsupported, before fn has had any effect, when the deployment cannot.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// PropertyDirectory is the external property lookup.
type PropertyDirectory interface {
	PurchasePrice(ctx context.Context, companyID, propertyID int64) (decimal.Decimal, error)
}

// SalePaymentSource is the external sale-payment query, the source of truth for settlements.
type SalePaymentSource interface {
	CompletedSalePayments(ctx context.Context, companyID, propertyID int64) ([]SalePayment, error)
}

// PostingListener observes committed postings, e.g. to mirror them into the general ledger.
type PostingListener interface {
	TransactionPosted(ctx context.Context, account TrustAccount, txn TrustTransaction)
}
