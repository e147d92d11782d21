package trust

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus enumerates trust account lifecycle values.
type AccountStatus string

const (
	AccountStatusOpen    AccountStatus = "OPEN"
	AccountStatusSettled AccountStatus = "SETTLED"
	AccountStatusClosed  AccountStatus = "CLOSED"
)

// Active reports whether the status counts toward the one-live-account-per-property rule.
func (s AccountStatus) Active() bool {
	return s == AccountStatusOpen || s == AccountStatusSettled
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TxBuyerPayment        TransactionType = "BUYER_PAYMENT"
	TxTransferToSeller    TransactionType = "TRANSFER_TO_SELLER"
	TxCGTDeduction        TransactionType = "CGT_DEDUCTION"
	TxCommissionDeduction TransactionType = "COMMISSION_DEDUCTION"
	TxVATDeduction        TransactionType = "VAT_DEDUCTION"
	TxVATOnCommission     TransactionType = "VAT_ON_COMMISSION"
	TxRefund              TransactionType = "REFUND"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxBuyerPayment, TxTransferToSeller, TxCGTDeduction, TxCommissionDeduction, TxVATDeduction, TxVATOnCommission, TxRefund:
		return true
	}
	return false
}

// DeductionType enumerates settlement deduction lines.
type DeductionType string

const (
	DeductionCGT             DeductionType = "CGT"
	DeductionCommission      DeductionType = "COMMISSION"
	DeductionVAT             DeductionType = "VAT"
	DeductionVATOnCommission DeductionType = "VAT_ON_COMMISSION"
)

// TransactionType maps a deduction to the ledger entry that applies it.
func (d DeductionType) TransactionType() TransactionType {
	switch d {
	case DeductionCGT:
		return TxCGTDeduction
	case DeductionCommission:
		return TxCommissionDeduction
	case DeductionVAT:
		return TxVATDeduction
	case DeductionVATOnCommission:
		return TxVATOnCommission
	}
	return ""
}

// IsTax reports whether the deduction is owed to the tax authority.
func (d DeductionType) IsTax() bool {
	return d == DeductionCGT || d == DeductionVAT || d == DeductionVATOnCommission
}

// TrustAccount is one escrow per (company, property) while alive.
type TrustAccount struct {
	ID                uuid.UUID       `json:"id"`
	CompanyID         int64           `json:"company_id"`
	PropertyID        int64           `json:"property_id"`
	BuyerID           *int64          `json:"buyer_id,omitempty"`
	SellerID          *int64          `json:"seller_id,omitempty"`
	DealID            *int64          `json:"deal_id,omitempty"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	RunningBalance    decimal.Decimal `json:"running_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	AmountReceived    decimal.Decimal `json:"amount_received"`
	AmountOutstanding decimal.Decimal `json:"amount_outstanding"`
	Status            AccountStatus   `json:"status"`
	WorkflowState     WorkflowState   `json:"workflow_state"`
	LockReason        string          `json:"lock_reason,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Ref returns the scoped reference to the account.
func (a TrustAccount) Ref() AccountRef {
	return AccountRef{CompanyID: a.CompanyID, AccountID: a.ID}
}

// TrustTransaction is an immutable ledger entry.
type TrustTransaction struct {
	ID             uuid.UUID       `json:"id"`
	TrustAccountID uuid.UUID       `json:"trust_account_id"`
	CompanyID      int64           `json:"company_id"`
	PropertyID     int64           `json:"property_id"`
	PaymentID      string          `json:"payment_id,omitempty"`
	SettlementID   *uuid.UUID      `json:"settlement_id,omitempty"`
	Seq            int64           `json:"seq"`
	Type           TransactionType `json:"type"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	Reference      string          `json:"reference"`
	SourceEvent    string          `json:"source_event,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Deduction is one settlement deduction line.
type Deduction struct {
	Type   DeductionType   `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// TrustSettlement is the computed split of sale proceeds for one account.
type TrustSettlement struct {
	ID                  uuid.UUID       `json:"id"`
	TrustAccountID      uuid.UUID       `json:"trust_account_id"`
	CompanyID           int64           `json:"company_id"`
	PropertyID          int64           `json:"property_id"`
	SalePrice           decimal.Decimal `json:"sale_price"`
	GrossProceeds       decimal.Decimal `json:"gross_proceeds"`
	CommissionAmount    decimal.Decimal `json:"commission_amount"`
	Deductions          []Deduction     `json:"deductions"`
	TotalDeductions     decimal.Decimal `json:"total_deductions"`
	NetPayout           decimal.Decimal `json:"net_payout"`
	CGTRate             decimal.Decimal `json:"cgt_rate"`
	VATSaleRate         decimal.Decimal `json:"vat_sale_rate"`
	VATOnCommissionRate decimal.Decimal `json:"vat_on_commission_rate"`
	SettlementDate      time.Time       `json:"settlement_date"`
	Locked              bool            `json:"locked"`
	LockedAt            *time.Time      `json:"locked_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Deduction returns the target amount for the given deduction type.
func (s TrustSettlement) Deduction(t DeductionType) decimal.Decimal {
	for _, d := range s.Deductions {
		if d.Type == t {
			return d.Amount
		}
	}
	return decimal.Zero
}

// TaxRecord tracks one applied tax deduction for remittance to the tax authority.
type TaxRecord struct {
	ID               uuid.UUID       `json:"id"`
	CompanyID        int64           `json:"company_id"`
	PropertyID       int64           `json:"property_id"`
	TrustAccountID   uuid.UUID       `json:"trust_account_id"`
	SettlementID     uuid.UUID       `json:"settlement_id"`
	TaxType          DeductionType   `json:"tax_type"`
	Amount           decimal.Decimal `json:"amount"`
	PaidToZimra      bool            `json:"paid_to_zimra"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AccountRef scopes an account lookup to its tenant.
type AccountRef struct {
	CompanyID int64     `json:"company_id" validate:"required,gt=0"`
	AccountID uuid.UUID `json:"account_id" validate:"required"`
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	CompanyID     int64
	Status        AccountStatus
	WorkflowState WorkflowState
	Search        string
	Page          int
	PerPage       int
}

// PageRequest is a page selector for ledger listings.
type PageRequest struct {
	Page    int
	PerPage int
}

// SalePayment is a completed, non-provisional sale payment from the payment pipeline.
type SalePayment struct {
	PaymentID       string
	CompanyID       int64
	PropertyID      int64
	PayerID         string
	Amount          decimal.Decimal
	Commission      decimal.Decimal
	VATOnCommission decimal.NullDecimal
	VATOnSale       decimal.NullDecimal
	Reference       string
	PaidAt          time.Time
}

// TaxSummaryLine aggregates tax records of one type.
type TaxSummaryLine struct {
	TaxType DeductionType   `json:"tax_type"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Unpaid  decimal.Decimal `json:"unpaid"`
}

// TaxSummary is the per-account tax position.
type TaxSummary struct {
	TrustAccountID uuid.UUID        `json:"trust_account_id"`
	Lines          []TaxSummaryLine `json:"lines"`
	Total          decimal.Decimal  `json:"total"`
	Unpaid         decimal.Decimal  `json:"unpaid"`
	Records        []TaxRecord      `json:"records"`
}
