package mongo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// Money is stored as decimal strings so no precision is lost to BSON doubles.

type accountModel struct {
	ID                string     `bson:"_id"`
	CompanyID         int64      `bson:"company_id"`
	PropertyID        int64      `bson:"property_id"`
	BuyerID           *int64     `bson:"buyer_id,omitempty"`
	SellerID          *int64     `bson:"seller_id,omitempty"`
	DealID            *int64     `bson:"deal_id,omitempty"`
	OpeningBalance    string     `bson:"opening_balance"`
	RunningBalance    string     `bson:"running_balance"`
	ClosingBalance    string     `bson:"closing_balance"`
	PurchasePrice     string     `bson:"purchase_price"`
	AmountReceived    string     `bson:"amount_received"`
	AmountOutstanding string     `bson:"amount_outstanding"`
	Status            string     `bson:"status"`
	Active            bool       `bson:"active"`
	WorkflowState     string     `bson:"workflow_state"`
	LockReason        string     `bson:"lock_reason,omitempty"`
	ClosedAt          *time.Time `bson:"closed_at,omitempty"`
	LastTransactionAt *time.Time `bson:"last_transaction_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

type transactionModel struct {
	ID             string    `bson:"_id"`
	TrustAccountID string    `bson:"trust_account_id"`
	CompanyID      int64     `bson:"company_id"`
	PropertyID     int64     `bson:"property_id"`
	PaymentID      string    `bson:"payment_id,omitempty"`
	SettlementID   string    `bson:"settlement_id,omitempty"`
	Seq            int64     `bson:"seq"`
	Type           string    `bson:"type"`
	Debit          string    `bson:"debit"`
	Credit         string    `bson:"credit"`
	RunningBalance string    `bson:"running_balance"`
	Reference      string    `bson:"reference"`
	SourceEvent    string    `bson:"source_event,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

type deductionModel struct {
	Type   string `bson:"type"`
	Amount string `bson:"amount"`
}

type settlementModel struct {
	ID                  string           `bson:"_id"`
	TrustAccountID      string           `bson:"trust_account_id"`
	CompanyID           int64            `bson:"company_id"`
	PropertyID          int64            `bson:"property_id"`
	SalePrice           string           `bson:"sale_price"`
	GrossProceeds       string           `bson:"gross_proceeds"`
	CommissionAmount    string           `bson:"commission_amount"`
	Deductions          []deductionModel `bson:"deductions"`
	TotalDeductions     string           `bson:"total_deductions"`
	NetPayout           string           `bson:"net_payout"`
	CGTRate             string           `bson:"cgt_rate"`
	VATSaleRate         string           `bson:"vat_sale_rate"`
	VATOnCommissionRate string           `bson:"vat_on_commission_rate"`
	SettlementDate      time.Time        `bson:"settlement_date"`
	Locked              bool             `bson:"locked"`
	LockedAt            *time.Time       `bson:"locked_at,omitempty"`
	CreatedAt           time.Time        `bson:"created_at"`
	UpdatedAt           time.Time        `bson:"updated_at"`
}

type taxRecordModel struct {
	ID               string     `bson:"_id"`
	CompanyID        int64      `bson:"company_id"`
	PropertyID       int64      `bson:"property_id"`
	TrustAccountID   string     `bson:"trust_account_id"`
	SettlementID     string     `bson:"settlement_id"`
	TaxType          string     `bson:"tax_type"`
	Amount           string     `bson:"amount"`
	PaidToZimra      bool       `bson:"paid_to_zimra"`
	PaymentReference string     `bson:"payment_reference,omitempty"`
	PaidAt           *time.Time `bson:"paid_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
}

type auditLogModel struct {
	ID          string    `bson:"_id"`
	CompanyID   int64     `bson:"company_id"`
	EntityType  string    `bson:"entity_type"`
	EntityID    string    `bson:"entity_id"`
	Action      string    `bson:"action"`
	SourceEvent string    `bson:"source_event,omitempty"`
	OldValue    string    `bson:"old_value,omitempty"`
	NewValue    string    `bson:"new_value,omitempty"`
	PerformedBy string    `bson:"performed_by"`
	CreatedAt   time.Time `bson:"created_at"`
}

type leaseModel struct {
	Name      string    `bson:"_id"`
	Holder    string    `bson:"holder"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type detailModel struct {
	Kind           string `bson:"kind"`
	PaymentID      string `bson:"payment_id,omitempty"`
	TrustAccountID string `bson:"trust_account_id,omitempty"`
	PropertyID     int64  `bson:"property_id,omitempty"`
	Expected       string `bson:"expected,omitempty"`
	Actual         string `bson:"actual,omitempty"`
	Message        string `bson:"message"`
}

type resultModel struct {
	ID                string        `bson:"_id"`
	RunID             string        `bson:"run_id"`
	CompanyID         int64         `bson:"company_id"`
	StartedAt         time.Time     `bson:"started_at"`
	FinishedAt        time.Time     `bson:"finished_at"`
	CheckedPayments   int           `bson:"checked_payments"`
	CheckedAccounts   int           `bson:"checked_accounts"`
	MissingPostings   int           `bson:"missing_postings"`
	BalanceMismatches int           `bson:"balance_mismatches"`
	AutoRepairs       int           `bson:"auto_repairs"`
	Details           []detailModel `bson:"details"`
	Error             string        `bson:"error,omitempty"`
}

type salePaymentModel struct {
	PaymentID       string    `bson:"_id"`
	CompanyID       int64     `bson:"company_id"`
	PropertyID      int64     `bson:"property_id"`
	PayerID         string    `bson:"payer_id"`
	Amount          string    `bson:"amount"`
	Commission      string    `bson:"commission"`
	VATOnCommission string    `bson:"vat_on_commission,omitempty"`
	VATOnSale       string    `bson:"vat_on_sale,omitempty"`
	Reference       string    `bson:"reference"`
	Status          string    `bson:"status"`
	IsProvisional   bool      `bson:"is_provisional"`
	PaidAt          time.Time `bson:"paid_at"`
}

type propertyModel struct {
	ID            int64  `bson:"_id"`
	CompanyID     int64  `bson:"company_id"`
	PurchasePrice string `bson:"purchase_price"`
}

// decoder collects the first parse failure while converting a model.
type decoder struct {
	err error
}

func (d *decoder) money(field, v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(v)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("trust/mongo: decode %s: %w", field, err)
	}
	return out
}

func (d *decoder) nullMoney(field, v string) decimal.NullDecimal {
	if v == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.money(field, v))
}

func (d *decoder) id(field, v string) uuid.UUID {
	out, err := uuid.Parse(v)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("trust/mongo: decode %s: %w", field, err)
	}
	return out
}

func (d *decoder) optionalID(field, v string) *uuid.UUID {
	if v == "" {
		return nil
	}
	out := d.id(field, v)
	return &out
}

func moneyOrEmpty(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func toAccountModel(a trust.TrustAccount) accountModel {
	return accountModel{
		ID:                a.ID.String(),
		CompanyID:         a.CompanyID,
		PropertyID:        a.PropertyID,
		BuyerID:           a.BuyerID,
		SellerID:          a.SellerID,
		DealID:            a.DealID,
		OpeningBalance:    a.OpeningBalance.String(),
		RunningBalance:    a.RunningBalance.String(),
		ClosingBalance:    a.ClosingBalance.String(),
		PurchasePrice:     a.PurchasePrice.String(),
		AmountReceived:    a.AmountReceived.String(),
		AmountOutstanding: a.AmountOutstanding.String(),
		Status:            string(a.Status),
		Active:            a.Status.Active(),
		WorkflowState:     string(a.WorkflowState),
		LockReason:        a.LockReason,
		ClosedAt:          a.ClosedAt,
		LastTransactionAt: a.LastTransactionAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func fromAccountModel(m accountModel) (trust.TrustAccount, error) {
	var d decoder
	a := trust.TrustAccount{
		ID:                d.id("account id", m.ID),
		CompanyID:         m.CompanyID,
		PropertyID:        m.PropertyID,
		BuyerID:           m.BuyerID,
		SellerID:          m.SellerID,
		DealID:            m.DealID,
		OpeningBalance:    d.money("opening_balance", m.OpeningBalance),
		RunningBalance:    d.money("running_balance", m.RunningBalance),
		ClosingBalance:    d.money("closing_balance", m.ClosingBalance),
		PurchasePrice:     d.money("purchase_price", m.PurchasePrice),
		AmountReceived:    d.money("amount_received", m.AmountReceived),
		AmountOutstanding: d.money("amount_outstanding", m.AmountOutstanding),
		Status:            trust.AccountStatus(m.Status),
		WorkflowState:     trust.WorkflowState(m.WorkflowState),
		LockReason:        m.LockReason,
		ClosedAt:          m.ClosedAt,
		LastTransactionAt: m.LastTransactionAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	return a, d.err
}

func toTransactionModel(t trust.TrustTransaction) transactionModel {
	m := transactionModel{
		ID:             t.ID.String(),
		TrustAccountID: t.TrustAccountID.String(),
		CompanyID:      t.CompanyID,
		PropertyID:     t.PropertyID,
		PaymentID:      t.PaymentID,
		Seq:            t.Seq,
		Type:           string(t.Type),
		Debit:          t.Debit.String(),
		Credit:         t.Credit.String(),
		RunningBalance: t.RunningBalance.String(),
		Reference:      t.Reference,
		SourceEvent:    t.SourceEvent,
		CreatedAt:      t.CreatedAt,
	}
	if t.SettlementID != nil {
		m.SettlementID = t.SettlementID.String()
	}
	return m
}

func fromTransactionModel(m transactionModel) (trust.TrustTransaction, error) {
	var d decoder
	t := trust.TrustTransaction{
		ID:             d.id("transaction id", m.ID),
		TrustAccountID: d.id("trust_account_id", m.TrustAccountID),
		CompanyID:      m.CompanyID,
		PropertyID:     m.PropertyID,
		PaymentID:      m.PaymentID,
		SettlementID:   d.optionalID("settlement_id", m.SettlementID),
		Seq:            m.Seq,
		Type:           trust.TransactionType(m.Type),
		Debit:          d.money("debit", m.Debit),
		Credit:         d.money("credit", m.Credit),
		RunningBalance: d.money("running_balance", m.RunningBalance),
		Reference:      m.Reference,
		SourceEvent:    m.SourceEvent,
		CreatedAt:      m.CreatedAt,
	}
	return t, d.err
}

func toSettlementModel(s trust.TrustSettlement) settlementModel {
	deductions := make([]deductionModel, len(s.Deductions))
	for i, ded := range s.Deductions {
		deductions[i] = deductionModel{Type: string(ded.Type), Amount: ded.Amount.String()}
	}
	return settlementModel{
		ID:                  s.ID.String(),
		TrustAccountID:      s.TrustAccountID.String(),
		CompanyID:           s.CompanyID,
		PropertyID:          s.PropertyID,
		SalePrice:           s.SalePrice.String(),
		GrossProceeds:       s.GrossProceeds.String(),
		CommissionAmount:    s.CommissionAmount.String(),
		Deductions:          deductions,
		TotalDeductions:     s.TotalDeductions.String(),
		NetPayout:           s.NetPayout.String(),
		CGTRate:             s.CGTRate.String(),
		VATSaleRate:         s.VATSaleRate.String(),
		VATOnCommissionRate: s.VATOnCommissionRate.String(),
		SettlementDate:      s.SettlementDate,
		Locked:              s.Locked,
		LockedAt:            s.LockedAt,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func fromSettlementModel(m settlementModel) (trust.TrustSettlement, error) {
	var d decoder
	deductions := make([]trust.Deduction, len(m.Deductions))
	for i, ded := range m.Deductions {
		deductions[i] = trust.Deduction{Type: trust.DeductionType(ded.Type), Amount: d.money("deduction", ded.Amount)}
	}
	s := trust.TrustSettlement{
		ID:                  d.id("settlement id", m.ID),
		TrustAccountID:      d.id("trust_account_id", m.TrustAccountID),
		CompanyID:           m.CompanyID,
		PropertyID:          m.PropertyID,
		SalePrice:           d.money("sale_price", m.SalePrice),
		GrossProceeds:       d.money("gross_proceeds", m.GrossProceeds),
		CommissionAmount:    d.money("commission_amount", m.CommissionAmount),
		Deductions:          deductions,
		TotalDeductions:     d.money("total_deductions", m.TotalDeductions),
		NetPayout:           d.money("net_payout", m.NetPayout),
		CGTRate:             d.money("cgt_rate", m.CGTRate),
		VATSaleRate:         d.money("vat_sale_rate", m.VATSaleRate),
		VATOnCommissionRate: d.money("vat_on_commission_rate", m.VATOnCommissionRate),
		SettlementDate:      m.SettlementDate,
		Locked:              m.Locked,
		LockedAt:            m.LockedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	return s, d.err
}

func toTaxRecordModel(r trust.TaxRecord) taxRecordModel {
	return taxRecordModel{
		ID:               r.ID.String(),
		CompanyID:        r.CompanyID,
		PropertyID:       r.PropertyID,
		TrustAccountID:   r.TrustAccountID.String(),
		SettlementID:     r.SettlementID.String(),
		TaxType:          string(r.TaxType),
		Amount:           r.Amount.String(),
		PaidToZimra:      r.PaidToZimra,
		PaymentReference: r.PaymentReference,
		PaidAt:           r.PaidAt,
		CreatedAt:        r.CreatedAt,
	}
}

func fromTaxRecordModel(m taxRecordModel) (trust.TaxRecord, error) {
	var d decoder
	r := trust.TaxRecord{
		ID:               d.id("tax record id", m.ID),
		CompanyID:        m.CompanyID,
		PropertyID:       m.PropertyID,
		TrustAccountID:   d.id("trust_account_id", m.TrustAccountID),
		SettlementID:     d.id("settlement_id", m.SettlementID),
		TaxType:          trust.DeductionType(m.TaxType),
		Amount:           d.money("amount", m.Amount),
		PaidToZimra:      m.PaidToZimra,
		PaymentReference: m.PaymentReference,
		PaidAt:           m.PaidAt,
		CreatedAt:        m.CreatedAt,
	}
	return r, d.err
}

func toAuditLogModel(l audit.Log) auditLogModel {
	return auditLogModel{
		ID:          l.ID.String(),
		CompanyID:   l.CompanyID,
		EntityType:  string(l.EntityType),
		EntityID:    l.EntityID,
		Action:      string(l.Action),
		SourceEvent: l.SourceEvent,
		OldValue:    string(l.OldValue),
		NewValue:    string(l.NewValue),
		PerformedBy: l.PerformedBy,
		CreatedAt:   l.CreatedAt,
	}
}

func fromAuditLogModel(m auditLogModel) (audit.Log, error) {
	var d decoder
	l := audit.Log{
		ID:          d.id("audit id", m.ID),
		CompanyID:   m.CompanyID,
		EntityType:  audit.EntityType(m.EntityType),
		EntityID:    m.EntityID,
		Action:      audit.Action(m.Action),
		SourceEvent: m.SourceEvent,
		PerformedBy: m.PerformedBy,
		CreatedAt:   m.CreatedAt,
	}
	if m.OldValue != "" {
		l.OldValue = []byte(m.OldValue)
	}
	if m.NewValue != "" {
		l.NewValue = []byte(m.NewValue)
	}
	return l, d.err
}

func toResultModel(r reconcile.Result) resultModel {
	details := make([]detailModel, len(r.Details))
	for i, det := range r.Details {
		details[i] = detailModel{
			Kind:       string(det.Kind),
			PaymentID:  det.PaymentID,
			PropertyID: det.PropertyID,
			Expected:   moneyOrEmpty(det.Expected),
			Actual:     moneyOrEmpty(det.Actual),
			Message:    det.Message,
		}
		if det.TrustAccountID != nil {
			details[i].TrustAccountID = det.TrustAccountID.String()
		}
	}
	return resultModel{
		ID:                r.ID.String(),
		RunID:             r.RunID.String(),
		CompanyID:         r.CompanyID,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		CheckedPayments:   r.CheckedPayments,
		CheckedAccounts:   r.CheckedAccounts,
		MissingPostings:   r.MissingPostings,
		BalanceMismatches: r.BalanceMismatches,
		AutoRepairs:       r.AutoRepairs,
		Details:           details,
		Error:             r.Error,
	}
}

func fromResultModel(m resultModel) (reconcile.Result, error) {
	var d decoder
	details := make([]reconcile.Detail, len(m.Details))
	for i, det := range m.Details {
		details[i] = reconcile.Detail{
			Kind:           reconcile.DetailKind(det.Kind),
			PaymentID:      det.PaymentID,
			TrustAccountID: d.optionalID("detail trust_account_id", det.TrustAccountID),
			PropertyID:     det.PropertyID,
			Message:        det.Message,
		}
		if det.Expected != "" {
			v := d.money("detail expected", det.Expected)
			details[i].Expected = &v
		}
		if det.Actual != "" {
			v := d.money("detail actual", det.Actual)
			details[i].Actual = &v
		}
	}
	r := reconcile.Result{
		ID:                d.id("result id", m.ID),
		RunID:             d.id("run_id", m.RunID),
		CompanyID:         m.CompanyID,
		StartedAt:         m.StartedAt,
		FinishedAt:        m.FinishedAt,
		CheckedPayments:   m.CheckedPayments,
		CheckedAccounts:   m.CheckedAccounts,
		MissingPostings:   m.MissingPostings,
		BalanceMismatches: m.BalanceMismatches,
		AutoRepairs:       m.AutoRepairs,
		Details:           details,
		Error:             m.Error,
	}
	return r, d.err
}

func fromSalePaymentModel(m salePaymentModel) (trust.SalePayment, error) {
	var d decoder
	p := trust.SalePayment{
		PaymentID:       m.PaymentID,
		CompanyID:       m.CompanyID,
		PropertyID:      m.PropertyID,
		PayerID:         m.PayerID,
		Amount:          d.money("amount", m.Amount),
		Commission:      d.money("commission", m.Commission),
		VATOnCommission: d.nullMoney("vat_on_commission", m.VATOnCommission),
		VATOnSale:       d.nullMoney("vat_on_sale", m.VATOnSale),
		Reference:       m.Reference,
		PaidAt:          m.PaidAt,
	}
	return p, d.err
}
