package trust

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			return d.InexactFloat64()
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			return d.Decimal.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		id := field.Interface().(uuid.UUID)
		if id == uuid.Nil {
			return ""
		}
		return id.String()
	}, uuid.UUID{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs tag validation and folds failures into ErrValidation.
func validateStruct(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// wholeCents rejects money values finer than a cent. Rounding them would post an amount the
// source never carried.
func wholeCents(fields map[string]decimal.Decimal) error {
	for name, v := range fields {
		if !v.Equal(Round2(v)) {
			return fmt.Errorf("%w: %s %s has more than 2 decimal places", ErrValidation, name, v.String())
		}
	}
	return nil
}

// CreateAccountInput opens a trust account for a property.
type CreateAccountInput struct {
	CompanyID            int64           `json:"company_id" validate:"required,gt=0"`
	PropertyID           int64           `json:"property_id" validate:"required,gt=0"`
	OpeningBalance       decimal.Decimal `json:"opening_balance" validate:"gte=0"`
	InitialWorkflowState WorkflowState   `json:"initial_workflow_state,omitempty"`
	BuyerID              *int64          `json:"buyer_id,omitempty"`
	SellerID             *int64          `json:"seller_id,omitempty"`
	DealID               *int64          `json:"deal_id,omitempty"`
	SourceEvent          string          `json:"source_event,omitempty"`
}

// Validate checks required fields.
func (in CreateAccountInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.InitialWorkflowState != "" && !in.InitialWorkflowState.Valid() {
		return fmt.Errorf("%w: unknown workflow state %q", ErrValidation, in.InitialWorkflowState)
	}
	return wholeCents(map[string]decimal.Decimal{"opening_balance": in.OpeningBalance})
}

// BuyerPaymentInput mirrors the payment confirmed event.
type BuyerPaymentInput struct {
	CompanyID   int64           `json:"company_id" validate:"required,gt=0"`
	PropertyID  int64           `json:"property_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentID   string          `json:"payment_id" validate:"required,max=128"`
	Reference   string          `json:"reference" validate:"max=255"`
	PayerID     string          `json:"payer_id,omitempty"`
	PaidAt      time.Time       `json:"paid_at"`
	SourceEvent string          `json:"source_event,omitempty"`
}

// Validate checks required fields and that the amount is whole cents.
func (in BuyerPaymentInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	return wholeCents(map[string]decimal.Decimal{"amount": in.Amount})
}

// PostTransactionInput is a raw ledger posting. Exactly one of Debit and Credit is positive.
type PostTransactionInput struct {
	CompanyID    int64           `json:"company_id" validate:"required,gt=0"`
	AccountID    uuid.UUID       `json:"account_id" validate:"required"`
	Type         TransactionType `json:"type" validate:"required"`
	Debit        decimal.Decimal `json:"debit" validate:"gte=0"`
	Credit       decimal.Decimal `json:"credit" validate:"gte=0"`
	PaymentID    string          `json:"payment_id,omitempty" validate:"max=128"`
	SettlementID *uuid.UUID      `json:"settlement_id,omitempty"`
	Reference    string          `json:"reference" validate:"max=255"`
	SourceEvent  string          `json:"source_event,omitempty"`
}

// Validate checks amounts and type.
func (in PostTransactionInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, in.Type)
	}
	if in.Debit.IsPositive() == in.Credit.IsPositive() {
		return fmt.Errorf("%w: exactly one of debit and credit must be positive", ErrValidation)
	}
	return wholeCents(map[string]decimal.Decimal{"debit": in.Debit, "credit": in.Credit})
}

// CalculateSettlementInput carries caller overrides. Completed sale payments take precedence.
type CalculateSettlementInput struct {
	CompanyID           int64               `json:"company_id" validate:"required,gt=0"`
	AccountID           uuid.UUID           `json:"account_id" validate:"required"`
	SalePrice           decimal.NullDecimal `json:"sale_price,omitempty" validate:"omitempty,gte=0"`
	CommissionAmount    decimal.NullDecimal `json:"commission_amount,omitempty" validate:"omitempty,gte=0"`
	CGTRate             decimal.NullDecimal `json:"cgt_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	VATSaleRate         decimal.NullDecimal `json:"vat_sale_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	VATOnCommissionRate decimal.NullDecimal `json:"vat_on_commission_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	ApplyVATOnSale      *bool               `json:"apply_vat_on_sale,omitempty"`
	SettlementDate      *time.Time          `json:"settlement_date,omitempty"`
}

// Validate checks required fields.
func (in CalculateSettlementInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	return wholeCents(map[string]decimal.Decimal{
		"sale_price":        in.SalePrice.Decimal,
		"commission_amount": in.CommissionAmount.Decimal,
	})
}

// TransferInput disburses net proceeds to the seller.
type TransferInput struct {
	CompanyID int64           `json:"company_id" validate:"required,gt=0"`
	AccountID uuid.UUID       `json:"account_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"max=255"`
}

// Validate checks required fields and that the amount is whole cents.
func (in TransferInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	return wholeCents(map[string]decimal.Decimal{"amount": in.Amount})
}

// CloseInput closes a drained account.
type CloseInput struct {
	CompanyID  int64     `json:"company_id" validate:"required,gt=0"`
	AccountID  uuid.UUID `json:"account_id" validate:"required"`
	LockReason string    `json:"lock_reason,omitempty" validate:"max=255"`
}

// Validate checks required fields.
func (in CloseInput) Validate() error {
	return validateStruct(in)
}

// TransitionInput moves an account along the workflow graph.
type TransitionInput struct {
	CompanyID int64         `json:"company_id" validate:"required,gt=0"`
	AccountID uuid.UUID     `json:"account_id" validate:"required"`
	To        WorkflowState `json:"to" validate:"required"`
}

// Validate checks required fields.
func (in TransitionInput) Validate() error {
	return validateStruct(in)
}

// MarkTaxPaidInput records remittance of a tax record.
type MarkTaxPaidInput struct {
	CompanyID        int64     `json:"company_id" validate:"required,gt=0"`
	TaxRecordID      uuid.UUID `json:"tax_record_id" validate:"required"`
	PaymentReference string    `json:"payment_reference" validate:"required,max=255"`
}

// Validate checks required fields.
func (in MarkTaxPaidInput) Validate() error {
	return validateStruct(in)
}

func validateRef(ref AccountRef) error {
	return validateStruct(ref)
}
