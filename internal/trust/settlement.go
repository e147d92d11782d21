package trust

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxRates configures settlement deductions.
type TaxRates struct {
	CGTRate             decimal.Decimal
	VATSaleRate         decimal.Decimal
	VATOnCommissionRate decimal.Decimal
	VATOnSaleEnabled    bool
}

// SettlementBasis holds the sale figures a settlement is computed from.
// Recorded VAT values, when present, take precedence over rate-derived ones.
type SettlementBasis struct {
	SalePrice       decimal.Decimal
	Commission      decimal.Decimal
	VATOnCommission decimal.NullDecimal
	VATOnSale       decimal.NullDecimal
}

// SettlementFigures is the computed breakdown.
type SettlementFigures struct {
	SalePrice       decimal.Decimal
	Commission      decimal.Decimal
	CGT             decimal.Decimal
	VATOnSale       decimal.Decimal
	VATOnCommission decimal.Decimal
	TotalDeductions decimal.Decimal
	NetPayout       decimal.Decimal
	Deductions      []Deduction
}

// BasisFromPayments sums completed sale payments. Recorded VAT is only used when at least one
// payment carries it.
func BasisFromPayments(payments []SalePayment) SettlementBasis {
	var basis SettlementBasis
	for _, p := range payments {
		basis.SalePrice = basis.SalePrice.Add(p.Amount)
		basis.Commission = basis.Commission.Add(p.Commission)
		if p.VATOnCommission.Valid {
			basis.VATOnCommission = decimal.NullDecimal{Decimal: basis.VATOnCommission.Decimal.Add(p.VATOnCommission.Decimal), Valid: true}
		}
		if p.VATOnSale.Valid {
			basis.VATOnSale = decimal.NullDecimal{Decimal: basis.VATOnSale.Decimal.Add(p.VATOnSale.Decimal), Valid: true}
		}
	}
	return basis
}

// ComputeSettlement applies rates to the basis. netPayout = max(0, salePrice − Σdeductions).
func ComputeSettlement(basis SettlementBasis, rates TaxRates) SettlementFigures {
	salePrice := Round2(basis.SalePrice)
	commission := Round2(basis.Commission)
	cgt := Round2(salePrice.Mul(rates.CGTRate))

	vatOnSale := decimal.Zero
	switch {
	case basis.VATOnSale.Valid:
		vatOnSale = Round2(basis.VATOnSale.Decimal)
	case rates.VATOnSaleEnabled:
		vatOnSale = Round2(salePrice.Mul(rates.VATSaleRate))
	}

	vatOnCommission := Round2(commission.Mul(rates.VATOnCommissionRate))
	if basis.VATOnCommission.Valid {
		vatOnCommission = Round2(basis.VATOnCommission.Decimal)
	}

	total := cgt.Add(commission).Add(vatOnCommission).Add(vatOnSale)
	figures := SettlementFigures{
		SalePrice:       salePrice,
		Commission:      commission,
		CGT:             cgt,
		VATOnSale:       vatOnSale,
		VATOnCommission: vatOnCommission,
		TotalDeductions: total,
		NetPayout:       NonNegative(salePrice.Sub(total)),
	}
	for _, d := range []Deduction{
		{Type: DeductionCGT, Amount: cgt},
		{Type: DeductionCommission, Amount: commission},
		{Type: DeductionVATOnCommission, Amount: vatOnCommission},
		{Type: DeductionVAT, Amount: vatOnSale},
	} {
		if d.Amount.IsPositive() {
			figures.Deductions = append(figures.Deductions, d)
		}
	}
	return figures
}

// validateRates rejects negative or >100% rates.
func validateRates(r TaxRates) error {
	one := decimal.NewFromInt(1)
	for name, rate := range map[string]decimal.Decimal{
		"cgt_rate":               r.CGTRate,
		"vat_sale_rate":          r.VATSaleRate,
		"vat_on_commission_rate": r.VATOnCommissionRate,
	} {
		if rate.IsNegative() || rate.GreaterThan(one) {
			return fmt.Errorf("%w: %s must be between 0 and 1", ErrValidation, name)
		}
	}
	return nil
}
