package trust

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var defaultRates = TaxRates{
	CGTRate:             d("0.20"),
	VATSaleRate:         d("0.15"),
	VATOnCommissionRate: d("0.155"),
}

func TestComputeSettlement(t *testing.T) {
	tests := []struct {
		name       string
		basis      SettlementBasis
		rates      TaxRates
		wantCGT    string
		wantVAT    string
		wantVOC    string
		wantNet    string
		deductions []DeductionType
	}{
		{
			name:       "standard sale",
			basis:      SettlementBasis{SalePrice: d("100000"), Commission: d("10000")},
			rates:      defaultRates,
			wantCGT:    "20000",
			wantVAT:    "0",
			wantVOC:    "1550",
			wantNet:    "68450",
			deductions: []DeductionType{DeductionCGT, DeductionCommission, DeductionVATOnCommission},
		},
		{
			name:  "vat on sale enabled",
			basis: SettlementBasis{SalePrice: d("100000")},
			rates: func() TaxRates {
				r := defaultRates
				r.VATOnSaleEnabled = true
				return r
			}(),
			wantCGT:    "20000",
			wantVAT:    "15000",
			wantVOC:    "0",
			wantNet:    "65000",
			deductions: []DeductionType{DeductionCGT, DeductionVAT},
		},
		{
			name: "recorded vat wins over rates",
			basis: SettlementBasis{
				SalePrice:       d("100000"),
				Commission:      d("10000"),
				VATOnCommission: decimal.NewNullDecimal(d("1000")),
				VATOnSale:       decimal.NewNullDecimal(d("500")),
			},
			rates:      defaultRates,
			wantCGT:    "20000",
			wantVAT:    "500",
			wantVOC:    "1000",
			wantNet:    "68500",
			deductions: []DeductionType{DeductionCGT, DeductionCommission, DeductionVATOnCommission, DeductionVAT},
		},
		{
			name:       "deductions above sale price clamp to zero",
			basis:      SettlementBasis{SalePrice: d("1000"), Commission: d("950")},
			rates:      defaultRates,
			wantCGT:    "200",
			wantVAT:    "0",
			wantVOC:    "147.25",
			wantNet:    "0",
			deductions: []DeductionType{DeductionCGT, DeductionCommission, DeductionVATOnCommission},
		},
		{
			name:    "zero rates",
			basis:   SettlementBasis{SalePrice: d("5000")},
			rates:   TaxRates{},
			wantCGT: "0",
			wantVAT: "0",
			wantVOC: "0",
			wantNet: "5000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSettlement(tt.basis, tt.rates)
			assert.True(t, d(tt.wantCGT).Equal(got.CGT), "cgt %s", got.CGT)
			assert.True(t, d(tt.wantVAT).Equal(got.VATOnSale), "vat %s", got.VATOnSale)
			assert.True(t, d(tt.wantVOC).Equal(got.VATOnCommission), "voc %s", got.VATOnCommission)
			assert.True(t, d(tt.wantNet).Equal(got.NetPayout), "net %s", got.NetPayout)

			types := make([]DeductionType, 0, len(got.Deductions))
			for _, ded := range got.Deductions {
				require.True(t, ded.Amount.IsPositive())
				types = append(types, ded.Type)
			}
			assert.ElementsMatch(t, tt.deductions, types)
		})
	}
}

func TestComputeSettlementConservesProceeds(t *testing.T) {
	cent := d("0.01")
	for _, sale := range []string{"0.01", "999.99", "12345.67", "100000", "2500000.55"} {
		for _, commissionRate := range []string{"0", "0.03", "0.05", "0.1"} {
			salePrice := d(sale)
			basis := SettlementBasis{SalePrice: salePrice, Commission: Round2(salePrice.Mul(d(commissionRate)))}
			got := ComputeSettlement(basis, defaultRates)

			sum := decimal.Zero
			for _, ded := range got.Deductions {
				sum = sum.Add(ded.Amount)
			}
			require.True(t, sum.Equal(got.TotalDeductions))
			require.False(t, got.NetPayout.IsNegative())
			if got.TotalDeductions.LessThanOrEqual(got.SalePrice) {
				diff := got.NetPayout.Add(got.TotalDeductions).Sub(salePrice).Abs()
				require.Truef(t, diff.LessThanOrEqual(cent), "sale %s commission %s off by %s", sale, commissionRate, diff)
			}
		}
	}
}

func TestBasisFromPayments(t *testing.T) {
	basis := BasisFromPayments([]SalePayment{
		{Amount: d("30000"), Commission: d("3000")},
		{Amount: d("70000"), Commission: d("7000"), VATOnCommission: decimal.NewNullDecimal(d("1085"))},
	})
	assert.True(t, d("100000").Equal(basis.SalePrice))
	assert.True(t, d("10000").Equal(basis.Commission))
	assert.True(t, basis.VATOnCommission.Valid)
	assert.True(t, d("1085").Equal(basis.VATOnCommission.Decimal))
	assert.False(t, basis.VATOnSale.Valid)

	empty := BasisFromPayments(nil)
	assert.True(t, empty.SalePrice.IsZero())
}

func TestValidateRates(t *testing.T) {
	require.NoError(t, validateRates(defaultRates))
	require.NoError(t, validateRates(TaxRates{CGTRate: d("1")}))

	bad := defaultRates
	bad.VATSaleRate = d("1.01")
	require.ErrorIs(t, validateRates(bad), ErrValidation)

	bad = defaultRates
	bad.CGTRate = d("-0.01")
	require.ErrorIs(t, validateRates(bad), ErrValidation)
}

func TestMoneyHelpers(t *testing.T) {
	assert.Equal(t, "1.24", Round2(d("1.235")).String())
	assert.True(t, NonNegative(d("-5")).IsZero())
	assert.True(t, d("5").Equal(NonNegative(d("5"))))
	assert.Equal(t, "68,450.00", FormatMoney(d("68450")))
}

func TestFormatMoneyKeepsEveryDigit(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"999.995", "1,000.00"},
		{"-0.5", "-0.50"},
		{"-1234567.89", "-1,234,567.89"},
		{"9007199254740993.01", "9,007,199,254,740,993.01"},
		{"123456789012345678901.23", "123,456,789,012,345,678,901.23"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(d(tt.in)))
		})
	}
}
