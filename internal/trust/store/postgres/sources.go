package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// Sources reads the property catalogue and the payment pipeline's completed sale payments.
type Sources struct {
	pool *pgxpool.Pool
}

// NewSources constructs the read-model adapter.
func NewSources(pool *pgxpool.Pool) *Sources {
	return &Sources{pool: pool}
}

func (s *Sources) PurchasePrice(ctx context.Context, companyID, propertyID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT purchase_price FROM properties WHERE company_id=$1 AND id=$2`,
		companyID, propertyID).Scan(&price)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return price, nil
}

const salePaymentQuery = `SELECT payment_id, company_id, property_id, payer_id, amount, commission,
vat_on_commission, vat_on_sale, reference, paid_at
FROM sale_payments
WHERE status='COMPLETED' AND NOT is_provisional AND company_id=$1`

func (s *Sources) CompletedSalePayments(ctx context.Context, companyID, propertyID int64) ([]trust.SalePayment, error) {
	rows, err := s.pool.Query(ctx, salePaymentQuery+` AND property_id=$2 ORDER BY paid_at, payment_id`, companyID, propertyID)
	if err != nil {
		return nil, err
	}
	return collectSalePayments(rows)
}

func (s *Sources) CompanySalePayments(ctx context.Context, companyID int64) ([]trust.SalePayment, error) {
	rows, err := s.pool.Query(ctx, salePaymentQuery+` ORDER BY paid_at, payment_id`, companyID)
	if err != nil {
		return nil, err
	}
	return collectSalePayments(rows)
}

func (s *Sources) TenantsWithSalePayments(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT company_id FROM sale_payments
WHERE status='COMPLETED' AND NOT is_provisional ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func collectSalePayments(rows pgx.Rows) ([]trust.SalePayment, error) {
	defer rows.Close()
	var out []trust.SalePayment
	for rows.Next() {
		var p trust.SalePayment
		if err := rows.Scan(&p.PaymentID, &p.CompanyID, &p.PropertyID, &p.PayerID, &p.Amount, &p.Commission,
			&p.VATOnCommission, &p.VATOnSale, &p.Reference, &p.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ trust.PropertyDirectory = (*Sources)(nil)
	_ trust.SalePaymentSource = (*Sources)(nil)
	_ reconcile.PaymentSource = (*Sources)(nil)
)
