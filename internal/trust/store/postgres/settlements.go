package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

const settlementColumns = `id, trust_account_id, company_id, property_id, sale_price, gross_proceeds, commission_amount,
deductions, total_deductions, net_payout, cgt_rate, vat_sale_rate, vat_on_commission_rate, settlement_date, locked,
locked_at, created_at, updated_at`

func (s *Store) UpsertSettlement(ctx context.Context, st trust.TrustSettlement) error {
	deductions, err := json.Marshal(st.Deductions)
	if err != nil {
		return fmt.Errorf("trust/postgres: encode deductions: %w", err)
	}
	_, err = s.q.Exec(ctx, `INSERT INTO trust_settlements (`+settlementColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (trust_account_id) DO UPDATE SET
    sale_price=EXCLUDED.sale_price,
    gross_proceeds=EXCLUDED.gross_proceeds,
    commission_amount=EXCLUDED.commission_amount,
    deductions=EXCLUDED.deductions,
    total_deductions=EXCLUDED.total_deductions,
    net_payout=EXCLUDED.net_payout,
    cgt_rate=EXCLUDED.cgt_rate,
    vat_sale_rate=EXCLUDED.vat_sale_rate,
    vat_on_commission_rate=EXCLUDED.vat_on_commission_rate,
    settlement_date=EXCLUDED.settlement_date,
    locked=EXCLUDED.locked,
    locked_at=EXCLUDED.locked_at,
    updated_at=EXCLUDED.updated_at`,
		st.ID, st.TrustAccountID, st.CompanyID, st.PropertyID, st.SalePrice, st.GrossProceeds, st.CommissionAmount,
		deductions, st.TotalDeductions, st.NetPayout, st.CGTRate, st.VATSaleRate, st.VATOnCommissionRate,
		st.SettlementDate, st.Locked, st.LockedAt, st.CreatedAt, st.UpdatedAt)
	return err
}

func (s *Store) GetSettlement(ctx context.Context, companyID int64, accountID uuid.UUID) (trust.TrustSettlement, error) {
	var (
		st         trust.TrustSettlement
		deductions []byte
	)
	err := s.q.QueryRow(ctx, `SELECT `+settlementColumns+` FROM trust_settlements WHERE company_id=$1 AND trust_account_id=$2`,
		companyID, accountID).Scan(&st.ID, &st.TrustAccountID, &st.CompanyID, &st.PropertyID, &st.SalePrice,
		&st.GrossProceeds, &st.CommissionAmount, &deductions, &st.TotalDeductions, &st.NetPayout, &st.CGTRate,
		&st.VATSaleRate, &st.VATOnCommissionRate, &st.SettlementDate, &st.Locked, &st.LockedAt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return trust.TrustSettlement{}, notFound(err)
	}
	if err := json.Unmarshal(deductions, &st.Deductions); err != nil {
		return trust.TrustSettlement{}, fmt.Errorf("trust/postgres: decode deductions: %w", err)
	}
	return st, nil
}

const taxRecordColumns = `id, company_id, property_id, trust_account_id, settlement_id, tax_type, amount, paid_to_zimra,
payment_reference, paid_at, created_at`

func scanTaxRecord(row pgx.Row) (trust.TaxRecord, error) {
	var r trust.TaxRecord
	err := row.Scan(&r.ID, &r.CompanyID, &r.PropertyID, &r.TrustAccountID, &r.SettlementID, &r.TaxType, &r.Amount,
		&r.PaidToZimra, &r.PaymentReference, &r.PaidAt, &r.CreatedAt)
	return r, err
}

func (s *Store) InsertTaxRecord(ctx context.Context, r trust.TaxRecord) error {
	_, err := s.q.Exec(ctx, `INSERT INTO trust_tax_records (`+taxRecordColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.CompanyID, r.PropertyID, r.TrustAccountID, r.SettlementID, r.TaxType, r.Amount, r.PaidToZimra,
		r.PaymentReference, r.PaidAt, r.CreatedAt)
	return err
}

func (s *Store) GetTaxRecord(ctx context.Context, companyID int64, id uuid.UUID) (trust.TaxRecord, error) {
	r, err := scanTaxRecord(s.q.QueryRow(ctx, `SELECT `+taxRecordColumns+` FROM trust_tax_records WHERE company_id=$1 AND id=$2`, companyID, id))
	return r, notFound(err)
}

func (s *Store) ListTaxRecords(ctx context.Context, companyID int64, accountID uuid.UUID) ([]trust.TaxRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+taxRecordColumns+` FROM trust_tax_records
WHERE company_id=$1 AND trust_account_id=$2 ORDER BY created_at, id`, companyID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trust.TaxRecord
	for rows.Next() {
		r, err := scanTaxRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkTaxRecordPaid(ctx context.Context, r trust.TaxRecord) error {
	tag, err := s.q.Exec(ctx, `UPDATE trust_tax_records SET paid_to_zimra=$3, payment_reference=$4, paid_at=$5
WHERE company_id=$1 AND id=$2`, r.CompanyID, r.ID, r.PaidToZimra, r.PaymentReference, r.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return trust.ErrNotFound
	}
	return nil
}
