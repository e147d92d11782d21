package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

const transactionColumns = `id, trust_account_id, company_id, property_id, payment_id, settlement_id, seq, type,
debit, credit, running_balance, reference, source_event, created_at`

func scanTransaction(row pgx.Row) (trust.TrustTransaction, error) {
	var (
		t         trust.TrustTransaction
		paymentID *string
	)
	err := row.Scan(&t.ID, &t.TrustAccountID, &t.CompanyID, &t.PropertyID, &paymentID, &t.SettlementID, &t.Seq,
		&t.Type, &t.Debit, &t.Credit, &t.RunningBalance, &t.Reference, &t.SourceEvent, &t.CreatedAt)
	if paymentID != nil {
		t.PaymentID = *paymentID
	}
	return t, err
}

func collectTransactions(rows pgx.Rows) ([]trust.TrustTransaction, error) {
	defer rows.Close()
	var out []trust.TrustTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTransaction appends a ledger row. A conflicting payment id leaves the transaction usable.
func (s *Store) InsertTransaction(ctx context.Context, t trust.TrustTransaction) error {
	tag, err := s.q.Exec(ctx, `INSERT INTO trust_transactions (`+transactionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (company_id, payment_id) WHERE payment_id IS NOT NULL DO NOTHING`,
		t.ID, t.TrustAccountID, t.CompanyID, t.PropertyID, nullString(t.PaymentID), t.SettlementID, t.Seq, t.Type,
		t.Debit, t.Credit, t.RunningBalance, t.Reference, t.SourceEvent, t.CreatedAt)
	switch {
	case uniqueViolation(err, constraintSeq):
		return trust.ErrConcurrentPosting
	case uniqueViolation(err, constraintPaymentID):
		return trust.ErrDuplicatePayment
	case err != nil:
		return err
	case tag.RowsAffected() == 0:
		return trust.ErrDuplicatePayment
	}
	return nil
}

func (s *Store) FindTransactionByPayment(ctx context.Context, companyID int64, paymentID string) (trust.TrustTransaction, error) {
	t, err := scanTransaction(s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM trust_transactions
WHERE company_id=$1 AND payment_id=$2`, companyID, paymentID))
	return t, notFound(err)
}

func (s *Store) LatestTransaction(ctx context.Context, companyID int64, accountID uuid.UUID) (trust.TrustTransaction, error) {
	t, err := scanTransaction(s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM trust_transactions
WHERE company_id=$1 AND trust_account_id=$2 ORDER BY seq DESC LIMIT 1`, companyID, accountID))
	return t, notFound(err)
}

func (s *Store) ListTransactions(ctx context.Context, companyID int64, accountID uuid.UUID, page trust.PageRequest) ([]trust.TrustTransaction, int, error) {
	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM trust_transactions WHERE company_id=$1 AND trust_account_id=$2`,
		companyID, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	p, perPage := shared.NormalizePage(page.Page, page.PerPage)
	rows, err := s.q.Query(ctx, `SELECT `+transactionColumns+` FROM trust_transactions
WHERE company_id=$1 AND trust_account_id=$2 ORDER BY seq LIMIT $3 OFFSET $4`,
		companyID, accountID, perPage, shared.Offset(p, perPage))
	if err != nil {
		return nil, 0, err
	}
	txns, err := collectTransactions(rows)
	return txns, total, err
}

func (s *Store) AllTransactions(ctx context.Context, companyID int64, accountID uuid.UUID) ([]trust.TrustTransaction, error) {
	rows, err := s.q.Query(ctx, `SELECT `+transactionColumns+` FROM trust_transactions
WHERE company_id=$1 AND trust_account_id=$2 ORDER BY seq`, companyID, accountID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *Store) SumDebits(ctx context.Context, companyID int64, accountID, settlementID uuid.UUID, txType trust.TransactionType) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0) FROM trust_transactions
WHERE company_id=$1 AND trust_account_id=$2 AND settlement_id=$3 AND type=$4`,
		companyID, accountID, settlementID, txType).Scan(&total)
	return total, err
}
