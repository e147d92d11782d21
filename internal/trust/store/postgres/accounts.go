package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

const accountColumns = `id, company_id, property_id, buyer_id, seller_id, deal_id, opening_balance, running_balance,
closing_balance, purchase_price, amount_received, amount_outstanding, status, workflow_state, lock_reason,
closed_at, last_transaction_at, created_at, updated_at`

func scanAccount(row pgx.Row) (trust.TrustAccount, error) {
	var a trust.TrustAccount
	err := row.Scan(&a.ID, &a.CompanyID, &a.PropertyID, &a.BuyerID, &a.SellerID, &a.DealID,
		&a.OpeningBalance, &a.RunningBalance, &a.ClosingBalance, &a.PurchasePrice, &a.AmountReceived,
		&a.AmountOutstanding, &a.Status, &a.WorkflowState, &a.LockReason, &a.ClosedAt, &a.LastTransactionAt,
		&a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) InsertAccount(ctx context.Context, a trust.TrustAccount) error {
	_, err := s.q.Exec(ctx, `INSERT INTO trust_accounts (`+accountColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.CompanyID, a.PropertyID, a.BuyerID, a.SellerID, a.DealID, a.OpeningBalance, a.RunningBalance,
		a.ClosingBalance, a.PurchasePrice, a.AmountReceived, a.AmountOutstanding, a.Status, a.WorkflowState,
		a.LockReason, a.ClosedAt, a.LastTransactionAt, a.CreatedAt, a.UpdatedAt)
	if uniqueViolation(err, constraintLiveAccount) {
		return trust.ErrAccountExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM trust_accounts WHERE company_id=$1 AND id=$2`, companyID, id))
	return a, notFound(err)
}

func (s *Store) LockAccount(ctx context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	if !s.inTx {
		return s.GetAccount(ctx, companyID, id)
	}
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM trust_accounts WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	return a, notFound(err)
}

func (s *Store) FindActiveAccount(ctx context.Context, companyID, propertyID int64) (trust.TrustAccount, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM trust_accounts
WHERE company_id=$1 AND property_id=$2 AND status IN ('OPEN','SETTLED')`, companyID, propertyID))
	return a, notFound(err)
}

func (s *Store) ListAccounts(ctx context.Context, f trust.AccountFilter) ([]trust.TrustAccount, int, error) {
	where := []string{"company_id=$1"}
	args := []any{f.CompanyID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.WorkflowState != "" {
		args = append(args, f.WorkflowState)
		where = append(where, fmt.Sprintf("workflow_state=$%d", len(args)))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("(id::text ILIKE $%d OR property_id::text ILIKE $%d)", len(args), len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM trust_accounts WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	rows, err := s.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM trust_accounts WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		accountColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var accounts []trust.TrustAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

func (s *Store) UpdateAccount(ctx context.Context, a trust.TrustAccount) error {
	tag, err := s.q.Exec(ctx, `UPDATE trust_accounts SET opening_balance=$3, running_balance=$4, closing_balance=$5,
purchase_price=$6, amount_received=$7, amount_outstanding=$8, status=$9, workflow_state=$10, lock_reason=$11,
closed_at=$12, last_transaction_at=$13, updated_at=$14
WHERE company_id=$1 AND id=$2`,
		a.CompanyID, a.ID, a.OpeningBalance, a.RunningBalance, a.ClosingBalance, a.PurchasePrice, a.AmountReceived,
		a.AmountOutstanding, a.Status, a.WorkflowState, a.LockReason, a.ClosedAt, a.LastTransactionAt, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return trust.ErrNotFound
	}
	return nil
}
