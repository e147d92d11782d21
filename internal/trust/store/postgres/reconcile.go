package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
)

// AcquireLease claims name for holder unless another holder owns an unexpired lease.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `INSERT INTO job_leases (name, holder, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET holder=EXCLUDED.holder, expires_at=EXCLUDED.expires_at
WHERE job_leases.expires_at <= $4 OR job_leases.holder = EXCLUDED.holder`,
		name, holder, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM job_leases WHERE name=$1 AND holder=$2`, name, holder)
	return err
}

const resultColumns = `id, run_id, company_id, started_at, finished_at, checked_payments, checked_accounts,
missing_postings, balance_mismatches, auto_repairs, details, error`

func (s *Store) InsertReconciliationResult(ctx context.Context, r reconcile.Result) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("trust/postgres: encode reconciliation details: %w", err)
	}
	_, err = s.q.Exec(ctx, `INSERT INTO trust_reconciliation_results (`+resultColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RunID, r.CompanyID, r.StartedAt, r.FinishedAt, r.CheckedPayments, r.CheckedAccounts,
		r.MissingPostings, r.BalanceMismatches, r.AutoRepairs, string(details), r.Error)
	return err
}

func scanResult(row pgx.Row) (reconcile.Result, error) {
	var (
		r       reconcile.Result
		details []byte
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.CompanyID, &r.StartedAt, &r.FinishedAt, &r.CheckedPayments,
		&r.CheckedAccounts, &r.MissingPostings, &r.BalanceMismatches, &r.AutoRepairs, &details, &r.Error); err != nil {
		return reconcile.Result{}, err
	}
	if err := json.Unmarshal(details, &r.Details); err != nil {
		return reconcile.Result{}, fmt.Errorf("trust/postgres: decode reconciliation details: %w", err)
	}
	return r, nil
}

func (s *Store) LatestReconciliationResult(ctx context.Context, companyID int64) (reconcile.Result, error) {
	r, err := scanResult(s.q.QueryRow(ctx, `SELECT `+resultColumns+` FROM trust_reconciliation_results
WHERE company_id=$1 ORDER BY started_at DESC LIMIT 1`, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.Result{}, shared.ErrNotFound
	}
	return r, err
}

func (s *Store) ListReconciliationResults(ctx context.Context, companyID int64, page, perPage int) ([]reconcile.Result, int, error) {
	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM trust_reconciliation_results WHERE company_id=$1`, companyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, perPage = shared.NormalizePage(page, perPage)
	rows, err := s.q.Query(ctx, `SELECT `+resultColumns+` FROM trust_reconciliation_results
WHERE company_id=$1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`, companyID, perPage, shared.Offset(page, perPage))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []reconcile.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

var (
	_ reconcile.LeaseStore  = (*Store)(nil)
	_ reconcile.ResultStore = (*Store)(nil)
)
