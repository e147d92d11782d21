package glmirror

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists mirrored journals in the GL schema.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("glmirror repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// AccountMapping resolves the GL account mapped to module/key.
func (r *Repository) AccountMapping(ctx context.Context, module, key string) (int64, error) {
	if module == "" || key == "" {
		return 0, errors.New("glmirror: module and key required")
	}
	var accountID int64
	err := r.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module=$1 AND key=$2`,
		strings.ToUpper(module), key).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrMappingNotFound
	}
	return accountID, err
}

func (r *txRepository) OpenPeriodFor(ctx context.Context, date time.Time) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM periods WHERE status='OPEN' AND $1 BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR SHARE`, date).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNoOpenPeriod
	}
	return id, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, periodID int64, j Journal) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (period_id, date, source_module, source_id, memo, status)
VALUES ($1,$2,$3,$4,$5,'POSTED') RETURNING id`, periodID, j.Date, SourceModule, j.SourceID, j.Memo).Scan(&id)
	return id, err
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, dim_company_id)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Debit, line.Credit, line.CompanyID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, j Journal, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, je_id) VALUES ($1,$2,$3)`, module, j.SourceID, entryID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
		return ErrSourceAlreadyLinked
	}
	return err
}
