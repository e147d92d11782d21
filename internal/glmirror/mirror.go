package glmirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// RepositoryPort abstracts the GL persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	AccountMapping(ctx context.Context, module, key string) (int64, error)
}

// TxRepository exposes the journal writes performed in one transaction.
type TxRepository interface {
	OpenPeriodFor(ctx context.Context, date time.Time) (int64, error)
	InsertJournalEntry(ctx context.Context, periodID int64, j Journal) (int64, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []Line) error
	LinkSource(ctx context.Context, module string, j Journal, entryID int64) error
}

// Mirror is a trust.PostingListener that mirrors postings into the general ledger.
type Mirror struct {
	repo    RepositoryPort
	logger  *slog.Logger
	timeout time.Duration
}

// NewMirror constructs the mirror.
func NewMirror(repo RepositoryPort, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{repo: repo, logger: logger, timeout: 10 * time.Second}
}

var _ trust.PostingListener = (*Mirror)(nil)

// TransactionPosted mirrors txn. Failures are logged; the trust posting has already committed.
func (m *Mirror) TransactionPosted(ctx context.Context, account trust.TrustAccount, txn trust.TrustTransaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	entryID, err := m.Mirror(ctx, account, txn)
	switch {
	case errors.Is(err, ErrSourceAlreadyLinked):
		m.logger.Debug("gl mirror skipped, already linked", slog.String("transaction_id", txn.ID.String()))
	case err != nil:
		m.logger.Error("gl mirror failed",
			slog.Int64("company_id", account.CompanyID),
			slog.String("transaction_id", txn.ID.String()),
			slog.String("type", string(txn.Type)),
			slog.Any("error", err))
	default:
		m.logger.Info("gl mirror posted",
			slog.String("transaction_id", txn.ID.String()),
			slog.Int64("journal_id", entryID))
	}
}

// Mirror posts the journal for txn and returns its id.
func (m *Mirror) Mirror(ctx context.Context, account trust.TrustAccount, txn trust.TrustTransaction) (int64, error) {
	mappings, err := m.mappings(ctx, txn.Type)
	if err != nil {
		return 0, err
	}
	journal, err := BuildJournal(account, txn, mappings)
	if err != nil {
		return 0, err
	}
	var entryID int64
	err = m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periodID, err := tx.OpenPeriodFor(ctx, journal.Date)
		if err != nil {
			return err
		}
		entryID, err = tx.InsertJournalEntry(ctx, periodID, journal)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, entryID, journal.Lines); err != nil {
			return err
		}
		return tx.LinkSource(ctx, SourceModule, journal, entryID)
	})
	return entryID, err
}

func (m *Mirror) mappings(ctx context.Context, txType trust.TransactionType) (Mappings, error) {
	cash, err := m.repo.AccountMapping(ctx, SourceModule, CashKey)
	if err != nil {
		return Mappings{}, fmt.Errorf("glmirror: resolve %s: %w", CashKey, err)
	}
	counter, err := m.repo.AccountMapping(ctx, SourceModule, string(txType))
	if err != nil {
		return Mappings{}, fmt.Errorf("glmirror: resolve %s: %w", txType, err)
	}
	return Mappings{Cash: cash, Counters: map[trust.TransactionType]int64{txType: counter}}, nil
}
