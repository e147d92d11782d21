package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// TxMode selects how a UnitOfWork executes its steps.
type TxMode string

const (
	// TxModeAuto tries transactions and falls back to sequential execution on first refusal.
	TxModeAuto TxMode = "auto"
	// TxModeTransactional always requires store transactions.
	TxModeTransactional TxMode = "transactional"
	// TxModeSequential never opens store transactions.
	TxModeSequential TxMode = "sequential"
)

// ParseTxMode parses configuration values, defaulting to auto.
func ParseTxMode(v string) (TxMode, error) {
	switch TxMode(v) {
	case "", TxModeAuto:
		return TxModeAuto, nil
	case TxModeTransactional, TxModeSequential:
		return TxMode(v), nil
	}
	return "", fmt.Errorf("trust: unknown tx mode %q", v)
}

// UnitOfWork runs a group of store steps atomically when the store allows it, and
// sequentially otherwise. Correctness rests on idempotency keys either way.
type UnitOfWork struct {
	store      Store
	mode       TxMode
	sequential atomic.Bool
	logger     *slog.Logger
}

// NewUnitOfWork constructs a UnitOfWork over store.
func NewUnitOfWork(store Store, mode TxMode, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	u := &UnitOfWork{store: store, mode: mode, logger: logger}
	if _, ok := store.(Transactor); !ok || mode == TxModeSequential {
		u.sequential.Store(true)
	}
	return u
}

// Transactional reports whether the transactional strategy is active.
func (u *UnitOfWork) Transactional() bool {
	return !u.sequential.Load()
}

// Probe runs an empty unit of work so capability detection happens at startup.
func (u *UnitOfWork) Probe(ctx context.Context) error {
	err := u.Do(ctx, func(context.Context, Store) error { return nil })
	u.logger.Info("trust unit of work ready", slog.Bool("transactional", u.Transactional()), slog.String("mode", string(u.mode)))
	return err
}

// Do executes fn with the store handle of the active strategy.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if u.sequential.Load() {
		return fn(ctx, u.store)
	}
	transactor := u.store.(Transactor)
	err := transactor.WithinTransaction(ctx, fn)
	if err == nil || !errors.Is(err, ErrTransactionsUnsupported) {
		return err
	}
	if u.mode == TxModeTransactional {
		return err
	}
	if u.sequential.CompareAndSwap(false, true) {
		u.logger.Warn("store refused transactions, falling back to sequential unit of work", slog.Any("error", err))
	}
	return fn(ctx, u.store)
}
