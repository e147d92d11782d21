package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// ExpectedBalances is the account state implied by replaying its ledger.
type ExpectedBalances struct {
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	RunningBalance    decimal.Decimal `json:"running_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	AmountReceived    decimal.Decimal `json:"amount_received"`
	AmountOutstanding decimal.Decimal `json:"amount_outstanding"`
}

// ReplayLedger recomputes balances from transactions in sequence order. The base balance backs
// out the first row's effect from its snapshot; the opening balance equals the first funding
// credit when the account was opened at zero.
func ReplayLedger(account TrustAccount, txns []TrustTransaction) ExpectedBalances {
	if len(txns) == 0 {
		received := decimal.Zero
		return ExpectedBalances{
			OpeningBalance:    account.OpeningBalance,
			RunningBalance:    account.OpeningBalance,
			ClosingBalance:    account.OpeningBalance,
			AmountReceived:    received,
			AmountOutstanding: NonNegative(account.PurchasePrice.Sub(received)),
		}
	}
	first := txns[0]
	base := first.RunningBalance.Sub(first.Credit).Add(first.Debit)
	running := base
	received := decimal.Zero
	for _, txn := range txns {
		running = running.Add(txn.Credit).Sub(txn.Debit)
		if txn.Type == TxBuyerPayment {
			received = received.Add(txn.Credit)
		}
	}
	opening := base
	if first.Type == TxBuyerPayment && first.Credit.IsPositive() && base.IsZero() {
		opening = first.Credit
	}
	return ExpectedBalances{
		OpeningBalance:    opening,
		RunningBalance:    running,
		ClosingBalance:    running,
		AmountReceived:    received,
		AmountOutstanding: NonNegative(account.PurchasePrice.Sub(received)),
	}
}

// VerifyResult reports the outcome of an invariant check.
type VerifyResult struct {
	Account    TrustAccount     `json:"account"`
	Expected   ExpectedBalances `json:"expected"`
	Mismatches []string         `json:"mismatches,omitempty"`
	Repaired   bool             `json:"repaired"`
}

// VerifyAndRepairAccountInvariants replays the ledger and patches any diverging account field.
// Closed accounts are reported but left untouched.
func (s *Service) VerifyAndRepairAccountInvariants(ctx context.Context, ref AccountRef) (VerifyResult, error) {
	if err := validateRef(ref); err != nil {
		return VerifyResult{}, err
	}
	unlock, err := s.lockAccount(ctx, ref)
	if err != nil {
		return VerifyResult{}, err
	}
	defer unlock()

	var result VerifyResult
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		account, err := st.LockAccount(ctx, ref.CompanyID, ref.AccountID)
		if err != nil {
			return err
		}
		txns, err := st.AllTransactions(ctx, ref.CompanyID, ref.AccountID)
		if err != nil {
			return err
		}
		expected := ReplayLedger(account, txns)
		result = VerifyResult{Account: account, Expected: expected, Mismatches: diffBalances(account, expected)}
		if len(result.Mismatches) == 0 || account.Status == AccountStatusClosed {
			return nil
		}
		before := account
		account.OpeningBalance = expected.OpeningBalance
		account.RunningBalance = expected.RunningBalance
		account.ClosingBalance = expected.ClosingBalance
		account.AmountReceived = expected.AmountReceived
		account.AmountOutstanding = expected.AmountOutstanding
		account.UpdatedAt = s.now().UTC()
		if err := st.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, st, audit.Entry{
			CompanyID:  account.CompanyID,
			EntityType: audit.EntityTrustAccount,
			EntityID:   account.ID.String(),
			Action:     audit.ActionInvariantAutoRepaired,
			Old:        balanceSnapshot(before),
			New:        balanceSnapshot(account),
		}); err != nil {
			return err
		}
		result.Account = account
		result.Repaired = true
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	if len(result.Mismatches) > 0 {
		s.logger.Warn("trust account invariants diverged",
			slog.Int64("company_id", ref.CompanyID),
			slog.String("account_id", ref.AccountID.String()),
			slog.Any("mismatches", result.Mismatches),
			slog.Bool("repaired", result.Repaired))
	}
	return result, nil
}

func diffBalances(a TrustAccount, e ExpectedBalances) []string {
	var out []string
	check := func(name string, stored, expected decimal.Decimal) {
		if !stored.Equal(expected) {
			out = append(out, fmt.Sprintf("%s: stored %s expected %s", name, stored.StringFixed(2), expected.StringFixed(2)))
		}
	}
	check("opening_balance", a.OpeningBalance, e.OpeningBalance)
	check("running_balance", a.RunningBalance, e.RunningBalance)
	check("closing_balance", a.ClosingBalance, e.ClosingBalance)
	check("amount_received", a.AmountReceived, e.AmountReceived)
	check("amount_outstanding", a.AmountOutstanding, e.AmountOutstanding)
	return out
}

// repairQuietly runs invariant repair for read paths. Concurrent readers of one account share a
// single run; failures are logged and the caller keeps its own copy.
func (s *Service) repairQuietly(ctx context.Context, account TrustAccount) TrustAccount {
	if account.Status == AccountStatusClosed {
		return account
	}
	key := shared.TrustAccountLockKey(account.CompanyID, account.ID.String())
	v, err, _ := s.repairs.Do(key, func() (any, error) {
		res, err := s.VerifyAndRepairAccountInvariants(ctx, account.Ref())
		return res.Account, err
	})
	if err != nil {
		s.logger.Warn("read-path invariant repair failed",
			slog.Int64("company_id", account.CompanyID),
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
		return account
	}
	return v.(TrustAccount)
}

// RealignBalance resets the running and closing balance of a non-closed account to expected.
func (s *Service) RealignBalance(ctx context.Context, ref AccountRef, expected decimal.Decimal, sourceEvent string) (TrustAccount, error) {
	if err := validateRef(ref); err != nil {
		return TrustAccount{}, err
	}
	if expected.IsNegative() {
		return TrustAccount{}, fmt.Errorf("%w: expected balance %s is negative", ErrValidation, FormatMoney(expected))
	}
	unlock, err := s.lockAccount(ctx, ref)
	if err != nil {
		return TrustAccount{}, err
	}
	defer unlock()

	var account TrustAccount
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		current, err := st.LockAccount(ctx, ref.CompanyID, ref.AccountID)
		if err != nil {
			return err
		}
		account = current
		if current.Status == AccountStatusClosed {
			return fmt.Errorf("%w: %s", ErrAccountClosed, current.ID)
		}
		if current.RunningBalance.Equal(expected) && current.ClosingBalance.Equal(expected) {
			return nil
		}
		account.RunningBalance = expected
		account.ClosingBalance = expected
		account.UpdatedAt = s.now().UTC()
		if err := st.UpdateAccount(ctx, account); err != nil {
			return err
		}
		return s.audit.Record(ctx, st, audit.Entry{
			CompanyID:   account.CompanyID,
			EntityType:  audit.EntityTrustAccount,
			EntityID:    account.ID.String(),
			Action:      audit.ActionBalanceRealigned,
			SourceEvent: sourceEvent,
			Old:         balanceSnapshot(current),
			New:         balanceSnapshot(account),
		})
	})
	if err != nil {
		return TrustAccount{}, err
	}
	return account, nil
}
