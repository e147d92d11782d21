package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// Service owns every trust business rule. It is stateless apart from its dependencies.
type Service struct {
	store      Store
	uow        *UnitOfWork
	locker     Locker
	properties PropertyDirectory
	payments   SalePaymentSource
	audit      *audit.Writer
	rates      TaxRates
	logger     *slog.Logger
	listeners  []PostingListener
	repairs    singleflight.Group
	now        func() time.Time
	newID      func() uuid.UUID
}

// NewService constructs the trust account service. properties and payments may be nil.
func NewService(store Store, uow *UnitOfWork, locker Locker, properties PropertyDirectory, payments SalePaymentSource, writer *audit.Writer, rates TaxRates, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if writer == nil {
		writer = audit.NewWriter()
	}
	if uow == nil {
		uow = NewUnitOfWork(store, TxModeAuto, logger)
	}
	return &Service{
		store:      store,
		uow:        uow,
		locker:     locker,
		properties: properties,
		payments:   payments,
		audit:      writer,
		rates:      rates,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.audit.WithNow(now)
	}
}

// AddPostingListener registers a consumer notified after each committed posting.
func (s *Service) AddPostingListener(l PostingListener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// PostingResult is returned by posting operations.
type PostingResult struct {
	Account     TrustAccount     `json:"account"`
	Transaction TrustTransaction `json:"transaction"`
	Duplicate   bool             `json:"duplicate"`
}

// CreateTrustAccount returns the live account for the property, creating it when none exists.
func (s *Service) CreateTrustAccount(ctx context.Context, in CreateAccountInput) (TrustAccount, error) {
	if err := in.Validate(); err != nil {
		return TrustAccount{}, err
	}
	unlock, err := s.locker.Lock(ctx, shared.TrustPropertyLockKey(in.CompanyID, in.PropertyID))
	if err != nil {
		return TrustAccount{}, fmt.Errorf("trust: lock property: %w", err)
	}
	defer unlock()
	return s.resolveAccount(ctx, in)
}

func (s *Service) resolveAccount(ctx context.Context, in CreateAccountInput) (TrustAccount, error) {
	existing, err := s.store.FindActiveAccount(ctx, in.CompanyID, in.PropertyID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return TrustAccount{}, err
	}

	purchasePrice := s.lookupPurchasePrice(ctx, in.CompanyID, in.PropertyID, decimal.Zero)
	state := in.InitialWorkflowState
	if state == "" {
		state = StateTrustOpen
	}
	now := s.now().UTC()
	opening := Round2(in.OpeningBalance)
	account := TrustAccount{
		ID:                s.newID(),
		CompanyID:         in.CompanyID,
		PropertyID:        in.PropertyID,
		BuyerID:           in.BuyerID,
		SellerID:          in.SellerID,
		DealID:            in.DealID,
		OpeningBalance:    opening,
		RunningBalance:    opening,
		ClosingBalance:    opening,
		PurchasePrice:     purchasePrice,
		AmountReceived:    decimal.Zero,
		AmountOutstanding: NonNegative(purchasePrice),
		Status:            AccountStatusOpen,
		WorkflowState:     state,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		if err := st.InsertAccount(ctx, account); err != nil {
			return err
		}
		return s.audit.Record(ctx, st, audit.Entry{
			CompanyID:   account.CompanyID,
			EntityType:  audit.EntityTrustAccount,
			EntityID:    account.ID.String(),
			Action:      audit.ActionCreated,
			SourceEvent: in.SourceEvent,
			New:         account,
		})
	})
	if errors.Is(err, ErrAccountExists) {
		// Lost the insert race to another process.
		return s.store.FindActiveAccount(ctx, in.CompanyID, in.PropertyID)
	}
	if err != nil {
		return TrustAccount{}, err
	}
	s.logger.Info("trust account created", slog.Int64("company_id", account.CompanyID), slog.Int64("property_id", account.PropertyID), slog.String("account_id", account.ID.String()))
	return account, nil
}

// RecordBuyerPayment posts a confirmed buyer payment, opening the account on first funding.
// Redelivery of the same payment id is absorbed and returns the original transaction.
func (s *Service) RecordBuyerPayment(ctx context.Context, in BuyerPaymentInput) (PostingResult, error) {
	if err := in.Validate(); err != nil {
		return PostingResult{}, err
	}
	unlockProperty, err := s.locker.Lock(ctx, shared.TrustPropertyLockKey(in.CompanyID, in.PropertyID))
	if err != nil {
		return PostingResult{}, fmt.Errorf("trust: lock property: %w", err)
	}
	defer unlockProperty()

	// A redelivered payment belongs to the account that first posted it, even when that account
	// has since closed. Resolving first would open a fresh account for the property.
	if result, ok, err := s.replayedPayment(ctx, in); ok || err != nil {
		return result, err
	}

	account, err := s.resolveAccount(ctx, CreateAccountInput{
		CompanyID:   in.CompanyID,
		PropertyID:  in.PropertyID,
		SourceEvent: in.SourceEvent,
	})
	if err != nil {
		return PostingResult{}, err
	}
	unlock, err := s.lockAccount(ctx, account.Ref())
	if err != nil {
		return PostingResult{}, err
	}
	defer unlock()

	purchasePrice := s.lookupPurchasePrice(ctx, in.CompanyID, in.PropertyID, account.PurchasePrice)
	var result PostingResult
	var posted []TrustTransaction
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		posted = posted[:0]
		current, err := st.LockAccount(ctx, account.CompanyID, account.ID)
		if err != nil {
			return err
		}
		current.PurchasePrice = purchasePrice
		txn, duplicate, err := s.post(ctx, st, &current, posting{
			Type:        TxBuyerPayment,
			Credit:      in.Amount,
			PaymentID:   in.PaymentID,
			Reference:   in.Reference,
			SourceEvent: in.SourceEvent,
		})
		if err != nil {
			return err
		}
		result = PostingResult{Account: current, Transaction: txn, Duplicate: duplicate}
		if duplicate {
			return nil
		}
		posted = append(posted, txn)
		if current.WorkflowState == StateListed {
			if err := s.transition(ctx, st, &current, StateDepositReceived, in.SourceEvent); err != nil {
				return err
			}
			result.Account = current
		}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	s.notify(ctx, result.Account, posted)
	return result, nil
}

// replayedPayment absorbs a payment id that is already on the ledger. ok is false when the
// payment is new.
func (s *Service) replayedPayment(ctx context.Context, in BuyerPaymentInput) (PostingResult, bool, error) {
	existing, err := s.store.FindTransactionByPayment(ctx, in.CompanyID, in.PaymentID)
	if errors.Is(err, ErrNotFound) {
		return PostingResult{}, false, nil
	}
	if err != nil {
		return PostingResult{}, false, err
	}
	owner, err := s.store.GetAccount(ctx, existing.CompanyID, existing.TrustAccountID)
	if err != nil {
		return PostingResult{}, false, fmt.Errorf("trust: load account %s for payment %s: %w", existing.TrustAccountID, in.PaymentID, err)
	}
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		return s.recordDuplicate(ctx, st, existing, posting{
			Type:        TxBuyerPayment,
			Credit:      in.Amount,
			PaymentID:   in.PaymentID,
			Reference:   in.Reference,
			SourceEvent: in.SourceEvent,
		})
	})
	if err != nil {
		return PostingResult{}, false, err
	}
	return PostingResult{Account: owner, Transaction: existing, Duplicate: true}, true, nil
}

// PostTransaction posts a single ledger entry against an account.
func (s *Service) PostTransaction(ctx context.Context, in PostTransactionInput) (PostingResult, error) {
	if err := in.Validate(); err != nil {
		return PostingResult{}, err
	}
	ref := AccountRef{CompanyID: in.CompanyID, AccountID: in.AccountID}
	unlock, err := s.lockAccount(ctx, ref)
	if err != nil {
		return PostingResult{}, err
	}
	defer unlock()

	var result PostingResult
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		current, err := st.LockAccount(ctx, in.CompanyID, in.AccountID)
		if err != nil {
			return err
		}
		txn, duplicate, err := s.post(ctx, st, &current, posting{
			Type:         in.Type,
			Debit:        in.Debit,
			Credit:       in.Credit,
			PaymentID:    in.PaymentID,
			SettlementID: in.SettlementID,
			Reference:    in.Reference,
			SourceEvent:  in.SourceEvent,
		})
		if err != nil {
			return err
		}
		result = PostingResult{Account: current, Transaction: txn, Duplicate: duplicate}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	if !result.Duplicate {
		s.notify(ctx, result.Account, []TrustTransaction{result.Transaction})
	}
	return result, nil
}

type posting struct {
	Type         TransactionType
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	PaymentID    string
	SettlementID *uuid.UUID
	Reference    string
	SourceEvent  string
}

// post is the single choke point for ledger writes. account must be the current row, read
// under the account lock; it is updated in place.
func (s *Service) post(ctx context.Context, st Store, account *TrustAccount, p posting) (TrustTransaction, bool, error) {
	if account.Status == AccountStatusClosed {
		return TrustTransaction{}, false, fmt.Errorf("%w: %s", ErrAccountClosed, account.ID)
	}
	settlement, err := st.GetSettlement(ctx, account.CompanyID, account.ID)
	switch {
	case err == nil && settlement.Locked:
		return TrustTransaction{}, false, fmt.Errorf("%w: account %s", ErrSettlementLocked, account.ID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return TrustTransaction{}, false, err
	}

	if p.PaymentID != "" {
		existing, err := st.FindTransactionByPayment(ctx, account.CompanyID, p.PaymentID)
		if err == nil {
			return existing, true, s.recordDuplicate(ctx, st, existing, p)
		}
		if !errors.Is(err, ErrNotFound) {
			return TrustTransaction{}, false, err
		}
	}

	debit, credit := Round2(p.Debit), Round2(p.Credit)
	if debit.IsPositive() == credit.IsPositive() || debit.IsNegative() || credit.IsNegative() {
		return TrustTransaction{}, false, fmt.Errorf("%w: %s posting needs exactly one positive side, got debit %s credit %s",
			ErrValidation, p.Type, debit.StringFixed(2), credit.StringFixed(2))
	}
	next := account.RunningBalance.Add(credit).Sub(debit)
	if next.IsNegative() {
		return TrustTransaction{}, false, fmt.Errorf("%w: balance %s cannot cover debit %s",
			ErrInsufficientBalance, FormatMoney(account.RunningBalance), FormatMoney(debit))
	}

	var seq int64 = 1
	latest, err := st.LatestTransaction(ctx, account.CompanyID, account.ID)
	switch {
	case err == nil:
		seq = latest.Seq + 1
	case !errors.Is(err, ErrNotFound):
		return TrustTransaction{}, false, err
	}

	now := s.now().UTC()
	txn := TrustTransaction{
		ID:             s.newID(),
		TrustAccountID: account.ID,
		CompanyID:      account.CompanyID,
		PropertyID:     account.PropertyID,
		PaymentID:      p.PaymentID,
		SettlementID:   p.SettlementID,
		Seq:            seq,
		Type:           p.Type,
		Debit:          debit,
		Credit:         credit,
		RunningBalance: next,
		Reference:      p.Reference,
		SourceEvent:    p.SourceEvent,
		CreatedAt:      now,
	}
	if err := st.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicatePayment) && p.PaymentID != "" {
			existing, findErr := st.FindTransactionByPayment(ctx, account.CompanyID, p.PaymentID)
			if findErr != nil {
				return TrustTransaction{}, false, findErr
			}
			return existing, true, s.recordDuplicate(ctx, st, existing, p)
		}
		return TrustTransaction{}, false, err
	}

	before := *account
	// First funding of an account opened at zero defines its opening balance.
	if seq == 1 && p.Type == TxBuyerPayment && credit.IsPositive() && account.OpeningBalance.IsZero() {
		account.OpeningBalance = credit
	}
	account.RunningBalance = next
	account.ClosingBalance = next
	account.LastTransactionAt = &now
	account.UpdatedAt = now
	if p.Type == TxBuyerPayment {
		account.AmountReceived = account.AmountReceived.Add(credit)
		account.AmountOutstanding = NonNegative(account.PurchasePrice.Sub(account.AmountReceived))
	}
	if err := st.UpdateAccount(ctx, *account); err != nil {
		return TrustTransaction{}, false, err
	}

	if err := s.audit.Record(ctx, st, audit.Entry{
		CompanyID:   account.CompanyID,
		EntityType:  audit.EntityTrustTransaction,
		EntityID:    txn.ID.String(),
		Action:      audit.ActionPosted,
		SourceEvent: p.SourceEvent,
		New:         txn,
	}); err != nil {
		return TrustTransaction{}, false, err
	}
	if err := s.audit.Record(ctx, st, audit.Entry{
		CompanyID:   account.CompanyID,
		EntityType:  audit.EntityTrustAccount,
		EntityID:    account.ID.String(),
		Action:      audit.ActionBalanceUpdated,
		SourceEvent: p.SourceEvent,
		Old:         balanceSnapshot(before),
		New:         balanceSnapshot(*account),
	}); err != nil {
		return TrustTransaction{}, false, err
	}
	return txn, false, nil
}

func (s *Service) recordDuplicate(ctx context.Context, st Store, existing TrustTransaction, p posting) error {
	s.logger.Info("duplicate trust posting ignored",
		slog.Int64("company_id", existing.CompanyID),
		slog.String("payment_id", p.PaymentID),
		slog.String("transaction_id", existing.ID.String()))
	return s.audit.Record(ctx, st, audit.Entry{
		CompanyID:   existing.CompanyID,
		EntityType:  audit.EntityTrustTransaction,
		EntityID:    existing.ID.String(),
		Action:      audit.ActionDuplicateIgnored,
		SourceEvent: p.SourceEvent,
		New:         map[string]any{"payment_id": p.PaymentID, "reference": p.Reference},
	})
}

type balances struct {
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	RunningBalance    decimal.Decimal `json:"running_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	AmountReceived    decimal.Decimal `json:"amount_received"`
	AmountOutstanding decimal.Decimal `json:"amount_outstanding"`
}

func balanceSnapshot(a TrustAccount) balances {
	return balances{
		OpeningBalance:    a.OpeningBalance,
		RunningBalance:    a.RunningBalance,
		ClosingBalance:    a.ClosingBalance,
		AmountReceived:    a.AmountReceived,
		AmountOutstanding: a.AmountOutstanding,
	}
}

func (s *Service) lockAccount(ctx context.Context, ref AccountRef) (func(), error) {
	unlock, err := s.locker.Lock(ctx, shared.TrustAccountLockKey(ref.CompanyID, ref.AccountID.String()))
	if err != nil {
		return nil, fmt.Errorf("trust: lock account: %w", err)
	}
	return unlock, nil
}

// lookupPurchasePrice asks the property directory, keeping fallback on failure.
func (s *Service) lookupPurchasePrice(ctx context.Context, companyID, propertyID int64, fallback decimal.Decimal) decimal.Decimal {
	if s.properties == nil {
		return fallback
	}
	price, err := s.properties.PurchasePrice(ctx, companyID, propertyID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("purchase price lookup failed", slog.Int64("company_id", companyID), slog.Int64("property_id", propertyID), slog.Any("error", err))
		}
		return fallback
	}
	if !price.IsPositive() {
		return fallback
	}
	return Round2(price)
}

func (s *Service) notify(ctx context.Context, account TrustAccount, txns []TrustTransaction) {
	for _, txn := range txns {
		for _, l := range s.listeners {
			l.TransactionPosted(ctx, account, txn)
		}
	}
}
