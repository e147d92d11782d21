package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// CalculateSettlement derives the settlement split and upserts the account's single settlement.
// Completed sale payments override caller-supplied sale price and commission.
func (s *Service) CalculateSettlement(ctx context.Context, in CalculateSettlementInput) (TrustSettlement, error) {
	if err := in.Validate(); err != nil {
		return TrustSettlement{}, err
	}
	ref := AccountRef{CompanyID: in.CompanyID, AccountID: in.AccountID}
	unlock, err := s.lockAccount(ctx, ref)
	if err != nil {
		return TrustSettlement{}, err
	}
	defer unlock()

	account, err := s.store.GetAccount(ctx, ref.CompanyID, ref.AccountID)
	if err != nil {
		return TrustSettlement{}, err
	}
	basis, err := s.settlementBasis(ctx, account, in)
	if err != nil {
		return TrustSettlement{}, err
	}
	rates := s.rates
	if in.CGTRate.Valid {
		rates.CGTRate = in.CGTRate.Decimal
	}
	if in.VATSaleRate.Valid {
		rates.VATSaleRate = in.VATSaleRate.Decimal
	}
	if in.VATOnCommissionRate.Valid {
		rates.VATOnCommissionRate = in.VATOnCommissionRate.Decimal
	}
	if in.ApplyVATOnSale != nil {
		rates.VATOnSaleEnabled = *in.ApplyVATOnSale
	}
	if err := validateRates(rates); err != nil {
		return TrustSettlement{}, err
	}
	figures := ComputeSettlement(basis, rates)

	var settlement TrustSettlement
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		current, err := st.LockAccount(ctx, ref.CompanyID, ref.AccountID)
		if err != nil {
			return err
		}
		if current.Status == AccountStatusClosed {
			return fmt.Errorf("%w: %s", ErrAccountClosed, current.ID)
		}
		now := s.now().UTC()
		existing, err := st.GetSettlement(ctx, ref.CompanyID, ref.AccountID)
		var old any
		switch {
		case err == nil:
			if existing.Locked {
				return fmt.Errorf("%w: account %s", ErrSettlementLocked, current.ID)
			}
			settlement = existing
			old = existing
		case errors.Is(err, ErrNotFound):
			settlement = TrustSettlement{
				ID:             s.newID(),
				TrustAccountID: current.ID,
				CompanyID:      current.CompanyID,
				PropertyID:     current.PropertyID,
				CreatedAt:      now,
			}
		default:
			return err
		}
		settlement.SalePrice = figures.SalePrice
		settlement.GrossProceeds = figures.SalePrice
		settlement.CommissionAmount = figures.Commission
		settlement.Deductions = figures.Deductions
		settlement.TotalDeductions = figures.TotalDeductions
		settlement.NetPayout = figures.NetPayout
		settlement.CGTRate = rates.CGTRate
		settlement.VATSaleRate = rates.VATSaleRate
		settlement.VATOnCommissionRate = rates.VATOnCommissionRate
		settlement.SettlementDate = now
		if in.SettlementDate != nil {
			settlement.SettlementDate = in.SettlementDate.UTC()
		}
		settlement.UpdatedAt = now
		if err := st.UpsertSettlement(ctx, settlement); err != nil {
			return err
		}
		return s.audit.Record(ctx, st, audit.Entry{
			CompanyID:  settlement.CompanyID,
			EntityType: audit.EntityTrustSettlement,
			EntityID:   settlement.ID.String(),
			Action:     audit.ActionCalculated,
			Old:        old,
			New:        settlement,
		})
	})
	if err != nil {
		return TrustSettlement{}, err
	}
	return settlement, nil
}

func (s *Service) settlementBasis(ctx context.Context, account TrustAccount, in CalculateSettlementInput) (SettlementBasis, error) {
	if s.payments != nil {
		payments, err := s.payments.CompletedSalePayments(ctx, account.CompanyID, account.PropertyID)
		if err != nil {
			return SettlementBasis{}, fmt.Errorf("trust: load sale payments: %w", err)
		}
		basis := BasisFromPayments(payments)
		if basis.SalePrice.IsPositive() {
			return basis, nil
		}
	}
	var basis SettlementBasis
	switch {
	case in.SalePrice.Valid && in.SalePrice.Decimal.IsPositive():
		basis.SalePrice = in.SalePrice.Decimal
	case account.PurchasePrice.IsPositive():
		basis.SalePrice = account.PurchasePrice
	default:
		return SettlementBasis{}, fmt.Errorf("%w: property %d", ErrSaleValueUnknown, account.PropertyID)
	}
	if in.CommissionAmount.Valid {
		basis.Commission = in.CommissionAmount.Decimal
	}
	return basis, nil
}

// ApplyResult reports what ApplyTaxDeductions newly posted.
type ApplyResult struct {
	Account      TrustAccount       `json:"account"`
	Settlement   TrustSettlement    `json:"settlement"`
	Transactions []TrustTransaction `json:"transactions"`
	TaxRecords   []TaxRecord        `json:"tax_records"`
}

// ApplyTaxDeductions posts the outstanding delta of every settlement deduction. Calling it again
// without a settlement change posts nothing.
func (s *Service) ApplyTaxDeductions(ctx context.Context, ref AccountRef) (ApplyResult, error) {
	if err := validateRef(ref); err != nil {
		return ApplyResult{}, err
	}
	unlock, err := s.lockAccount(ctx, ref)
	if err != nil {
		return ApplyResult{}, err
	}
	defer unlock()

	var result ApplyResult
	err = s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		result = ApplyResult{}
		account, settlement, err := s.loadForSettlement(ctx, st, ref)
		if err != nil {
			return err
		}
		settlementID := settlement.ID
		records, err := st.ListTaxRecords(ctx, ref.CompanyID, ref.AccountID)
		if err != nil {
			return err
		}
		for _, d := range settlement.Deductions {
			txType := d.Type.TransactionType()
			applied, err := st.SumDebits(ctx, ref.CompanyID, ref.AccountID, settlementID, txType)
			if err != nil {
				return err
			}
			if delta := Round2(d.Amount.Sub(applied)); delta.IsPositive() {
				if account.RunningBalance.LessThan(delta) {
					return fmt.Errorf("%w: balance %s cannot cover %s deduction %s",
						ErrInsufficientBalance, FormatMoney(account.RunningBalance), d.Type, FormatMoney(delta))
				}
				txn, _, err := s.post(ctx, st, &account, posting{
					Type:         txType,
					Debit:        delta,
					SettlementID: &settlementID,
					Reference:    fmt.Sprintf("%s deduction for settlement %s", d.Type, settlementID),
				})
				if err != nil {
					return err
				}
				result.Transactions = append(result.Transactions, txn)
			}
			if !d.Type.IsTax() {
				continue
			}
			// Tax records are topped up from their own total, independent of the ledger delta.
			recordDelta := Round2(d.Amount.Sub(recordedTax(records, settlementID, d.Type)))
			if !recordDelta.IsPositive() {
				continue
			}
			record := TaxRecord{
				ID:             s.newID(),
				CompanyID:      account.CompanyID,
				PropertyID:     account.PropertyID,
				TrustAccountID: account.ID,
				SettlementID:   settlementID,
				TaxType:        d.Type,
				Amount:         recordDelta,
				CreatedAt:      s.now().UTC(),
			}
			if err := st.InsertTaxRecord(ctx, record); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, st, audit.Entry{
				CompanyID:  record.CompanyID,
				EntityType: audit.EntityTaxRecord,
				EntityID:   record.ID.String(),
				Action:     audit.ActionTaxRecorded,
				New:        record,
			}); err != nil {
				return err
			}
			result.TaxRecords = append(result.TaxRecords, record)
		}
		changed := len(result.Transactions) > 0 || len(result.TaxRecords) > 0
		if changed && CanTransition(account.WorkflowState, StateTaxPending) {
			if err := s.transition(ctx, st, &account, StateTaxPending, ""); err != nil {
				return err
			}
		}
		result.Account = account
		result.Settlement = settlement
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	s.notify(ctx, result.Account, result.Transactions)
	return result, nil
}

func recordedTax(records []TaxRecord, settlementID uuid.UUID, taxType DeductionType) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.SettlementID == settlementID && r.TaxType == taxType {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// TransferToSeller disburses net proceeds. Cumulative transfers never exceed the net payout.
func (s *Service) TransferToSeller(ctx context.Context, in TransferInput) (PostingResult, error) {
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
		account, settlement, err := s.loadForSettlement(ctx, st, ref)
		if err != nil {
			return err
		}
		amount := Round2(in.Amount)
		transferred, err := st.SumDebits(ctx, ref.CompanyID, ref.AccountID, settlement.ID, TxTransferToSeller)
		if err != nil {
			return err
		}
		if amount.Add(transferred).GreaterThan(settlement.NetPayout) {
			return fmt.Errorf("%w: transfer %s with %s already transferred exceeds net payout %s",
				ErrExceedsNetPayout, FormatMoney(amount), FormatMoney(transferred), FormatMoney(settlement.NetPayout))
		}
		settlementID := settlement.ID
		reference := in.Reference
		if reference == "" {
			reference = fmt.Sprintf("transfer to seller for settlement %s", settlementID)
		}
		txn, _, err := s.post(ctx, st, &account, posting{
			Type:         TxTransferToSeller,
			Debit:        amount,
			SettlementID: &settlementID,
			Reference:    reference,
		})
		if err != nil {
			return err
		}
		before := account
		account.Status = AccountStatusSettled
		account.WorkflowState = StateTransferComplete
		account.UpdatedAt = s.now().UTC()
		if err := st.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, st, audit.Entry{
			CompanyID:  account.CompanyID,
			EntityType: audit.EntityTrustAccount,
			EntityID:   account.ID.String(),
			Action:     audit.ActionSettled,
			Old:        statusSnapshot(before),
			New:        statusSnapshot(account),
		}); err != nil {
			return err
		}
		result = PostingResult{Account: account, Transaction: txn}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	s.notify(ctx, result.Account, []TrustTransaction{result.Transaction})
	return result, nil
}

// CloseTrustAccount closes a drained account and locks its settlement. Closing a closed
// account returns it unchanged.
func (s *Service) CloseTrustAccount(ctx context.Context, in CloseInput) (TrustAccount, error) {
	if err := in.Validate(); err != nil {
		return TrustAccount{}, err
	}
	ref := AccountRef{CompanyID: in.CompanyID, AccountID: in.AccountID}
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
			return nil
		}
		if !current.RunningBalance.IsZero() {
			return fmt.Errorf("%w: %s still held", ErrNonZeroBalance, FormatMoney(current.RunningBalance))
		}
		now := s.now().UTC()
		account.Status = AccountStatusClosed
		account.WorkflowState = StateTrustClosed
		account.ClosingBalance = decimal.Zero
		account.ClosedAt = &now
		account.LockReason = in.LockReason
		account.UpdatedAt = now
		if err := st.UpdateAccount(ctx, account); err != nil {
			return err
		}

		settlement, err := st.GetSettlement(ctx, ref.CompanyID, ref.AccountID)
		switch {
		case err == nil && !settlement.Locked:
			settlement.Locked = true
			settlement.LockedAt = &now
			settlement.UpdatedAt = now
			if err := st.UpsertSettlement(ctx, settlement); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, st, audit.Entry{
				CompanyID:  settlement.CompanyID,
				EntityType: audit.EntityTrustSettlement,
				EntityID:   settlement.ID.String(),
				Action:     audit.ActionSettlementLocked,
				New:        map[string]any{"locked": true, "locked_at": now},
			}); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}

		return s.audit.Record(ctx, st, audit.Entry{
			CompanyID:  account.CompanyID,
			EntityType: audit.EntityTrustAccount,
			EntityID:   account.ID.String(),
			Action:     audit.ActionClosed,
			Old:        statusSnapshot(current),
			New:        statusSnapshot(account),
		})
	})
	if err != nil {
		return TrustAccount{}, err
	}
	s.logger.Info("trust account closed", slog.Int64("company_id", account.CompanyID), slog.String("account_id", account.ID.String()))
	return account, nil
}

// TransitionWorkflowState moves the account along one edge of the workflow graph.
func (s *Service) TransitionWorkflowState(ctx context.Context, in TransitionInput) (TrustAccount, error) {
	if err := in.Validate(); err != nil {
		return TrustAccount{}, err
	}
	ref := AccountRef{CompanyID: in.CompanyID, AccountID: in.AccountID}
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
		if err := ValidateTransition(current.WorkflowState, in.To); err != nil {
			return err
		}
		if err := s.transition(ctx, st, &current, in.To, ""); err != nil {
			return err
		}
		account = current
		return nil
	})
	if err != nil {
		return TrustAccount{}, err
	}
	return account, nil
}

// MarkTaxRecordPaid flags a tax record as remitted. Repeated calls return the record unchanged.
func (s *Service) MarkTaxRecordPaid(ctx context.Context, in MarkTaxPaidInput) (TaxRecord, error) {
	if err := in.Validate(); err != nil {
		return TaxRecord{}, err
	}
	var record TaxRecord
	err := s.uow.Do(ctx, func(ctx context.Context, st Store) error {
		current, err := st.GetTaxRecord(ctx, in.CompanyID, in.TaxRecordID)
		if err != nil {
			return err
		}
		record = current
		if current.PaidToZimra {
			return nil
		}
		now := s.now().UTC()
		record.PaidToZimra = true
		record.PaymentReference = in.PaymentReference
		record.PaidAt = &now
		if err := st.MarkTaxRecordPaid(ctx, record); err != nil {
			return err
		}
		return s.audit.Record(ctx, st, audit.Entry{
			CompanyID:  record.CompanyID,
			EntityType: audit.EntityTaxRecord,
			EntityID:   record.ID.String(),
			Action:     audit.ActionTaxRemitted,
			Old:        current,
			New:        record,
		})
	})
	if err != nil {
		return TaxRecord{}, err
	}
	return record, nil
}

// transition applies an already validated state change and audits it.
func (s *Service) transition(ctx context.Context, st Store, account *TrustAccount, to WorkflowState, sourceEvent string) error {
	from := account.WorkflowState
	account.WorkflowState = to
	account.UpdatedAt = s.now().UTC()
	if err := st.UpdateAccount(ctx, *account); err != nil {
		return err
	}
	return s.audit.Record(ctx, st, audit.Entry{
		CompanyID:   account.CompanyID,
		EntityType:  audit.EntityTrustAccount,
		EntityID:    account.ID.String(),
		Action:      audit.ActionWorkflowStateChanged,
		SourceEvent: sourceEvent,
		Old:         map[string]WorkflowState{"workflow_state": from},
		New:         map[string]WorkflowState{"workflow_state": to},
	})
}

// loadForSettlement reads the locked account and its open settlement.
func (s *Service) loadForSettlement(ctx context.Context, st Store, ref AccountRef) (TrustAccount, TrustSettlement, error) {
	account, err := st.LockAccount(ctx, ref.CompanyID, ref.AccountID)
	if err != nil {
		return TrustAccount{}, TrustSettlement{}, err
	}
	if account.Status == AccountStatusClosed {
		return TrustAccount{}, TrustSettlement{}, fmt.Errorf("%w: %s", ErrAccountClosed, account.ID)
	}
	settlement, err := st.GetSettlement(ctx, ref.CompanyID, ref.AccountID)
	if errors.Is(err, ErrNotFound) {
		return TrustAccount{}, TrustSettlement{}, fmt.Errorf("%w: account %s", ErrSettlementMissing, account.ID)
	}
	if err != nil {
		return TrustAccount{}, TrustSettlement{}, err
	}
	if settlement.Locked {
		return TrustAccount{}, TrustSettlement{}, fmt.Errorf("%w: account %s", ErrSettlementLocked, account.ID)
	}
	return account, settlement, nil
}

type statusView struct {
	Status        AccountStatus `json:"status"`
	WorkflowState WorkflowState `json:"workflow_state"`
	LockReason    string        `json:"lock_reason,omitempty"`
}

func statusSnapshot(a TrustAccount) statusView {
	return statusView{Status: a.Status, WorkflowState: a.WorkflowState, LockReason: a.LockReason}
}
