// Package glmirror copies committed trust ledger postings into the general ledger as balanced
// two-line journals.
package glmirror

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// SourceModule tags journals and source links created by the mirror.
const SourceModule = "TRUST"

// CashKey is the mapping key of the trust bank account.
const CashKey = "TRUST_CASH"

var (
	// ErrMappingNotFound indicates no GL account is mapped for a key.
	ErrMappingNotFound = errors.New("glmirror: account mapping not found")
	// ErrNoOpenPeriod indicates no open GL period covers the posting date.
	ErrNoOpenPeriod = errors.New("glmirror: no open period for date")
	// ErrSourceAlreadyLinked indicates the trust transaction was mirrored before.
	ErrSourceAlreadyLinked = errors.New("glmirror: source already linked")
	// ErrUnbalanced indicates debits and credits differ.
	ErrUnbalanced = errors.New("glmirror: journal not balanced")
)

// Line is one journal line.
type Line struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	CompanyID *int64
}

// Journal is a GL entry derived from one trust transaction.
type Journal struct {
	CompanyID int64
	Date      time.Time
	SourceID  uuid.UUID
	Memo      string
	Lines     []Line
}

// Validate enforces the double-entry rules the GL expects.
func (j Journal) Validate() error {
	if len(j.Lines) < 2 {
		return fmt.Errorf("%w: need at least two lines", ErrUnbalanced)
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range j.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("glmirror: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("glmirror: line %d has a negative amount", idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("glmirror: line %d must carry exactly one side", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// Mappings resolves transaction types to GL account ids.
type Mappings struct {
	Cash     int64
	Counters map[trust.TransactionType]int64
}

// BuildJournal turns a trust transaction into a journal. Credits to the trust account debit cash;
// debits out of trust credit cash.
func BuildJournal(account trust.TrustAccount, txn trust.TrustTransaction, m Mappings) (Journal, error) {
	counter, ok := m.Counters[txn.Type]
	if !ok || counter == 0 {
		return Journal{}, fmt.Errorf("%w: %s/%s", ErrMappingNotFound, SourceModule, txn.Type)
	}
	if m.Cash == 0 {
		return Journal{}, fmt.Errorf("%w: %s/%s", ErrMappingNotFound, SourceModule, CashKey)
	}
	company := account.CompanyID
	var lines []Line
	if txn.Credit.IsPositive() {
		lines = []Line{
			{AccountID: m.Cash, Debit: txn.Credit, CompanyID: &company},
			{AccountID: counter, Credit: txn.Credit, CompanyID: &company},
		}
	} else {
		lines = []Line{
			{AccountID: counter, Debit: txn.Debit, CompanyID: &company},
			{AccountID: m.Cash, Credit: txn.Debit, CompanyID: &company},
		}
	}
	j := Journal{
		CompanyID: account.CompanyID,
		Date:      txn.CreatedAt,
		SourceID:  txn.ID,
		Memo:      fmt.Sprintf("Trust %s property %d seq %d %s", txn.Type, account.PropertyID, txn.Seq, txn.Reference),
		Lines:     lines,
	}
	return j, j.Validate()
}
