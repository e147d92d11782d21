package trust

import "errors"

var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("trust: validation failed")
	// ErrNotFound indicates a missing account, settlement or record.
	ErrNotFound = errors.New("trust: not found")
	// ErrInvalidTransition indicates a workflow edge outside the adjacency table.
	ErrInvalidTransition = errors.New("trust: invalid workflow transition")
	// ErrExceedsNetPayout indicates a seller transfer above the settlement net payout.
	ErrExceedsNetPayout = errors.New("trust: amount exceeds net payout")
	// ErrSettlementMissing indicates the operation needs a calculated settlement.
	ErrSettlementMissing = errors.New("trust: settlement not calculated")
	// ErrSaleValueUnknown indicates no sale payments, override or purchase price to settle against.
	ErrSaleValueUnknown = errors.New("trust: sale price unknown")

	// ErrInsufficientBalance indicates a posting would drive the balance negative.
	ErrInsufficientBalance = errors.New("trust: insufficient balance")
	// ErrAccountClosed indicates a mutation against a CLOSED account.
	ErrAccountClosed = errors.New("trust: account closed")
	// ErrSettlementLocked indicates the settlement was locked by account close.
	ErrSettlementLocked = errors.New("trust: settlement locked")
	// ErrNonZeroBalance indicates close was attempted with funds still held.
	ErrNonZeroBalance = errors.New("trust: running balance must be zero to close")

	// ErrConcurrentPosting indicates another posting claimed the same ledger sequence.
	ErrConcurrentPosting = errors.New("trust: concurrent posting, retry")
	// ErrTransactionsUnsupported is raised by stores that cannot begin a multi-document transaction.
	ErrTransactionsUnsupported = errors.New("trust: store transactions unsupported")

	// ErrDuplicatePayment is returned by stores when a payment id is already posted.
	ErrDuplicatePayment = errors.New("trust: payment already posted")
	// ErrAccountExists is returned by stores when an active account already exists for the property.
	ErrAccountExists = errors.New("trust: active account exists for property")
)

// IsValidation reports whether err should be reported to the caller as bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrExceedsNetPayout) ||
		errors.Is(err, ErrSettlementMissing) ||
		errors.Is(err, ErrSaleValueUnknown)
}

// IsInvariant reports whether err is a hard business-rule rejection.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountClosed) ||
		errors.Is(err, ErrSettlementLocked) ||
		errors.Is(err, ErrNonZeroBalance)
}

// IsTransient reports whether the caller may retry the same request.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConcurrentPosting)
}
