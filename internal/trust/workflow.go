package trust

import "fmt"

// WorkflowState is the stage of a sale's trust lifecycle.
type WorkflowState string

const (
	StateValued           WorkflowState = "VALUED"
	StateListed           WorkflowState = "LISTED"
	StateDepositReceived  WorkflowState = "DEPOSIT_RECEIVED"
	StateTrustOpen        WorkflowState = "TRUST_OPEN"
	StateTaxPending       WorkflowState = "TAX_PENDING"
	StateSettled          WorkflowState = "SETTLED"
	StateTransferComplete WorkflowState = "TRANSFER_COMPLETE"
	StateTrustClosed      WorkflowState = "TRUST_CLOSED"
)

var workflowEdges = map[WorkflowState][]WorkflowState{
	StateValued:           {StateListed},
	StateListed:           {StateDepositReceived, StateTrustOpen},
	StateDepositReceived:  {StateTrustOpen, StateTaxPending},
	StateTrustOpen:        {StateTaxPending, StateSettled},
	StateTaxPending:       {StateSettled},
	StateSettled:          {StateTransferComplete, StateTrustClosed},
	StateTransferComplete: {StateTrustClosed},
	StateTrustClosed:      {},
}

// WorkflowStates lists every known state in lifecycle order.
func WorkflowStates() []WorkflowState {
	return []WorkflowState{
		StateValued,
		StateListed,
		StateDepositReceived,
		StateTrustOpen,
		StateTaxPending,
		StateSettled,
		StateTransferComplete,
		StateTrustClosed,
	}
}

// Valid reports whether s is a known workflow state.
func (s WorkflowState) Valid() bool {
	_, ok := workflowEdges[s]
	return ok
}

// CanTransition reports whether from→to is an edge of the workflow graph.
func CanTransition(from, to WorkflowState) bool {
	for _, next := range workflowEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition describing the rejected edge.
func ValidateTransition(from, to WorkflowState) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		allowed := workflowEdges[from]
		return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrInvalidTransition, from, to, allowed)
	}
	return nil
}
