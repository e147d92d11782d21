package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionMatchesGraph(t *testing.T) {
	allowed := map[WorkflowState]map[WorkflowState]bool{
		StateValued:           {StateListed: true},
		StateListed:           {StateDepositReceived: true, StateTrustOpen: true},
		StateDepositReceived:  {StateTrustOpen: true, StateTaxPending: true},
		StateTrustOpen:        {StateTaxPending: true, StateSettled: true},
		StateTaxPending:       {StateSettled: true},
		StateSettled:          {StateTransferComplete: true, StateTrustClosed: true},
		StateTransferComplete: {StateTrustClosed: true},
		StateTrustClosed:      {},
	}
	states := WorkflowStates()
	require.Len(t, states, len(allowed))
	for _, from := range states {
		for _, to := range states {
			want := allowed[from][to]
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
			if want {
				assert.NoError(t, ValidateTransition(from, to))
			} else {
				assert.ErrorIs(t, ValidateTransition(from, to), ErrInvalidTransition)
			}
		}
	}
}

func TestValidateTransitionUnknownTarget(t *testing.T) {
	err := ValidateTransition(StateListed, "ARCHIVED")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "unknown target state")
	require.False(t, WorkflowState("ARCHIVED").Valid())
}

func TestTrustClosedIsTerminal(t *testing.T) {
	for _, to := range WorkflowStates() {
		assert.False(t, CanTransition(StateTrustClosed, to))
	}
}
