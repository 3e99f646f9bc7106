package maker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	s := StateIdle
	expected := []State{
		StateGreeted, StateOfferGiven, StateSenderSigsIssued,
		StateAwaitingFunding, StateOutgoingProposed, StateBothSigsIssued,
		StateBroadcasting, StateAwaitingPreimage, StatePreimageRevealed,
		StateKeyHandoverDone, StateClosed,
	}

	for _, want := range expected {
		next, ok := s.next()
		require.True(t, ok, "no transition from %v", s)
		require.Equal(t, want, next)
		s = next
	}

	_, ok := s.next()
	require.False(t, ok, "StateClosed must be terminal")
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Idle", StateIdle.String())
	require.Equal(t, "Closed", StateClosed.String())
	require.Equal(t, "Unknown", State(999).String())
}

func TestBehaviorString(t *testing.T) {
	require.Equal(t, "Normal", Normal.String())
	require.Equal(t, "CloseAtContractSigsForSender", CloseAtContractSigsForSender.String())
	require.Equal(t, "Unknown", Behavior(999).String())
}
