package maker

// State is one connection's position in the per-swap state table from
// spec.md §4.D. Each accepted Transport connection owns exactly one
// State, advanced only by the readHandler goroutine that reads frames
// off it — no locking is needed inside one connection's lifetime.
type State int

const (
	StateIdle State = iota
	StateGreeted
	StateOfferGiven
	StateSenderSigsIssued
	StateAwaitingFunding
	StateOutgoingProposed
	StateBothSigsIssued
	StateBroadcasting
	StateAwaitingPreimage
	StatePreimageRevealed
	StateKeyHandoverDone
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateGreeted:
		return "Greeted"
	case StateOfferGiven:
		return "OfferGiven"
	case StateSenderSigsIssued:
		return "SenderSigsIssued"
	case StateAwaitingFunding:
		return "AwaitingFunding"
	case StateOutgoingProposed:
		return "OutgoingProposed"
	case StateBothSigsIssued:
		return "BothSigsIssued"
	case StateBroadcasting:
		return "Broadcasting"
	case StateAwaitingPreimage:
		return "AwaitingPreimage"
	case StatePreimageRevealed:
		return "PreimageRevealed"
	case StateKeyHandoverDone:
		return "KeyHandoverDone"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transitions enumerates the permitted State -> State edges from
// spec.md §4.D's diagram, keyed by the current state. advance() steps
// along this table; each message handler checks the state it requires
// itself and rejects a message that arrives in the wrong state.
var transitions = map[State]State{
	StateIdle:             StateGreeted,
	StateGreeted:          StateOfferGiven,
	StateOfferGiven:       StateSenderSigsIssued,
	StateSenderSigsIssued: StateAwaitingFunding,
	StateAwaitingFunding:  StateOutgoingProposed,
	StateOutgoingProposed: StateBothSigsIssued,
	StateBothSigsIssued:   StateBroadcasting,
	StateBroadcasting:     StateAwaitingPreimage,
	StateAwaitingPreimage: StatePreimageRevealed,
	StatePreimageRevealed: StateKeyHandoverDone,
	StateKeyHandoverDone:  StateClosed,
}

// next returns the state following s, and whether that edge exists.
// StateAwaitingFunding -> StateOutgoingProposed is an ordinary table
// edge like every other.
func (s State) next() (State, bool) {
	n, ok := transitions[s]
	return n, ok
}
