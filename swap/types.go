// Package swap holds the data model shared by every coinswap component:
// the route, the hop, the hash/preimage pair, and the swap lifecycle
// state machine described in spec.md §3. It intentionally carries no
// behavior beyond small invariant-checking helpers — every component
// that mutates this state lives in its own package (contractbuilder,
// watchtower, maker, taker).
package swap

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashPreimage is the 32-byte secret the Taker draws for a swap. Revealing
// it to any hop unlocks the hash path of every hop sharing the same
// HashValue (spec.md §3).
type HashPreimage [32]byte

// HashValue is HASH160(preimage): SHA256 followed by RIPEMD160, matching
// the hash used inside standard Bitcoin HTLC scripts.
type HashValue [20]byte

// NewPreimage draws a fresh, cryptographically random preimage. Swap
// secrets must never be derived from a predictable source.
func NewPreimage() (HashPreimage, error) {
	var p HashPreimage
	if _, err := rand.Read(p[:]); err != nil {
		return p, fmt.Errorf("drawing preimage: %w", err)
	}
	return p, nil
}

// Hash computes the HASH160 (SHA256 then RIPEMD160) of the preimage, the
// same digest used inside standard Bitcoin HTLC scripts.
func (p HashPreimage) Hash() HashValue {
	var h HashValue
	copy(h[:], btcutil.Hash160(p[:]))
	return h
}

// MakerAddress identifies a Maker's transport endpoint, as posted to the
// directory/market service.
type MakerAddress struct {
	Network string // "clearnet" or "onion"
	Host    string
}

func (a MakerAddress) String() string {
	return fmt.Sprintf("%s:%s", a.Network, a.Host)
}

// Route is the ordered list of Makers a swap traverses, Taker implicit as
// head and tail (spec.md §3).
type Route struct {
	Makers []MakerAddress
}

// HopCount returns the number of funding transactions spanning the
// route: Taker->M1, M1->M2, ..., M_(N-1)->M_N, and the terminal
// M_N->Taker leg that funds the Taker's own final sweep address
// (spec.md §3, §4.E Phase 2 step 6). N Makers therefore span
// len(Makers)+1 hops, not len(Makers): the last Maker is not the
// swap's final receiver, the Taker is.
func (r Route) HopCount() int {
	return len(r.Makers) + 1
}

// Hop describes one adjacency (sender, receiver) in the route, per
// spec.md §3.
type Hop struct {
	Index int // 0 = Taker->M1, ..., N-1 = M_(N-1)->M_N, N = M_N->Taker

	SenderPub   [33]byte
	ReceiverPub [33]byte

	HopAmount btcutil.Amount
	Timelock  uint32 // blocks
	FeeRate   btcutil.Amount

	FundingOutpoint *chainhash.Hash
	FundingVout     uint32

	FundingTxHex  string
	ContractTxHex string

	SenderSig   []byte
	ReceiverSig []byte
}

// Phase is the lifecycle state of a SwapContext (spec.md §3 "Lifecycle").
type Phase int

const (
	PhaseNegotiating Phase = iota
	PhaseFunded
	PhaseSignedAll
	PhasePreimageReleased
	PhaseSwept
	PhaseComplete
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiating:
		return "Negotiating"
	case PhaseFunded:
		return "Funded"
	case PhaseSignedAll:
		return "SignedAll"
	case PhasePreimageReleased:
		return "PreimageReleased"
	case PhaseSwept:
		return "Swept"
	case PhaseComplete:
		return "Complete"
	case PhaseAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// SwapContext is the arena-owned record of one in-flight swap, indexed by
// SwapID (spec.md §9: "connections hold the id, never the context
// pointer", to avoid a reference cycle between contexts and peer
// connections).
type SwapContext struct {
	ID SwapID

	Route    Route
	Hops     []Hop
	Preimage HashPreimage
	Hash     HashValue

	Phase Phase

	AbortReason string

	// BadMakers records a Maker banned after its hop failed on this
	// swap attempt before any funds were committed (spec.md §4.E Phase 5).
	BadMakers []MakerAddress
}

// SwapID uniquely identifies a swap for journaling and for the arena map
// that owns SwapContexts.
type SwapID [16]byte

// SAFETY_MARGIN is the number of blocks the sender's timelock must
// strictly exceed the receiver's timelock by, at every hop (spec.md §3
// invariant 1, §9 open question). 20 blocks is judged sufficient for
// confirmation depth + chain propagation + sweep-builder latency, as
// spec.md suggests; operators may raise it for slower backends.
const SAFETY_MARGIN = 20

// CheckTimelockInvariant enforces spec.md §3 invariant 1 for one hop
// boundary: the sender's (incoming, from the Maker's perspective) timelock
// must exceed the receiver's (outgoing) timelock by more than SAFETY_MARGIN.
func CheckTimelockInvariant(senderTimelock, receiverTimelock uint32) error {
	if senderTimelock <= receiverTimelock+SAFETY_MARGIN {
		return fmt.Errorf(
			"timelock invariant violated: sender %d must exceed "+
				"receiver %d by more than %d blocks",
			senderTimelock, receiverTimelock, SAFETY_MARGIN)
	}
	return nil
}

// BuildTimelockSchedule computes the descending timelock for each of the
// n hops in a route, per spec.md §4.E Phase 1:
//
//	timelock_i = base_locktime + (N - i) * hop_locktime_step
//
// i ranges over [0, n), and the schedule is strictly decreasing so that
// invariant 4 of spec.md §8 holds by construction.
func BuildTimelockSchedule(n int, baseLocktime, hopLocktimeStep uint32) []uint32 {
	schedule := make([]uint32, n)
	for i := 0; i < n; i++ {
		schedule[i] = baseLocktime + uint32(n-1-i)*hopLocktimeStep
	}
	return schedule
}
