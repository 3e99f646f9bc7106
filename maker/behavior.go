package maker

// Behavior is a tagged variant selecting how a Maker connection behaves
// at specific points in the protocol (original_source's
// maker::MakerBehavior), used to deterministically exercise the Taker's
// abort taxonomy (spec.md §4.E "Abort taxonomy") from the test suite.
// Only Normal is reachable from cmd/coinswapd; the rest are test-only
// fault injectors.
type Behavior int

const (
	// Normal drives every state transition honestly, the only behavior
	// a production Maker runs.
	Normal Behavior = iota

	// CloseAtContractSigsForSender closes the connection immediately
	// after receiving ReqContractSigsForSender, before returning
	// ContractSigsForSender — AbortCase1: no on-chain state exists yet,
	// so the Taker can freely re-route.
	CloseAtContractSigsForSender

	// CloseAtContractSigsForRecvr closes after the incoming funding_tx
	// is confirmed and contract-signed but before completing the
	// outgoing leg — AbortCase2: funding is already broadcast, so the
	// Taker must wait out the timelock and sweep.
	CloseAtContractSigsForRecvr

	// CloseAtProofOfFunding closes immediately after receiving
	// ProofOfFunding, mid-chain — AbortCase3: the Taker recovers via
	// contract broadcast rather than a clean re-route.
	CloseAtProofOfFunding
)

func (b Behavior) String() string {
	switch b {
	case Normal:
		return "Normal"
	case CloseAtContractSigsForSender:
		return "CloseAtContractSigsForSender"
	case CloseAtContractSigsForRecvr:
		return "CloseAtContractSigsForRecvr"
	case CloseAtProofOfFunding:
		return "CloseAtProofOfFunding"
	default:
		return "Unknown"
	}
}
