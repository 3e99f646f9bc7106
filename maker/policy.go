package maker

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

// IncomingContractRequest bundles the fields the contract-signing policy
// needs to evaluate a ReqContractSigsForSender or
// ReqContractSigsForRecvrAndSender message (spec.md
// §4.D "Contract signing policy", first paragraph).
type IncomingContractRequest struct {
	FundingSenderPub   *btcec.PublicKey
	FundingReceiverPub *btcec.PublicKey
	OwnPub             *btcec.PublicKey

	Timelock uint32
	Hash     swap.HashValue

	QuotedAmount btcutil.Amount
	ActualAmount btcutil.Amount
}

// CheckIncomingContract enforces (i)-(iv) of the first Contract signing
// policy paragraph before the Maker signs as R.
func CheckIncomingContract(req IncomingContractRequest, minIncomingTimelock uint32,
	expectedHash swap.HashValue) error {

	ownBytes := req.OwnPub.SerializeCompressed()
	if !bytesEqual(req.FundingReceiverPub.SerializeCompressed(), ownBytes) &&
		!bytesEqual(req.FundingSenderPub.SerializeCompressed(), ownBytes) {

		return &coinswaperr.ProtocolError{
			Reason: "funding script does not bind our own pubkey",
		}
	}

	if req.Timelock < minIncomingTimelock {
		return &coinswaperr.FundLossRisk{
			Invariant: "incoming timelock below min_incoming_timelock",
		}
	}

	if req.Hash != expectedHash {
		return &coinswaperr.ProtocolError{
			Reason: "hash value does not match this swap",
		}
	}

	if req.ActualAmount < req.QuotedAmount {
		return &coinswaperr.ProtocolError{
			Reason: "funding amount below quoted amount",
		}
	}

	return nil
}

// OutgoingContractRequest bundles the fields needed to evaluate whether
// the Maker may sign its own outgoing contract as S (spec.md §4.D
// "Contract signing policy", second paragraph).
type OutgoingContractRequest struct {
	IncomingTimelock uint32
	OutgoingTimelock uint32

	IncomingAmount btcutil.Amount
	OutgoingAmount btcutil.Amount
	MakerFee       btcutil.Amount

	Hash         swap.HashValue
	ExpectedHash swap.HashValue
}

// CheckOutgoingContract enforces the timelock-margin, fee-accounting and
// hash-binding checks before the Maker signs its outgoing contract_tx.
func CheckOutgoingContract(req OutgoingContractRequest) error {
	if err := swap.CheckTimelockInvariant(req.IncomingTimelock, req.OutgoingTimelock); err != nil {
		return &coinswaperr.FundLossRisk{Invariant: err.Error()}
	}

	if req.OutgoingAmount != req.IncomingAmount-req.MakerFee {
		return &coinswaperr.ProtocolError{
			Reason: "outgoing amount does not equal incoming amount minus maker fee",
		}
	}

	if req.Hash != req.ExpectedHash {
		return &coinswaperr.ProtocolError{
			Reason: "hash value does not match this swap",
		}
	}

	return nil
}

// CheckOfferCompliance verifies a Taker's requested hop amount and
// confirmation target against this Maker's published Offer (spec.md
// §4.D "Fee policy": "The Taker must honor these; violations cause the
// Maker to abort").
func CheckOfferCompliance(offer swapwire.Offer, amount btcutil.Amount,
	requiredConfirmations uint32) error {

	if amount < offer.MinSize || amount > offer.MaxSize {
		return &coinswaperr.ProtocolError{
			Reason: "requested amount outside offer's [min_size, max_size]",
		}
	}
	if requiredConfirmations < offer.RequiredConfirmations {
		return &coinswaperr.ProtocolError{
			Reason: "requested confirmation target below offer's required_confirmations",
		}
	}
	return nil
}

// MakerFee computes this Offer's fee for a hop moving amount: the fixed
// base_fee plus the proportional relative_fee_ppb (parts per billion) of
// the amount, exactly as spec.md §4.D's Offer fields are named.
func MakerFee(offer swapwire.Offer, amount btcutil.Amount) btcutil.Amount {
	proportional := int64(amount) * int64(offer.RelativeFeePpb) / 1_000_000_000
	return offer.BaseFee + btcutil.Amount(proportional)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
