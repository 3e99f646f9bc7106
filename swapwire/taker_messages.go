package swapwire

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/coinswap/swap"
)

// TakerHello is the first message a Taker sends a Maker on connection,
// carrying the protocol version the Taker speaks (spec.md §4.B).
type TakerHello struct {
	ProtocolVersion uint32
}

func (m *TakerHello) MsgType() MessageType { return MsgTakerHello }

func (m *TakerHello) Encode(w io.Writer) error {
	return writeElements(w, m.ProtocolVersion)
}

func (m *TakerHello) Decode(r io.Reader) error {
	return readElements(r, &m.ProtocolVersion)
}

// GiveOffer asks a connected Maker to publish its current fee and size
// policy (spec.md §4.D "OfferGiven"). It carries no payload; the Maker
// replies with Offer.
type GiveOffer struct{}

func (m *GiveOffer) MsgType() MessageType     { return MsgGiveOffer }
func (m *GiveOffer) Encode(w io.Writer) error { return nil }
func (m *GiveOffer) Decode(r io.Reader) error { return nil }

// ReqContractSigsForSender asks a Maker to sign, as the receiving party,
// the contract transaction spending the funding output the Taker (or a
// preceding hop) is about to broadcast (spec.md §4.E Phase 2 step 2).
type ReqContractSigsForSender struct {
	FundingTxHex       string
	FundingOutputIndex uint32

	ContractTxHex        string
	ContractRedeemScript []byte

	SenderPub   *btcec.PublicKey
	ReceiverPub *btcec.PublicKey

	Timelock  uint32
	HopAmount btcutil.Amount
}

func (m *ReqContractSigsForSender) MsgType() MessageType { return MsgReqContractSigsForSender }

func (m *ReqContractSigsForSender) Encode(w io.Writer) error {
	return writeElements(w,
		m.FundingTxHex, m.FundingOutputIndex,
		m.ContractTxHex, m.ContractRedeemScript,
		m.SenderPub, m.ReceiverPub,
		m.Timelock, m.HopAmount,
	)
}

func (m *ReqContractSigsForSender) Decode(r io.Reader) error {
	return readElements(r,
		&m.FundingTxHex, &m.FundingOutputIndex,
		&m.ContractTxHex, &m.ContractRedeemScript,
		&m.SenderPub, &m.ReceiverPub,
		&m.Timelock, &m.HopAmount,
	)
}

// ProofOfFunding carries the confirmed incoming funding transaction for a
// hop plus the receiving Maker's own next-hop contract parameters. It is
// sent only embedded in ReqContractSigsForRecvrAndSender; a Maker rejects
// a standalone ProofOfFunding frame (spec.md §4.E Phase 2 step 4).
type ProofOfFunding struct {
	FundingTxHex       string
	FundingOutputIndex uint32

	NextHopReceiverPub *btcec.PublicKey
	NextHopAmount      btcutil.Amount
	NextHopTimelock    uint32

	Hash swap.HashValue
}

func (m *ProofOfFunding) MsgType() MessageType { return MsgProofOfFunding }

func (m *ProofOfFunding) Encode(w io.Writer) error {
	return writeElements(w,
		m.FundingTxHex, m.FundingOutputIndex,
		m.NextHopReceiverPub, m.NextHopAmount, m.NextHopTimelock,
		m.Hash,
	)
}

func (m *ProofOfFunding) Decode(r io.Reader) error {
	return readElements(r,
		&m.FundingTxHex, &m.FundingOutputIndex,
		&m.NextHopReceiverPub, &m.NextHopAmount, &m.NextHopTimelock,
		&m.Hash,
	)
}

// ReqContractSigsForRecvrAndSender embeds ProofOfFunding and is sent to
// every route Maker, each of which is the receiver of one hop's contract
// and the sender of the next (for the last Maker, the hop paying the
// Taker), requesting both signatures in
// one round trip (spec.md §4.D "BothSigsIssued").
type ReqContractSigsForRecvrAndSender struct {
	ProofOfFunding

	IncomingContractTxHex        string
	IncomingContractRedeemScript []byte
	IncomingSenderPub            *btcec.PublicKey
}

func (m *ReqContractSigsForRecvrAndSender) MsgType() MessageType {
	return MsgReqContractSigsForRecvrAndSndr
}

func (m *ReqContractSigsForRecvrAndSender) Encode(w io.Writer) error {
	if err := m.ProofOfFunding.Encode(w); err != nil {
		return err
	}
	return writeElements(w,
		m.IncomingContractTxHex, m.IncomingContractRedeemScript, m.IncomingSenderPub,
	)
}

func (m *ReqContractSigsForRecvrAndSender) Decode(r io.Reader) error {
	if err := m.ProofOfFunding.Decode(r); err != nil {
		return err
	}
	return readElements(r,
		&m.IncomingContractTxHex, &m.IncomingContractRedeemScript, &m.IncomingSenderPub,
	)
}

// HashPreimageMsg reveals the swap's shared preimage to a hop, propagated
// backwards from M_N to M_1 (spec.md §4.E Phase 3). Named with a Msg
// suffix to avoid colliding with swap.HashPreimage, the value it carries.
type HashPreimageMsg struct {
	Preimage swap.HashPreimage
}

func (m *HashPreimageMsg) MsgType() MessageType { return MsgHashPreimage }

func (m *HashPreimageMsg) Encode(w io.Writer) error {
	return writeElements(w, m.Preimage)
}

func (m *HashPreimageMsg) Decode(r io.Reader) error {
	return readElements(r, &m.Preimage)
}

// TakerPrivKeyHandover hands the Taker's half of a hop's 2-of-2 funding
// key over to a Maker once the hash has been revealed, completing a
// privacy-optimal cooperative close of that hop's multisig without ever
// broadcasting the contract script (spec.md §4.D "KeyHandoverDone").
type TakerPrivKeyHandover struct {
	PrivKey []byte
}

func (m *TakerPrivKeyHandover) MsgType() MessageType { return MsgTakerPrivKeyHandover }

func (m *TakerPrivKeyHandover) Encode(w io.Writer) error {
	return writeElements(w, m.PrivKey)
}

func (m *TakerPrivKeyHandover) Decode(r io.Reader) error {
	return readElements(r, &m.PrivKey)
}
