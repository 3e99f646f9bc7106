package swapwire

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// MakerHello answers TakerHello, confirming the Maker's protocol version
// and whether it is presently accepting new swaps (spec.md §4.B).
type MakerHello struct {
	ProtocolVersion uint32
	Accepting       bool
}

func (m *MakerHello) MsgType() MessageType { return MsgMakerHello }

func (m *MakerHello) Encode(w io.Writer) error {
	var accepting uint8
	if m.Accepting {
		accepting = 1
	}
	return writeElements(w, m.ProtocolVersion, accepting)
}

func (m *MakerHello) Decode(r io.Reader) error {
	var accepting uint8
	if err := readElements(r, &m.ProtocolVersion, &accepting); err != nil {
		return err
	}
	m.Accepting = accepting != 0
	return nil
}

// Offer is a Maker's published fee and size policy, the field names and
// semantics taken verbatim from spec.md §4.D and original_source's offer
// type: base_fee, relative_fee_ppb, min_size, max_size, refund_locktime,
// required_confirmations.
type Offer struct {
	BaseFee               btcutil.Amount
	RelativeFeePpb        uint64
	MinSize               btcutil.Amount
	MaxSize               btcutil.Amount
	RefundLocktime        uint32
	RequiredConfirmations uint32

	FundingPub *btcec.PublicKey
}

func (m *Offer) MsgType() MessageType { return MsgOffer }

func (m *Offer) Encode(w io.Writer) error {
	return writeElements(w,
		m.BaseFee, m.RelativeFeePpb, m.MinSize, m.MaxSize,
		m.RefundLocktime, m.RequiredConfirmations, m.FundingPub,
	)
}

func (m *Offer) Decode(r io.Reader) error {
	return readElements(r,
		&m.BaseFee, &m.RelativeFeePpb, &m.MinSize, &m.MaxSize,
		&m.RefundLocktime, &m.RequiredConfirmations, &m.FundingPub,
	)
}

// ContractSigsForSender answers ReqContractSigsForSender: the Maker's
// signature, as receiver, over the contract transaction spending a
// funding output the Taker (or a preceding hop) controls.
type ContractSigsForSender struct {
	Sig []byte
}

func (m *ContractSigsForSender) MsgType() MessageType { return MsgContractSigsForSender }

func (m *ContractSigsForSender) Encode(w io.Writer) error {
	return writeElements(w, m.Sig)
}

func (m *ContractSigsForSender) Decode(r io.Reader) error {
	return readElements(r, &m.Sig)
}

// ContractSigsAsRecvrAndSender answers ReqContractSigsForRecvrAndSender
// (which carries the ProofOfFunding): the Maker's contract signature as
// receiver of the incoming hop, plus the outgoing funding and contract
// transactions it built for the next hop and its signature as that hop's
// sender (spec.md §4.E Phase 2 step 4).
type ContractSigsAsRecvrAndSender struct {
	IncomingContractSig []byte

	OutgoingFundingTxHex  string
	OutgoingContractTxHex string
	OutgoingContractSig   []byte
	OutgoingReceiverPub   *btcec.PublicKey
}

func (m *ContractSigsAsRecvrAndSender) MsgType() MessageType {
	return MsgContractSigsAsRecvrAndSnd
}

func (m *ContractSigsAsRecvrAndSender) Encode(w io.Writer) error {
	return writeElements(w,
		m.IncomingContractSig,
		m.OutgoingFundingTxHex, m.OutgoingContractTxHex,
		m.OutgoingContractSig, m.OutgoingReceiverPub,
	)
}

func (m *ContractSigsAsRecvrAndSender) Decode(r io.Reader) error {
	return readElements(r,
		&m.IncomingContractSig,
		&m.OutgoingFundingTxHex, &m.OutgoingContractTxHex,
		&m.OutgoingContractSig, &m.OutgoingReceiverPub,
	)
}

// MakerPrivKeyHandover is the Maker's half of the cooperative-close key
// exchange, sent once it has verified the shared preimage and has no
// further need to fall back to the contract script (spec.md §4.D
// "KeyHandoverDone").
type MakerPrivKeyHandover struct {
	PrivKey []byte
}

func (m *MakerPrivKeyHandover) MsgType() MessageType { return MsgMakerPrivKeyHandover }

func (m *MakerPrivKeyHandover) Encode(w io.Writer) error {
	return writeElements(w, m.PrivKey)
}

func (m *MakerPrivKeyHandover) Decode(r io.Reader) error {
	return readElements(r, &m.PrivKey)
}
