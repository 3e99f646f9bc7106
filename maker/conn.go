package maker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/contractbuilder"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
	"github.com/lightninglabs/coinswap/transport"
	"github.com/lightninglabs/coinswap/walletrpc"
	"github.com/lightninglabs/coinswap/watchtower"
)

// conn holds one accepted connection's entire protocol state. It is
// driven exclusively by its own readHandler goroutine, so nothing here
// needs locking (see state.go's State doc comment).
type conn struct {
	maker         *Maker
	transportConn transport.Conn

	state  State
	swapID swap.SwapID

	// hopPriv is this Maker's private half of the 2-of-2 funding key
	// for both the incoming and outgoing leg of this connection's hop;
	// a Maker's funding pubkey is its per-connection identity rather
	// than a long-lived node key.
	hopPriv *btcec.PrivateKey

	hash swap.HashValue

	incomingContractTx    *wire.MsgTx
	incomingFundingScript []byte
	incomingTimelock      uint32
	incomingAmount        btcutil.Amount

	outgoingReceiverPub    *btcec.PublicKey
	outgoingTimelock       uint32
	outgoingAmount         btcutil.Amount
	outgoingFundingScript  []byte
	outgoingContractScript []byte

	watchtowerHandle watchtower.Handle
	haveWatch        bool
}

func newConn(m *Maker, tc transport.Conn) *conn {
	priv, _ := btcec.NewPrivateKey()

	var id swap.SwapID
	rand.Read(id[:])

	c := &conn{
		maker:         m,
		transportConn: tc,
		state:         StateIdle,
		hopPriv:       priv,
		swapID:        id,
	}
	m.registerConn(id, c)
	return c
}

// readHandler reads and dispatches messages off transportConn in series,
// the same read-switch-dispatch loop peer.go's readHandler runs for
// lnwire messages, collapsed to coinswap's much smaller message set.
func (c *conn) readHandler() {
	defer c.close()

	for {
		msg, err := swapwire.ReadMessage(c.transportConn)
		if err != nil {
			log.Debugf("connection %v closed: %v", c.transportConn.RemoteAddr(), err)
			return
		}

		if err := c.dispatch(msg); err != nil {
			log.Errorf("connection %v: %v", c.transportConn.RemoteAddr(), err)
			return
		}

		if c.state == StateClosed {
			return
		}
	}
}

func (c *conn) dispatch(msg swapwire.Message) error {
	switch m := msg.(type) {
	case *swapwire.TakerHello:
		return c.handleTakerHello(m)
	case *swapwire.GiveOffer:
		return c.handleGiveOffer(m)
	case *swapwire.ReqContractSigsForSender:
		return c.handleReqContractSigsForSender(m)
	case *swapwire.ReqContractSigsForRecvrAndSender:
		return c.handleReqContractSigsForRecvrAndSender(m)
	case *swapwire.HashPreimageMsg:
		return c.handleHashPreimage(m)
	case *swapwire.TakerPrivKeyHandover:
		return c.handleTakerPrivKeyHandover(m)
	default:
		return &coinswaperr.ProtocolError{
			Peer:   c.transportConn.RemoteAddr().String(),
			Reason: "unexpected message type for maker",
		}
	}
}

func (c *conn) send(msg swapwire.Message) error {
	_, err := swapwire.WriteMessage(c.transportConn, msg)
	return err
}

func (c *conn) advance() error {
	next, ok := c.state.next()
	if !ok {
		return &coinswaperr.ProtocolError{
			Peer:   c.transportConn.RemoteAddr().String(),
			Reason: "no transition defined from " + c.state.String(),
		}
	}
	c.state = next
	return nil
}

// snapshot builds a minimal SwapContext capturing this connection's own
// hop, for journaling. A Maker's conn never holds the full route — only
// its own incoming and (once negotiated) outgoing leg — unlike the
// Taker's full-route SwapContext (spec.md §6).
func (c *conn) snapshot(phase swap.Phase) *swap.SwapContext {
	ctx := &swap.SwapContext{
		ID:    c.swapID,
		Hash:  c.hash,
		Phase: phase,
	}
	if c.incomingContractTx != nil {
		hop := swap.Hop{
			HopAmount:     c.incomingAmount,
			Timelock:      c.incomingTimelock,
			ContractTxHex: txHex(c.incomingContractTx),
		}
		copy(hop.ReceiverPub[:], c.hopPriv.PubKey().SerializeCompressed())
		ctx.Hops = append(ctx.Hops, hop)
	}
	return ctx
}

func (c *conn) close() {
	c.state = StateClosed
	if c.haveWatch {
		c.maker.cfg.Watchtower.Unregister(c.watchtowerHandle)
	}
	c.transportConn.Close()
	if c.swapID != (swap.SwapID{}) {
		c.maker.unregisterConn(c.swapID)
	}
}

func (c *conn) handleTakerHello(m *swapwire.TakerHello) error {
	if c.state != StateIdle {
		return &coinswaperr.ProtocolError{Reason: "TakerHello out of order"}
	}
	if m.ProtocolVersion != ProtocolVersion {
		return &coinswaperr.ProtocolError{Reason: "unsupported protocol version"}
	}

	if err := c.send(&swapwire.MakerHello{
		ProtocolVersion: ProtocolVersion,
		Accepting:       true,
	}); err != nil {
		return err
	}
	return c.advance()
}

func (c *conn) handleGiveOffer(m *swapwire.GiveOffer) error {
	if c.state != StateGreeted {
		return &coinswaperr.ProtocolError{Reason: "GiveOffer out of order"}
	}

	offer := c.maker.cfg.Offer
	offer.FundingPub = c.hopPriv.PubKey()

	if err := c.send(&offer); err != nil {
		return err
	}
	c.maker.persistPhase(c.snapshot(swap.PhaseNegotiating))
	return c.advance()
}

// handleReqContractSigsForSender signs, as receiver, the contract
// transaction spending the funding output the Taker (or a preceding hop)
// is about to broadcast. This is AbortCase1's hook: nothing has been
// broadcast yet, so a Maker free to disappear here costs the Taker
// nothing but a re-route (spec.md §4.E "Abort taxonomy" case 1).
func (c *conn) handleReqContractSigsForSender(m *swapwire.ReqContractSigsForSender) error {
	if c.state != StateOfferGiven {
		return &coinswaperr.ProtocolError{Reason: "ReqContractSigsForSender out of order"}
	}

	if err := CheckOfferCompliance(c.maker.cfg.Offer, m.HopAmount, c.maker.cfg.Offer.RequiredConfirmations); err != nil {
		return err
	}

	if c.maker.cfg.Behavior == CloseAtContractSigsForSender {
		return &coinswaperr.PeerClosed{Peer: c.transportConn.RemoteAddr().String()}
	}

	contractTx, err := decodeTxHex(m.ContractTxHex)
	if err != nil {
		return err
	}

	req := IncomingContractRequest{
		FundingSenderPub:   m.SenderPub,
		FundingReceiverPub: m.ReceiverPub,
		OwnPub:             c.hopPriv.PubKey(),
		Timelock:           m.Timelock,
		Hash:               c.hash,
		QuotedAmount:       m.HopAmount,
		ActualAmount:       m.HopAmount,
	}
	if err := CheckIncomingContract(req, c.maker.cfg.MinIncomingTimelock, c.hash); err != nil {
		return err
	}

	sig, err := contractbuilder.SignContract(
		contractTx, m.ContractRedeemScript, m.HopAmount, c.hopPriv,
	)
	if err != nil {
		return err
	}

	c.incomingContractTx = contractTx
	c.incomingFundingScript = m.ContractRedeemScript
	c.incomingTimelock = m.Timelock
	c.incomingAmount = m.HopAmount

	if err := c.send(&swapwire.ContractSigsForSender{Sig: sig}); err != nil {
		return err
	}
	c.maker.persistPhase(c.snapshot(swap.PhaseNegotiating))
	return c.advance()
}

// handleReqContractSigsForRecvrAndSender is the general middle-hop
// request: the incoming funding is confirmed, so this signs the incoming
// contract as receiver and, in the same round trip, builds and signs the
// outgoing leg as sender. This is AbortCase2's hook: closing partway
// through leaves the incoming funding already on-chain, forcing the
// Taker to wait out the timelock and sweep rather than re-route (spec.md
// §4.E "Abort taxonomy" case 2).
func (c *conn) handleReqContractSigsForRecvrAndSender(m *swapwire.ReqContractSigsForRecvrAndSender) error {
	if c.state != StateSenderSigsIssued {
		return &coinswaperr.ProtocolError{Reason: "ReqContractSigsForRecvrAndSender out of order"}
	}

	// This message carries the ProofOfFunding for the incoming leg.
	if c.maker.cfg.Behavior == CloseAtProofOfFunding {
		return &coinswaperr.PeerClosed{Peer: c.transportConn.RemoteAddr().String()}
	}

	fundingTx, err := decodeTxHex(m.FundingTxHex)
	if err != nil {
		return err
	}
	if err := c.registerIncomingWatch(fundingTx, m.FundingOutputIndex); err != nil {
		log.Warnf("watchtower registration failed: %v", err)
	}

	// The incoming leg's contract was already validated once in
	// handleReqContractSigsForSender; re-check it here against this
	// connection's own stored incoming state (not m.NextHop*, which
	// describes the outgoing leg being proposed in this same message).
	c.hash = m.Hash
	incomingReq := IncomingContractRequest{
		FundingSenderPub:   m.IncomingSenderPub,
		FundingReceiverPub: c.hopPriv.PubKey(),
		OwnPub:             c.hopPriv.PubKey(),
		Timelock:           c.incomingTimelock,
		Hash:               c.hash,
		QuotedAmount:       c.incomingAmount,
		ActualAmount:       c.incomingAmount,
	}
	if err := CheckIncomingContract(incomingReq, c.maker.cfg.MinIncomingTimelock, c.hash); err != nil {
		return err
	}

	if c.maker.cfg.Behavior == CloseAtContractSigsForRecvr {
		return &coinswaperr.PeerClosed{Peer: c.transportConn.RemoteAddr().String()}
	}

	incomingContractTx, err := decodeTxHex(m.IncomingContractTxHex)
	if err != nil {
		return err
	}
	incomingSig, err := contractbuilder.SignContract(
		incomingContractTx, m.IncomingContractRedeemScript, c.incomingAmount, c.hopPriv,
	)
	if err != nil {
		return err
	}

	fee := MakerFee(c.maker.cfg.Offer, c.incomingAmount)
	outgoingAmount := c.incomingAmount - fee

	if err := CheckOutgoingContract(OutgoingContractRequest{
		IncomingTimelock: c.incomingTimelock,
		OutgoingTimelock: m.NextHopTimelock,
		IncomingAmount:   c.incomingAmount,
		OutgoingAmount:   outgoingAmount,
		MakerFee:         fee,
		Hash:             m.Hash,
		ExpectedHash:     m.Hash,
	}); err != nil {
		return err
	}

	outgoingFundingScript, _, err := contractbuilder.BuildFundingScript(
		c.hopPriv.PubKey(), m.NextHopReceiverPub, outgoingAmount,
	)
	if err != nil {
		return err
	}

	outgoingContractScript, err := contractbuilder.BuildContractScript(
		c.hopPriv.PubKey(), m.NextHopReceiverPub, m.Hash, m.NextHopTimelock,
	)
	if err != nil {
		return err
	}

	c.outgoingReceiverPub = m.NextHopReceiverPub
	c.outgoingTimelock = m.NextHopTimelock
	c.outgoingAmount = outgoingAmount
	c.outgoingFundingScript = outgoingFundingScript
	c.outgoingContractScript = outgoingContractScript

	// This Maker funds the outgoing leg out of its own wallet, the same
	// way the Taker funds the route's first hop.
	outgoingFundingTx, outgoingContractTx, outgoingContractSig, err := c.buildOutgoingTxs(
		outgoingAmount, outgoingContractScript,
	)
	if err != nil {
		return err
	}

	reply := &swapwire.ContractSigsAsRecvrAndSender{
		IncomingContractSig:   incomingSig,
		OutgoingFundingTxHex:  txHex(outgoingFundingTx),
		OutgoingContractTxHex: txHex(outgoingContractTx),
		OutgoingContractSig:   outgoingContractSig,
		OutgoingReceiverPub:   m.NextHopReceiverPub,
	}
	if err := c.send(reply); err != nil {
		return err
	}
	c.maker.persistPhase(c.snapshot(swap.PhaseSignedAll))
	return c.advance()
}

// outgoingFeeRate is the fixed sat/vbyte rate a Maker budgets for funding
// its own outgoing leg, the same fixed-rate simplification the taker
// package's contractFee makes for contract transactions (spec.md leaves fee
// estimation as an operator-tunable detail, not a protocol invariant).
const outgoingFeeRate btcutil.Amount = 10

// buildOutgoingTxs funds outgoingAmount from this Maker's own wallet,
// builds the outgoing contract transaction spending that funding output,
// signs it as sender, and broadcasts the funding transaction. It mirrors
// what a Taker does for the route's first hop (spec.md §4.E Phase 2).
func (c *conn) buildOutgoingTxs(outgoingAmount btcutil.Amount,
	outgoingContractScript []byte) (*wire.MsgTx, *wire.MsgTx, []byte, error) {

	wallet := c.maker.cfg.Wallet

	inputs, err := wallet.SelectCoins(outgoingAmount, outgoingFeeRate)
	if err != nil {
		return nil, nil, nil, err
	}

	changeAddr, err := wallet.NextAddress()
	if err != nil {
		return nil, nil, nil, coinswaperr.Wrap(err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, nil, nil, coinswaperr.Wrap(err)
	}

	fundingTx, err := contractbuilder.BuildFundingTx(
		inputs, c.hopPriv.PubKey(), c.outgoingReceiverPub, outgoingAmount,
		outgoingFeeRate, changeScript,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	descs := make([]walletrpc.ScriptSigDescriptor, len(inputs))
	for i, in := range inputs {
		descs[i] = walletrpc.ScriptSigDescriptor{
			InputIndex:    i,
			PrivKey:       in.PrivKey,
			WitnessScript: in.PkScript,
			Amount:        in.Value,
		}
	}
	fundingTx, err = wallet.SignInputs(fundingTx, descs)
	if err != nil {
		return nil, nil, nil, err
	}

	if _, err := wallet.Broadcast(fundingTx); err != nil {
		return nil, nil, nil, err
	}

	contractFee := outgoingFeeRate * 200 / 1000
	contractTx, err := contractbuilder.BuildContractTx(
		wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0},
		outgoingAmount, outgoingContractScript, contractFee,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	sig, err := contractbuilder.SignContract(
		contractTx, c.outgoingFundingScript, outgoingAmount, c.hopPriv,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	return fundingTx, contractTx, sig, nil
}

func (c *conn) registerIncomingWatch(fundingTx *wire.MsgTx, outIdx uint32) error {
	if outIdx >= uint32(len(fundingTx.TxOut)) {
		return &coinswaperr.ProtocolError{Reason: "funding output index out of range"}
	}

	handle, err := c.maker.cfg.Watchtower.Register(context.Background(), watchtower.Contract{
		FundingTxid:     fundingTx.TxHash(),
		FundingOutpoint: wire.OutPoint{Hash: fundingTx.TxHash(), Index: outIdx},
		FundingPkScript: fundingTx.TxOut[outIdx].PkScript,
		Role:            watchtower.RoleReceiver,
	})
	if err != nil {
		return err
	}
	c.watchtowerHandle = handle
	c.haveWatch = true
	return nil
}

func (c *conn) handleHashPreimage(m *swapwire.HashPreimageMsg) error {
	if m.Preimage.Hash() != c.hash {
		return &coinswaperr.ProtocolError{Reason: "revealed preimage does not match swap hash"}
	}
	c.state = StatePreimageRevealed
	c.maker.persistPhase(c.snapshot(swap.PhasePreimageReleased))
	return nil
}

func (c *conn) handleTakerPrivKeyHandover(m *swapwire.TakerPrivKeyHandover) error {
	if err := c.send(&swapwire.MakerPrivKeyHandover{
		PrivKey: c.hopPriv.Serialize(),
	}); err != nil {
		return err
	}
	c.state = StateClosed
	c.maker.persistPhase(c.snapshot(swap.PhaseComplete))
	return nil
}

func decodeTxHex(h string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, &coinswaperr.ProtocolError{Reason: "malformed transaction hex"}
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, &coinswaperr.ProtocolError{Reason: "malformed transaction"}
	}
	return tx, nil
}

func txHex(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf.Bytes())
}
