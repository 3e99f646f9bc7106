package taker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/chainclient"
	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/contractbuilder"
	"github.com/lightninglabs/coinswap/journal"
	"github.com/lightninglabs/coinswap/maker"
	"github.com/lightninglabs/coinswap/market"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
	"github.com/lightninglabs/coinswap/transport"
	"github.com/lightninglabs/coinswap/walletrpc"
	"github.com/lightninglabs/coinswap/watchtower"
)

var log = build.NewSubLogger("TAKR")

// ProtocolVersion is the swapwire handshake version this Orchestrator
// speaks, matching maker.ProtocolVersion.
const ProtocolVersion = 1

// fundingFeeRate is the fixed sat/vbyte rate the Taker budgets for every
// funding transaction it builds itself (hop 0 only; later hops are
// funded by their own Maker).
const fundingFeeRate btcutil.Amount = 10

// contractFee is the fixed fee withheld from a hop's amount when
// building its contract transaction, parallel to maker.conn's own
// outgoingFeeRate-derived budget.
const contractFee btcutil.Amount = 300

// maxRouteAttempts bounds how many times RunSwap re-routes around a
// Maker that disappeared before committing any funds (AbortCase1)
// before giving up, the same finite-retry shape
// htlcswitch.Switch.SendHTLC's circular-route guard takes.
const maxRouteAttempts = 3

// Config collects the Orchestrator's external dependencies, the same
// shape as maker.Config's field set (spec.md §6).
type Config struct {
	Wallet     walletrpc.Wallet
	Chain      chainclient.ChainClient
	Directory  market.DirectoryClient
	Transport  transport.Transport
	Watchtower *watchtower.Watchtower
	Journal    journal.ControlTower
}

// hopConn is one open connection to a route Maker, kept alive from its
// handshake through Phase 4 so the final key handover can reuse it
// instead of reconnecting.
type hopConn struct {
	addr     swap.MakerAddress
	conn     transport.Conn
	offer    swapwire.Offer
	makerPub *btcec.PublicKey
}

func (hc *hopConn) send(msg swapwire.Message) error {
	_, err := swapwire.WriteMessage(hc.conn, msg)
	return err
}

func (hc *hopConn) recv() (swapwire.Message, error) {
	return swapwire.ReadMessage(hc.conn)
}

// hopFailure reports which Maker broke hop negotiation and whether any
// funds are already on-chain because of it, the fact RunSwap needs to
// decide between a clean re-route (AbortCase1) and fund recovery
// (AbortCase2/3, spec.md §4.E "Abort taxonomy").
type hopFailure struct {
	Maker          swap.MakerAddress
	FundsCommitted bool
	Err            error
}

func (e *hopFailure) Error() string {
	return fmt.Sprintf("hop negotiation with %v failed: %v", e.Maker, e.Err)
}

func (e *hopFailure) Unwrap() error { return e.Err }

func wrapFailure(addr swap.MakerAddress, err error, fundsCommitted bool) *hopFailure {
	return &hopFailure{Maker: addr, FundsCommitted: fundsCommitted, Err: err}
}

// Orchestrator drives one Taker process through spec.md §4.E's five
// phases for as many swaps as are requested of it. Unlike maker.Maker,
// which reacts to inbound connections, the Orchestrator is the active
// party: it selects a route, dials every hop, and owns the SwapContext
// from creation to Complete or Aborted.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// RunSwap implements spec.md §4.E end to end: select a route, negotiate
// and fund every hop, reveal the shared preimage, and relay each hop's
// key handover for a clean cooperative close. A Maker that aborts before
// any funds are committed is banned and the route is rebuilt around it;
// a Maker that aborts afterward ends the attempt and falls back to
// recovery (spec.md §4.E Phase 5).
func (o *Orchestrator) RunSwap(ctx context.Context, req RouteRequest) (*swap.SwapContext, error) {
	preimage, err := swap.NewPreimage()
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	hash := preimage.Hash()

	banned := make(map[swap.MakerAddress]struct{})

	var lastErr error
	for attempt := 0; attempt < maxRouteAttempts; attempt++ {
		route, _, err := SelectRoute(ctx, o.cfg.Directory, req, o.fetchOffer, banned)
		if err != nil {
			return nil, err
		}

		var id swap.SwapID
		if _, err := rand.Read(id[:]); err != nil {
			return nil, coinswaperr.Wrap(err)
		}

		swapCtx := &swap.SwapContext{
			ID:       id,
			Route:    route,
			Preimage: preimage,
			Hash:     hash,
			Phase:    swap.PhaseNegotiating,
		}
		o.persist(swapCtx)

		hop0Priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, coinswaperr.Wrap(err)
		}
		// hopNPriv is this Taker's receiving half of the terminal
		// M_N->Taker leg's 2-of-2 funding key (spec.md §3: "M_N funds
		// the Taker's final sweep address"). It plays the same role
		// on the last hop that hop0Priv plays on the first.
		hopNPriv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, coinswaperr.Wrap(err)
		}

		conns, final, err := o.runHops(ctx, req, route, hash, hop0Priv, hopNPriv, swapCtx)
		if err != nil {
			var hf *hopFailure
			if errors.As(err, &hf) && !hf.FundsCommitted {
				log.Warnf("swap %x: banning %v after hop failure: %v", swapCtx.ID, hf.Maker, hf.Err)
				banned[hf.Maker] = struct{}{}
				swapCtx.BadMakers = append(swapCtx.BadMakers, hf.Maker)
				closeConns(conns)
				lastErr = err
				continue
			}

			closeConns(conns)
			swapCtx.Phase = swap.PhaseAborted
			swapCtx.AbortReason = err.Error()
			o.persist(swapCtx)
			return swapCtx, o.recoverSwap(ctx, swapCtx, err, hop0Priv, hopNPriv)
		}

		swapCtx.Phase = swap.PhaseSignedAll
		o.persist(swapCtx)

		if err := o.revealAndClose(conns, preimage, hop0Priv, hopNPriv, final); err != nil {
			closeConns(conns)
			swapCtx.Phase = swap.PhaseAborted
			swapCtx.AbortReason = err.Error()
			o.persist(swapCtx)
			return swapCtx, o.recoverSwap(ctx, swapCtx, err, hop0Priv, hopNPriv)
		}
		closeConns(conns)

		swapCtx.Phase = swap.PhaseComplete
		o.persist(swapCtx)
		return swapCtx, nil
	}

	return nil, fmt.Errorf("taker: exhausted %d route attempts: %w", maxRouteAttempts, lastErr)
}

func (o *Orchestrator) persist(swapCtx *swap.SwapContext) {
	if o.cfg.Journal == nil {
		return
	}
	if err := o.cfg.Journal.Put(swapCtx); err != nil {
		log.Errorf("swap %x: failed to persist phase %v: %v", swapCtx.ID, swapCtx.Phase, err)
	}
}

func closeConns(conns []*hopConn) {
	for _, hc := range conns {
		if hc != nil && hc.conn != nil {
			hc.conn.Close()
		}
	}
}

// fetchOffer adapts a one-shot connect/GiveOffer round trip into the
// shape SelectRoute needs to evaluate a candidate Maker.
func (o *Orchestrator) fetchOffer(ctx context.Context, addr swap.MakerAddress) (swapwire.Offer, error) {
	hc, err := o.connectAndHandshake(ctx, addr)
	if err != nil {
		return swapwire.Offer{}, err
	}
	defer hc.conn.Close()
	return hc.offer, nil
}

// connectAndHandshake dials addr, exchanges TakerHello/MakerHello, and
// asks for this connection's Offer (including its per-connection funding
// pubkey), the handshake every hopConn begins with (spec.md §4.B,
// §4.D "Greeted"/"OfferGiven").
func (o *Orchestrator) connectAndHandshake(ctx context.Context, addr swap.MakerAddress) (*hopConn, error) {
	conn, err := o.cfg.Transport.Connect(ctx, addr)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	hc := &hopConn{addr: addr, conn: conn}

	if err := hc.send(&swapwire.TakerHello{ProtocolVersion: ProtocolVersion}); err != nil {
		conn.Close()
		return nil, err
	}
	reply, err := hc.recv()
	if err != nil {
		conn.Close()
		return nil, err
	}
	mh, ok := reply.(*swapwire.MakerHello)
	if !ok {
		conn.Close()
		return nil, &coinswaperr.ProtocolError{Peer: addr.String(), Reason: "expected MakerHello"}
	}
	if mh.ProtocolVersion != ProtocolVersion || !mh.Accepting {
		conn.Close()
		return nil, &coinswaperr.ProtocolError{Peer: addr.String(), Reason: "maker not accepting swaps"}
	}

	if err := hc.send(&swapwire.GiveOffer{}); err != nil {
		conn.Close()
		return nil, err
	}
	offerReply, err := hc.recv()
	if err != nil {
		conn.Close()
		return nil, err
	}
	offer, ok := offerReply.(*swapwire.Offer)
	if !ok {
		conn.Close()
		return nil, &coinswaperr.ProtocolError{Peer: addr.String(), Reason: "expected Offer"}
	}

	hc.offer = *offer
	hc.makerPub = offer.FundingPub
	return hc, nil
}

// finalLeg describes the terminal M_N->Taker hop once its funding is
// confirmed: the Taker's own wallet has not been credited yet, but
// everything needed to do so cooperatively (spec.md §4.E Phase 4) is
// captured here for revealAndClose.
type finalLeg struct {
	fundingTx     *wire.MsgTx
	fundingScript []byte
	amount        btcutil.Amount
}

// runHops drives spec.md §4.E Phase 2 across the whole route: it
// connects to every Maker up front (so each hop request can name its
// successor's funding pubkey), funds the first hop out of its own
// wallet, relays each subsequent hop's already-broadcast funding from
// the preceding Maker, and finally routes the last Maker's own outgoing
// leg back to this Taker's own receiving key, rather than to another
// Maker — M_N->Taker is an ordinary hop from M_N's point of view, it
// just happens to terminate the chain (spec.md §3, §4.E Phase 2 step 6).
func (o *Orchestrator) runHops(ctx context.Context, req RouteRequest, route swap.Route,
	hash swap.HashValue, hop0Priv, hopNPriv *btcec.PrivateKey,
	swapCtx *swap.SwapContext) ([]*hopConn, *finalLeg, error) {

	n := len(route.Makers)
	if n == 0 {
		return nil, nil, &coinswaperr.ProtocolError{Reason: "route has no makers"}
	}
	schedule := swap.BuildTimelockSchedule(route.HopCount(), req.BaseLocktime, req.HopLocktimeStep)

	conns := make([]*hopConn, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range route.Makers {
		i, addr := i, addr
		g.Go(func() error {
			hc, err := o.connectAndHandshake(gctx, addr)
			if err != nil {
				return wrapFailure(addr, err, false)
			}
			conns[i] = hc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return conns, nil, err
	}

	var (
		fundingTx     *wire.MsgTx
		contractTx    *wire.MsgTx
		fundingScript []byte
		senderPub     *btcec.PublicKey
		senderSig     []byte
		amount        btcutil.Amount
	)

	for i := 0; i < n; i++ {
		hc := conns[i]
		isFirst := i == 0
		timelock := schedule[i]

		if isFirst {
			senderPub = hop0Priv.PubKey()
			amount = btcutil.Amount(req.SendAmount)

			var err error
			fundingScript, contractTx, fundingTx, senderSig, err = o.buildHop0Txs(
				hop0Priv, hc.makerPub, amount, hash, timelock,
			)
			if err != nil {
				return conns, nil, wrapFailure(hc.addr, err, false)
			}
		}

		// Step A: ask this hop's Maker to sign as receiver before any
		// funds are committed on its behalf (AbortCase1's hook,
		// spec.md §4.E "Abort taxonomy" case 1). This is provisional
		// and superseded by the definitive signature Step B below
		// returns once the next hop has been proposed — every hop
		// negotiates identically here, including the last one, since
		// its outgoing leg now targets the Taker's own key rather than
		// ending the chain.
		provisionalSig, err := requestSenderSig(hc, fundingTx, contractTx, fundingScript,
			senderPub, amount, timelock)
		if err != nil {
			return conns, nil, wrapFailure(hc.addr, err, !isFirst)
		}
		if err := contractbuilder.VerifyContractWitness(
			contractTx, fundingScript, amount, provisionalSig, hc.makerPub.SerializeCompressed(),
		); err != nil {
			return conns, nil, wrapFailure(hc.addr, err, !isFirst)
		}

		if isFirst {
			if _, err := o.cfg.Wallet.Broadcast(fundingTx); err != nil {
				return conns, nil, wrapFailure(hc.addr, err, false)
			}
		}
		if err := o.awaitFundingConfirmed(ctx, fundingTx, 0, fundingScript); err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}

		// Step B: now that the incoming leg is confirmed, propose the
		// next hop in the same round trip that returns this hop's
		// definitive receiver signature (spec.md §4.D "BothSigsIssued").
		// For the last Maker, the "next hop" is the Taker's own
		// hopNPriv key rather than another connection.
		var nextHopPub *btcec.PublicKey
		if i < n-1 {
			nextHopPub = conns[i+1].makerPub
		} else {
			nextHopPub = hopNPriv.PubKey()
		}
		nextHopAmount := amount - maker.MakerFee(hc.offer, amount)

		proposeMsg := &swapwire.ReqContractSigsForRecvrAndSender{
			ProofOfFunding: swapwire.ProofOfFunding{
				FundingTxHex:       txHex(fundingTx),
				FundingOutputIndex: 0,
				NextHopReceiverPub: nextHopPub,
				NextHopAmount:      nextHopAmount,
				NextHopTimelock:    schedule[i+1],
				Hash:               hash,
			},
			IncomingContractTxHex:        txHex(contractTx),
			IncomingContractRedeemScript: fundingScript,
			IncomingSenderPub:            senderPub,
		}
		if err := hc.send(proposeMsg); err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}
		proposeReply, err := hc.recv()
		if err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}
		outgoing, ok := proposeReply.(*swapwire.ContractSigsAsRecvrAndSender)
		if !ok {
			return conns, nil, wrapFailure(hc.addr, &coinswaperr.ProtocolError{
				Peer: hc.addr.String(), Reason: "expected ContractSigsAsRecvrAndSender",
			}, true)
		}

		if err := contractbuilder.VerifyContractWitness(
			contractTx, fundingScript, amount, outgoing.IncomingContractSig, hc.makerPub.SerializeCompressed(),
		); err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}

		hop := swap.Hop{
			Index:         i,
			HopAmount:     amount,
			Timelock:      timelock,
			FundingTxHex:  txHex(fundingTx),
			ContractTxHex: txHex(contractTx),
			SenderSig:     senderSig,
			ReceiverSig:   outgoing.IncomingContractSig,
		}
		copy(hop.SenderPub[:], senderPub.SerializeCompressed())
		copy(hop.ReceiverPub[:], hc.makerPub.SerializeCompressed())
		swapCtx.Hops = append(swapCtx.Hops, hop)
		o.persist(swapCtx)

		nextFundingTx, err := decodeTxHex(outgoing.OutgoingFundingTxHex)
		if err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}
		nextContractTx, err := decodeTxHex(outgoing.OutgoingContractTxHex)
		if err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}
		if outgoing.OutgoingReceiverPub == nil {
			return conns, nil, wrapFailure(hc.addr, &coinswaperr.ProtocolError{
				Reason: "outgoing leg missing receiver pubkey",
			}, true)
		}
		nextAmount := btcutil.Amount(nextFundingTx.TxOut[0].Value)
		nextFundingScript, _, err := contractbuilder.BuildFundingScript(
			hc.makerPub, outgoing.OutgoingReceiverPub, nextAmount,
		)
		if err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}
		if err := contractbuilder.VerifyContractWitness(
			nextContractTx, nextFundingScript, nextAmount, outgoing.OutgoingContractSig,
			hc.makerPub.SerializeCompressed(),
		); err != nil {
			return conns, nil, wrapFailure(hc.addr, err, true)
		}

		fundingTx = nextFundingTx
		contractTx = nextContractTx
		fundingScript = nextFundingScript
		senderPub = hc.makerPub
		senderSig = outgoing.OutgoingContractSig
		amount = nextAmount
	}

	// fundingTx/fundingScript/amount now describe the terminal
	// M_N->Taker leg: wait for it to confirm like every other hop, then
	// hand it back for Phase 4's cooperative close.
	if err := o.awaitFundingConfirmed(ctx, fundingTx, 0, fundingScript); err != nil {
		return conns, nil, wrapFailure(conns[n-1].addr, err, true)
	}

	final := &finalLeg{
		fundingTx:     fundingTx,
		fundingScript: fundingScript,
		amount:        amount,
	}

	// lastHop records the terminal leg for recovery (recoverSwap): it has
	// no ReceiverSig because the Taker never needs one handed over the
	// wire for its own key — the hash-path or timelock-path spend is
	// built directly from hopNPriv instead of a relayed cooperative
	// witness.
	lastHop := swap.Hop{
		Index:         n,
		HopAmount:     amount,
		Timelock:      schedule[n],
		FundingTxHex:  txHex(fundingTx),
		ContractTxHex: txHex(contractTx),
		SenderSig:     senderSig,
	}
	copy(lastHop.SenderPub[:], senderPub.SerializeCompressed())
	copy(lastHop.ReceiverPub[:], hopNPriv.PubKey().SerializeCompressed())
	swapCtx.Hops = append(swapCtx.Hops, lastHop)
	o.persist(swapCtx)

	return conns, final, nil
}

func requestSenderSig(hc *hopConn, fundingTx, contractTx *wire.MsgTx, fundingScript []byte,
	senderPub, receiverPub *btcec.PublicKey, timelock uint32) ([]byte, error) {

	req := &swapwire.ReqContractSigsForSender{
		FundingTxHex:         txHex(fundingTx),
		FundingOutputIndex:   0,
		ContractTxHex:        txHex(contractTx),
		ContractRedeemScript: fundingScript,
		SenderPub:            senderPub,
		ReceiverPub:          receiverPub,
		Timelock:             timelock,
		HopAmount:            btcutil.Amount(fundingTx.TxOut[0].Value),
	}
	if err := hc.send(req); err != nil {
		return nil, err
	}
	reply, err := hc.recv()
	if err != nil {
		return nil, err
	}
	sigsReply, ok := reply.(*swapwire.ContractSigsForSender)
	if !ok {
		return nil, &coinswaperr.ProtocolError{Peer: hc.addr.String(), Reason: "expected ContractSigsForSender"}
	}
	return sigsReply.Sig, nil
}

// buildHop0Txs funds the route's first hop out of the Taker's own
// wallet and signs its contract transaction as sender, the same way a
// Maker funds and signs its own outgoing leg in maker.conn's
// buildOutgoingTxs.
func (o *Orchestrator) buildHop0Txs(senderPriv *btcec.PrivateKey, receiverPub *btcec.PublicKey,
	amount btcutil.Amount, hash swap.HashValue, timelock uint32) ([]byte, *wire.MsgTx, *wire.MsgTx, []byte, error) {

	inputs, err := o.cfg.Wallet.SelectCoins(amount, fundingFeeRate)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	changeAddr, err := o.cfg.Wallet.NextAddress()
	if err != nil {
		return nil, nil, nil, nil, coinswaperr.Wrap(err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, nil, nil, nil, coinswaperr.Wrap(err)
	}

	senderPub := senderPriv.PubKey()

	fundingScript, _, err := contractbuilder.BuildFundingScript(senderPub, receiverPub, amount)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	fundingTx, err := contractbuilder.BuildFundingTx(
		inputs, senderPub, receiverPub, amount, fundingFeeRate, changeScript,
	)
	if err != nil {
		return nil, nil, nil, nil, err
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
	fundingTx, err = o.cfg.Wallet.SignInputs(fundingTx, descs)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	contractScript, err := contractbuilder.BuildContractScript(senderPub, receiverPub, hash, timelock)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	contractTx, err := contractbuilder.BuildContractTx(
		wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0}, amount, contractScript, contractFee,
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sig, err := contractbuilder.SignContract(contractTx, fundingScript, amount, senderPriv)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return fundingScript, contractTx, fundingTx, sig, nil
}

func (o *Orchestrator) awaitFundingConfirmed(ctx context.Context, fundingTx *wire.MsgTx,
	outIdx uint32, fundingScript []byte) error {

	handle, err := o.cfg.Watchtower.Register(ctx, watchtower.Contract{
		FundingTxid:     fundingTx.TxHash(),
		FundingOutpoint: wire.OutPoint{Hash: fundingTx.TxHash(), Index: outIdx},
		FundingPkScript: fundingTx.TxOut[outIdx].PkScript,
		Role:            watchtower.RoleSender,
	})
	if err != nil {
		return coinswaperr.Wrap(err)
	}
	defer o.cfg.Watchtower.Unregister(handle)

	ev, err := o.cfg.Watchtower.AwaitEvent(ctx, handle)
	if err != nil {
		return err
	}
	if ev.Kind != watchtower.EventFundingConfirmed {
		return &coinswaperr.ProtocolError{
			Reason: fmt.Sprintf("unexpected watchtower event %v while awaiting confirmation", ev.Kind),
		}
	}
	return nil
}

// revealAndClose implements spec.md §4.E Phase 3-4: the preimage is sent
// to every hop (last to first, matching swapwire.HashPreimageMsg's
// documented propagation direction), then hop0Priv is relayed into the
// chain of connections so each hop's two parties' keys "meet" at a
// Maker, who completes that hop's 2-of-2 signing authority and closes it
// cooperatively without ever broadcasting its contract script. Neither
// Maker in a hop ever talks to the other directly (spec.md §4.B's star
// topology), so the Taker is the only party that can carry a key from
// one connection to the next. By the time the handover chain reaches the
// end, carry holds M_N's half of the terminal leg's 2-of-2 key — paired
// with hopNPriv, the Taker's own half — which this Taker uses to close
// that leg straight into its own wallet (spec.md §3: "M_N funds the
// Taker's final sweep address").
func (o *Orchestrator) revealAndClose(conns []*hopConn, preimage swap.HashPreimage,
	hop0Priv, hopNPriv *btcec.PrivateKey, final *finalLeg) error {

	for i := len(conns) - 1; i >= 0; i-- {
		if err := conns[i].send(&swapwire.HashPreimageMsg{Preimage: preimage}); err != nil {
			return wrapFailure(conns[i].addr, err, true)
		}
	}

	carry := hop0Priv.Serialize()
	var lastAddr swap.MakerAddress
	for _, hc := range conns {
		lastAddr = hc.addr
		if err := hc.send(&swapwire.TakerPrivKeyHandover{PrivKey: carry}); err != nil {
			return wrapFailure(hc.addr, err, true)
		}
		reply, err := hc.recv()
		if err != nil {
			return wrapFailure(hc.addr, err, true)
		}
		mh, ok := reply.(*swapwire.MakerPrivKeyHandover)
		if !ok {
			return wrapFailure(hc.addr, &coinswaperr.ProtocolError{
				Peer: hc.addr.String(), Reason: "expected MakerPrivKeyHandover",
			}, true)
		}
		carry = mh.PrivKey
	}

	carryPriv := btcec.PrivKeyFromBytes(carry)

	destAddr, err := o.cfg.Wallet.NextAddress()
	if err != nil {
		return wrapFailure(lastAddr, coinswaperr.Wrap(err), true)
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return wrapFailure(lastAddr, coinswaperr.Wrap(err), true)
	}

	receiverOut := wire.NewTxOut(int64(final.amount-contractFee), destScript)
	closeTx, err := contractbuilder.BuildCooperativeCloseTx(
		wire.OutPoint{Hash: final.fundingTx.TxHash(), Index: 0}, final.amount, final.fundingScript,
		carryPriv.PubKey(), hopNPriv.PubKey(), nil, receiverOut,
	)
	if err != nil {
		return wrapFailure(lastAddr, err, true)
	}

	senderSig, err := contractbuilder.SignContract(closeTx, final.fundingScript, final.amount, carryPriv)
	if err != nil {
		return wrapFailure(lastAddr, err, true)
	}
	receiverSig, err := contractbuilder.SignContract(closeTx, final.fundingScript, final.amount, hopNPriv)
	if err != nil {
		return wrapFailure(lastAddr, err, true)
	}
	contractbuilder.AttachCooperativeWitness(
		closeTx, final.fundingScript,
		carryPriv.PubKey().SerializeCompressed(), senderSig,
		hopNPriv.PubKey().SerializeCompressed(), receiverSig,
	)

	if _, err := o.cfg.Wallet.Broadcast(closeTx); err != nil {
		return wrapFailure(lastAddr, coinswaperr.Wrap(err), true)
	}

	return nil
}

// recoverSwap handles AbortCase2/3 (spec.md §4.E "Abort taxonomy"): some
// hop's funding is already on-chain, so the route cannot simply be
// rebuilt. Every hop this Taker holds a complete two-signature contract
// witness for is unilaterally broadcast. For the two hops this Taker
// itself holds a private key on (hop 0 as funding sender, and the
// terminal M_N->Taker hop as receiver) it goes further and drives that
// hop's contract output all the way to a completed spend, crediting its
// own wallet, per spec.md §7 ("no error may abandon funds"): hop 0's
// timeout path is awaited and swept in the background since its relative
// timelock can span many blocks, while the terminal hop's hash path needs
// no wait and is swept immediately. Middle hops belong to two Makers that
// never disclosed a key to this Taker; their own recovery is their own
// responsibility.
func (o *Orchestrator) recoverSwap(ctx context.Context, swapCtx *swap.SwapContext, cause error,
	hop0Priv, hopNPriv *btcec.PrivateKey) error {

	changeAddr, addrErr := o.cfg.Wallet.NextAddress()
	var changeScript []byte
	if addrErr == nil {
		changeScript, addrErr = txscript.PayToAddrScript(changeAddr)
	}
	if addrErr != nil {
		log.Errorf("recovery: swap %x could not derive a recovery address: %v", swapCtx.ID, addrErr)
	}

	terminalIndex := len(swapCtx.Route.Makers)

	for _, hop := range swapCtx.Hops {
		if len(hop.SenderSig) == 0 {
			continue
		}
		contractTx, err := decodeTxHex(hop.ContractTxHex)
		if err != nil {
			log.Errorf("recovery: swap %x hop %d has an undecodable contract tx: %v",
				swapCtx.ID, hop.Index, err)
			continue
		}
		senderPub, err := btcec.ParsePubKey(hop.SenderPub[:])
		if err != nil {
			log.Errorf("recovery: swap %x hop %d has a malformed sender pubkey: %v",
				swapCtx.ID, hop.Index, err)
			continue
		}
		receiverPub, err := btcec.ParsePubKey(hop.ReceiverPub[:])
		if err != nil {
			log.Errorf("recovery: swap %x hop %d has a malformed receiver pubkey: %v",
				swapCtx.ID, hop.Index, err)
			continue
		}
		fundingScript, _, err := contractbuilder.BuildFundingScript(senderPub, receiverPub, hop.HopAmount)
		if err != nil {
			log.Errorf("recovery: swap %x hop %d funding script rebuild failed: %v",
				swapCtx.ID, hop.Index, err)
			continue
		}

		if len(hop.ReceiverSig) > 0 {
			contractTx.TxIn[0].Witness = contractbuilder.AssembleMultiSigWitness(
				fundingScript, hop.SenderPub[:], hop.SenderSig, hop.ReceiverPub[:], hop.ReceiverSig,
			)
			if _, err := o.cfg.Wallet.Broadcast(contractTx); err != nil {
				log.Warnf("recovery: swap %x hop %d contract broadcast failed (may already be "+
					"confirmed): %v", swapCtx.ID, hop.Index, err)
			}
		}

		if changeScript == nil {
			continue
		}
		contractScript, err := contractbuilder.BuildContractScript(senderPub, receiverPub, swapCtx.Hash, hop.Timelock)
		if err != nil {
			log.Errorf("recovery: swap %x hop %d contract script rebuild failed: %v",
				swapCtx.ID, hop.Index, err)
			continue
		}

		switch {
		case hop.Index == 0 && hop0Priv != nil:
			go o.sweepHopTimeout(context.Background(), swapCtx, contractTx, contractScript,
				hop, hop0Priv, changeScript)
		case hop.Index == terminalIndex && hopNPriv != nil:
			o.sweepHopHash(swapCtx, contractTx, contractScript, hopNPriv, changeScript)
		}
	}
	return fmt.Errorf("taker: swap %x aborted, recovery contracts broadcast where possible: %w",
		swapCtx.ID, cause)
}

// sweepHopTimeout waits for hop's contract transaction to confirm and its
// relative timelock to mature, then reclaims the hop 0 funding this Taker
// put up, via the timeout path (spec.md §4.A, §8 invariant 1). It runs in
// its own goroutine because the wait can span many blocks and must not
// block RunSwap's caller; "before terminating the process" (spec.md §7)
// is read as before the daemon exits, not before this call returns.
func (o *Orchestrator) sweepHopTimeout(ctx context.Context, swapCtx *swap.SwapContext,
	contractTx *wire.MsgTx, contractScript []byte, hop swap.Hop,
	senderKey *btcec.PrivateKey, changeScript []byte) {

	if o.cfg.Chain == nil {
		log.Errorf("recovery: swap %x hop %d cannot await timelock: no chain client configured",
			swapCtx.ID, hop.Index)
		return
	}
	if err := o.waitForContractTimelock(ctx, contractTx, hop.Timelock); err != nil {
		log.Errorf("recovery: swap %x hop %d timelock wait failed: %v", swapCtx.ID, hop.Index, err)
		return
	}

	timeoutTx, err := contractbuilder.BuildTimeoutTx(
		wire.OutPoint{Hash: contractTx.TxHash(), Index: 0}, btcutil.Amount(contractTx.TxOut[0].Value),
		contractScript, hop.Timelock, senderKey, changeScript, fundingFeeRate,
	)
	if err != nil {
		log.Errorf("recovery: swap %x hop %d timeout tx build failed: %v", swapCtx.ID, hop.Index, err)
		return
	}
	if _, err := o.cfg.Wallet.Broadcast(timeoutTx); err != nil {
		log.Errorf("recovery: swap %x hop %d timeout tx broadcast failed: %v", swapCtx.ID, hop.Index, err)
	}
}

// sweepHopHash immediately reclaims the terminal M_N->Taker hop through
// the hash path: the preimage is already known, so unlike the timeout
// path there is no timelock to wait out (spec.md §4.A).
func (o *Orchestrator) sweepHopHash(swapCtx *swap.SwapContext, contractTx *wire.MsgTx,
	contractScript []byte, receiverKey *btcec.PrivateKey, changeScript []byte) {

	sweepTx, err := contractbuilder.BuildSweepTx(
		wire.OutPoint{Hash: contractTx.TxHash(), Index: 0}, btcutil.Amount(contractTx.TxOut[0].Value),
		contractScript, swapCtx.Preimage, receiverKey, changeScript, fundingFeeRate,
	)
	if err != nil {
		log.Errorf("recovery: swap %x terminal hop sweep build failed: %v", swapCtx.ID, err)
		return
	}
	if _, err := o.cfg.Wallet.Broadcast(sweepTx); err != nil {
		log.Errorf("recovery: swap %x terminal hop sweep broadcast failed: %v", swapCtx.ID, err)
	}
}

// waitForContractTimelock blocks until contractTx has confirmed and its
// relative timelock has matured, so a timeout-path spend built against it
// will be valid.
func (o *Orchestrator) waitForContractTimelock(ctx context.Context, contractTx *wire.MsgTx,
	timelockBlocks uint32) error {

	txid := contractTx.TxHash()
	confSub, err := o.cfg.Chain.RegisterConfirmationsNtfn(
		ctx, &txid, contractTx.TxOut[0].PkScript, 1, 0,
	)
	if err != nil {
		return coinswaperr.Wrap(err)
	}
	defer confSub.Cancel()

	var confHeight int32
	select {
	case conf := <-confSub.Confirmed:
		confHeight = conf.BlockHeight
	case <-ctx.Done():
		return ctx.Err()
	}

	target := confHeight + int32(timelockBlocks)
	epochSub, err := o.cfg.Chain.RegisterBlockEpochNtfn(ctx, target)
	if err != nil {
		return coinswaperr.Wrap(err)
	}
	defer epochSub.Cancel()

	for {
		select {
		case epoch, ok := <-epochSub.Epochs:
			if !ok {
				return fmt.Errorf("taker: block epoch stream closed before height %d", target)
			}
			if !epoch.Disconnected && epoch.Height >= target {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
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
