// Package watchtower tracks the on-chain state of every live contract a
// Maker or Taker is party to (spec.md §4.C). It is built around a
// ChainClient-driven poller modeled on chainntfs.ChainNotifier's three
// registration calls, composed into the five observable facts spec.md
// names: funding confirmed, funding unspent, contract broadcast,
// hash-path spend, timelock-path spend.
package watchtower

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/chainclient"
	"github.com/lightninglabs/coinswap/coinswaperr"
)

var log = build.NewSubLogger("WTCH")

// CONFIRMATION_DEPTH is the shallow confirmation floor funding outputs
// are considered confirmed at (spec.md §4.C, §9 open question). It is a
// named, overridable constant rather than a magic number precisely
// because spec.md flags required_confirms=1 as "dubious" against 1-block
// reorgs.
const CONFIRMATION_DEPTH = 1

// EventKind enumerates the five observable facts of spec.md §4.C.
type EventKind int

const (
	EventFundingConfirmed EventKind = iota
	EventFundingSpent
	EventContractBroadcast
	EventHashPathSpend
	EventTimelockPathSpend
)

func (e EventKind) String() string {
	switch e {
	case EventFundingConfirmed:
		return "FundingConfirmed"
	case EventFundingSpent:
		return "FundingSpent"
	case EventContractBroadcast:
		return "ContractBroadcast"
	case EventHashPathSpend:
		return "HashPathSpend"
	case EventTimelockPathSpend:
		return "TimelockPathSpend"
	default:
		return "Unknown"
	}
}

// Role distinguishes which party registered a contract, since the
// sender and receiver of a hop care about different events first (the
// receiver waits on confirmation and hash-path spends; the sender
// mainly waits on the timelock path).
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Contract is everything the Watchtower needs to follow one hop's
// funding and contract outputs.
type Contract struct {
	FundingTxid     chainhash.Hash
	FundingOutpoint wire.OutPoint
	FundingPkScript []byte

	ContractPkScript []byte
	Timelock         uint32

	Role Role
}

// Handle identifies one registered contract.
type Handle uint64

// Event is delivered to a caller blocked in AwaitEvent.
type Event struct {
	Kind        EventKind
	BlockHeight int32
	SpendTx     *wire.MsgTx
	Err         error
}

// registration tracks one live Contract's delivery channel and the
// ChainClient subscriptions backing it.
type registration struct {
	contract Contract
	events   chan *Event
	cancels  []func()

	// pending is not read or written anywhere: a hash-path or
	// timelock-path spend is forwarded as soon as it is observed, with no
	// finality-buffer delay.
	pending *Event
}

// Policy holds the operator-tunable knobs spec.md §9 calls out as open
// questions rather than fixed constants.
type Policy struct {
	// ConfirmationDepth overrides CONFIRMATION_DEPTH.
	ConfirmationDepth uint32

	// ReorgSafe, when true, makes a NegativeConf on a funding watch (S5)
	// only logged while the Watchtower keeps waiting on the same
	// subscription; when false, it is delivered to the caller as an
	// error Event.
	ReorgSafe bool

	// ContractFinalityBufferNum/Den express a fraction of a hop's
	// timelock, e.g. 1/4. The Watchtower does not consult them: it
	// reports a hash-path/timelock-path spend as soon as it sees it.
	ContractFinalityBufferNum uint32
	ContractFinalityBufferDen uint32
}

// DefaultPolicy matches spec.md §4.C's named defaults.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmationDepth:         CONFIRMATION_DEPTH,
		ReorgSafe:                true,
		ContractFinalityBufferNum: 1,
		ContractFinalityBufferDen: 4,
	}
}

// Watchtower is the coinswap §4.C component. One instance is shared by a
// running Maker or Taker process across every in-flight swap.
type Watchtower struct {
	chain  chainclient.ChainClient
	policy Policy

	mu      sync.Mutex
	nextID  uint64
	regs    map[Handle]*registration
	started int32
}

// New constructs a Watchtower backed by chain, the sole source of block
// and mempool truth per spec.md §6's ChainClient interface.
func New(chain chainclient.ChainClient, policy Policy) *Watchtower {
	return &Watchtower{
		chain:  chain,
		policy: policy,
		regs:   make(map[Handle]*registration),
	}
}

// Register begins tracking contract, returning a Handle used to await
// events and, eventually, unregister. This is spec.md §4.C's
// `register(contract, role) → Handle`.
func (w *Watchtower) Register(ctx context.Context, contract Contract) (Handle, error) {
	w.mu.Lock()
	id := Handle(atomic.AddUint64(&w.nextID, 1))
	reg := &registration{
		contract: contract,
		events:   make(chan *Event, 8),
	}
	w.regs[id] = reg
	w.mu.Unlock()

	if err := w.watchFunding(ctx, id, reg); err != nil {
		w.Unregister(id)
		return 0, err
	}

	return id, nil
}

// watchFunding wires up the confirmation and spend subscriptions for a
// freshly registered contract: funding confirmed, funding spent (which
// is itself the contract-broadcast event), and, once that fires, the
// contract output's own spend (hash-path vs timelock-path).
func (w *Watchtower) watchFunding(ctx context.Context, id Handle, reg *registration) error {
	height, err := w.chain.GetBlockHeight(ctx)
	if err != nil {
		return coinswaperr.Wrap(err)
	}

	confDepth := w.policy.ConfirmationDepth
	if confDepth == 0 {
		confDepth = CONFIRMATION_DEPTH
	}

	confSub, err := w.chain.RegisterConfirmationsNtfn(
		ctx, &reg.contract.FundingTxid, reg.contract.FundingPkScript, confDepth, uint32(height),
	)
	if err != nil {
		return err
	}
	reg.cancels = append(reg.cancels, confSub.Cancel)

	spendSub, err := w.chain.RegisterSpendNtfn(
		ctx, &reg.contract.FundingOutpoint, reg.contract.FundingPkScript, uint32(height),
	)
	if err != nil {
		return err
	}
	reg.cancels = append(reg.cancels, spendSub.Cancel)

	go w.dispatchFunding(ctx, id, reg, confSub, spendSub)

	return nil
}

func (w *Watchtower) dispatchFunding(ctx context.Context, id Handle, reg *registration,
	confSub *chainclient.ConfirmationSubscription, spendSub *chainclient.SpendSubscription) {

	for {
		select {
		case conf, ok := <-confSub.Confirmed:
			if !ok {
				return
			}
			w.deliver(reg, &Event{Kind: EventFundingConfirmed, BlockHeight: conf.BlockHeight})

		case depth, ok := <-confSub.NegativeConf:
			if !ok {
				return
			}
			if w.policy.ReorgSafe {
				log.Infof("funding confirmation for handle %d reorged at "+
					"depth %d, re-arming watch", id, depth)
				continue
			}
			w.deliver(reg, &Event{Err: fmt.Errorf("funding reorged out at depth %d", depth)})

		case spend, ok := <-spendSub.Spend:
			if !ok {
				return
			}
			w.deliver(reg, &Event{Kind: EventContractBroadcast, BlockHeight: spend.SpendingHeight, SpendTx: spend.SpendingTx})
			w.watchContractSpend(ctx, id, reg, spend)
			return

		case <-ctx.Done():
			return
		}
	}
}

// watchContractSpend classifies the eventual spend of the contract
// output as hash-path or timelock-path by inspecting the witness shape
// BuildSweepTx/BuildTimeoutTx produce: a hash-path witness carries a
// 32-byte preimage as its second element, a timelock-path witness
// carries a truthy single byte there instead (contractbuilder's sweep.go
// conventions).
func (w *Watchtower) watchContractSpend(ctx context.Context, id Handle, reg *registration,
	fundingSpend *chainclient.SpendDetail) {

	contractOutpoint := wire.OutPoint{Hash: fundingSpend.SpenderTxHash, Index: 0}

	height, err := w.chain.GetBlockHeight(ctx)
	if err != nil {
		w.deliver(reg, &Event{Err: coinswaperr.Wrap(err)})
		return
	}

	spendSub, err := w.chain.RegisterSpendNtfn(ctx, &contractOutpoint, reg.contract.ContractPkScript, uint32(height))
	if err != nil {
		w.deliver(reg, &Event{Err: err})
		return
	}

	select {
	case spend, ok := <-spendSub.Spend:
		if !ok {
			return
		}

		kind := classifyContractSpend(spend.SpendingTx)
		w.deliver(reg, &Event{Kind: kind, BlockHeight: spend.SpendingHeight, SpendTx: spend.SpendingTx})

	case <-ctx.Done():
	}
}

func classifyContractSpend(tx *wire.MsgTx) EventKind {
	if len(tx.TxIn) == 0 || len(tx.TxIn[0].Witness) < 2 {
		return EventHashPathSpend
	}
	secondElem := tx.TxIn[0].Witness[1]
	if len(secondElem) == 32 {
		return EventHashPathSpend
	}
	return EventTimelockPathSpend
}

func (w *Watchtower) deliver(reg *registration, ev *Event) {
	select {
	case reg.events <- ev:
	default:
		log.Warnf("event channel full, dropping %v", ev.Kind)
	}
}

// AwaitEvent blocks until handle's next event arrives or ctx is
// cancelled, spec.md §4.C's `await_event(Handle, EventKind, Deadline) →
// Result`. deadline-as-timeout is expressed by the caller's ctx.
func (w *Watchtower) AwaitEvent(ctx context.Context, handle Handle) (*Event, error) {
	w.mu.Lock()
	reg, ok := w.regs[handle]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("watchtower: unknown handle %d", handle)
	}

	select {
	case ev := <-reg.events:
		if ev.Err != nil {
			return ev, ev.Err
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unregister stops tracking handle and releases its ChainClient
// subscriptions, spec.md §4.C's `unregister(Handle)`.
func (w *Watchtower) Unregister(handle Handle) {
	w.mu.Lock()
	reg, ok := w.regs[handle]
	delete(w.regs, handle)
	w.mu.Unlock()
	if !ok {
		return
	}
	for _, cancel := range reg.cancels {
		cancel()
	}
}
