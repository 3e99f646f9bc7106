// Package chainclient defines the ChainClient external interface
// (spec.md §6) and its two concrete backends, mirroring the way
// chainregistry.go in lnd selects between a neutrino light client and a
// full-node btcd RPC connection.
package chainclient

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SpendDetail mirrors chainntnfs.SpendDetail (chainntfs/chainntfs.go):
// the spending transaction, its id, the input index that spent the
// watched outpoint, and the height at which it was mined.
type SpendDetail struct {
	SpentOutPoint     wire.OutPoint
	SpenderTxHash     chainhash.Hash
	SpendingTx        *wire.MsgTx
	SpenderInputIndex uint32
	SpendingHeight    int32
}

// ConfirmationDetail mirrors chainntnfs.ConfirmationEvent's payload, minus
// the channel plumbing: the block height and hash a watched transaction
// confirmed at, and its index within that block.
type ConfirmationDetail struct {
	BlockHeight int32
	BlockHash   chainhash.Hash
	TxIndex     uint32
}

// BlockEpoch mirrors chainntnfs.BlockEpoch: metadata for a newly connected
// (or, on reorg, disconnected) tip block.
type BlockEpoch struct {
	Height       int32
	Hash         chainhash.Hash
	Disconnected bool
}

// ConfirmationSubscription is returned by RegisterConfirmationsNtfn; it
// delivers at most one Confirmed event. Both backends send NegativeConf
// events only while the transaction is still short of numConfs; once
// Confirmed is sent the watch ends, so a reorg that later removes the
// confirmation is not reported.
type ConfirmationSubscription struct {
	Confirmed    chan *ConfirmationDetail
	NegativeConf chan int32
	Cancel       func()
}

// SpendSubscription is returned by RegisterSpendNtfn, delivering the
// spending transaction once the watched outpoint is spent.
type SpendSubscription struct {
	Spend  chan *SpendDetail
	Cancel func()
}

// BlockEpochSubscription streams connected (and, on reorg, disconnected)
// blocks, starting with the next block connected after registration.
type BlockEpochSubscription struct {
	Epochs chan *BlockEpoch
	Cancel func()
}

// ChainClient is the external interface coinswap components use to watch
// and interact with the Bitcoin chain (spec.md §6), implemented by
// NeutrinoChainClient (SPV) and BtcdChainClient (full node RPC) in this
// package.
type ChainClient interface {
	// RegisterConfirmationsNtfn registers interest in txid reaching
	// numConfs confirmations, per chainntnfs.ChainNotifier.
	RegisterConfirmationsNtfn(ctx context.Context, txid *chainhash.Hash,
		pkScript []byte, numConfs, heightHint uint32) (*ConfirmationSubscription, error)

	// RegisterSpendNtfn registers interest in outpoint being spent.
	RegisterSpendNtfn(ctx context.Context, outpoint *wire.OutPoint,
		pkScript []byte, heightHint uint32) (*SpendSubscription, error)

	// RegisterBlockEpochNtfn streams blocks connected after the call.
	// Both backends ignore targetHeight; no earlier blocks are replayed.
	RegisterBlockEpochNtfn(ctx context.Context, targetHeight int32) (*BlockEpochSubscription, error)

	// BroadcastTransaction submits tx to the network, returning a
	// ProtocolError-wrapped rejection reason on failure (spec.md §7).
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) error

	// GetBlockHeight returns the chain's current best height, used by
	// the taker/maker to compute absolute deadlines from relative
	// timelocks.
	GetBlockHeight(ctx context.Context) (int32, error)

	// EstimateFeeRate returns a fee rate, in satoshis per kilobyte, for
	// a transaction the caller would like confirmed within
	// confTarget blocks.
	EstimateFeeRate(ctx context.Context, confTarget uint32) (btcutil.Amount, error)

	Start() error
	Stop() error
}
