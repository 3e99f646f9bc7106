package chainclient

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/coinswaperr"
)

// BtcdChainClient implements ChainClient against a full node's RPC/
// websocket interface, the full-node leg of chainregistry.go's backend
// selection (the `else` branch that builds a btcrpcclient.ConnConfig).
type BtcdChainClient struct {
	client *rpcclient.Client

	mu        sync.Mutex
	blockSubs map[uint64]*BlockEpochSubscription
	nextSubID uint64
}

// NewBtcdChainClient dials a btcd full node using cfg, registering
// OnFilteredBlockConnected/Disconnected handlers exactly as
// chainregistry.go's btcdnotify.New does, then fans those callbacks out
// to every RegisterBlockEpochNtfn subscriber.
func NewBtcdChainClient(cfg *rpcclient.ConnConfig) (*BtcdChainClient, error) {
	b := &BtcdChainClient{
		blockSubs: make(map[uint64]*BlockEpochSubscription),
	}

	ntfnHandlers := &rpcclient.NotificationHandlers{
		OnFilteredBlockConnected: func(height int32, header *wire.BlockHeader, txns []*btcutil.Tx) {
			b.dispatchEpoch(&BlockEpoch{Height: height, Hash: header.BlockHash()})
		},
		OnFilteredBlockDisconnected: func(height int32, header *wire.BlockHeader) {
			b.dispatchEpoch(&BlockEpoch{Height: height, Hash: header.BlockHash(), Disconnected: true})
		},
	}

	client, err := rpcclient.New(cfg, ntfnHandlers)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	b.client = client

	return b, nil
}

func (b *BtcdChainClient) dispatchEpoch(epoch *BlockEpoch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.blockSubs {
		select {
		case sub.Epochs <- epoch:
		default:
		}
	}
}

func (b *BtcdChainClient) Start() error {
	return b.client.NotifyBlocks()
}

func (b *BtcdChainClient) Stop() error {
	b.client.Shutdown()
	return nil
}

func (b *BtcdChainClient) GetBlockHeight(ctx context.Context) (int32, error) {
	height, err := b.client.GetBlockCount()
	if err != nil {
		return 0, coinswaperr.Wrap(err)
	}
	return int32(height), nil
}

func (b *BtcdChainClient) EstimateFeeRate(ctx context.Context, confTarget uint32) (btcutil.Amount, error) {
	result, err := b.client.EstimateFee(int64(confTarget))
	if err != nil {
		return 0, coinswaperr.Wrap(err)
	}
	// EstimateFee returns BTC/kB; convert to satoshis/kB.
	amt, err := btcutil.NewAmount(result)
	if err != nil {
		return 0, coinswaperr.Wrap(err)
	}
	return amt, nil
}

func (b *BtcdChainClient) BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) error {
	_, err := b.client.SendRawTransaction(tx, false)
	if err != nil {
		return &coinswaperr.ProtocolError{Reason: "broadcast rejected: " + err.Error()}
	}
	return nil
}

func (b *BtcdChainClient) RegisterBlockEpochNtfn(ctx context.Context, targetHeight int32) (*BlockEpochSubscription, error) {
	sub := &BlockEpochSubscription{Epochs: make(chan *BlockEpoch, 20)}

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.blockSubs[id] = sub
	b.mu.Unlock()

	sub.Cancel = func() {
		b.mu.Lock()
		delete(b.blockSubs, id)
		b.mu.Unlock()
	}
	return sub, nil
}

// RegisterSpendNtfn polls GetTxOut until the target outpoint's output is
// reported spent, the simplest correct approach against a full node that
// does not support a push-based spend notification for arbitrary
// outpoints (btcd's websocket API only pushes block and mempool events).
func (b *BtcdChainClient) RegisterSpendNtfn(ctx context.Context, outpoint *wire.OutPoint,
	pkScript []byte, heightHint uint32) (*SpendSubscription, error) {

	sub := &SpendSubscription{Spend: make(chan *SpendDetail, 1)}

	epochs, err := b.RegisterBlockEpochNtfn(ctx, int32(heightHint))
	if err != nil {
		return nil, err
	}
	sub.Cancel = epochs.Cancel

	go func() {
		for {
			select {
			case epoch, ok := <-epochs.Epochs:
				if !ok || epoch.Disconnected {
					continue
				}
				txOut, err := b.client.GetTxOut(&outpoint.Hash, outpoint.Index, true)
				if err != nil {
					continue
				}
				if txOut != nil {
					// Still unspent.
					continue
				}

				block, err := b.client.GetBlock(&epoch.Hash)
				if err != nil {
					continue
				}
				for _, tx := range block.Transactions {
					for i, in := range tx.TxIn {
						if in.PreviousOutPoint == *outpoint {
							sub.Spend <- &SpendDetail{
								SpentOutPoint:     *outpoint,
								SpenderTxHash:     tx.TxHash(),
								SpendingTx:        tx,
								SpenderInputIndex: uint32(i),
								SpendingHeight:    epoch.Height,
							}
							return
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// RegisterConfirmationsNtfn polls block epochs and counts confirmations
// against heightHint, the full-node analogue of
// chainntnfs.ChainNotifier's confirmation tracking.
func (b *BtcdChainClient) RegisterConfirmationsNtfn(ctx context.Context, txid *chainhash.Hash,
	pkScript []byte, numConfs, heightHint uint32) (*ConfirmationSubscription, error) {

	sub := &ConfirmationSubscription{
		Confirmed:    make(chan *ConfirmationDetail, 1),
		NegativeConf: make(chan int32, 1),
	}

	epochs, err := b.RegisterBlockEpochNtfn(ctx, int32(heightHint))
	if err != nil {
		return nil, err
	}
	sub.Cancel = epochs.Cancel

	go func() {
		for {
			select {
			case epoch, ok := <-epochs.Epochs:
				if !ok {
					return
				}
				if epoch.Disconnected {
					select {
					case sub.NegativeConf <- epoch.Height:
					default:
					}
					continue
				}

				confs := uint32(epoch.Height) - heightHint + 1
				if confs < numConfs {
					continue
				}
				select {
				case sub.Confirmed <- &ConfirmationDetail{
					BlockHeight: epoch.Height,
					BlockHash:   epoch.Hash,
				}:
				default:
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
