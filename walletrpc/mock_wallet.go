package walletrpc

import (
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// MockWallet is an in-memory Wallet used by every other package's test
// suite, in the spirit of htlcswitch/mock.go's mockServer/mockChannelLink
// pair — a small hand-rolled fake rather than a generated mock, since the
// interface is narrow.
type MockWallet struct {
	Params *chaincfg.Params
	Policy CoinSelectionPolicy

	mu         sync.Mutex
	utxos      []swap.Utxo
	contracts  map[wire.OutPoint]ContractRole
	broadcasts []*wire.MsgTx
	addrIndex  int
}

// NewMockWallet seeds a MockWallet with the given UTXOs.
func NewMockWallet(params *chaincfg.Params, utxos []swap.Utxo) *MockWallet {
	return &MockWallet{
		Params:    params,
		Policy:    GroupByAddress,
		utxos:     append([]swap.Utxo(nil), utxos...),
		contracts: make(map[wire.OutPoint]ContractRole),
	}
}

func (m *MockWallet) NextAddress() (btcutil.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addrIndex++
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(pkHash, m.Params)
}

func (m *MockWallet) SelectCoins(amount, feeRate btcutil.Amount) ([]swap.Utxo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]swap.Utxo, 0, len(m.utxos))
	for _, u := range m.utxos {
		if _, reserved := m.contracts[u.OutPoint]; !reserved {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Value > candidates[j].Value })

	var (
		selected []swap.Utxo
		total    btcutil.Amount
	)
	for _, c := range candidates {
		if total >= amount {
			break
		}
		selected = append(selected, c)
		total += c.Value
	}
	if total < amount {
		return nil, &coinswaperr.InsufficientFunds{
			Requested: int64(amount), Available: int64(total),
		}
	}

	if m.Policy == GroupByAddress {
		selected = groupByAddress(selected, candidates)
	}

	return selected, nil
}

func (m *MockWallet) SignInputs(tx *wire.MsgTx, descs []ScriptSigDescriptor) (*wire.MsgTx, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, d := range descs {
		fetcher.AddPrevOut(tx.TxIn[d.InputIndex].PreviousOutPoint, &wire.TxOut{
			Value:    int64(d.Amount),
			PkScript: d.WitnessScript,
		})
	}
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	for _, d := range descs {
		sig, err := txscript.RawTxInWitnessSignature(
			tx, hashCache, d.InputIndex, int64(d.Amount), d.WitnessScript,
			txscript.SigHashAll, d.PrivKey,
		)
		if err != nil {
			return nil, coinswaperr.Wrap(err)
		}
		tx.TxIn[d.InputIndex].Witness = wire.TxWitness{sig}
	}
	return tx, nil
}

func (m *MockWallet) Broadcast(tx *wire.MsgTx) (*wire.OutPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, tx)
	txid := tx.TxHash()
	return &wire.OutPoint{Hash: txid, Index: 0}, nil
}

// Broadcasts returns every transaction Broadcast has recorded, for test
// assertions.
func (m *MockWallet) Broadcasts() []*wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*wire.MsgTx(nil), m.broadcasts...)
}

func (m *MockWallet) RegisterContract(outpoint wire.OutPoint, role ContractRole,
	keys [2]*btcec.PublicKey) error {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[outpoint] = role
	return nil
}

func (m *MockWallet) MarkSpent(outpoint wire.OutPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contracts, outpoint)
	return nil
}
