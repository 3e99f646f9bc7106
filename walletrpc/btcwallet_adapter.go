package walletrpc

import (
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	base "github.com/btcsuite/btcwallet/wallet"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// BtcWalletAdapter wraps a running *base.Wallet (btcwallet) and
// wtxmgr.Store, the same pairing chainregistry.go's btcwallet.New return
// value provides to lnwallet.LightningWallet, repurposed here to
// implement the coinswap Wallet interface directly rather than through
// a channel-funding abstraction.
type BtcWalletAdapter struct {
	wallet *base.Wallet
	policy CoinSelectionPolicy

	mu        sync.Mutex
	contracts map[wire.OutPoint]ContractRole
}

// NewBtcWalletAdapter wraps wallet, defaulting to the privacy-preserving
// GroupByAddress coin selection policy spec.md §9 resolves as the
// default.
func NewBtcWalletAdapter(wallet *base.Wallet, policy CoinSelectionPolicy) *BtcWalletAdapter {
	return &BtcWalletAdapter{
		wallet:    wallet,
		policy:    policy,
		contracts: make(map[wire.OutPoint]ContractRole),
	}
}

func (a *BtcWalletAdapter) NextAddress() (btcutil.Address, error) {
	addr, err := a.wallet.NewAddress(waddrmgr.DefaultAccountNum, waddrmgr.KeyScopeBIP0084)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return addr, nil
}

// SelectCoins implements the two policies described on
// CoinSelectionPolicy: GroupByAddress pulls every UTXO sharing an
// address with any UTXO the naive amount-first pass selects, before
// checking the running total against amount; MinimizeInputs stops as
// soon as the naive pass covers it.
func (a *BtcWalletAdapter) SelectCoins(amount, feeRate btcutil.Amount) ([]swap.Utxo, error) {
	unspent, err := a.wallet.ListUnspent(0, 9999999, "")
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := make([]swap.Utxo, 0, len(unspent))
	for _, u := range unspent {
		op := wire.OutPoint{}
		hash, hErr := chainhashFromStr(u.TxID)
		if hErr != nil {
			continue
		}
		op.Hash = *hash
		op.Index = u.Vout

		if _, reserved := a.contracts[op]; reserved {
			continue
		}

		pkScript, err := decodeHexScript(u.ScriptPubKey)
		if err != nil {
			continue
		}

		amt, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			continue
		}

		candidates = append(candidates, swap.Utxo{
			OutPoint: op,
			Value:    amt,
			PkScript: pkScript,
			Address:  u.Address,
		})
	}

	// Sort by descending value for a deterministic naive selection
	// pass, the simplest correct largest-first strategy.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

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

	if a.policy == GroupByAddress {
		selected = groupByAddress(selected, candidates)
	}

	return selected, nil
}

// groupByAddress extends selected with every other candidate sharing an
// address with a UTXO already selected, per original_source's
// address-grouping coin selection test.
func groupByAddress(selected, candidates []swap.Utxo) []swap.Utxo {
	addrs := make(map[string]bool)
	for _, u := range selected {
		addrs[u.Address] = true
	}

	have := make(map[wire.OutPoint]bool)
	for _, u := range selected {
		have[u.OutPoint] = true
	}

	for _, c := range candidates {
		if addrs[c.Address] && !have[c.OutPoint] {
			selected = append(selected, c)
			have[c.OutPoint] = true
		}
	}
	return selected
}

func (a *BtcWalletAdapter) SignInputs(tx *wire.MsgTx, descs []ScriptSigDescriptor) (*wire.MsgTx, error) {
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

func (a *BtcWalletAdapter) Broadcast(tx *wire.MsgTx) (*wire.OutPoint, error) {
	if err := a.wallet.PublishTransaction(tx, ""); err != nil {
		return nil, &coinswaperr.ProtocolError{Reason: "broadcast rejected: " + err.Error()}
	}
	txid := tx.TxHash()
	return &wire.OutPoint{Hash: txid, Index: 0}, nil
}

func (a *BtcWalletAdapter) RegisterContract(outpoint wire.OutPoint, role ContractRole,
	keys [2]*btcec.PublicKey) error {

	a.mu.Lock()
	defer a.mu.Unlock()
	a.contracts[outpoint] = role
	return nil
}

func (a *BtcWalletAdapter) MarkSpent(outpoint wire.OutPoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.contracts, outpoint)
	return nil
}
