package swap

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is a spendable wallet output, the unit the Wallet interface's
// select_coins returns (spec.md §6).
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
	Address  string
	PrivKey  *btcec.PrivateKey
}
