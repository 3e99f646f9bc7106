package contractbuilder

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// P2WPKHSize is the estimated size in bytes of a single P2WPKH change
// output, used for dust-threshold calculations exactly as
// sweep/txgenerator.go computes it for sweep change outputs.
const P2WPKHSize = 31

// BuildFundingTx builds the funding transaction for one hop: it spends
// the given wallet UTXOs (possibly more than one — spec.md §4.A types
// this parameter as plural precisely to support the dynamic
// funding-split behavior validated in
// original_source/tests/funding_dynamic_splits.rs, where no single UTXO
// covers hop_amount plus fees without excessive change) and pays the
// 2-of-2 multisig output of amount hop_amount to (sender, receiver),
// returning any change to changeScript.
//
// The function is pure: given the same inputs, amount, fee rate and
// change script it always serializes the same transaction, which lets
// both hop parties agree on its txid before broadcast (spec.md §4.A).
func BuildFundingTx(inputs []swap.Utxo, senderPub, receiverPub *btcec.PublicKey,
	amount btcutil.Amount, feeRate btcutil.Amount,
	changeScript []byte) (*wire.MsgTx, error) {

	var totalIn btcutil.Amount
	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		totalIn += in.Value
		tx.AddTxIn(wire.NewTxIn(&in.OutPoint, nil, nil))
	}

	_, fundingOut, err := BuildFundingScript(senderPub, receiverPub, amount)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(fundingOut)

	estWeight := estimateFundingWeight(len(inputs), changeScript != nil)
	fee := feeRate * btcutil.Amount(estWeight) / 1000

	change := totalIn - amount - fee
	dustLimit := txrules.GetDustThreshold(P2WPKHSize, btcutil.Amount(feeRate))
	if change < 0 {
		return nil, &coinswaperr.InsufficientFunds{
			Requested: int64(amount + fee),
			Available: int64(totalIn),
		}
	}
	if change > dustLimit && changeScript != nil {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	return tx, nil
}

// estimateFundingWeight returns a coarse size estimate, in thousandths
// of a vbyte (vbytes x 1000, which BuildFundingTx scales by feeRate and
// divides by 1000), for a funding
// transaction with numInputs P2WKH inputs and a P2WSH funding output,
// optionally plus a P2WPKH change output. It is intentionally
// conservative (an upper bound), matching the teacher's approach of
// sizing before the final witness is known (sweep/txgenerator.go).
func estimateFundingWeight(numInputs int, hasChange bool) int64 {
	const baseVSize = 11
	const inputVSize = 68
	const fundingOutVSize = 43
	const changeOutVSize = 31

	size := int64(baseVSize) + int64(numInputs)*inputVSize + fundingOutVSize
	if hasChange {
		size += changeOutVSize
	}
	return size * 1000
}

// SighashForFunding returns the BIP-143 sighash digest for signing the
// funding transaction's sole input (used only in the rare case a hop's
// funding also needs co-signing, e.g. a dual-funded hop; for the common
// single-owner-funds case the wallet signs directly).
func SighashForFunding(fundingTx *wire.MsgTx, inputIndex int,
	prevOutScript []byte, amount btcutil.Amount) ([]byte, error) {

	hashCache := txscript.NewTxSigHashes(fundingTx, emptyPrevOutputFetcher(fundingTx, prevOutScript, amount))
	return txscript.CalcWitnessSigHash(
		prevOutScript, hashCache, txscript.SigHashAll, fundingTx,
		inputIndex, int64(amount),
	)
}

// emptyPrevOutputFetcher builds a minimal PrevOutputFetcher sufficient
// for single-input sighash computation, the way sweep/txgenerator.go
// constructs sighashes for its generated sweep transactions.
func emptyPrevOutputFetcher(tx *wire.MsgTx, script []byte,
	amount btcutil.Amount) txscript.PrevOutputFetcher {

	fetcher := txscript.NewCannedPrevOutputFetcher(script, int64(amount))
	return fetcher
}
