package contractbuilder

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
)

func randKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

// TestFundingScriptDeterministic verifies that building the same funding
// script twice from identical inputs yields byte-identical output,
// spec.md §4.A's determinism requirement.
func TestFundingScriptDeterministic(t *testing.T) {
	sender := randKey(t)
	receiver := randKey(t)

	redeem1, out1, err := BuildFundingScript(
		sender.PubKey(), receiver.PubKey(), 500_000,
	)
	require.NoError(t, err)

	redeem2, out2, err := BuildFundingScript(
		sender.PubKey(), receiver.PubKey(), 500_000,
	)
	require.NoError(t, err)

	require.Equal(t, redeem1, redeem2)
	require.Equal(t, out1.PkScript, out2.PkScript)
}

// TestContractScriptHashPathSpend exercises the hash-path branch of the
// HTLC contract script end to end through the script VM, proving the
// receiver can claim with the correct preimage.
func TestContractScriptHashPathSpend(t *testing.T) {
	sender := randKey(t)
	receiver := randKey(t)

	preimage, err := swap.NewPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	contractScript, err := BuildContractScript(
		sender.PubKey(), receiver.PubKey(), hash, 144,
	)
	require.NoError(t, err)

	contractOut, err := ContractWitnessScriptHash(contractScript, 490_000)
	require.NoError(t, err)

	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	sweepTx.AddTxOut(wire.NewTxOut(480_000, contractOut.PkScript))

	fetcher := txscript.NewCannedPrevOutputFetcher(
		contractScript, contractOut.Value,
	)
	hashCache := txscript.NewTxSigHashes(sweepTx, fetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		sweepTx, hashCache, 0, contractOut.Value, contractScript,
		txscript.SigHashAll, receiver,
	)
	require.NoError(t, err)

	sweepTx.TxIn[0].Witness = wire.TxWitness{
		sig, preimage[:], nil, contractScript,
	}

	vm, err := txscript.NewEngine(
		contractOut.PkScript, sweepTx, 0, txscript.StandardVerifyFlags,
		nil, hashCache, contractOut.Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// TestContractScriptTimeoutPathSpend exercises the CSV timelock branch:
// the sender can only reclaim once the relative locktime has elapsed,
// modeled here by giving the spending input a matching nSequence.
func TestContractScriptTimeoutPathSpend(t *testing.T) {
	sender := randKey(t)
	receiver := randKey(t)

	var hash swap.HashValue
	contractScript, err := BuildContractScript(
		sender.PubKey(), receiver.PubKey(), hash, 144,
	)
	require.NoError(t, err)

	contractOut, err := ContractWitnessScriptHash(contractScript, 490_000)
	require.NoError(t, err)

	sweepTx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil)
	txIn.Sequence = lockTimeToSequence(144)
	sweepTx.AddTxIn(txIn)
	sweepTx.AddTxOut(wire.NewTxOut(480_000, contractOut.PkScript))

	fetcher := txscript.NewCannedPrevOutputFetcher(
		contractScript, contractOut.Value,
	)
	hashCache := txscript.NewTxSigHashes(sweepTx, fetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		sweepTx, hashCache, 0, contractOut.Value, contractScript,
		txscript.SigHashAll, sender,
	)
	require.NoError(t, err)

	sweepTx.TxIn[0].Witness = wire.TxWitness{sig, []byte{1}, contractScript}

	vm, err := txscript.NewEngine(
		contractOut.PkScript, sweepTx, 0, txscript.StandardVerifyFlags,
		nil, hashCache, contractOut.Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

func TestBuildFundingTxInsufficientFunds(t *testing.T) {
	sender := randKey(t)
	receiver := randKey(t)

	inputs := []swap.Utxo{{
		OutPoint: wire.OutPoint{Index: 0},
		Value:    btcutil.Amount(1000),
	}}

	_, err := BuildFundingTx(
		inputs, sender.PubKey(), receiver.PubKey(), 500_000, 10, nil,
	)
	require.Error(t, err)
}
