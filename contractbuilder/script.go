// Package contractbuilder is the stateless, deterministic transaction
// layer described in spec.md §4.A. It builds the 2-of-2 funding output,
// the HTLC contract script, the contract (commitment) transaction, and
// the hash-path/timelock-path sweep transactions. Identical inputs
// always yield byte-identical transactions, which is required so that
// both parties agree on txids off-chain before anything is broadcast.
//
// The script layout and signing idioms here are adapted from the
// teacher's commitment-transaction script builder
// (lnwallet/script_utils.go), collapsed from the Lightning channel's
// revocable-commitment script down to the single hash-path/timelock-path
// HTLC described in spec.md §3.
package contractbuilder

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// SequenceLockTimeMask masks a relative locktime down to the number of
// confirmations BIP-68 allows encoding directly (bits 0-15).
const SequenceLockTimeMask = uint32(0x0000ffff)

// lockTimeToSequence converts a relative locktime expressed in blocks
// into the nSequence value BIP-68/OP_CHECKSEQUENCEVERIFY expects.
func lockTimeToSequence(blocks uint32) uint32 {
	return SequenceLockTimeMask & blocks
}

// genMultiSigScript builds the non-P2SH 2-of-2 multisig redeem script for
// the funding output, sorting pubkeys lexicographically so both parties
// derive byte-identical scripts regardless of call order.
func genMultiSigScript(aPub, bPub []byte) ([]byte, error) {
	if len(aPub) != 33 || len(bPub) != 33 {
		return nil, &coinswaperr.ProtocolError{
			Reason: "multisig pubkeys must be 33-byte compressed keys",
		}
	}

	if bytes.Compare(aPub, bPub) == -1 {
		aPub, bPub = bPub, aPub
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(aPub)
	builder.AddData(bPub)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// witnessScriptHash wraps a redeem script in a P2WSH output script.
func witnessScriptHash(redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	scriptHash := chainhashSum(redeemScript)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// BuildFundingScript returns the 2-of-2 multisig redeem script and its
// matching P2WSH output for the funding transaction between sender S and
// receiver R, per spec.md §3's Hop definition.
func BuildFundingScript(senderPub, receiverPub *btcec.PublicKey,
	amount btcutil.Amount) ([]byte, *wire.TxOut, error) {

	if amount <= 0 {
		return nil, nil, &coinswaperr.InsufficientFunds{
			Requested: int64(amount),
		}
	}

	redeemScript, err := genMultiSigScript(
		senderPub.SerializeCompressed(), receiverPub.SerializeCompressed(),
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := witnessScriptHash(redeemScript)
	if err != nil {
		return nil, nil, err
	}

	return redeemScript, wire.NewTxOut(int64(amount), pkScript), nil
}

// BuildContractScript constructs the HTLC redeem script from spec.md §3:
//
//	IF <timelock> CSV DROP <S_pub> CHECKSIG
//	ELSE HASH160 <H> EQUALVERIFY <R_pub> CHECKSIG ENDIF
//
// Either party may broadcast the contract_tx after funding confirms; S
// can reclaim after the relative timelock, R can claim immediately by
// presenting the preimage.
func BuildContractScript(senderPub, receiverPub *btcec.PublicKey,
	hash swap.HashValue, timelockBlocks uint32) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddInt64(int64(lockTimeToSequence(timelockBlocks)))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(senderPub.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(hash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(receiverPub.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// ContractWitnessScriptHash wraps the contract redeem script in its
// P2WSH output script and amount.
func ContractWitnessScriptHash(contractScript []byte,
	amount btcutil.Amount) (*wire.TxOut, error) {

	pkScript, err := witnessScriptHash(contractScript)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(int64(amount), pkScript), nil
}

// AssembleMultiSigWitness exports spendMultiSig for callers outside this
// package that need to combine two already-collected contract
// signatures into a broadcastable witness, e.g. a Taker recovering funds
// by unilaterally broadcasting a hop's contract transaction (spec.md
// §4.E Phase 5).
func AssembleMultiSigWitness(redeemScript []byte, pubA, sigA, pubB, sigB []byte) wire.TxWitness {
	return spendMultiSig(redeemScript, pubA, sigA, pubB, sigB)
}

// spendMultiSig returns the witness stack required to cooperatively spend
// the 2-of-2 P2WSH funding output directly to each party's wallet
// (spec.md §4.E Phase 4, the privacy-optimal path that never reveals the
// contract script on-chain).
func spendMultiSig(redeemScript []byte, pubA, sigA, pubB, sigB []byte) wire.TxWitness {
	witness := make(wire.TxWitness, 4)
	witness[0] = nil

	if bytes.Compare(pubA, pubB) == -1 {
		witness[1] = sigB
		witness[2] = sigA
	} else {
		witness[1] = sigA
		witness[2] = sigB
	}

	witness[3] = redeemScript
	return witness
}

// chainhashSum returns the SHA256 digest of b, used to derive the P2WSH
// witness-program from a redeem script.
func chainhashSum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
