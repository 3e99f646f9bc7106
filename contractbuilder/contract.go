package contractbuilder

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/coinswap/coinswaperr"
)

// BuildContractTx builds the pre-signed spend of a hop's funding output
// into the HTLC contract script (spec.md §3/§4.A). Its nLockTime is
// always 0; the CSV value baked into the script governs the relative
// timelock, not the transaction's own locktime.
func BuildContractTx(fundingOutpoint wire.OutPoint, fundingAmount btcutil.Amount,
	contractScript []byte, contractFee btcutil.Amount) (*wire.MsgTx, error) {

	if contractFee >= fundingAmount {
		return nil, &coinswaperr.InsufficientFunds{
			Requested: int64(contractFee),
			Available: int64(fundingAmount),
		}
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = 0

	txIn := wire.NewTxIn(&fundingOutpoint, nil, nil)
	// Sequence must be BIP-68 "relative timelock disabled" at the
	// funding-spend input itself; the CSV gate lives in the script's
	// IF-branch and is only enforced when that branch executes, not
	// on the input's own nSequence. We leave it at the default max
	// here; the sweep/timeout transactions that later spend this
	// contract output set nSequence to the CSV value instead.
	txIn.Sequence = wire.MaxTxInSequenceNum
	tx.AddTxIn(txIn)

	out, err := ContractWitnessScriptHash(contractScript, fundingAmount-contractFee)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(out)

	return tx, nil
}

// SighashForContract computes the BIP-143 witness sighash for the
// contract transaction's sole input, spending the 2-of-2 funding script.
func SighashForContract(contractTx *wire.MsgTx, fundingScript []byte,
	fundingAmount btcutil.Amount) ([]byte, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		fundingScript, int64(fundingAmount),
	)
	hashCache := txscript.NewTxSigHashes(contractTx, fetcher)

	return txscript.CalcWitnessSigHash(
		fundingScript, hashCache, txscript.SigHashAll, contractTx,
		0, int64(fundingAmount),
	)
}

// SignContract produces the signature a party contributes toward a
// contract transaction's witness, over the redeem (funding) script.
func SignContract(contractTx *wire.MsgTx, fundingScript []byte,
	fundingAmount btcutil.Amount, priv *btcec.PrivateKey) ([]byte, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		fundingScript, int64(fundingAmount),
	)
	hashCache := txscript.NewTxSigHashes(contractTx, fetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		contractTx, hashCache, 0, int64(fundingAmount), fundingScript,
		txscript.SigHashAll, priv,
	)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return sig, nil
}

// VerifyContractSig checks that sig is a valid signature over digest
// under pubkey. Signatures carry a trailing sighash-type byte per
// BIP-143, which is stripped before DER parsing.
func VerifyContractSig(sig, digest []byte, pubkey *btcec.PublicKey) bool {
	if len(sig) < 1 {
		return false
	}

	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false
	}

	return parsed.Verify(digest, pubkey)
}

// VerifyContractWitness checks one signature (senderSig under senderPub)
// over the contract transaction's sighash; it does not assemble or check
// the full two-signature witness. It is used by a
// receiving party to confirm a peer's returned ContractSigsFor* message
// actually unlocks the expected script before persisting it.
func VerifyContractWitness(contractTx *wire.MsgTx, fundingScript []byte,
	fundingAmount btcutil.Amount, senderSig, senderPub []byte) error {

	digest, err := SighashForContract(contractTx, fundingScript, fundingAmount)
	if err != nil {
		return err
	}

	pub, err := btcec.ParsePubKey(senderPub)
	if err != nil {
		return &coinswaperr.ProtocolError{Reason: "malformed pubkey"}
	}

	if !VerifyContractSig(senderSig, digest, pub) {
		return &coinswaperr.ProtocolError{
			Reason: "contract signature does not verify",
		}
	}
	return nil
}

// Txid returns the transaction id of tx without serializing it twice,
// used by both parties to agree on a contract's id before broadcast
// (spec.md §4.A determinism requirement).
func Txid(tx *wire.MsgTx) chainhash.Hash {
	return tx.TxHash()
}
