package taker

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/contractbuilder"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/walletrpc"
)

func TestHopFailureUnwrapsUnderlyingError(t *testing.T) {
	cause := errors.New("connection reset")
	hf := wrapFailure(swap.MakerAddress{Network: "test", Host: "m1"}, cause, true)

	require.True(t, hf.FundsCommitted)
	require.ErrorIs(t, hf, cause)

	var target *hopFailure
	require.True(t, errors.As(error(hf), &target))
	require.Equal(t, hf, target)
}

func TestCloseConnsToleratesNilEntries(t *testing.T) {
	// runHops can return a partially filled conns slice (a later hop
	// never got to dial), so closeConns must not panic on the gaps.
	require.NotPanics(t, func() {
		closeConns([]*hopConn{nil, {}, nil})
	})
}

func TestTxHexRoundTrip(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(5_000, []byte{0x00, 0x14}))

	h := txHex(tx)
	require.NotEmpty(t, h)

	decoded, err := decodeTxHex(h)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), decoded.TxHash())
}

func TestDecodeTxHexRejectsGarbage(t *testing.T) {
	_, err := decodeTxHex("not-hex")
	require.Error(t, err)

	_, err = decodeTxHex("deadbeef")
	require.Error(t, err)
}

// TestRecoverSwapBroadcastsCompleteHopsOnly builds two recorded hops, one
// with both signatures collected and one still missing its receiver
// signature (as if the Maker closed mid-negotiation), and checks that
// recoverSwap only ever broadcasts the former — the AbortCase2/3
// fallback of spec.md §4.E Phase 5 must never publish a contract it
// cannot actually complete the witness for.
func TestRecoverSwapBroadcastsCompleteHopsOnly(t *testing.T) {
	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	const amount = 50_000
	fundingScript, _, err := contractbuilder.BuildFundingScript(
		senderPriv.PubKey(), receiverPriv.PubKey(), amount,
	)
	require.NoError(t, err)

	contractScript, err := contractbuilder.BuildContractScript(
		senderPriv.PubKey(), receiverPriv.PubKey(), swap.HashValue{}, 200,
	)
	require.NoError(t, err)

	contractTx, err := contractbuilder.BuildContractTx(
		wire.OutPoint{Index: 0}, amount, contractScript, 300,
	)
	require.NoError(t, err)

	senderSig, err := contractbuilder.SignContract(contractTx, fundingScript, amount, senderPriv)
	require.NoError(t, err)
	receiverSig, err := contractbuilder.SignContract(contractTx, fundingScript, amount, receiverPriv)
	require.NoError(t, err)

	completeHop := swap.Hop{
		Index:         0,
		HopAmount:     amount,
		ContractTxHex: txHex(contractTx),
		SenderSig:     senderSig,
		ReceiverSig:   receiverSig,
	}
	copy(completeHop.SenderPub[:], senderPriv.PubKey().SerializeCompressed())
	copy(completeHop.ReceiverPub[:], receiverPriv.PubKey().SerializeCompressed())

	incompleteHop := swap.Hop{
		Index:         1,
		HopAmount:     amount,
		ContractTxHex: txHex(contractTx),
		SenderSig:     senderSig,
		// ReceiverSig deliberately left empty.
	}

	wallet := walletrpc.NewMockWallet(&chaincfg.RegressionNetParams, nil)
	o := &Orchestrator{cfg: Config{Wallet: wallet}}

	swapCtx := &swap.SwapContext{
		Hops: []swap.Hop{completeHop, incompleteHop},
	}

	err = o.recoverSwap(context.Background(), swapCtx, errors.New("maker vanished"), nil, nil)
	require.Error(t, err)

	broadcasts := wallet.Broadcasts()
	require.Len(t, broadcasts, 1)
	require.Equal(t, contractTx.TxHash(), broadcasts[0].TxHash())
	require.Len(t, broadcasts[0].TxIn[0].Witness, 4)
}
