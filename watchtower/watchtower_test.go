package watchtower

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestClassifyContractSpendHashPath(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{
			make([]byte, 70),
			make([]byte, 32), // preimage
			nil,
			make([]byte, 40),
		},
	})

	require.Equal(t, EventHashPathSpend, classifyContractSpend(tx))
}

func TestClassifyContractSpendTimelockPath(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{
			make([]byte, 70),
			{1},
			make([]byte, 40),
		},
	})

	require.Equal(t, EventTimelockPathSpend, classifyContractSpend(tx))
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, uint32(CONFIRMATION_DEPTH), p.ConfirmationDepth)
	require.True(t, p.ReorgSafe)
}
