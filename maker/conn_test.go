package maker

import (
	"net"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/contractbuilder"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

// pipeConn adapts a net.Conn from net.Pipe into transport.Conn for tests,
// the same wrapping shape transport.tcpConn uses for a real net.Conn.
type pipeConn struct {
	net.Conn
}

func (pipeConn) RemoteAddr() swap.MakerAddress {
	return swap.MakerAddress{Network: "test", Host: "peer"}
}

func testOffer() swapwire.Offer {
	return swapwire.Offer{
		BaseFee:               100,
		RelativeFeePpb:        1_000_000,
		MinSize:               1_000,
		MaxSize:               10_000_000,
		RefundLocktime:        144,
		RequiredConfirmations: 1,
	}
}

// TestAbortCase1ClosesBeforeSigning verifies that a Maker running
// CloseAtContractSigsForSender drops the connection instead of returning
// ContractSigsForSender, the AbortCase1 fault point of spec.md §4.E's
// abort taxonomy.
func TestAbortCase1ClosesBeforeSigning(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	m := &Maker{
		cfg: Config{
			Offer:    testOffer(),
			Behavior: CloseAtContractSigsForSender,
		},
		conns: make(map[swap.SwapID]*conn),
		quit:  make(chan struct{}),
	}
	c := newConn(m, pipeConn{server})
	c.state = StateOfferGiven

	senderPriv, _ := btcec.NewPrivateKey()
	contractScript, err := contractbuilder.BuildContractScript(
		senderPriv.PubKey(), c.hopPriv.PubKey(), swap.HashValue{}, 200,
	)
	require.NoError(t, err)
	contractTx := wire.NewMsgTx(2)
	contractTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))

	req := &swapwire.ReqContractSigsForSender{
		ContractTxHex:        txHex(contractTx),
		ContractRedeemScript: contractScript,
		SenderPub:            senderPriv.PubKey(),
		ReceiverPub:          c.hopPriv.PubKey(),
		Timelock:             200,
		HopAmount:            5_000,
	}

	err = c.dispatch(req)
	require.Error(t, err)
	var closedErr *coinswaperr.PeerClosed
	require.ErrorAs(t, err, &closedErr)

	// state must not have advanced past OfferGiven: no signature was
	// ever produced or sent.
	require.Equal(t, StateOfferGiven, c.state)
}
