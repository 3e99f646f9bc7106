package swapwire_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

func testPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

// TestMessageRoundTrip exercises spec.md §8 invariant 5,
// serialize(parse(m)) == m, for every message kind defined in spec.md §4.B.
func TestMessageRoundTrip(t *testing.T) {
	pub := testPubKey(t)

	tests := []struct {
		name string
		msg  swapwire.Message
	}{
		{"TakerHello", &swapwire.TakerHello{ProtocolVersion: 1}},
		{"GiveOffer", &swapwire.GiveOffer{}},
		{"MakerHello", &swapwire.MakerHello{ProtocolVersion: 1, Accepting: true}},
		{"Offer", &swapwire.Offer{
			BaseFee:               1000,
			RelativeFeePpb:        500,
			MinSize:               10_000,
			MaxSize:               1_000_000,
			RefundLocktime:        144,
			RequiredConfirmations: 1,
			FundingPub:            pub,
		}},
		{"ReqContractSigsForSender", &swapwire.ReqContractSigsForSender{
			FundingTxHex:         "deadbeef",
			FundingOutputIndex:   0,
			ContractTxHex:        "beefdead",
			ContractRedeemScript: []byte{0x63, 0x76, 0xa9},
			SenderPub:            pub,
			ReceiverPub:          pub,
			Timelock:             144,
			HopAmount:            500_000,
		}},
		{"ContractSigsForSender", &swapwire.ContractSigsForSender{
			Sig: []byte{0x30, 0x44, 0x02, 0x20},
		}},
		{"ProofOfFunding", &swapwire.ProofOfFunding{
			FundingTxHex:       "deadbeef",
			FundingOutputIndex: 1,
			NextHopReceiverPub: pub,
			NextHopAmount:      480_000,
			NextHopTimelock:    100,
			Hash:               swap.HashValue{1, 2, 3},
		}},
		{"ContractSigsAsRecvrAndSender", &swapwire.ContractSigsAsRecvrAndSender{
			IncomingContractSig:  []byte{0x01, 0x02},
			OutgoingFundingTxHex: "cafebabe",
			OutgoingContractTxHex: "babecafe",
			OutgoingContractSig:  []byte{0x03, 0x04},
			OutgoingReceiverPub:  pub,
		}},
		{"ReqContractSigsForRecvrAndSender", &swapwire.ReqContractSigsForRecvrAndSender{
			ProofOfFunding: swapwire.ProofOfFunding{
				FundingTxHex:       "deadbeef",
				FundingOutputIndex: 1,
				NextHopReceiverPub: pub,
				NextHopAmount:      480_000,
				NextHopTimelock:    100,
				Hash:               swap.HashValue{9, 9, 9},
			},
			IncomingContractTxHex:        "aa11",
			IncomingContractRedeemScript: []byte{0x01},
			IncomingSenderPub:            pub,
		}},
		{"HashPreimageMsg", &swapwire.HashPreimageMsg{
			Preimage: swap.HashPreimage{1, 2, 3, 4},
		}},
		{"TakerPrivKeyHandover", &swapwire.TakerPrivKeyHandover{
			PrivKey: []byte{0xaa, 0xbb, 0xcc},
		}},
		{"MakerPrivKeyHandover", &swapwire.MakerPrivKeyHandover{
			PrivKey: []byte{0xdd, 0xee, 0xff},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := swapwire.WriteMessage(&buf, tc.msg)
			require.NoError(t, err)

			parsed, err := swapwire.ReadMessage(&buf)
			require.NoError(t, err)

			require.Equal(t, tc.msg, parsed)
		})
	}
}

// TestReadMessageUnknownType verifies an unrecognized message type
// produces a typed error rather than a panic, and does not desync the
// stream's framing (spec.md §4.B).
func TestReadMessageUnknownType(t *testing.T) {
	var buf bytes.Buffer
	// Frame length 2 (just the type tag), type 9999 (unassigned).
	buf.Write([]byte{0x00, 0x00, 0x00, 0x02, 0x27, 0x0f})
	// A valid frame right after it must still decode.
	_, err := swapwire.WriteMessage(&buf, &swapwire.TakerHello{ProtocolVersion: 1})
	require.NoError(t, err)

	_, err = swapwire.ReadMessage(&buf)
	require.Error(t, err)

	var unknown *swapwire.UnknownMessageError
	require.ErrorAs(t, err, &unknown)

	next, err := swapwire.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, &swapwire.TakerHello{ProtocolVersion: 1}, next)
}

// TestReadMessageOversized verifies a frame claiming a payload larger than
// the maximum is rejected before any allocation/read of that payload.
func TestReadMessageOversized(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	// frameLen far exceeds swapwire.MaxMessagePayload.
	lenBuf[0] = 0xff
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	buf.Write(lenBuf[:])

	_, err := swapwire.ReadMessage(&buf)
	require.Error(t, err)
}
