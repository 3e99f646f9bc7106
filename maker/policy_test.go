package maker

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

func randPub(t *testing.T) *btcec.PublicKey {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestCheckIncomingContract(t *testing.T) {
	own := randPub(t)
	other := randPub(t)
	preimage, err := swap.NewPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	good := IncomingContractRequest{
		FundingSenderPub:   other,
		FundingReceiverPub: own,
		OwnPub:             own,
		Timelock:           200,
		Hash:               hash,
		QuotedAmount:       100_000,
		ActualAmount:       100_000,
	}
	require.NoError(t, CheckIncomingContract(good, 100, hash))

	t.Run("timelock too low", func(t *testing.T) {
		bad := good
		bad.Timelock = 50
		require.Error(t, CheckIncomingContract(bad, 100, hash))
	})

	t.Run("wrong hash", func(t *testing.T) {
		bad := good
		var other swap.HashValue
		bad.Hash = other
		require.Error(t, CheckIncomingContract(bad, 100, hash))
	})

	t.Run("underfunded", func(t *testing.T) {
		bad := good
		bad.ActualAmount = 50_000
		require.Error(t, CheckIncomingContract(bad, 100, hash))
	})

	t.Run("pubkey not ours", func(t *testing.T) {
		bad := good
		bad.FundingReceiverPub = randPub(t)
		bad.FundingSenderPub = randPub(t)
		require.Error(t, CheckIncomingContract(bad, 100, hash))
	})
}

func TestCheckOutgoingContract(t *testing.T) {
	preimage, err := swap.NewPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	good := OutgoingContractRequest{
		IncomingTimelock: 200,
		OutgoingTimelock: 150,
		IncomingAmount:   100_000,
		OutgoingAmount:   99_000,
		MakerFee:         1_000,
		Hash:             hash,
		ExpectedHash:     hash,
	}
	require.NoError(t, CheckOutgoingContract(good))

	t.Run("insufficient timelock margin", func(t *testing.T) {
		bad := good
		bad.OutgoingTimelock = 190
		require.Error(t, CheckOutgoingContract(bad))
	})

	t.Run("fee accounting mismatch", func(t *testing.T) {
		bad := good
		bad.OutgoingAmount = 100_000
		require.Error(t, CheckOutgoingContract(bad))
	})
}

func TestCheckOfferCompliance(t *testing.T) {
	offer := swapwire.Offer{
		MinSize:               10_000,
		MaxSize:               1_000_000,
		RequiredConfirmations: 1,
	}

	require.NoError(t, CheckOfferCompliance(offer, 50_000, 1))
	require.Error(t, CheckOfferCompliance(offer, 5_000, 1))
	require.Error(t, CheckOfferCompliance(offer, 2_000_000, 1))
	require.Error(t, CheckOfferCompliance(offer, 50_000, 0))
}

func TestMakerFee(t *testing.T) {
	offer := swapwire.Offer{
		BaseFee:        500,
		RelativeFeePpb: 1_000_000, // 0.1%
	}

	fee := MakerFee(offer, 1_000_000)
	require.Equal(t, int64(500+1_000), int64(fee))
}
