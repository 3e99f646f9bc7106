package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
)

func TestMakerListMessageRoundTrip(t *testing.T) {
	msg := makerListMessage{
		Makers: []swap.MakerAddress{
			{Network: "tcp", Host: "203.0.113.1:9735"},
			{Network: "onion", Host: "abcdefg.onion:9735"},
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded makerListMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, msg, decoded)
}

func TestHTTPDirectoryClientListMakersBeforeStart(t *testing.T) {
	c := NewHTTPDirectoryClient("ws://example.invalid")
	makers, err := c.ListMakers(nil)
	require.NoError(t, err)
	require.Empty(t, makers)
}
