package coinswapcfg

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "mainnet", cfg.Network)
	require.Equal(t, defaultRPCPort, cfg.RPCPort)
	require.NotEmpty(t, cfg.DataDir)
	require.Equal(t, "127.0.0.1:9051", cfg.Tor.Control)
}

func TestCleanAndExpandPathEnvVar(t *testing.T) {
	os.Setenv("COINSWAP_TEST_DIR", "/tmp/coinswap-test")
	defer os.Unsetenv("COINSWAP_TEST_DIR")

	got := cleanAndExpandPath("$COINSWAP_TEST_DIR/sub")
	require.Equal(t, "/tmp/coinswap-test/sub", got)
}

func TestCleanAndExpandPathEmpty(t *testing.T) {
	require.Equal(t, "", cleanAndExpandPath(""))
}
