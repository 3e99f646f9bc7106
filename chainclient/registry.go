package chainclient

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // registers the "bdb" driver
	"github.com/lightninglabs/neutrino"

	"github.com/lightninglabs/coinswap/coinswaperr"
)

// Config selects and configures exactly one ChainClient backend, the
// coinswap-scoped analogue of chainregistry.go's config+NeutrinoMode
// split (collapsed to a single Bitcoin-only chain, since coinswap never
// operates across chains per spec.md's scope).
type Config struct {
	ChainParams *chaincfg.Params

	// Neutrino, if true, selects the SPV backend; otherwise the full
	// node RPC backend is used.
	Neutrino bool

	// NeutrinoDataDir is the directory neutrino stores its header/filter
	// databases in, used only when Neutrino is true.
	NeutrinoDataDir string
	ConnectPeers    []string
	AddPeers        []string

	// RPCHost/RPCUser/RPCPass/RPCCert configure the full-node backend,
	// used only when Neutrino is false.
	RPCHost string
	RPCUser string
	RPCPass string
	RPCCert []byte
}

// NewChainClient constructs the concrete ChainClient backend selected by
// cfg, mirroring newChainControlFromConfig's two branches in
// chainregistry.go.
func NewChainClient(cfg *Config) (ChainClient, func(), error) {
	if cfg.Neutrino {
		return newNeutrinoBackend(cfg)
	}
	return newBtcdBackend(cfg)
}

func newNeutrinoBackend(cfg *Config) (ChainClient, func(), error) {
	db, err := walletdb.Create("bdb", cfg.NeutrinoDataDir+"/neutrino.db", true)
	if err != nil {
		return nil, nil, coinswaperr.Wrap(err)
	}

	neutrino.WaitForMoreCFHeaders = 0
	neutrino.MaxPeers = 8

	svc, err := neutrino.NewChainService(neutrino.Config{
		DataDir:      cfg.NeutrinoDataDir,
		Database:     db,
		ChainParams:  *cfg.ChainParams,
		ConnectPeers: cfg.ConnectPeers,
		AddPeers:     cfg.AddPeers,
	})
	if err != nil {
		db.Close()
		return nil, nil, coinswaperr.Wrap(err)
	}

	client := NewNeutrinoChainClient(svc, cfg.ChainParams)
	cleanup := func() {
		client.Stop()
		db.Close()
	}
	return client, cleanup, nil
}

func newBtcdBackend(cfg *Config) (ChainClient, func(), error) {
	host := cfg.RPCHost
	if host == "" {
		return nil, nil, fmt.Errorf("chainclient: RPCHost required for the btcd backend")
	}

	rpcCfg := &rpcclient.ConnConfig{
		Host:                 host,
		Endpoint:             "ws",
		User:                 cfg.RPCUser,
		Pass:                 cfg.RPCPass,
		Certificates:         cfg.RPCCert,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
	}

	client, err := NewBtcdChainClient(rpcCfg)
	if err != nil {
		return nil, nil, err
	}

	return client, func() { client.Stop() }, nil
}
