// Package coinswapcfg loads coinswapd/takercli/makercli configuration
// from flags and an optional INI config file, in the same two-pass
// style lnd.go's loadConfig uses: parse once for --configfile and
// --datadir overrides, read the file, then re-parse flags over the top
// so the command line always wins.
package coinswapcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/lightninglabs/coinswap/build"
)

const (
	defaultConfigFilename = "coinswap.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "coinswap.log"
	defaultRPCPort        = 10019
	defaultRESTPort       = 10020
	defaultMetricsPort    = 9735
	defaultMaxLogFiles    = 3

	defaultClearnetListen = ":9836"
)

var (
	defaultCoinswapDir = build.DefaultHomeDir(".coinswap")
	defaultConfigFile  = filepath.Join(defaultCoinswapDir, defaultConfigFilename)
	defaultDataDir     = filepath.Join(defaultCoinswapDir, defaultDataDirname)
	defaultLogDir      = filepath.Join(defaultCoinswapDir, defaultLogDirname)
)

// Config holds every setting coinswapd/takercli/makercli accept, mirroring
// lnd.go's single top-level config struct parsed once at startup.
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	ConfigFile  string `long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"d" long:"datadir" description:"Directory to store swap journal and wallet data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles int    `long:"maxlogfiles" description:"Maximum log files to keep (0 for no rotation)"`
	DebugLevel  string `long:"debuglevel" description:"Logging level for all subsystems, or <subsystem>=<level>,... overrides"`

	Network string `long:"network" description:"Bitcoin network to operate on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet"`

	Neutrino bool   `long:"neutrino" description:"Use an SPV (neutrino) chain backend instead of a full node"`
	RPCHost  string `long:"rpchost" description:"Full node RPC host:port"`
	RPCUser  string `long:"rpcuser" description:"Full node RPC username"`
	RPCPass  string `long:"rpcpass" description:"Full node RPC password"`
	RPCCert  string `long:"rpccert" description:"Full node RPC TLS certificate path"`

	DirectoryURL string `long:"directory" description:"Directory/market server websocket endpoint"`

	ClearnetListen string `long:"listen" description:"Clearnet address to listen for inbound swap connections on"`
	ExternalPort   int    `long:"externalport" description:"External port to map via UPnP/NAT-PMP"`

	Tor struct {
		Active           bool   `long:"active" description:"Route swap connections over Tor"`
		Control          string `long:"control" description:"Tor control port address"`
		SOCKS            string `long:"socks" description:"Tor SOCKS5 proxy address"`
		V2PrivateKeyPath string `long:"v2privatekeypath" description:"Path to persist the onion service's v2 private key"`
	} `group:"Tor" namespace:"tor"`

	RPCPort     int `long:"rpcport" description:"Reserved control port; nothing listens on it"`
	RESTPort    int `long:"restport" description:"Reserved REST port; nothing listens on it"`
	MetricsPort int `long:"metricsport" description:"Port to serve Prometheus metrics on"`

	Profile string `long:"profile" description:"Enable HTTP profiling on the given port"`

	// Maker groups the policy a coinswapd instance advertises when it
	// runs in the Maker role, mirroring swapwire.Offer field for field.
	Maker struct {
		Enable                bool   `long:"enable" description:"Accept inbound swap connections as a Maker"`
		BaseFee               int64  `long:"basefee" description:"Flat fee in satoshis charged per hop"`
		RelativeFeePpb        int64  `long:"relativefeeppb" description:"Proportional fee in parts per billion charged per hop"`
		MinSize               int64  `long:"minsize" description:"Minimum hop amount in satoshis this Maker accepts"`
		MaxSize               int64  `long:"maxsize" description:"Maximum hop amount in satoshis this Maker accepts"`
		RefundLocktime        uint32 `long:"refundlocktime" description:"Minimum incoming timelock, in blocks, this Maker will accept"`
		RequiredConfirmations uint32 `long:"requiredconfs" description:"Confirmations required on an incoming funding transaction before this Maker signs its outgoing leg"`
	} `group:"Maker" namespace:"maker"`
}

// DefaultConfig returns a Config pre-populated with every default value,
// the starting point loadConfig's flags.NewParser overlays CLI/file
// values onto.
func DefaultConfig() Config {
	cfg := Config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		DebugLevel:     "info",
		Network:        "mainnet",
		ClearnetListen: defaultClearnetListen,
		RPCPort:        defaultRPCPort,
		RESTPort:       defaultRESTPort,
		MetricsPort:    defaultMetricsPort,
	}
	cfg.Tor.Control = "127.0.0.1:9051"
	cfg.Tor.SOCKS = "127.0.0.1:9050"
	cfg.Maker.BaseFee = 100
	cfg.Maker.RelativeFeePpb = 1_000_000
	cfg.Maker.MinSize = 10_000
	cfg.Maker.MaxSize = 10_000_000
	cfg.Maker.RefundLocktime = 144
	cfg.Maker.RequiredConfirmations = 1
	return cfg
}

// ChainParams returns the chaincfg.Params selected by cfg.Network.
func (cfg *Config) ChainParams() (*chaincfg.Params, error) {
	switch cfg.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("coinswapcfg: unknown network %q", cfg.Network)
	}
}

// LoadConfig parses args (typically os.Args[1:]) twice: once to find an
// overridden --configfile/--datadir, then again with the config file's
// values as defaults, so flags always take precedence over the file.
func LoadConfig(args []string) (*Config, error) {
	preCfg := DefaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}
	if preCfg.ShowVersion {
		fmt.Println(build.Version())
		os.Exit(0)
	}

	cfg := preCfg
	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		fileParser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(fileParser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("coinswapcfg: parsing config file: %w", err)
		}
	}

	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("coinswapcfg: creating data dir: %w", err)
	}

	if err := build.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename), cfg.MaxLogFiles,
	); err != nil {
		return nil, err
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	if !cfg.Neutrino && cfg.RPCHost == "" {
		return nil, fmt.Errorf("coinswapcfg: must set --rpchost unless --neutrino is used")
	}

	return &cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in a
// path, the same helper lnd.go's config loading relies on.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultCoinswapDir)
		path = filepath.Join(homeDir, path[1:])
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// parseAndSetDebugLevels accepts either a single level ("info") applied
// to every subsystem, or a comma-separated list of
// "SUBSYSTEM=level" overrides.
func parseAndSetDebugLevels(levelSpec string) error {
	if !strings.Contains(levelSpec, "=") {
		return build.SetLogLevels(levelSpec)
	}

	for _, entry := range strings.Split(levelSpec, ",") {
		parts := strings.Split(entry, "=")
		if len(parts) != 2 {
			return fmt.Errorf("coinswapcfg: invalid debuglevel entry %q", entry)
		}
		build.SetLogLevel(parts[0], parts[1])
	}
	return nil
}
