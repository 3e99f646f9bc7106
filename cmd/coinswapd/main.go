// coinswapd runs the Maker role described in spec.md §4.D as a
// long-running daemon: it accepts inbound swap connections over the
// configured Transport, publishes its address (not its offer) to the
// configured directory, and serves Prometheus metrics, mirroring
// lnd.go's load-config/open-wallet/start-subsystems/block-on-signal
// startup sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/coreos/go-systemd/daemon"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/chainclient"
	"github.com/lightninglabs/coinswap/coinswapcfg"
	"github.com/lightninglabs/coinswap/journal"
	"github.com/lightninglabs/coinswap/maker"
	"github.com/lightninglabs/coinswap/market"
	"github.com/lightninglabs/coinswap/metrics"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
	"github.com/lightninglabs/coinswap/transport"
	"github.com/lightninglabs/coinswap/walletrpc"
	"github.com/lightninglabs/coinswap/watchtower"
)

var log = build.NewSubLogger("DAEM")

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := coinswapcfg.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	params, err := cfg.ChainParams()
	if err != nil {
		return err
	}

	chainCfg := &chainclient.Config{
		ChainParams:     params,
		Neutrino:        cfg.Neutrino,
		NeutrinoDataDir: cfg.DataDir,
		RPCHost:         cfg.RPCHost,
		RPCUser:         cfg.RPCUser,
		RPCPass:         cfg.RPCPass,
	}
	chain, cleanup, err := chainclient.NewChainClient(chainCfg)
	if err != nil {
		return fmt.Errorf("coinswapd: opening chain backend: %w", err)
	}
	defer cleanup()

	baseWallet, err := openOrCreateWallet(cfg, params)
	if err != nil {
		return err
	}
	wallet := walletrpc.NewBtcWalletAdapter(baseWallet, walletrpc.GroupByAddress)

	tport, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	if err := tport.Start(); err != nil {
		return fmt.Errorf("coinswapd: starting transport: %w", err)
	}
	defer tport.Stop()

	ctrlTower, err := journal.New(cfg.DataDir + "/journal.db")
	if err != nil {
		return fmt.Errorf("coinswapd: opening journal: %w", err)
	}
	defer ctrlTower.Close()

	pending, err := ctrlTower.Recover()
	if err != nil {
		return fmt.Errorf("coinswapd: recovering journal: %w", err)
	}
	for _, ctx := range pending {
		log.Warnf("swap %x left in phase %v by a prior crash; a peer "+
			"reconnecting to this hop will resume it from the "+
			"journaled state", ctx.ID, ctx.Phase)
	}

	tower := watchtower.New(chain, watchtower.Policy{
		ConfirmationDepth:         cfg.Maker.RequiredConfirmations,
		ContractFinalityBufferNum: 1,
		ContractFinalityBufferDen: 4,
	})

	directory := market.NewHTTPDirectoryClient(cfg.DirectoryURL)
	if err := directory.Start(); err != nil {
		return fmt.Errorf("coinswapd: starting directory client: %w", err)
	}
	defer directory.Stop()

	go serveMetrics(cfg.MetricsPort)

	if cfg.Maker.Enable {
		fundingPriv, err := btcec.NewPrivateKey()
		if err != nil {
			return err
		}

		m := maker.New(maker.Config{
			Wallet:     wallet,
			Chain:      chain,
			Watchtower: tower,
			Journal:    ctrlTower,
			Transport:  tport,
			Offer: swapwire.Offer{
				BaseFee:               btcutil.Amount(cfg.Maker.BaseFee),
				RelativeFeePpb:        cfg.Maker.RelativeFeePpb,
				MinSize:               btcutil.Amount(cfg.Maker.MinSize),
				MaxSize:               btcutil.Amount(cfg.Maker.MaxSize),
				RefundLocktime:        cfg.Maker.RefundLocktime,
				RequiredConfirmations: cfg.Maker.RequiredConfirmations,
			},
			FundingPriv:         fundingPriv,
			MinIncomingTimelock: cfg.Maker.RefundLocktime,
		})
		if err := m.Start(); err != nil {
			return fmt.Errorf("coinswapd: starting maker: %w", err)
		}
		defer m.Stop()

		if err := directory.PostAddress(context.Background(), swap.MakerAddress{
			Network: "clearnet",
			Host:    cfg.ClearnetListen,
		}); err != nil {
			log.Warnf("failed to publish address to directory: %v", err)
		}

		log.Infof("coinswapd accepting swaps on %v", cfg.ClearnetListen)
	} else {
		log.Infof("coinswapd running with the Maker role disabled (--maker.enable to accept swaps)")
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("failed to notify systemd of readiness: %v", err)
	} else if sent {
		log.Debugf("notified systemd: READY=1")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warnf("failed to notify systemd of shutdown: %v", err)
	}
	log.Infof("shutting down")
	return nil
}

func buildTransport(cfg *coinswapcfg.Config) (transport.Transport, error) {
	if cfg.Tor.Active {
		return transport.NewOnionTransport(
			cfg.Tor.Control, cfg.Tor.SOCKS, cfg.Tor.V2PrivateKeyPath,
			parsePort(cfg.ClearnetListen),
		), nil
	}
	return transport.NewClearnetTransport(cfg.ClearnetListen, cfg.ExternalPort), nil
}

func parsePort(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return port
		}
	}
	return 0
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Infof("serving metrics on %v", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}
