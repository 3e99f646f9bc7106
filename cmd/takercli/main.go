// takercli runs one coinswap as the Taker (spec.md §4.E): it loads the
// same coinswapcfg configuration coinswapd does, opens its own wallet
// and chain backend, selects a route through the configured directory,
// and drives taker.Orchestrator.RunSwap to completion or abort.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/chainclient"
	"github.com/lightninglabs/coinswap/coinswapcfg"
	"github.com/lightninglabs/coinswap/journal"
	"github.com/lightninglabs/coinswap/market"
	"github.com/lightninglabs/coinswap/taker"
	"github.com/lightninglabs/coinswap/transport"
	"github.com/lightninglabs/coinswap/walletrpc"
	"github.com/lightninglabs/coinswap/watchtower"
)

var log = build.NewSubLogger("TKCL")

func main() {
	app := cli.NewApp()
	app.Name = "takercli"
	app.Usage = "drive one coinswap as the Taker"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "configfile"},
		cli.Int64Flag{Name: "amount", Usage: "total satoshis to swap", Required: true},
		cli.IntFlag{Name: "hops", Usage: "number of Maker hops in the route", Value: 2},
		cli.Int64Flag{Name: "feerate", Usage: "sat/vbyte budget per hop", Value: 10},
		cli.UintFlag{Name: "baselocktime", Usage: "final hop's timelock in blocks", Value: 72},
		cli.UintFlag{Name: "locktimestep", Usage: "timelock increment per hop moving toward the Taker", Value: 36},
		cli.UintFlag{Name: "requiredconfs", Usage: "confirmations required on each hop's funding tx", Value: 1},
	}
	app.Action = runSwap

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSwap(c *cli.Context) error {
	var args []string
	if cf := c.String("configfile"); cf != "" {
		args = append(args, "--configfile", cf)
	}
	cfg, err := coinswapcfg.LoadConfig(args)
	if err != nil {
		return err
	}

	params, err := cfg.ChainParams()
	if err != nil {
		return err
	}

	chain, cleanup, err := chainclient.NewChainClient(&chainclient.Config{
		ChainParams:     params,
		Neutrino:        cfg.Neutrino,
		NeutrinoDataDir: cfg.DataDir,
		RPCHost:         cfg.RPCHost,
		RPCUser:         cfg.RPCUser,
		RPCPass:         cfg.RPCPass,
	})
	if err != nil {
		return fmt.Errorf("takercli: opening chain backend: %w", err)
	}
	defer cleanup()

	baseWallet, err := openWallet(cfg, params)
	if err != nil {
		return err
	}
	wallet := walletrpc.NewBtcWalletAdapter(baseWallet, walletrpc.GroupByAddress)

	tport := transport.NewClearnetTransport(":0", 0)
	if err := tport.Start(); err != nil {
		return fmt.Errorf("takercli: starting transport: %w", err)
	}
	defer tport.Stop()

	ctrlTower, err := journal.New(cfg.DataDir + "/taker-journal.db")
	if err != nil {
		return fmt.Errorf("takercli: opening journal: %w", err)
	}
	defer ctrlTower.Close()

	pending, err := ctrlTower.Recover()
	if err != nil {
		return fmt.Errorf("takercli: recovering journal: %w", err)
	}
	for _, prior := range pending {
		log.Warnf("swap %x left in phase %v by a prior crash; this run "+
			"only starts a new swap, it does not resume that one",
			prior.ID, prior.Phase)
	}

	tower := watchtower.New(chain, watchtower.Policy{
		ConfirmationDepth:         1,
		ContractFinalityBufferNum: 1,
		ContractFinalityBufferDen: 4,
	})

	directory := market.NewHTTPDirectoryClient(cfg.DirectoryURL)
	if err := directory.Start(); err != nil {
		return fmt.Errorf("takercli: starting directory client: %w", err)
	}
	defer directory.Stop()

	orch := taker.New(taker.Config{
		Wallet:     wallet,
		Chain:      chain,
		Directory:  directory,
		Transport:  tport,
		Watchtower: tower,
		Journal:    ctrlTower,
	})

	req := taker.RouteRequest{
		SendAmount:       c.Int64("amount"),
		MakerCount:       c.Int("hops"),
		TxCount:          c.Int("hops"),
		FeeRate:          c.Int64("feerate"),
		RequiredConfirms: uint32(c.Uint("requiredconfs")),
		BaseLocktime:     uint32(c.Uint("baselocktime")),
		HopLocktimeStep:  uint32(c.Uint("locktimestep")),
	}

	swapCtx, err := orch.RunSwap(context.Background(), req)
	if err != nil {
		return fmt.Errorf("takercli: swap failed: %w", err)
	}

	log.Infof("swap %x finished in phase %v", swapCtx.ID, swapCtx.Phase)
	fmt.Printf("swap %x: %v\n", swapCtx.ID, swapCtx.Phase)
	return nil
}
