// makercli is a small administrative tool for the Maker role: it reads
// the same coinswapcfg configuration coinswapd loads and lets an
// operator inspect the offer a running coinswapd would advertise, or
// republish this Maker's address to the configured directory without
// restarting the daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/lightninglabs/coinswap/coinswapcfg"
	"github.com/lightninglabs/coinswap/market"
	"github.com/lightninglabs/coinswap/swap"
)

func main() {
	app := cli.NewApp()
	app.Name = "makercli"
	app.Usage = "inspect or republish a Maker's offer and address"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "configfile"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "showoffer",
			Usage:  "print the offer coinswapd would advertise with the current config",
			Action: showOffer,
		},
		{
			Name:   "postaddress",
			Usage:  "republish this Maker's listen address to its directory",
			Action: postAddress,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*coinswapcfg.Config, error) {
	var args []string
	if cf := c.GlobalString("configfile"); cf != "" {
		args = append(args, "--configfile", cf)
	}
	return coinswapcfg.LoadConfig(args)
}

func showOffer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	fmt.Printf("base_fee=%d relative_fee_ppb=%d min_size=%d max_size=%d "+
		"refund_locktime=%d required_confs=%d\n",
		cfg.Maker.BaseFee, cfg.Maker.RelativeFeePpb, cfg.Maker.MinSize,
		cfg.Maker.MaxSize, cfg.Maker.RefundLocktime, cfg.Maker.RequiredConfirmations,
	)
	return nil
}

func postAddress(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	directory := market.NewHTTPDirectoryClient(cfg.DirectoryURL)
	if err := directory.Start(); err != nil {
		return fmt.Errorf("makercli: starting directory client: %w", err)
	}
	defer directory.Stop()

	addr := swap.MakerAddress{Network: "clearnet", Host: cfg.ClearnetListen}
	if cfg.Tor.Active {
		addr.Network = "onion"
	}

	if err := directory.PostAddress(context.Background(), addr); err != nil {
		return fmt.Errorf("makercli: posting address: %w", err)
	}

	fmt.Printf("published %v to %v\n", addr, cfg.DirectoryURL)
	return nil
}
