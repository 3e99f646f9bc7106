package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/waddrmgr"
	base "github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // registers the "bdb" driver

	"github.com/lightninglabs/coinswap/coinswapcfg"
)

const walletDBFilename = "taker-wallet.db"

// openWallet opens (creating on first run) the Taker's own spending
// wallet under cfg.DataDir, the same bootstrap coinswapd's Maker role
// uses for its funding wallet.
func openWallet(cfg *coinswapcfg.Config, params *chaincfg.Params) (*base.Wallet, error) {
	dbPath := filepath.Join(cfg.DataDir, walletDBFilename)

	pubPass := []byte(waddrmgr.InsecurePubPassphrase)
	privPass := []byte("takercli-default-private-passphrase")

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		db, err := walletdb.Create("bdb", dbPath, true)
		if err != nil {
			return nil, fmt.Errorf("takercli: creating wallet db: %w", err)
		}
		defer db.Close()

		seed, err := base.NewSeed()
		if err != nil {
			return nil, fmt.Errorf("takercli: generating wallet seed: %w", err)
		}

		if err := base.Create(
			db, pubPass, privPass, seed, params, time.Now(),
		); err != nil {
			return nil, fmt.Errorf("takercli: creating wallet: %w", err)
		}
	}

	db, err := walletdb.Open("bdb", dbPath, true)
	if err != nil {
		return nil, fmt.Errorf("takercli: opening wallet db: %w", err)
	}

	w, err := base.Open(db, pubPass, nil, params, 0)
	if err != nil {
		return nil, fmt.Errorf("takercli: loading wallet: %w", err)
	}

	return w, nil
}
