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

// walletDBFilename is the on-disk wallet database name, the same
// bdb-backed layout chainclient's neutrino backend uses for its own
// header/filter store.
const walletDBFilename = "wallet.db"

// openOrCreateWallet opens the coinswapd wallet database under
// cfg.DataDir, creating a fresh one (seeded from a freshly generated
// HD seed) on first run. Both passphrases are fixed since coinswapd runs
// unattended: the public one is btcwallet's default and the private one
// is a built-in value in this file; operators who
// need passphrase protection should run btcwallet itself and point a
// future RPC-backed Wallet implementation at it instead.
func openOrCreateWallet(cfg *coinswapcfg.Config, params *chaincfg.Params) (*base.Wallet, error) {
	dbPath := filepath.Join(cfg.DataDir, walletDBFilename)

	pubPass := []byte(waddrmgr.InsecurePubPassphrase)
	privPass := []byte("coinswapd-default-private-passphrase")

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		db, err := walletdb.Create("bdb", dbPath, true)
		if err != nil {
			return nil, fmt.Errorf("coinswapd: creating wallet db: %w", err)
		}
		defer db.Close()

		seed, err := base.NewSeed()
		if err != nil {
			return nil, fmt.Errorf("coinswapd: generating wallet seed: %w", err)
		}

		if err := base.Create(
			db, pubPass, privPass, seed, params, time.Now(),
		); err != nil {
			return nil, fmt.Errorf("coinswapd: creating wallet: %w", err)
		}
	}

	db, err := walletdb.Open("bdb", dbPath, true)
	if err != nil {
		return nil, fmt.Errorf("coinswapd: opening wallet db: %w", err)
	}

	w, err := base.Open(db, pubPass, nil, params, 0)
	if err != nil {
		return nil, fmt.Errorf("coinswapd: loading wallet: %w", err)
	}

	return w, nil
}
