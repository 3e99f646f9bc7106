package walletrpc

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func chainhashFromStr(s string) (*chainhash.Hash, error) {
	return chainhash.NewHashFromStr(s)
}

func decodeHexScript(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
