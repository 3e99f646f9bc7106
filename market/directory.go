// Package market implements the DirectoryClient external interface
// (spec.md §6) — Maker discovery — plus a persistent OfferBook a Maker
// uses to republish its own offers and a Taker uses to remember
// misbehaving peers across restarts (a supplement spec.md's persistence
// section is silent on; original_source keeps bad_makers in memory only
// for the lifetime of one process).
package market

import (
	"context"

	"github.com/lightninglabs/coinswap/swap"
)

// DirectoryClient is spec.md §6's Maker-discovery interface:
// list_makers() → [MakerAddress]; Makers register themselves via
// post_address(addr).
type DirectoryClient interface {
	ListMakers(ctx context.Context) ([]swap.MakerAddress, error)
	PostAddress(ctx context.Context, addr swap.MakerAddress) error

	Start() error
	Stop() error
}
