// Package taker implements the Taker Orchestrator (spec.md §4.E): the
// swap-initiating side that selects a route of Makers, drives each hop's
// funding and contract negotiation, reveals the shared preimage, and
// either closes cooperatively or recovers via the contract script.
//
// The phase split and retry/ban bookkeeping are modeled on
// htlcswitch/switch.go's forwarding loop and
// htlcswitch/switch_control.go's ControlTower: a route is selected once
// per attempt, each hop is driven to completion or failure, and a
// failure short-circuits into the recovery branch rather than leaving
// the switch in an undefined state.
package taker

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/market"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

// RouteRequest is the Taker's desired swap shape, spec.md §4.E Phase 1's
// "(send_amount, maker_count, tx_count, fee_rate, required_confirms)".
type RouteRequest struct {
	SendAmount           int64
	MakerCount           int
	TxCount              int
	FeeRate              int64
	RequiredConfirms     uint32
	BaseLocktime         uint32
	HopLocktimeStep      uint32
	MaxAggregateFeePpm   int64
}

// candidateOffer pairs a Maker's address with the offer it published.
type candidateOffer struct {
	Addr  swap.MakerAddress
	Offer swapwire.Offer
}

// SelectRoute implements spec.md §4.E Phase 1: query the directory,
// filter by offer compatibility, shuffle with crypto/rand (never
// math/rand — this is fund-handling code), and pick maker_count peers
// whose aggregate fee fits the request's budget. banned is consulted so
// a Maker this process has already marked bad is never reselected
// (spec.md §4.E Phase 5, §7).
func SelectRoute(ctx context.Context, dir market.DirectoryClient, req RouteRequest,
	fetchOffer func(context.Context, swap.MakerAddress) (swapwire.Offer, error),
	banned map[swap.MakerAddress]struct{}) (swap.Route, []swapwire.Offer, error) {

	addrs, err := dir.ListMakers(ctx)
	if err != nil {
		return swap.Route{}, nil, coinswaperr.Wrap(err)
	}

	var candidates []candidateOffer
	for _, addr := range addrs {
		if _, bad := banned[addr]; bad {
			continue
		}

		offer, err := fetchOffer(ctx, addr)
		if err != nil {
			// A Maker that won't even answer GiveOffer isn't a
			// route candidate; it isn't banned either, since no
			// swap was ever proposed to it.
			continue
		}

		if !offerCompatible(offer, req) {
			continue
		}

		candidates = append(candidates, candidateOffer{Addr: addr, Offer: offer})
	}

	if len(candidates) < req.MakerCount {
		return swap.Route{}, nil, &coinswaperr.ProtocolError{
			Reason: "not enough compatible makers to build a route",
		}
	}

	shuffle(candidates)

	selected, totalFeePpm := pickWithinBudget(candidates, req)
	if len(selected) < req.MakerCount {
		return swap.Route{}, nil, &coinswaperr.ProtocolError{
			Reason: "no combination of makers fits the fee budget",
		}
	}
	_ = totalFeePpm

	route := swap.Route{}
	offers := make([]swapwire.Offer, 0, len(selected))
	for _, c := range selected {
		route.Makers = append(route.Makers, c.Addr)
		offers = append(offers, c.Offer)
	}

	return route, offers, nil
}

func offerCompatible(offer swapwire.Offer, req RouteRequest) bool {
	amount := btcutil.Amount(req.SendAmount)
	if amount < offer.MinSize || amount > offer.MaxSize {
		return false
	}
	if req.RequiredConfirms < offer.RequiredConfirmations {
		return false
	}
	return true
}

// pickWithinBudget takes the first maker_count candidates (already
// shuffled) whose cumulative relative fee stays under
// MaxAggregateFeePpm, the way a simple greedy knapsack would; spec.md
// §4.E Phase 1 only requires that the aggregate fee "fits a budget," not
// that it be fee-minimal.
func pickWithinBudget(candidates []candidateOffer, req RouteRequest) ([]candidateOffer, int64) {
	var (
		selected []candidateOffer
		totalPpm int64
	)
	for _, c := range candidates {
		if len(selected) == req.MakerCount {
			break
		}
		if req.MaxAggregateFeePpm > 0 && totalPpm+int64(c.Offer.RelativeFeePpb)/1000 > req.MaxAggregateFeePpm {
			continue
		}
		selected = append(selected, c)
		totalPpm += int64(c.Offer.RelativeFeePpb) / 1000
	}
	return selected, totalPpm
}

// shuffle performs an in-place Fisher-Yates shuffle seeded from
// crypto/rand; route selection is fund-handling code and must not use a
// predictable RNG (spec.md §9's concern about the original's coin
// selection applies equally here).
func shuffle(c []candidateOffer) {
	for i := len(c) - 1; i > 0; i-- {
		j := cryptoRandIntn(i + 1)
		c[i], c[j] = c[j], c[i]
	}
}

func cryptoRandIntn(n int) int {
	if n <= 1 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
