package taker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

var errDialFailed = errors.New("dial failed")

// fakeDirectory is a canned DirectoryClient for route-selection tests,
// the same shape as market's HTTPDirectoryClient but with no transport
// underneath it.
type fakeDirectory struct {
	addrs []swap.MakerAddress
}

func (d *fakeDirectory) ListMakers(ctx context.Context) ([]swap.MakerAddress, error) {
	return d.addrs, nil
}
func (d *fakeDirectory) PostAddress(ctx context.Context, addr swap.MakerAddress) error { return nil }
func (d *fakeDirectory) Start() error                                                 { return nil }
func (d *fakeDirectory) Stop() error                                                   { return nil }

func addr(host string) swap.MakerAddress {
	return swap.MakerAddress{Network: "test", Host: host}
}

func TestSelectRouteFiltersIncompatibleAndBanned(t *testing.T) {
	dir := &fakeDirectory{addrs: []swap.MakerAddress{
		addr("too-small"), addr("good-1"), addr("good-2"), addr("banned"),
	}}

	offers := map[swap.MakerAddress]swapwire.Offer{
		addr("too-small"): {MinSize: 1_000_000, MaxSize: 2_000_000, RequiredConfirmations: 1},
		addr("good-1"):    {MinSize: 1_000, MaxSize: 1_000_000, RequiredConfirmations: 1},
		addr("good-2"):    {MinSize: 1_000, MaxSize: 1_000_000, RequiredConfirmations: 1},
		addr("banned"):    {MinSize: 1_000, MaxSize: 1_000_000, RequiredConfirmations: 1},
	}
	fetch := func(ctx context.Context, a swap.MakerAddress) (swapwire.Offer, error) {
		return offers[a], nil
	}

	req := RouteRequest{SendAmount: 100_000, MakerCount: 2, RequiredConfirms: 1}
	banned := map[swap.MakerAddress]struct{}{addr("banned"): {}}

	route, gotOffers, err := SelectRoute(context.Background(), dir, req, fetch, banned)
	require.NoError(t, err)
	require.Len(t, route.Makers, 2)
	require.Len(t, gotOffers, 2)

	for _, m := range route.Makers {
		require.NotEqual(t, addr("too-small"), m)
		require.NotEqual(t, addr("banned"), m)
	}
}

func TestSelectRouteFailsWithoutEnoughCandidates(t *testing.T) {
	dir := &fakeDirectory{addrs: []swap.MakerAddress{addr("only-one")}}
	fetch := func(ctx context.Context, a swap.MakerAddress) (swapwire.Offer, error) {
		return swapwire.Offer{MinSize: 1_000, MaxSize: 1_000_000, RequiredConfirmations: 1}, nil
	}

	req := RouteRequest{SendAmount: 100_000, MakerCount: 2, RequiredConfirms: 1}
	_, _, err := SelectRoute(context.Background(), dir, req, fetch, nil)
	require.Error(t, err)
}

func TestSelectRouteSkipsUnreachableMakers(t *testing.T) {
	dir := &fakeDirectory{addrs: []swap.MakerAddress{addr("dead"), addr("good")}}
	fetch := func(ctx context.Context, a swap.MakerAddress) (swapwire.Offer, error) {
		if a == addr("dead") {
			return swapwire.Offer{}, errDialFailed
		}
		return swapwire.Offer{MinSize: 1_000, MaxSize: 1_000_000, RequiredConfirmations: 1}, nil
	}

	req := RouteRequest{SendAmount: 100_000, MakerCount: 1, RequiredConfirms: 1}
	route, _, err := SelectRoute(context.Background(), dir, req, fetch, nil)
	require.NoError(t, err)
	require.Equal(t, []swap.MakerAddress{addr("good")}, route.Makers)
}

func TestOfferCompatible(t *testing.T) {
	offer := swapwire.Offer{MinSize: 1_000, MaxSize: 10_000, RequiredConfirmations: 2}

	require.True(t, offerCompatible(offer, RouteRequest{SendAmount: 5_000, RequiredConfirms: 2}))
	require.False(t, offerCompatible(offer, RouteRequest{SendAmount: 500, RequiredConfirms: 2}))
	require.False(t, offerCompatible(offer, RouteRequest{SendAmount: 20_000, RequiredConfirms: 2}))
	require.False(t, offerCompatible(offer, RouteRequest{SendAmount: 5_000, RequiredConfirms: 1}))
}

func TestPickWithinBudgetRespectsAggregateFeeCap(t *testing.T) {
	candidates := []candidateOffer{
		{Addr: addr("cheap"), Offer: swapwire.Offer{RelativeFeePpb: 1_000_000}},
		{Addr: addr("expensive"), Offer: swapwire.Offer{RelativeFeePpb: 900_000_000}},
	}

	selected, _ := pickWithinBudget(candidates, RouteRequest{MakerCount: 2, MaxAggregateFeePpm: 10_000})
	require.Len(t, selected, 1)
	require.Equal(t, addr("cheap"), selected[0].Addr)
}

func TestShuffleIsAPermutation(t *testing.T) {
	c := []candidateOffer{
		{Addr: addr("a")}, {Addr: addr("b")}, {Addr: addr("c")}, {Addr: addr("d")},
	}
	before := append([]candidateOffer(nil), c...)

	shuffle(c)

	require.ElementsMatch(t, before, c)
}
