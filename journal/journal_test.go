package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/journal"
	"github.com/lightninglabs/coinswap/swap"
)

func newTestTower(t *testing.T) *journal.KVControlTower {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	tower, err := journal.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tower.Close() })
	return tower
}

func TestPutFetchRoundTrip(t *testing.T) {
	tower := newTestTower(t)

	var id swap.SwapID
	id[0] = 0x42

	ctx := &swap.SwapContext{ID: id, Phase: swap.PhaseFunded}
	require.NoError(t, tower.Put(ctx))

	got, err := tower.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, ctx.Phase, got.Phase)
	require.Equal(t, ctx.ID, got.ID)
}

func TestFetchMissing(t *testing.T) {
	tower := newTestTower(t)

	var id swap.SwapID
	_, err := tower.Fetch(id)
	require.ErrorIs(t, err, journal.ErrSwapNotFound)
}

func TestRecoverSkipsTerminalPhases(t *testing.T) {
	tower := newTestTower(t)

	var pendingID, completeID, abortedID swap.SwapID
	pendingID[0] = 1
	completeID[0] = 2
	abortedID[0] = 3

	require.NoError(t, tower.Put(&swap.SwapContext{ID: pendingID, Phase: swap.PhaseSignedAll}))
	require.NoError(t, tower.Put(&swap.SwapContext{ID: completeID, Phase: swap.PhaseComplete}))
	require.NoError(t, tower.Put(&swap.SwapContext{ID: abortedID, Phase: swap.PhaseAborted}))

	pending, err := tower.Recover()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, pendingID, pending[0].ID)
}
