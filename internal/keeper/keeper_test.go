// internal/keeper/keeper_test.go
package keeper

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jumprush/server/internal/coordinator"
	"github.com/jumprush/server/internal/models"
	"github.com/jumprush/server/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestEnsureCreatesMissingBaselineLobbies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clockwork.NewFakeClock()
	coord := coordinator.New(st, clk, testLogger())
	t.Cleanup(coord.Stop)

	k := New(coord, st, clk, testLogger(), []float64{0.05, 0.1}, time.Minute)

	k.ensure(ctx)

	waiting, err := st.ListLobbiesByStatus(ctx, models.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	bets := map[float64]int{}
	for _, lobby := range waiting {
		bets[lobby.BetAmount]++
		assert.Equal(t, coordinator.DefaultMaxPlayers, lobby.MaxPlayers)
	}
	assert.Equal(t, map[float64]int{0.05: 1, 0.1: 1}, bets)

	// A satisfied baseline creates nothing new.
	k.ensure(ctx)
	waiting, err = st.ListLobbiesByStatus(ctx, models.StatusWaiting)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)
}

func TestEnsureBackfillsConsumedTier(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clockwork.NewFakeClock()
	coord := coordinator.New(st, clk, testLogger())
	t.Cleanup(coord.Stop)

	k := New(coord, st, clk, testLogger(), []float64{0.05}, time.Minute)
	k.ensure(ctx)

	waiting, err := st.ListLobbiesByStatus(ctx, models.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	consumed := waiting[0].ID

	// Tier's lobby fills up and goes active; the next sweep replaces it.
	require.NoError(t, st.UpdateLobbyStatus(ctx, consumed, models.StatusActive, nil))
	k.ensure(ctx)

	waiting, err = st.ListLobbiesByStatus(ctx, models.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.NotEqual(t, consumed, waiting[0].ID)
}

func TestRunSweepsOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	clk := clockwork.NewFakeClock()
	coord := coordinator.New(st, clk, testLogger())
	t.Cleanup(coord.Stop)

	k := New(coord, st, clk, testLogger(), []float64{0.25}, time.Minute)
	go k.Run(ctx)

	// Initial sweep happens before the first tick.
	require.Eventually(t, func() bool {
		waiting, err := st.ListLobbiesByStatus(ctx, models.StatusWaiting)
		return err == nil && len(waiting) == 1
	}, 2*time.Second, time.Millisecond)

	waiting, _ := st.ListLobbiesByStatus(ctx, models.StatusWaiting)
	require.NoError(t, st.UpdateLobbyStatus(ctx, waiting[0].ID, models.StatusCancelled, nil))

	clk.BlockUntil(1)
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool {
		waiting, err := st.ListLobbiesByStatus(ctx, models.StatusWaiting)
		return err == nil && len(waiting) == 1
	}, 2*time.Second, time.Millisecond)
}
