// internal/coordinator/coordinator_test.go
package coordinator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jumprush/server/internal/models"
	"github.com/jumprush/server/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects observer events instead of sending them over WS.
type recorder struct {
	mu         sync.Mutex
	countdowns map[uuid.UUID][]int
	started    []uuid.UUID
	joined     []string
	left       []string
}

func newRecorder() *recorder {
	return &recorder{countdowns: make(map[uuid.UUID][]int)}
}

func (r *recorder) CountdownUpdate(lobbyID uuid.UUID, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countdowns[lobbyID] = append(r.countdowns[lobbyID], seconds)
}

func (r *recorder) GameStart(lobbyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, lobbyID)
}

func (r *recorder) PlayerJoined(_ uuid.UUID, wallet string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, wallet)
}

func (r *recorder) PlayerLeft(_ uuid.UUID, wallet string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, wallet)
}

func (r *recorder) countdownValues(lobbyID uuid.UUID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int{}, r.countdowns[lobbyID]...)
}

func (r *recorder) lastCountdown(lobbyID uuid.UUID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals := r.countdowns[lobbyID]
	if len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}

func (r *recorder) gameStarted(lobbyID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.started {
		if id == lobbyID {
			return true
		}
	}
	return false
}

func (r *recorder) joinedWallets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.joined...)
}

func (r *recorder) leftWallets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.left...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setup(t *testing.T) (*Coordinator, *store.Memory, *clockwork.FakeClock, *recorder) {
	t.Helper()
	st := store.NewMemory()
	clk := clockwork.NewFakeClock()
	c := New(st, clk, testLogger())
	rec := newRecorder()
	c.Subscribe(rec)
	t.Cleanup(c.Stop)
	return c, st, clk, rec
}

// advanceTick fires one countdown second and waits until its effects landed,
// observed as the expected last countdown value for the lobby.
func advanceTick(t *testing.T, clk *clockwork.FakeClock, rec *recorder, lobbyID uuid.UUID, want int) {
	t.Helper()
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		got, ok := rec.lastCountdown(lobbyID)
		return ok && got == want
	}, 2*time.Second, time.Millisecond, "expected countdown to reach %d", want)
}

func TestCreateLobbyDefaultsMaxPlayers(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 0)
	require.NoError(t, err)

	snap, err := c.GetLobbyWithPlayers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPlayers, snap.MaxPlayers)
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.Empty(t, snap.Players)
	assert.Nil(t, snap.CountdownSeconds)
}

func TestJoinStartsCountdownAtMinPlayers(t *testing.T) {
	c, _, _, rec := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 50)
	require.NoError(t, err)

	ok, err := c.JoinLobby(ctx, id, "A")
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := c.GetLobbyWithPlayers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.Equal(t, []string{"A"}, snap.Players)
	assert.False(t, c.HasCountdown(id))

	ok, err = c.JoinLobby(ctx, id, "B")
	require.NoError(t, err)
	require.True(t, ok)

	snap, err = c.GetLobbyWithPlayers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarting, snap.Status)
	assert.Equal(t, []string{"A", "B"}, snap.Players)
	require.NotNil(t, snap.CountdownSeconds)
	assert.Equal(t, CountdownDuration, *snap.CountdownSeconds)
	assert.True(t, c.HasCountdown(id))

	assert.Equal(t, []string{"A", "B"}, rec.joinedWallets())
}

func TestJoinIsIdempotentForExistingMember(t *testing.T) {
	c, _, _, rec := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.1, 50)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := c.JoinLobby(ctx, id, "A")
		require.NoError(t, err)
		require.True(t, ok)
	}

	snap, err := c.GetLobbyWithPlayers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snap.Players)
	assert.Equal(t, []string{"A"}, rec.joinedWallets(), "duplicate joins must not re-fire the event")
}

func TestJoinRefusals(t *testing.T) {
	c, st, _, _ := setup(t)
	ctx := context.Background()

	ok, err := c.JoinLobby(ctx, uuid.New(), "A")
	require.NoError(t, err)
	assert.False(t, ok, "missing lobby")

	id, err := c.CreateLobby(ctx, 0.05, 2)
	require.NoError(t, err)
	for _, w := range []string{"A", "B"} {
		ok, err := c.JoinLobby(ctx, id, w)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = c.JoinLobby(ctx, id, "C")
	require.NoError(t, err)
	assert.False(t, ok, "full lobby")
	players, err := st.GetLobbyPlayers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, players, "refused join must not mutate membership")

	require.NoError(t, st.UpdateLobbyStatus(ctx, id, models.StatusActive, nil))
	ok, err = c.JoinLobby(ctx, id, "C")
	require.NoError(t, err)
	assert.False(t, ok, "active lobby")
}

func TestCountdownRunsToActive(t *testing.T) {
	c, st, clk, rec := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 50)
	require.NoError(t, err)
	for _, w := range []string{"A", "B"} {
		ok, err := c.JoinLobby(ctx, id, w)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, c.HasCountdown(id))

	for want := CountdownDuration - 1; want >= 0; want-- {
		advanceTick(t, clk, rec, id, want)
	}

	require.Eventually(t, func() bool {
		return rec.gameStarted(id)
	}, 2*time.Second, time.Millisecond)

	lobby, err := st.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, lobby.Status)
	assert.NotNil(t, lobby.StartedAt)
	assert.False(t, c.HasCountdown(id), "active lobby must have no registered timer")

	// No further ticks once active.
	seen := len(rec.countdownValues(id))
	clk.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.countdownValues(id), seen)

	vals := rec.countdownValues(id)
	assert.Equal(t, CountdownDuration-1, vals[0])
	assert.Equal(t, 0, vals[len(vals)-1])
}

func TestLeaveDuringCountdownRevertsToWaiting(t *testing.T) {
	c, st, clk, rec := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 50)
	require.NoError(t, err)
	for _, w := range []string{"A", "B"} {
		ok, err := c.JoinLobby(ctx, id, w)
		require.NoError(t, err)
		require.True(t, ok)
	}

	advanceTick(t, clk, rec, id, CountdownDuration-1)

	require.NoError(t, c.LeaveLobby(ctx, id, "B"))
	assert.Equal(t, []string{"B"}, rec.leftWallets())

	lobby, err := st.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, lobby.Status)
	assert.Nil(t, lobby.CountdownSeconds)
	assert.False(t, c.HasCountdown(id))

	// The destroyed timer must not fire again.
	seen := len(rec.countdownValues(id))
	clk.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.countdownValues(id), seen)
}

func TestTickRevertsWhenMembershipDropsOutOfBand(t *testing.T) {
	c, st, clk, rec := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 50)
	require.NoError(t, err)
	for _, w := range []string{"A", "B"} {
		ok, err := c.JoinLobby(ctx, id, w)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, c.HasCountdown(id))

	// Membership drops without going through the coordinator's leave; the
	// next tick re-reads the store and must notice.
	require.NoError(t, st.LeaveLobby(ctx, id, "B"))

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		lobby, err := st.GetLobby(ctx, id)
		return err == nil && lobby.Status == models.StatusWaiting
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.HasCountdown(id))
	assert.Empty(t, rec.countdownValues(id), "aborted tick must not publish a countdown value")
}

func TestRecoverCountdownsResumesFromPersistedValue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	// Persisted state as a crashed process would have left it: starting,
	// twelve seconds remaining, no in-memory timer anywhere.
	lobby := &models.Lobby{
		ID:         uuid.New(),
		BetAmount:  0.05,
		Status:     models.StatusWaiting,
		MaxPlayers: 50,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateLobby(ctx, lobby))
	for _, w := range []string{"A", "B"} {
		_, err := st.JoinLobby(ctx, lobby.ID, w)
		require.NoError(t, err)
	}
	secs := 12
	require.NoError(t, st.UpdateLobbyStatus(ctx, lobby.ID, models.StatusStarting, &secs))

	clk := clockwork.NewFakeClock()
	c := New(st, clk, testLogger())
	rec := newRecorder()
	c.Subscribe(rec)
	t.Cleanup(c.Stop)

	require.NoError(t, c.RecoverCountdowns(ctx))
	require.True(t, c.HasCountdown(lobby.ID))

	advanceTick(t, clk, rec, lobby.ID, 11)

	got, err := st.GetLobby(ctx, lobby.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CountdownSeconds)
	assert.Equal(t, 11, *got.CountdownSeconds)
}

func TestCancelLobbyDestroysTimer(t *testing.T) {
	c, st, _, _ := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.25, 50)
	require.NoError(t, err)
	for _, w := range []string{"A", "B"} {
		ok, err := c.JoinLobby(ctx, id, w)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, c.HasCountdown(id))

	require.NoError(t, c.CancelLobby(ctx, id))

	lobby, err := st.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, lobby.Status)
	assert.NotNil(t, lobby.CompletedAt)
	assert.False(t, c.HasCountdown(id))

	ok, err := c.JoinLobby(ctx, id, "C")
	require.NoError(t, err)
	assert.False(t, ok, "cancelled lobby refuses joins")
}

func TestGetLobbyWithPlayersNotFound(t *testing.T) {
	c, _, _, _ := setup(t)

	_, err := c.GetLobbyWithPlayers(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMembershipStaysWithinCapacity(t *testing.T) {
	c, _, _, _ := setup(t)
	ctx := context.Background()

	id, err := c.CreateLobby(ctx, 0.05, 50)
	require.NoError(t, err)

	wallets := make([]string, 60)
	for i := range wallets {
		wallets[i] = uuid.NewString()
	}
	var wg sync.WaitGroup
	for _, w := range wallets {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			_, _ = c.JoinLobby(ctx, id, w)
		}(w)
	}
	wg.Wait()

	snap, err := c.GetLobbyWithPlayers(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snap.Players), 50)
	assert.GreaterOrEqual(t, len(snap.Players), 1)
}
