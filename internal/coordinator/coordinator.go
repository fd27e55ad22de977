// internal/coordinator/coordinator.go

// Package coordinator owns the lobby lifecycle: it is the sole mutator of
// persisted membership, the sole owner of countdown timers, and it publishes
// lifecycle events to subscribed observers. It has no knowledge of any
// transport.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jumprush/server/internal/models"
	"github.com/jumprush/server/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// MinPlayers is the membership count at which a waiting lobby begins
	// its countdown, and below which a starting lobby reverts to waiting.
	MinPlayers = 2

	// CountdownDuration is the full countdown length in seconds.
	CountdownDuration = 30

	// DefaultMaxPlayers caps membership when CreateLobby is given no limit.
	DefaultMaxPlayers = 50

	// storeCallTimeout bounds store calls made from timer goroutines, which
	// have no caller-supplied context.
	storeCallTimeout = 5 * time.Second
)

// Observer receives lifecycle events, fired synchronously from within
// coordinator operations. Implementations must not call back into the
// coordinator for the same lobby from inside an event.
type Observer interface {
	CountdownUpdate(lobbyID uuid.UUID, secondsRemaining int)
	GameStart(lobbyID uuid.UUID)
	PlayerJoined(lobbyID uuid.UUID, wallet string)
	PlayerLeft(lobbyID uuid.UUID, wallet string)
}

// Coordinator enforces the lobby state machine over a LobbyStore.
//
// Mutations for a single lobby are serialized behind a per-lobby mutex, and
// the store's join is conditional, so the check-then-act sequence cannot
// interleave with a concurrent mutation of the same lobby.
type Coordinator struct {
	store  store.LobbyStore
	clock  clockwork.Clock
	logger *logrus.Logger

	obsMu     sync.RWMutex
	observers []Observer

	timersMu sync.Mutex
	timers   map[uuid.UUID]*countdown

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New builds a Coordinator over the given store. The clock is injectable so
// countdown behavior is testable; production callers pass
// clockwork.NewRealClock().
func New(st store.LobbyStore, clock clockwork.Clock, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		clock:  clock,
		logger: logger,
		timers: make(map[uuid.UUID]*countdown),
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// Subscribe registers an observer for lifecycle events.
func (c *Coordinator) Subscribe(obs Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, obs)
}

// CreateLobby persists a fresh lobby in "waiting" and returns its id.
// maxPlayers <= 0 falls back to DefaultMaxPlayers.
func (c *Coordinator) CreateLobby(ctx context.Context, betAmount float64, maxPlayers int) (uuid.UUID, error) {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	lobby := &models.Lobby{
		ID:         uuid.New(),
		BetAmount:  betAmount,
		Status:     models.StatusWaiting,
		MaxPlayers: maxPlayers,
		CreatedAt:  c.clock.Now().UTC(),
	}
	if err := c.store.CreateLobby(ctx, lobby); err != nil {
		return uuid.Nil, fmt.Errorf("create lobby: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"lobby_id":    lobby.ID,
		"bet_amount":  betAmount,
		"max_players": maxPlayers,
	}).Info("lobby created")
	return lobby.ID, nil
}

// JoinLobby adds wallet to the lobby. Expected refusals (missing lobby, full,
// closed) return false with no error; a wallet that is already a member gets
// true without a duplicate entry or a second event. On success it fires
// PlayerJoined and, if membership has reached MinPlayers while the lobby is
// still waiting, begins the countdown.
func (c *Coordinator) JoinLobby(ctx context.Context, lobbyID uuid.UUID, wallet string) (bool, error) {
	mu := c.lobbyLock(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	outcome, err := c.store.JoinLobby(ctx, lobbyID, wallet)
	if err != nil {
		return false, fmt.Errorf("join lobby %s: %w", lobbyID, err)
	}

	switch outcome {
	case store.AlreadyMember:
		return true, nil
	case store.LobbyNotFound, store.LobbyFull, store.LobbyClosed:
		c.logger.WithFields(logrus.Fields{
			"lobby_id": lobbyID,
			"wallet":   wallet,
			"outcome":  outcome.String(),
		}).Info("join refused")
		return false, nil
	}

	c.emitPlayerJoined(lobbyID, wallet)

	lobby, err := c.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return true, fmt.Errorf("read lobby %s after join: %w", lobbyID, err)
	}
	players, err := c.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return true, fmt.Errorf("read players of %s after join: %w", lobbyID, err)
	}

	if lobby.Status == models.StatusWaiting && len(players) >= MinPlayers {
		if err := c.beginCountdown(ctx, lobbyID); err != nil {
			return true, err
		}
	}
	return true, nil
}

// LeaveLobby removes wallet from the lobby and fires PlayerLeft. If the
// remaining membership drops below MinPlayers while the lobby is starting,
// the countdown is cancelled and the lobby reverts to waiting.
func (c *Coordinator) LeaveLobby(ctx context.Context, lobbyID uuid.UUID, wallet string) error {
	mu := c.lobbyLock(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	if err := c.store.LeaveLobby(ctx, lobbyID, wallet); err != nil {
		return fmt.Errorf("leave lobby %s: %w", lobbyID, err)
	}

	c.emitPlayerLeft(lobbyID, wallet)

	lobby, err := c.store.GetLobby(ctx, lobbyID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lobby %s after leave: %w", lobbyID, err)
	}
	if lobby.Status != models.StatusStarting {
		return nil
	}

	players, err := c.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return fmt.Errorf("read players of %s after leave: %w", lobbyID, err)
	}
	if len(players) < MinPlayers {
		c.cancelTimer(lobbyID)
		if err := c.store.UpdateLobbyStatus(ctx, lobbyID, models.StatusWaiting, nil); err != nil {
			return fmt.Errorf("revert lobby %s to waiting: %w", lobbyID, err)
		}
		c.logger.WithField("lobby_id", lobbyID).Info("countdown cancelled, lobby reverted to waiting")
	}
	return nil
}

// GetLobbyWithPlayers returns the persisted record plus current membership.
// It is a pure read; countdown recovery happens once at startup via
// RecoverCountdowns, never lazily from here.
func (c *Coordinator) GetLobbyWithPlayers(ctx context.Context, lobbyID uuid.UUID) (*models.LobbySnapshot, error) {
	lobby, err := c.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	players, err := c.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	return &models.LobbySnapshot{Lobby: *lobby, Players: players}, nil
}

// CancelLobby administratively moves a lobby to "cancelled" from any state
// and destroys its countdown timer if one is running.
func (c *Coordinator) CancelLobby(ctx context.Context, lobbyID uuid.UUID) error {
	mu := c.lobbyLock(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	c.cancelTimer(lobbyID)
	if err := c.store.UpdateLobbyStatus(ctx, lobbyID, models.StatusCancelled, nil); err != nil {
		return fmt.Errorf("cancel lobby %s: %w", lobbyID, err)
	}
	c.logger.WithField("lobby_id", lobbyID).Info("lobby cancelled")
	return nil
}

// RecoverCountdowns scans persisted "starting" lobbies and rehydrates their
// timers from the saved countdown value. Call once at startup, before any
// join/leave traffic, so the single-writer property of the timer map holds.
func (c *Coordinator) RecoverCountdowns(ctx context.Context) error {
	lobbies, err := c.store.ListLobbiesByStatus(ctx, models.StatusStarting)
	if err != nil {
		return fmt.Errorf("scan starting lobbies: %w", err)
	}
	for _, lobby := range lobbies {
		seconds := CountdownDuration
		if lobby.CountdownSeconds != nil {
			seconds = *lobby.CountdownSeconds
		}
		c.startTimer(lobby.ID, seconds)
		c.logger.WithFields(logrus.Fields{
			"lobby_id": lobby.ID,
			"seconds":  seconds,
		}).Info("countdown recovered")
	}
	return nil
}

// HasCountdown reports whether a live timer is registered for the lobby.
func (c *Coordinator) HasCountdown(lobbyID uuid.UUID) bool {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	_, ok := c.timers[lobbyID]
	return ok
}

// Stop cancels every live countdown. Persisted countdown values remain, so a
// later RecoverCountdowns resumes them.
func (c *Coordinator) Stop() {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	for id, cd := range c.timers {
		cd.cancel()
		delete(c.timers, id)
	}
}

// beginCountdown transitions waiting -> starting and registers the timer.
// Caller holds the lobby lock.
func (c *Coordinator) beginCountdown(ctx context.Context, lobbyID uuid.UUID) error {
	seconds := CountdownDuration
	if err := c.store.UpdateLobbyStatus(ctx, lobbyID, models.StatusStarting, &seconds); err != nil {
		return fmt.Errorf("mark lobby %s starting: %w", lobbyID, err)
	}
	c.startTimer(lobbyID, seconds)
	c.logger.WithFields(logrus.Fields{
		"lobby_id": lobbyID,
		"seconds":  seconds,
	}).Info("countdown started")
	return nil
}

// lobbyLock returns the mutex serializing mutations for one lobby id.
func (c *Coordinator) lobbyLock(lobbyID uuid.UUID) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[lobbyID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[lobbyID] = mu
	}
	return mu
}

func (c *Coordinator) emitCountdownUpdate(lobbyID uuid.UUID, seconds int) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, obs := range c.observers {
		obs.CountdownUpdate(lobbyID, seconds)
	}
}

func (c *Coordinator) emitGameStart(lobbyID uuid.UUID) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, obs := range c.observers {
		obs.GameStart(lobbyID)
	}
}

func (c *Coordinator) emitPlayerJoined(lobbyID uuid.UUID, wallet string) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, obs := range c.observers {
		obs.PlayerJoined(lobbyID, wallet)
	}
}

func (c *Coordinator) emitPlayerLeft(lobbyID uuid.UUID, wallet string) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, obs := range c.observers {
		obs.PlayerLeft(lobbyID, wallet)
	}
}
