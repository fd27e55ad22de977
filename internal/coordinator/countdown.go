// internal/coordinator/countdown.go
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jumprush/server/internal/models"
	"github.com/jumprush/server/internal/store"
)

// countdown is the runtime-only handle for one lobby's ticking timer.
// It is never persisted; the lobby row's countdown_seconds column carries the
// durable value.
type countdown struct {
	lobbyID uuid.UUID
	seconds int
	stop    chan struct{}
	once    sync.Once
}

func (cd *countdown) cancel() {
	cd.once.Do(func() { close(cd.stop) })
}

// startTimer registers a countdown for lobbyID, cancelling any live timer for
// the same id first. At most one timer per lobby exists at any instant.
func (c *Coordinator) startTimer(lobbyID uuid.UUID, seconds int) {
	cd := &countdown{
		lobbyID: lobbyID,
		seconds: seconds,
		stop:    make(chan struct{}),
	}

	c.timersMu.Lock()
	if prev, ok := c.timers[lobbyID]; ok {
		prev.cancel()
	}
	c.timers[lobbyID] = cd
	c.timersMu.Unlock()

	go c.runCountdown(cd)
}

// cancelTimer stops the lobby's countdown if one is registered. Cancelling
// when none exists is a no-op.
func (c *Coordinator) cancelTimer(lobbyID uuid.UUID) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if cd, ok := c.timers[lobbyID]; ok {
		cd.cancel()
		delete(c.timers, lobbyID)
	}
}

// removeTimer clears the map entry, but only if cd is still the registered
// timer. A newer timer for the same lobby must not be evicted by a stale one.
func (c *Coordinator) removeTimer(cd *countdown) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.timers[cd.lobbyID] == cd {
		delete(c.timers, cd.lobbyID)
	}
}

// runCountdown ticks once per second until the countdown is cancelled,
// reverts, or reaches zero.
func (c *Coordinator) runCountdown(cd *countdown) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := cd.seconds
	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.Chan():
			remaining--
			if done := c.tick(cd, remaining); done {
				return
			}
		}
	}
}

// tick handles one countdown second. Membership is re-read from the store on
// every tick because join/leave calls land between ticks. Returns true when
// the countdown is finished, either by reverting or by going active.
func (c *Coordinator) tick(cd *countdown, remaining int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	log := c.logger.WithField("lobby_id", cd.lobbyID)

	players, err := c.store.GetLobbyPlayers(ctx, cd.lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		// Lobby deleted out from under the timer; nothing left to tick.
		c.removeTimer(cd)
		return true
	}
	if err != nil {
		log.WithError(err).Warn("countdown tick: membership read failed")
		return false
	}

	if len(players) < MinPlayers {
		c.removeTimer(cd)
		if err := c.store.UpdateLobbyStatus(ctx, cd.lobbyID, models.StatusWaiting, nil); err != nil {
			log.WithError(err).Warn("countdown tick: revert to waiting failed")
		}
		log.Info("countdown aborted, membership below minimum")
		return true
	}

	if remaining <= 0 {
		c.removeTimer(cd)
		if err := c.store.UpdateLobbyStatus(ctx, cd.lobbyID, models.StatusActive, nil); err != nil {
			log.WithError(err).Warn("countdown tick: activate failed")
		}
		c.emitCountdownUpdate(cd.lobbyID, 0)
		c.emitGameStart(cd.lobbyID)
		log.Info("countdown finished, lobby active")
		return true
	}

	if err := c.store.UpdateLobbyStatus(ctx, cd.lobbyID, models.StatusStarting, &remaining); err != nil {
		log.WithError(err).Warn("countdown tick: persist failed")
	}
	c.emitCountdownUpdate(cd.lobbyID, remaining)
	return false
}
