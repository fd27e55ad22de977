// internal/keeper/keeper.go

// Package keeper maintains a baseline set of open lobbies so players always
// find a lobby for each bet tier. It is plumbing against the coordinator's
// public contract; all lifecycle logic stays in the coordinator.
package keeper

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jumprush/server/internal/coordinator"
	"github.com/jumprush/server/internal/models"
	"github.com/jumprush/server/internal/store"
	"github.com/sirupsen/logrus"
)

// Keeper periodically ensures one waiting lobby exists per configured bet tier.
type Keeper struct {
	coord    *coordinator.Coordinator
	store    store.LobbyStore
	clock    clockwork.Clock
	logger   *logrus.Logger
	bets     []float64
	interval time.Duration
}

// New builds a Keeper. bets are the baseline bet tiers; interval is how often
// the baseline is re-checked.
func New(coord *coordinator.Coordinator, st store.LobbyStore, clock clockwork.Clock, logger *logrus.Logger, bets []float64, interval time.Duration) *Keeper {
	return &Keeper{
		coord:    coord,
		store:    st,
		clock:    clock,
		logger:   logger,
		bets:     bets,
		interval: interval,
	}
}

// Run checks the baseline immediately, then on every tick until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	k.ensure(ctx)
	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			k.ensure(ctx)
		}
	}
}

// ensure creates a lobby for every bet tier that has no waiting lobby.
func (k *Keeper) ensure(ctx context.Context) {
	waiting, err := k.store.ListLobbiesByStatus(ctx, models.StatusWaiting)
	if err != nil {
		k.logger.WithError(err).Warn("keeper: failed to list waiting lobbies")
		return
	}

	open := make(map[float64]int)
	for _, lobby := range waiting {
		open[lobby.BetAmount]++
	}

	for _, bet := range k.bets {
		if open[bet] > 0 {
			continue
		}
		lobbyID, err := k.coord.CreateLobby(ctx, bet, coordinator.DefaultMaxPlayers)
		if err != nil {
			k.logger.WithError(err).WithField("bet_amount", bet).Warn("keeper: failed to create baseline lobby")
			continue
		}
		k.logger.WithFields(logrus.Fields{
			"lobby_id":   lobbyID,
			"bet_amount": bet,
		}).Info("keeper: baseline lobby created")
	}
}
