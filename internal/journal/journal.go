// internal/journal/journal.go

// Package journal records durable lifecycle events onto a Redis list for the
// external history/settlement consumer. Ephemeral per-tick traffic is never
// journaled.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the journal pushes to.
const DefaultQueueName = "jumprush_lobby_events"

// Record is one journaled lifecycle event.
type Record struct {
	LobbyID       uuid.UUID `json:"lobbyId"`
	Type          string    `json:"type"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Seconds       int       `json:"seconds,omitempty"`
	Timestamp     int64     `json:"timestamp"`
}

// Connect initializes a Redis client and verifies it with a ping.
func Connect(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Journal implements coordinator.Observer and pushes each event as JSON onto
// the queue. Pushes are fire-and-forget; a failed push is logged, never
// retried, because the source of truth remains re-fetchable from the store.
type Journal struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

// New builds a Journal over an established Redis client. An empty queue name
// falls back to DefaultQueueName.
func New(rdb *redis.Client, queue string, logger *logrus.Logger) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Journal{rdb: rdb, queue: queue, logger: logger}
}

func (j *Journal) push(r Record) {
	r.Timestamp = time.Now().Unix()
	data, err := json.Marshal(r)
	if err != nil {
		j.logger.WithError(err).Warn("journal: failed to marshal record")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.rdb.RPush(ctx, j.queue, data).Err(); err != nil {
		j.logger.WithError(err).WithField("queue", j.queue).Warn("journal: push failed")
	}
}

// CountdownUpdate implements coordinator.Observer.
func (j *Journal) CountdownUpdate(lobbyID uuid.UUID, secondsRemaining int) {
	j.push(Record{LobbyID: lobbyID, Type: "countdown", Seconds: secondsRemaining})
}

// GameStart implements coordinator.Observer.
func (j *Journal) GameStart(lobbyID uuid.UUID) {
	j.push(Record{LobbyID: lobbyID, Type: "game_start"})
}

// PlayerJoined implements coordinator.Observer.
func (j *Journal) PlayerJoined(lobbyID uuid.UUID, wallet string) {
	j.push(Record{LobbyID: lobbyID, Type: "player_joined", WalletAddress: wallet})
}

// PlayerLeft implements coordinator.Observer.
func (j *Journal) PlayerLeft(lobbyID uuid.UUID, wallet string) {
	j.push(Record{LobbyID: lobbyID, Type: "player_left", WalletAddress: wallet})
}
