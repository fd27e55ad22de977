// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// LobbyStatus is the persisted lifecycle phase of a lobby.
type LobbyStatus string

const (
	StatusWaiting   LobbyStatus = "waiting"
	StatusStarting  LobbyStatus = "starting"
	StatusActive    LobbyStatus = "active"
	StatusCompleted LobbyStatus = "completed"
	StatusCancelled LobbyStatus = "cancelled"
)

// Joinable reports whether new players may still enter a lobby in this status.
// Once a lobby goes active its roster is frozen.
func (s LobbyStatus) Joinable() bool {
	return s == StatusWaiting || s == StatusStarting
}

// Lobby represents a row in the lobbies table.
//
// CountdownSeconds is only meaningful while Status is "starting"; it holds the
// last countdown value persisted by the coordinator so a restarted process can
// resume the countdown where it left off.
type Lobby struct {
	ID               uuid.UUID   `json:"id"`
	BetAmount        float64     `json:"betAmount"`
	Status           LobbyStatus `json:"status"`
	MaxPlayers       int         `json:"maxPlayers"`
	CountdownSeconds *int        `json:"countdownSeconds,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
}

// LobbySnapshot is a lobby record together with its current membership.
// Players are wallet addresses in join order.
type LobbySnapshot struct {
	Lobby
	Players []string `json:"players"`
}
