// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jumprush/server/internal/models"
)

// ErrNotFound is returned by reads for a lobby id that does not exist.
var ErrNotFound = errors.New("lobby not found")

// JoinOutcome is the result of a conditional join. The capacity check and the
// membership insert happen inside one store operation, so the outcome reflects
// the state the write actually landed against.
type JoinOutcome int

const (
	Joined JoinOutcome = iota
	AlreadyMember
	LobbyFull
	LobbyNotFound
	LobbyClosed // active, completed or cancelled
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	case LobbyFull:
		return "lobby_full"
	case LobbyNotFound:
		return "lobby_not_found"
	case LobbyClosed:
		return "lobby_closed"
	}
	return "unknown"
}

// LobbyStore is the durable persistence port consumed by the coordinator.
// A successful return means the write is durable.
type LobbyStore interface {
	// CreateLobby persists a new lobby record.
	CreateLobby(ctx context.Context, lobby *models.Lobby) error

	// GetLobby fetches a lobby by id. Returns ErrNotFound if absent.
	GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error)

	// GetLobbyPlayers returns the wallet addresses of the lobby's members in
	// join order. An existing lobby with no members yields an empty slice.
	GetLobbyPlayers(ctx context.Context, id uuid.UUID) ([]string, error)

	// JoinLobby atomically checks capacity and status, then inserts the
	// member. Joining a lobby the wallet already belongs to is a no-op
	// reported as AlreadyMember.
	JoinLobby(ctx context.Context, id uuid.UUID, wallet string) (JoinOutcome, error)

	// LeaveLobby removes the member. Removing an absent member is a no-op.
	LeaveLobby(ctx context.Context, id uuid.UUID, wallet string) error

	// UpdateLobbyStatus sets the status and countdown value. countdownSeconds
	// must be nil for every status except "starting". Transitions to active
	// stamp StartedAt; completed/cancelled stamp CompletedAt.
	UpdateLobbyStatus(ctx context.Context, id uuid.UUID, status models.LobbyStatus, countdownSeconds *int) error

	// ListLobbiesByStatus returns all lobbies currently in the given status.
	ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error)
}
