// internal/store/memory.go
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jumprush/server/internal/models"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Memory is an in-memory LobbyStore with the same conditional-write semantics
// as the Postgres implementation. Used in tests and local development.
type Memory struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*models.Lobby
	players map[uuid.UUID][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lobbies: make(map[uuid.UUID]*models.Lobby),
		players: make(map[uuid.UUID][]string),
	}
}

func (s *Memory) CreateLobby(_ context.Context, lobby *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := *lobby
	s.lobbies[l.ID] = &l
	s.players[l.ID] = []string{}
	return nil
}

func (s *Memory) GetLobby(_ context.Context, id uuid.UUID) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	if l.CountdownSeconds != nil {
		secs := *l.CountdownSeconds
		cp.CountdownSeconds = &secs
	}
	return &cp, nil
}

func (s *Memory) GetLobbyPlayers(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players, ok := s.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string{}, players...), nil
}

func (s *Memory) JoinLobby(_ context.Context, id uuid.UUID, wallet string) (JoinOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	if !ok {
		return LobbyNotFound, nil
	}
	if !l.Status.Joinable() {
		return LobbyClosed, nil
	}
	for _, w := range s.players[id] {
		if w == wallet {
			return AlreadyMember, nil
		}
	}
	if len(s.players[id]) >= l.MaxPlayers {
		return LobbyFull, nil
	}
	s.players[id] = append(s.players[id], wallet)
	return Joined, nil
}

func (s *Memory) LeaveLobby(_ context.Context, id uuid.UUID, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.players[id]
	for i, w := range players {
		if w == wallet {
			s.players[id] = append(players[:i], players[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Memory) UpdateLobbyStatus(_ context.Context, id uuid.UUID, status models.LobbyStatus, countdownSeconds *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	if countdownSeconds != nil {
		secs := *countdownSeconds
		l.CountdownSeconds = &secs
	} else {
		l.CountdownSeconds = nil
	}
	now := nowUTC()
	switch status {
	case models.StatusActive:
		l.StartedAt = &now
	case models.StatusCompleted, models.StatusCancelled:
		l.CompletedAt = &now
	}
	return nil
}

func (s *Memory) ListLobbiesByStatus(_ context.Context, status models.LobbyStatus) ([]models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lobbies []models.Lobby
	for _, l := range s.lobbies {
		if l.Status == status {
			cp := *l
			if l.CountdownSeconds != nil {
				secs := *l.CountdownSeconds
				cp.CountdownSeconds = &secs
			}
			lobbies = append(lobbies, cp)
		}
	}
	return lobbies, nil
}
