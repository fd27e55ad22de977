// internal/store/postgres.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jumprush/server/internal/models"
)

// Postgres implements LobbyStore on top of a pgx connection pool.
//
// Expected schema:
//
//	CREATE TABLE lobbies (
//	    id                UUID PRIMARY KEY,
//	    bet_amount        DOUBLE PRECISION NOT NULL,
//	    status            TEXT NOT NULL,
//	    max_players       INT NOT NULL,
//	    countdown_seconds INT,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    started_at        TIMESTAMPTZ,
//	    completed_at      TIMESTAMPTZ
//	);
//
//	CREATE TABLE lobby_players (
//	    id             BIGSERIAL PRIMARY KEY,
//	    lobby_id       UUID NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
//	    wallet_address TEXT NOT NULL,
//	    joined_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    UNIQUE (lobby_id, wallet_address)
//	);
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against connStr and verifies it with a ping.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// CreateLobby inserts a new lobby row.
func (s *Postgres) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	q := `
	INSERT INTO lobbies (
		id, bet_amount, status, max_players,
		countdown_seconds, created_at, started_at, completed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			lobby.ID,
			lobby.BetAmount,
			lobby.Status,
			lobby.MaxPlayers,
			lobby.CountdownSeconds,
			lobby.CreatedAt,
			lobby.StartedAt,
			lobby.CompletedAt,
		)
		return err
	})
}

// GetLobby fetches a lobby by ID.
func (s *Postgres) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	var l models.Lobby
	q := `
	SELECT id, bet_amount, status, max_players,
	       countdown_seconds, created_at, started_at, completed_at
	FROM lobbies
	WHERE id = $1
	`
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&l.ID,
		&l.BetAmount,
		&l.Status,
		&l.MaxPlayers,
		&l.CountdownSeconds,
		&l.CreatedAt,
		&l.StartedAt,
		&l.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLobbyPlayers returns the wallet addresses of a lobby's members in join order.
func (s *Postgres) GetLobbyPlayers(ctx context.Context, id uuid.UUID) ([]string, error) {
	q := `
	SELECT wallet_address
	FROM lobby_players
	WHERE lobby_id = $1
	ORDER BY id
	`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []string{}
	for rows.Next() {
		var wallet string
		if err := rows.Scan(&wallet); err != nil {
			return nil, err
		}
		players = append(players, wallet)
	}
	return players, rows.Err()
}

// JoinLobby performs the capacity check and the member insert in a single
// transaction with the lobby row locked, so two concurrent joins cannot both
// pass the "not full" check.
func (s *Postgres) JoinLobby(ctx context.Context, id uuid.UUID, wallet string) (JoinOutcome, error) {
	outcome := LobbyNotFound
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var status models.LobbyStatus
		var maxPlayers int
		err := tx.QueryRow(ctx,
			`SELECT status, max_players FROM lobbies WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&status, &maxPlayers)
		if err == pgx.ErrNoRows {
			outcome = LobbyNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if !status.Joinable() {
			outcome = LobbyClosed
			return nil
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM lobby_players WHERE lobby_id = $1 AND wallet_address = $2)`,
			id, wallet,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			outcome = AlreadyMember
			return nil
		}

		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM lobby_players WHERE lobby_id = $1`,
			id,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count >= maxPlayers {
			outcome = LobbyFull
			return nil
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO lobby_players (lobby_id, wallet_address) VALUES ($1, $2)`,
			id, wallet,
		)
		if err != nil {
			return err
		}
		outcome = Joined
		return nil
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// LeaveLobby removes a member row. Removing an absent member is a no-op.
func (s *Postgres) LeaveLobby(ctx context.Context, id uuid.UUID, wallet string) error {
	q := `DELETE FROM lobby_players WHERE lobby_id = $1 AND wallet_address = $2`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, id, wallet)
		return err
	})
}

// UpdateLobbyStatus sets the status and countdown columns, stamping
// started_at/completed_at on the corresponding transitions.
func (s *Postgres) UpdateLobbyStatus(ctx context.Context, id uuid.UUID, status models.LobbyStatus, countdownSeconds *int) error {
	q := `
	UPDATE lobbies
	SET status = $2,
	    countdown_seconds = $3,
	    started_at = CASE WHEN $2 = 'active' THEN now() ELSE started_at END,
	    completed_at = CASE WHEN $2 IN ('completed', 'cancelled') THEN now() ELSE completed_at END
	WHERE id = $1
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, id, status, countdownSeconds)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListLobbiesByStatus returns all lobbies in the given status, oldest first.
func (s *Postgres) ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error) {
	q := `
	SELECT id, bet_amount, status, max_players,
	       countdown_seconds, created_at, started_at, completed_at
	FROM lobbies
	WHERE status = $1
	ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		var l models.Lobby
		err := rows.Scan(
			&l.ID,
			&l.BetAmount,
			&l.Status,
			&l.MaxPlayers,
			&l.CountdownSeconds,
			&l.CreatedAt,
			&l.StartedAt,
			&l.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, l)
	}
	return lobbies, rows.Err()
}
