// internal/gateway/gateway.go

// Package gateway holds the realtime websocket layer: per-lobby rooms of live
// connections, lifecycle broadcasts sourced from the coordinator's observer
// events, and the ephemeral per-tick relay that never touches the store.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jumprush/server/internal/models"
	"github.com/sirupsen/logrus"
)

var errFirstFrameNotAuth = errors.New("first frame must be an auth envelope")

// TokenVerifier resolves an opaque bearer token to a wallet address.
// Validation itself is an external concern.
type TokenVerifier interface {
	Verify(token string) (wallet string, err error)
}

// LobbyReader is the read-only slice of the coordinator the gateway needs for
// state snapshots.
type LobbyReader interface {
	GetLobbyWithPlayers(ctx context.Context, id uuid.UUID) (*models.LobbySnapshot, error)
}

// Gateway owns room membership exclusively. Room membership is independent of
// persisted lobby membership: a client must explicitly request lobby:join on
// its socket even if it already joined the lobby over REST.
type Gateway struct {
	lobbies  LobbyReader
	verifier TokenVerifier
	logger   *logrus.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]map[string]*client
	// joined mirrors rooms from the client side so disconnect cleanup does
	// not scan every room.
	joined map[*client]map[uuid.UUID]bool
}

// New builds a Gateway. Wire it to a coordinator with
// coordinator.Subscribe(gw) so lifecycle events reach the rooms.
func New(lobbies LobbyReader, verifier TokenVerifier, logger *logrus.Logger) *Gateway {
	return &Gateway{
		lobbies:  lobbies,
		verifier: verifier,
		logger:   logger,
		rooms:    make(map[uuid.UUID]map[string]*client),
		joined:   make(map[*client]map[uuid.UUID]bool),
	}
}

// Handler upgrades the connection, authenticates the first frame, and runs
// the read loop until disconnect.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			g.logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(websocket.StatusPolicyViolation, "client must speak the jumprush subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		wallet, err := g.handshake(ctx, c)
		if err != nil {
			g.logger.WithFields(logrus.Fields{
				"remote": remoteAddr,
				"error":  err,
			}).Warn("handshake failed")
			c.Close(websocket.StatusPolicyViolation, "authentication failed")
			return
		}

		cl := &client{
			wallet: wallet,
			out:    make(chan Envelope, outChanSize),
		}
		g.logger.WithFields(logrus.Fields{
			"wallet": wallet,
			"remote": remoteAddr,
		}).Info("client connected")

		cl.send(g.logger, newEnvelope(EventAuthOK, map[string]string{"walletAddress": wallet}))

		go cl.writePump(ctx, c, g.logger)
		g.readPump(ctx, c, cl)

		g.dropClient(cl)
		g.logger.WithField("wallet", wallet).Info("client disconnected")
	}
}

// handshake reads the first frame, which must be an auth envelope, and
// resolves its token. Room commands are not accepted until this succeeds.
func (g *Gateway) handshake(ctx context.Context, c *websocket.Conn) (string, error) {
	authCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, msg, err := c.Read(authCtx)
	if err != nil {
		return "", err
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", err
	}
	if env.Event != EventAuth {
		return "", errFirstFrameNotAuth
	}
	var p authPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return "", err
	}
	return g.verifier.Verify(p.Token)
}

// readPump decodes frames and dispatches them until the connection dies.
func (g *Gateway) readPump(ctx context.Context, c *websocket.Conn, cl *client) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure && closeStatus != websocket.StatusGoingAway && ctx.Err() == nil {
				g.logger.WithFields(logrus.Fields{
					"wallet": cl.wallet,
					"error":  err,
				}).Warn("read error")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			cl.sendError(g.logger, "invalid JSON format")
			continue
		}
		g.handleEnvelope(cl, env)
	}
}

// handleEnvelope routes one authenticated client frame.
func (g *Gateway) handleEnvelope(cl *client, env Envelope) {
	switch {
	case env.Event == EventLobbyJoin:
		var ref lobbyRef
		if err := json.Unmarshal(env.Data, &ref); err != nil || ref.LobbyID == uuid.Nil {
			cl.sendError(g.logger, "lobby:join requires lobbyId")
			return
		}
		g.joinRoom(cl, ref.LobbyID)
		g.sendState(cl, ref.LobbyID)

	case env.Event == EventLobbyLeave:
		var ref lobbyRef
		if err := json.Unmarshal(env.Data, &ref); err != nil || ref.LobbyID == uuid.Nil {
			cl.sendError(g.logger, "lobby:leave requires lobbyId")
			return
		}
		g.leaveRoom(cl, ref.LobbyID)

	case env.Event == EventRequestState:
		var ref lobbyRef
		if err := json.Unmarshal(env.Data, &ref); err != nil || ref.LobbyID == uuid.Nil {
			cl.sendError(g.logger, "lobby:request_state requires lobbyId")
			return
		}
		g.sendState(cl, ref.LobbyID)

	case relayEvents[env.Event] != "":
		g.relayToRoom(cl, env)

	case directedEvents[env.Event]:
		g.relayToTarget(cl, env)

	default:
		cl.sendError(g.logger, "unknown event: "+env.Event)
	}
}

// joinRoom associates the connection with a lobby's room. A connection may be
// in any number of rooms at once.
func (g *Gateway) joinRoom(cl *client, lobbyID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[lobbyID]
	if !ok {
		room = make(map[string]*client)
		g.rooms[lobbyID] = room
	}
	room[cl.wallet] = cl
	if g.joined[cl] == nil {
		g.joined[cl] = make(map[uuid.UUID]bool)
	}
	g.joined[cl][lobbyID] = true
}

func (g *Gateway) leaveRoom(cl *client, lobbyID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveRoomLocked(cl, lobbyID)
}

func (g *Gateway) leaveRoomLocked(cl *client, lobbyID uuid.UUID) {
	if room, ok := g.rooms[lobbyID]; ok {
		if room[cl.wallet] == cl {
			delete(room, cl.wallet)
		}
		if len(room) == 0 {
			delete(g.rooms, lobbyID)
		}
	}
	if m := g.joined[cl]; m != nil {
		delete(m, lobbyID)
	}
}

// dropClient removes the connection from every room it joined.
func (g *Gateway) dropClient(cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for lobbyID := range g.joined[cl] {
		g.leaveRoomLocked(cl, lobbyID)
	}
	delete(g.joined, cl)
}

func (g *Gateway) inRoom(cl *client, lobbyID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[lobbyID]
	return ok && room[cl.wallet] == cl
}

// roomClients snapshots a room's members so sends happen outside the lock.
func (g *Gateway) roomClients(lobbyID uuid.UUID) []*client {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[lobbyID]
	clients := make([]*client, 0, len(room))
	for _, cl := range room {
		clients = append(clients, cl)
	}
	return clients
}

func (g *Gateway) broadcast(lobbyID uuid.UUID, env Envelope) {
	for _, cl := range g.roomClients(lobbyID) {
		cl.send(g.logger, env)
	}
}

// sendState fetches a fresh snapshot and sends it to one client. Clients use
// this after reconnect or any suspected missed broadcast.
func (g *Gateway) sendState(cl *client, lobbyID uuid.UUID) {
	snap := g.snapshot(lobbyID)
	if snap == nil {
		cl.sendError(g.logger, "lobby not found")
		return
	}
	cl.send(g.logger, newEnvelope(EventLobbyState, statePayload{Lobby: snap}))
}

func (g *Gateway) snapshot(lobbyID uuid.UUID) *models.LobbySnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := g.lobbies.GetLobbyWithPlayers(ctx, lobbyID)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"lobby_id": lobbyID,
			"error":    err,
		}).Warn("snapshot fetch failed")
		return nil
	}
	return snap
}

// relayToRoom rebroadcasts an ephemeral frame to everyone else in the room,
// tagged with the sender's wallet. The payload, including its client-supplied
// timestamp, passes through untouched; receivers do their own ordering.
func (g *Gateway) relayToRoom(cl *client, env Envelope) {
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		cl.sendError(g.logger, "invalid payload for "+env.Event)
		return
	}
	lobbyID, ok := payloadLobbyID(payload)
	if !ok {
		cl.sendError(g.logger, env.Event+" requires lobbyId")
		return
	}
	if !g.inRoom(cl, lobbyID) {
		cl.sendError(g.logger, "not in lobby room")
		return
	}
	payload["walletAddress"] = cl.wallet
	out := newEnvelope(relayEvents[env.Event], payload)
	for _, member := range g.roomClients(lobbyID) {
		if member == cl {
			continue
		}
		member.send(g.logger, out)
	}
}

// relayToTarget forwards a signaling frame to one named member of the room,
// rewriting targetAddress to fromAddress so the recipient knows the origin.
func (g *Gateway) relayToTarget(cl *client, env Envelope) {
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		cl.sendError(g.logger, "invalid payload for "+env.Event)
		return
	}
	lobbyID, ok := payloadLobbyID(payload)
	if !ok {
		cl.sendError(g.logger, env.Event+" requires lobbyId")
		return
	}
	target, _ := payload["targetAddress"].(string)
	if target == "" {
		cl.sendError(g.logger, env.Event+" requires targetAddress")
		return
	}
	if !g.inRoom(cl, lobbyID) {
		cl.sendError(g.logger, "not in lobby room")
		return
	}

	g.mu.Lock()
	targetCl := g.rooms[lobbyID][target]
	g.mu.Unlock()
	if targetCl == nil {
		cl.sendError(g.logger, "target not in lobby room")
		return
	}

	delete(payload, "targetAddress")
	payload["fromAddress"] = cl.wallet
	targetCl.send(g.logger, newEnvelope(env.Event, payload))
}

func payloadLobbyID(payload map[string]interface{}) (uuid.UUID, bool) {
	raw, _ := payload["lobbyId"].(string)
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// CountdownUpdate implements coordinator.Observer.
func (g *Gateway) CountdownUpdate(lobbyID uuid.UUID, secondsRemaining int) {
	g.broadcast(lobbyID, newEnvelope(EventLobbyCountdown, countdownPayload{
		LobbyID:   lobbyID,
		Countdown: secondsRemaining,
	}))
}

// GameStart implements coordinator.Observer.
func (g *Gateway) GameStart(lobbyID uuid.UUID) {
	g.broadcast(lobbyID, newEnvelope(EventGameStarted, gameStartedPayload{LobbyID: lobbyID}))
}

// PlayerJoined implements coordinator.Observer. The broadcast carries a fresh
// snapshot so room members render the new roster without a separate fetch.
func (g *Gateway) PlayerJoined(lobbyID uuid.UUID, wallet string) {
	g.broadcast(lobbyID, newEnvelope(EventPlayerJoined, playerPayload{
		LobbyID:       lobbyID,
		WalletAddress: wallet,
		Lobby:         g.snapshot(lobbyID),
	}))
}

// PlayerLeft implements coordinator.Observer.
func (g *Gateway) PlayerLeft(lobbyID uuid.UUID, wallet string) {
	g.broadcast(lobbyID, newEnvelope(EventPlayerLeft, playerPayload{
		LobbyID:       lobbyID,
		WalletAddress: wallet,
		Lobby:         g.snapshot(lobbyID),
	}))
}
