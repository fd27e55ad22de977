// internal/gateway/protocol.go
package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jumprush/server/internal/models"
)

// Subprotocol is the websocket subprotocol clients must speak.
const Subprotocol = "jumprush"

// Client -> server events.
const (
	EventAuth         = "auth"
	EventLobbyJoin    = "lobby:join"
	EventLobbyLeave   = "lobby:leave"
	EventRequestState = "lobby:request_state"
	EventGameInput    = "game:input"
	EventGamePosition = "game:position"
	EventVoiceState   = "game:voice_state"
	EventWebRTCOffer  = "webrtc:offer"
	EventWebRTCAnswer = "webrtc:answer"
	EventWebRTCICE    = "webrtc:ice"
)

// Server -> client events.
const (
	EventError          = "error"
	EventAuthOK         = "auth:ok"
	EventLobbyState     = "lobby:state"
	EventLobbyCountdown = "lobby:countdown"
	EventGameStarted    = "lobby:game_started"
	EventPlayerJoined   = "lobby:player_joined"
	EventPlayerLeft     = "lobby:player_left"
	EventPlayerInput    = "game:player_input"
	EventPlayerPosition = "game:player_position"
	EventPlayerVoice    = "game:player_voice_state"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, v interface{}) Envelope {
	data, err := json.Marshal(v)
	if err != nil {
		// Payloads are server-built structs and maps; a marshal failure here
		// is a programming error, surface it as an error frame.
		return Envelope{Event: EventError, Data: json.RawMessage(`{"message":"internal encoding error"}`)}
	}
	return Envelope{Event: event, Data: data}
}

type authPayload struct {
	Token string `json:"token"`
}

type lobbyRef struct {
	LobbyID uuid.UUID `json:"lobbyId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type statePayload struct {
	Lobby *models.LobbySnapshot `json:"lobby"`
}

type countdownPayload struct {
	LobbyID   uuid.UUID `json:"lobbyId"`
	Countdown int       `json:"countdown"`
}

type gameStartedPayload struct {
	LobbyID uuid.UUID `json:"lobbyId"`
}

type playerPayload struct {
	LobbyID       uuid.UUID             `json:"lobbyId"`
	WalletAddress string                `json:"walletAddress"`
	Lobby         *models.LobbySnapshot `json:"lobby,omitempty"`
}

// relayEvents maps a client-sent ephemeral event to the event name its room
// broadcast goes out under.
var relayEvents = map[string]string{
	EventGameInput:    EventPlayerInput,
	EventGamePosition: EventPlayerPosition,
	EventVoiceState:   EventPlayerVoice,
}

// directedEvents are relayed to a single named target, never broadcast.
var directedEvents = map[string]bool{
	EventWebRTCOffer:  true,
	EventWebRTCAnswer: true,
	EventWebRTCICE:    true,
}
