package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// Client -> server message types.
const (
	MsgIdentify     = "identify"
	MsgCreateLobby  = "create_lobby"
	MsgJoinLobby    = "join_lobby"
	MsgToggleReady  = "toggle_ready"
	MsgLeaveLobby   = "leave_lobby"
	MsgStartGame    = "start_game"
	MsgRoll         = "roll"
	MsgEndTurn      = "end_turn"
	MsgGameFinished = "game_finished"
)

// Server -> client message types.
const (
	MsgAuthSuccess   = "auth_success"
	MsgAuthFailed    = "auth_failed"
	MsgAuthRequired  = "auth_required"
	MsgLobbyCreated  = "lobby_created"
	MsgLobbyData     = "lobby_data"
	MsgLobbyUpdated  = "lobby_updated"
	MsgJoinSuccess   = "join_success"
	MsgJoinFailed    = "join_failed"
	MsgGameStarting  = "game_starting"
	MsgGameState     = "game_state"
	MsgTurnStart     = "turn_start"
	MsgTurnResult    = "turn_result"
	MsgPlayerTimeout = "player_timeout"
	MsgPlayerLeft    = "player_left"
	MsgGameOver      = "game_over"
	MsgLobbyDeleted  = "lobby_deleted"
	MsgError         = "error"
)

// ClientMessage is the tagged envelope read off the wire. Payloads are decoded
// into the typed structs below and validated before any domain logic runs.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseClientMessage decodes the envelope and rejects messages without a type.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, NewValidationError(CodeBadPayload, fmt.Sprintf("invalid json: %v", err))
	}
	if m.Type == "" {
		return nil, NewValidationError(CodeBadPayload, "message type missing")
	}
	return &m, nil
}

func decodePayload(m *ClientMessage, dst any) error {
	if len(m.Payload) == 0 {
		return NewValidationError(CodeBadPayload, fmt.Sprintf("%s: payload missing", m.Type))
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return NewValidationError(CodeBadPayload, fmt.Sprintf("%s: %v", m.Type, err))
	}
	return nil
}

// IdentifyPayload binds a durable identity to the connection.
type IdentifyPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

func (m *ClientMessage) Identify() (*IdentifyPayload, error) {
	var p IdentifyPayload
	if err := decodePayload(m, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateLobbyPayload carries the host-chosen config; zero-valued fields fall
// back to defaults.
type CreateLobbyPayload struct {
	Config models.LobbyConfig `json:"config"`
}

func (m *ClientMessage) CreateLobby() (*CreateLobbyPayload, error) {
	var p CreateLobbyPayload
	if len(m.Payload) == 0 {
		p.Config = models.DefaultLobbyConfig()
		return &p, nil
	}
	if err := decodePayload(m, &p); err != nil {
		return nil, err
	}
	p.Config.Normalize()
	return &p, nil
}

// LobbyActionPayload covers join/ready/leave/start/roll/game_finished, all of
// which address a lobby by code. UserID is the join-time fallback identity for
// connections racing ahead of their identify round-trip.
type LobbyActionPayload struct {
	Code   string `json:"code"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

func (m *ClientMessage) LobbyAction() (*LobbyActionPayload, error) {
	var p LobbyActionPayload
	if err := decodePayload(m, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, NewValidationError(CodeInvalidCode, fmt.Sprintf("%s: lobby code missing", m.Type))
	}
	return &p, nil
}

// EndTurnPayload ends the current turn. PlayerIndex is what the client
// believes its seat is; the engine verifies it against the actual actor.
type EndTurnPayload struct {
	Code        string `json:"code"`
	PlayerIndex int    `json:"playerIndex"`
}

func (m *ClientMessage) EndTurn() (*EndTurnPayload, error) {
	var p EndTurnPayload
	if err := decodePayload(m, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, NewValidationError(CodeInvalidCode, "end_turn: lobby code missing")
	}
	return &p, nil
}

// ServerMessage is the tagged envelope written to the wire.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IdentityData is echoed on auth_success and join_success so the client can
// self-bind its durable identity.
type IdentityData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// ParticipantView is the roster entry broadcast to lobby members.
type ParticipantView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// LobbyData describes a lobby to its members. Tombstoned participants are
// kept out of the roster.
type LobbyData struct {
	Code   string             `json:"code"`
	HostID string             `json:"hostId"`
	Config models.LobbyConfig `json:"config"`
	Roster []ParticipantView  `json:"roster"`
}

// JoinSuccessData is LobbyData plus the joiner's resolved identity.
type JoinSuccessData struct {
	LobbyData
	You IdentityData `json:"you"`
}

// PlayerView is a seat in a started game.
type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Score  int    `json:"score"`
	Left   bool   `json:"left,omitempty"`
}

// GameStartingData announces the session snapshot.
type GameStartingData struct {
	Code    string             `json:"code"`
	Config  models.LobbyConfig `json:"config"`
	Players []PlayerView       `json:"players"`
}

// GameStateData is the personalized session snapshot sent to one player.
type GameStateData struct {
	Code         string       `json:"code"`
	Players      []PlayerView `json:"players"`
	CurrentIndex int          `json:"currentIndex"`
	Round        int          `json:"round"`
	TotalRounds  int          `json:"totalRounds"`
	LocalIndex   int          `json:"localIndex"`
	ExpiresAt    time.Time    `json:"expiresAt,omitempty"`
}

// TurnStartData announces whose turn began and when it times out.
type TurnStartData struct {
	PlayerIndex  int       `json:"playerIndex"`
	Round        int       `json:"round"`
	TimeLimitSec int       `json:"timeLimitSec"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TurnResultData carries a resolved roll.
type TurnResultData struct {
	PlayerIndex int       `json:"playerIndex"`
	Dice        []int     `json:"dice"`
	Sum         int       `json:"sum"`
	Combo       string    `json:"combo,omitempty"`
	Scored      int       `json:"scored"`
	Scores      []int     `json:"scores"`
	TimedOut    bool      `json:"timedOut,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// PlayerTimeoutData announces a server-side roll on behalf of a stalled
// player.
type PlayerTimeoutData struct {
	PlayerIndex int    `json:"playerIndex"`
	UserID      string `json:"userId"`
}

// GameOverData carries the final standings.
type GameOverData struct {
	Code       string                    `json:"code"`
	Scores     map[string]int            `json:"scores"`
	Names      map[string]string         `json:"names"`
	ComboStats map[string]map[string]int `json:"comboStats"`
	Winners    []string                  `json:"winners"`
}

// ErrorData is the generic failure event payload.
type ErrorData struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event builds a ServerMessage envelope.
func Event(typ string, data any) ServerMessage {
	return ServerMessage{Type: typ, Data: data}
}

// ErrorEvent maps a protocol Error onto the named failure event for its kind.
// Unknown errors become a generic error event without internal detail.
func ErrorEvent(err error) ServerMessage {
	if pe, ok := AsError(err); ok {
		typ := MsgError
		switch {
		case pe.Kind == KindAuth:
			typ = MsgAuthFailed
		case pe.Code == CodeInvalidCode, pe.Code == CodeNotFound, pe.Code == CodeFull:
			typ = MsgJoinFailed
		}
		return Event(typ, ErrorData{Kind: string(pe.Kind), Code: pe.Code, Message: pe.Msg})
	}
	return Event(MsgError, ErrorData{Kind: string(KindState), Code: "internal", Message: "internal error"})
}
