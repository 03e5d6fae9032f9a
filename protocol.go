package main

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is one of the messages a client may send. The set is closed:
// decodeClientMessage and Room.apply must both handle every type below.
type ClientMessage interface {
	clientMessageType() string
}

type JoinRoom struct {
	DisplayName string `json:"displayName"`
}

type LeaveRoom struct{}

type StartGame struct{}

type CastVote struct {
	TargetID string `json:"targetId"`
}

type SendChat struct {
	Content string `json:"content"`
}

type UseAbility struct {
	TargetID string `json:"targetId"`
	Ability  string `json:"ability"`
}

type KickPlayer struct {
	TargetID string `json:"targetId"`
}

type AddAIPlayer struct{}

func (JoinRoom) clientMessageType() string    { return "join_room" }
func (LeaveRoom) clientMessageType() string   { return "leave_room" }
func (StartGame) clientMessageType() string   { return "start_game" }
func (CastVote) clientMessageType() string    { return "vote" }
func (SendChat) clientMessageType() string    { return "chat" }
func (UseAbility) clientMessageType() string  { return "use_ability" }
func (KickPlayer) clientMessageType() string  { return "kick_player" }
func (AddAIPlayer) clientMessageType() string { return "add_ai_player" }

// decodeClientMessage parses a flat JSON frame such as
// {"type":"vote","targetId":"..."}.
func decodeClientMessage(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch env.Type {
	case "join_room":
		return decodeAs[JoinRoom](data)
	case "leave_room":
		return LeaveRoom{}, nil
	case "start_game":
		return StartGame{}, nil
	case "vote":
		return decodeAs[CastVote](data)
	case "chat":
		return decodeAs[SendChat](data)
	case "use_ability":
		return decodeAs[UseAbility](data)
	case "kick_player":
		return decodeAs[KickPlayer](data)
	case "add_ai_player":
		return AddAIPlayer{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}
}

func decodeAs[T ClientMessage](data []byte) (ClientMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// ServerEvent is one of the events the server pushes to clients. On the wire
// every event is wrapped as {"type": ..., "data": ...}.
type ServerEvent interface {
	eventType() string
}

type RoomStateUpdate struct {
	RoomState
}

type PlayerJoined struct {
	Player
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type PlayerKicked struct {
	PlayerID string `json:"playerId"`
	By       string `json:"by"`
}

// DivineResult is private to the seer who asked.
type DivineResult struct {
	Text       string `json:"text"`
	TargetID   string `json:"targetId"`
	IsWerewolf bool   `json:"isWerewolf"`
}

// AbilityUsed acknowledges an attack or guard privately.
type AbilityUsed struct {
	Text string `json:"text"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Joined tells a connection which player it now speaks for.
type Joined struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
}

func (RoomStateUpdate) eventType() string { return "room_state_update" }
func (PlayerJoined) eventType() string    { return "player_joined" }
func (PlayerLeft) eventType() string      { return "player_left" }
func (PlayerKicked) eventType() string    { return "player_kicked" }
func (DivineResult) eventType() string    { return "divine_result" }
func (AbilityUsed) eventType() string     { return "ability_used" }
func (ErrorEvent) eventType() string      { return "error" }
func (Joined) eventType() string          { return "joined" }

type serverEnvelope struct {
	Type string      `json:"type"`
	Data ServerEvent `json:"data"`
}

func encodeServerEvent(ev ServerEvent) ([]byte, error) {
	return json.Marshal(serverEnvelope{Type: ev.eventType(), Data: ev})
}
