package main

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// GameError is a rejected action. It is reported back to whoever sent the
// action and never changes room state.
type GameError struct {
	Code    string
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// Validation errors.
var (
	ErrWrongPhase     = &GameError{Code: "wrong_phase", Message: "That is not allowed in the current phase"}
	ErrNotHost        = &GameError{Code: "not_host", Message: "Only the host can do that"}
	ErrNotInRoom      = &GameError{Code: "not_in_room", Message: "You are not in this room"}
	ErrDeadActor      = &GameError{Code: "dead_actor", Message: "Dead players cannot act"}
	ErrInvalidTarget  = &GameError{Code: "invalid_target", Message: "Invalid target"}
	ErrSelfTarget     = &GameError{Code: "self_target", Message: "You cannot target yourself"}
	ErrWrongRole      = &GameError{Code: "wrong_role", Message: "Your role cannot do that"}
	ErrAlreadyActed   = &GameError{Code: "already_acted", Message: "You have already acted this night"}
	ErrRepeatGuard    = &GameError{Code: "repeat_guard", Message: "You cannot guard the same player two nights in a row"}
	ErrDuplicateName  = &GameError{Code: "duplicate_name", Message: "That name is already taken"}
	ErrInvalidName    = &GameError{Code: "invalid_name", Message: "Display name must be 1 to 24 characters"}
	ErrInvalidChat    = &GameError{Code: "invalid_chat", Message: "Message must be 1 to 500 characters"}
	ErrAlreadyJoined  = &GameError{Code: "already_joined", Message: "This connection already joined a room"}
	ErrNotJoined      = &GameError{Code: "not_joined", Message: "Join a room first"}
	ErrInvalidMessage = &GameError{Code: "invalid_message", Message: "Malformed message"}
	ErrRateLimited    = &GameError{Code: "rate_limited", Message: "Too many messages, slow down"}
)

// Resource errors.
var (
	ErrRoomFull            = &GameError{Code: "room_full", Message: "The room is full"}
	ErrRoomClosed          = &GameError{Code: "room_closed", Message: "The game has already started"}
	ErrInsufficientPlayers = &GameError{Code: "insufficient_players", Message: "Not enough players to start"}
	ErrRoleCountMismatch   = &GameError{Code: "role_count_mismatch", Message: "Role count must match player count"}
	ErrNoThreatRole        = &GameError{Code: "no_threat_role", Message: "At least one werewolf is required"}
	ErrRoomNotFound        = &GameError{Code: "room_not_found", Message: "Room not found"}
)

// errRoomGone is returned when a command reaches a room that already shut down.
var errRoomGone = errors.New("room is gone")

// errorEventFor converts an error into the wire event sent to the client.
// Unknown errors are logged and replaced by a generic message.
func errorEventFor(err error) ErrorEvent {
	var ge *GameError
	if errors.As(err, &ge) {
		return ErrorEvent{Message: err.Error(), Code: ge.Code}
	}
	log.Error().Err(err).Msg("unexpected error reported to client")
	return ErrorEvent{Message: "Something went wrong", Code: "internal"}
}

// sendError reports err to a single connection.
func sendError(conn Conn, err error) {
	if conn == nil {
		return
	}
	conn.Send(errorEventFor(err))
}

// httpStatusFor maps an error to the management API status code.
func httpStatusFor(err error) int {
	var ge *GameError
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Code {
	case ErrRoomNotFound.Code, ErrNotInRoom.Code:
		return http.StatusNotFound
	case ErrNotHost.Code:
		return http.StatusForbidden
	case ErrDuplicateName.Code, ErrRoomFull.Code, ErrRoomClosed.Code, ErrWrongPhase.Code:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
