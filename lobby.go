package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// cleanName trims a display name and checks its length.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameRunes {
		return "", ErrInvalidName
	}
	return name, nil
}

// join adds a player or reconnects one. Display name is the identity key
// within a room: a name that matches a disconnected player re-binds that
// player to conn in any phase, keeping its id, role and alive state.
// conn is nil for joins made through the management API; such players stay
// disconnected until a socket joins with the same name.
func (r *Room) join(displayName string, conn Conn) (*Player, error) {
	name, err := cleanName(displayName)
	if err != nil {
		return nil, err
	}

	if existing := r.state.playerByName(name); existing != nil {
		if existing.IsAI || existing.ConnectionStatus == StatusConnected {
			return nil, ErrDuplicateName
		}
		if conn == nil {
			p := r.state.viewFor("").playerCopy(existing.ID)
			return &p, nil
		}
		existing.ConnectionStatus = StatusConnected
		r.conns[existing.ID] = conn
		p := *existing
		conn.Send(Joined{PlayerID: p.ID, RoomID: r.id})
		r.broadcast(PlayerJoined{Player: r.state.viewFor("").playerCopy(p.ID)})
		r.systemLine(fmt.Sprintf("%s reconnected.", p.DisplayName))
		r.log.Info().Str("player_id", p.ID).Str("name", p.DisplayName).Msg("player reconnected")
		r.commit()
		return &p, nil
	}

	if r.state.Phase != PhaseLobby {
		return nil, ErrRoomClosed
	}
	if len(r.state.Players) >= r.state.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}

	// An AI seat only holds the host seat until a human arrives.
	host := r.state.host()
	p := Player{
		ID:               uuid.NewString(),
		DisplayName:      name,
		IsAlive:          true,
		IsHost:           host == nil || host.IsAI,
		ConnectionStatus: StatusDisconnected,
		JoinedAt:         r.deps.Clock.Now(),
	}
	if conn != nil {
		p.ConnectionStatus = StatusConnected
		r.conns[p.ID] = conn
		conn.Send(Joined{PlayerID: p.ID, RoomID: r.id})
	}
	if p.IsHost && host != nil {
		host.IsHost = false
		r.log.Info().Str("player_id", p.ID).Msg("host taken over from AI seat")
	}
	r.state.Players = append(r.state.Players, p)
	r.broadcast(PlayerJoined{Player: p})
	r.systemLine(fmt.Sprintf("%s joined the room.", p.DisplayName))
	r.log.Info().Str("player_id", p.ID).Str("name", p.DisplayName).Bool("host", p.IsHost).Msg("player joined")
	r.commit()
	return &p, nil
}

// playerCopy returns a copy of the player with the given id, or a zero Player.
func (s RoomState) playerCopy(id string) Player {
	if p := s.player(id); p != nil {
		return *p
	}
	return Player{}
}

// leave handles both an explicit leave_room and a dropped socket. In the
// lobby the player is removed; once a game is running the seat is kept and
// only marked disconnected. closeConn is set for explicit leaves so the
// socket is told to go away.
func (r *Room) leave(playerID string, closeConn bool) error {
	p := r.state.player(playerID)
	if p == nil {
		return ErrNotInRoom
	}
	conn := r.conns[playerID]
	delete(r.conns, playerID)
	name := p.DisplayName

	if r.state.Phase == PhaseLobby {
		wasHost := p.IsHost
		r.state.removePlayer(playerID)
		if wasHost {
			r.reassignHost()
		}
	} else {
		p.ConnectionStatus = StatusDisconnected
	}

	r.broadcast(PlayerLeft{PlayerID: playerID})
	r.systemLine(fmt.Sprintf("%s left the room.", name))
	r.log.Info().Str("player_id", playerID).Str("phase", string(r.state.Phase)).Msg("player left")
	if closeConn && conn != nil {
		conn.Close("left room")
	}
	r.commit()

	r.maybeDestroy()
	if !r.destroyed {
		r.resolveEarlyIfReady()
	}
	return nil
}

func (r *Room) onDisconnect(playerID string, conn Conn) {
	if playerID == "" || r.conns[playerID] != conn {
		return
	}
	if err := r.leave(playerID, false); err != nil {
		r.log.Debug().Err(err).Str("player_id", playerID).Msg("disconnect for unknown player")
	}
}

// reassignHost hands the host seat to the earliest-joined remaining human,
// or to the earliest remaining seat if only AI seats are left.
func (r *Room) reassignHost() {
	if len(r.state.Players) == 0 {
		return
	}
	next := -1
	for i, p := range r.state.Players {
		if p.IsAI {
			continue
		}
		if next < 0 || p.JoinedAt.Before(r.state.Players[next].JoinedAt) {
			next = i
		}
	}
	if next < 0 {
		next = 0
	}
	for i := range r.state.Players {
		r.state.Players[i].IsHost = i == next
	}
	r.log.Info().Str("player_id", r.state.Players[next].ID).Msg("host reassigned")
}

// requireHost returns the acting player if it is the host.
func (r *Room) requireHost(playerID string) (*Player, error) {
	p := r.state.player(playerID)
	if p == nil {
		return nil, ErrNotInRoom
	}
	if !p.IsHost {
		return nil, ErrNotHost
	}
	return p, nil
}

func (r *Room) kick(hostID, targetID string) error {
	host, err := r.requireHost(hostID)
	if err != nil {
		return err
	}
	if r.state.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	target := r.state.player(targetID)
	if target == nil {
		return ErrInvalidTarget
	}
	if target.IsHost {
		return ErrSelfTarget
	}

	name := target.DisplayName
	r.broadcast(PlayerKicked{PlayerID: targetID, By: host.ID})
	if conn, ok := r.conns[targetID]; ok {
		conn.Close(fmt.Sprintf("kicked by %s", host.DisplayName))
		delete(r.conns, targetID)
	}
	r.state.removePlayer(targetID)
	r.systemLine(fmt.Sprintf("%s was removed by the host.", name))
	r.log.Info().Str("player_id", targetID).Str("by", host.ID).Msg("player kicked")
	r.commit()
	r.maybeDestroy()
	return nil
}

func (r *Room) startGame(playerID string) error {
	if _, err := r.requireHost(playerID); err != nil {
		return err
	}
	if r.state.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	assigned, err := assignRoles(r.state.Players, r.state.Settings.CustomRoles, r.state.Settings.MinPlayers, r.rng)
	if err != nil {
		return err
	}

	r.state.Players = assigned
	r.state.CurrentDay = 0
	r.state.Winner = TeamNone
	r.state.LastExecuted = ""
	r.state.LastGuarded = nil
	r.log.Info().Int("players", len(assigned)).Str("roles", describeShape(roleCounts(assigned))).Msg("game started")
	r.systemLine("The game begins. Check your role and trust no one.")
	r.enterPhase(PhaseDay)
	r.commit()
	return nil
}

func (r *Room) chat(playerID, content string) error {
	p := r.state.player(playerID)
	if p == nil {
		return ErrNotInRoom
	}
	switch r.state.Phase {
	case PhaseLobby:
	case PhaseDay, PhaseVoting:
		if !p.IsAlive {
			return ErrDeadActor
		}
	default:
		return ErrWrongPhase
	}
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > maxChatRunes {
		return ErrInvalidChat
	}
	r.appendChat(ChatPlayer, p, content)
	r.commit()
	return nil
}

func (r *Room) addAIPlayer(playerID string) (*Player, error) {
	if _, err := r.requireHost(playerID); err != nil {
		return nil, err
	}
	if r.state.Phase != PhaseLobby {
		return nil, ErrWrongPhase
	}
	if len(r.state.Players) >= r.state.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}

	p := Player{
		ID:               uuid.NewString(),
		DisplayName:      r.nextAIName(),
		IsAlive:          true,
		IsAI:             true,
		ConnectionStatus: StatusConnected,
		JoinedAt:         r.deps.Clock.Now(),
	}
	r.state.Players = append(r.state.Players, p)
	r.broadcast(PlayerJoined{Player: p})
	r.systemLine(fmt.Sprintf("%s took a seat.", p.DisplayName))
	r.log.Info().Str("player_id", p.ID).Str("name", p.DisplayName).Msg("ai seat added")
	r.commit()
	return &p, nil
}
