package main

import (
	"time"
)

// Phase is the room's position in the game loop.
type Phase string

const (
	PhaseLobby  Phase = "lobby"
	PhaseDay    Phase = "day"
	PhaseVoting Phase = "voting"
	PhaseNight  Phase = "night"
	PhaseEnded  Phase = "ended"
)

type Role string

const (
	RoleVillager Role = "villager"
	RoleWerewolf Role = "werewolf"
	RoleSeer     Role = "seer"
	RoleKnight   Role = "knight"
	RoleMadman   Role = "madman"
)

// Team is an alignment. The zero value means "no winner yet".
type Team string

const (
	TeamNone       Team = ""
	TeamVillage    Team = "village"
	TeamWerewolves Team = "werewolves"
)

// Team returns the side the role counts for when checking win conditions.
// The Madman counts for the werewolves even though it is not told who they are.
func (r Role) Team() Team {
	switch r {
	case RoleWerewolf, RoleMadman:
		return TeamWerewolves
	case "":
		return TeamNone
	default:
		return TeamVillage
	}
}

func (r Role) IsNeutral() bool {
	return r == RoleMadman
}

// NightAbility returns the one night action the role may take, or "" for none.
func (r Role) NightAbility() ActionKind {
	switch r {
	case RoleWerewolf:
		return ActionAttack
	case RoleSeer:
		return ActionDivine
	case RoleKnight:
		return ActionGuard
	default:
		return ""
	}
}

func (r Role) valid() bool {
	switch r {
	case RoleVillager, RoleWerewolf, RoleSeer, RoleKnight, RoleMadman:
		return true
	}
	return false
}

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

type Player struct {
	ID               string           `json:"id"`
	DisplayName      string           `json:"displayName"`
	Role             Role             `json:"role,omitempty"`
	IsAlive          bool             `json:"isAlive"`
	IsHost           bool             `json:"isHost"`
	IsAI             bool             `json:"isAI,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	JoinedAt         time.Time        `json:"joinedAt"`
}

// canAct reports whether the player takes part in turn-taking right now.
func (p *Player) canAct() bool {
	return p.IsAlive && p.ConnectionStatus == StatusConnected
}

type Vote struct {
	VoterID  string    `json:"voterId"`
	TargetID string    `json:"targetId"`
	CastAt   time.Time `json:"castAt"`
}

type ActionKind string

const (
	ActionAttack ActionKind = "attack"
	ActionGuard  ActionKind = "guard"
	ActionDivine ActionKind = "divine"
)

type NightAction struct {
	ActorID  string     `json:"actorId"`
	Kind     ActionKind `json:"kind"`
	TargetID string     `json:"targetId"`
	CastAt   time.Time  `json:"castAt"`
}

type ChatKind string

const (
	ChatPlayer    ChatKind = "player"
	ChatSystem    ChatKind = "system"
	ChatNarrative ChatKind = "narrative"
)

type ChatEvent struct {
	ID          string    `json:"id"`
	Kind        ChatKind  `json:"kind"`
	PlayerID    string    `json:"playerId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Content     string    `json:"content"`
	Day         int       `json:"day"`
	Phase       Phase     `json:"phase"`
	At          time.Time `json:"at"`
}

// Settings are fixed when the room is created.
type Settings struct {
	MinPlayers    int          `json:"minPlayers"`
	MaxPlayers    int          `json:"maxPlayers"`
	DaySeconds    int          `json:"daySeconds"`
	VotingSeconds int          `json:"votingSeconds"`
	NightSeconds  int          `json:"nightSeconds"`
	CustomRoles   map[Role]int `json:"customRoles,omitempty"`
}

const (
	minRoomSize   = 4
	maxRoomSize   = 20
	maxChatLog    = 300
	maxNameRunes  = 24
	maxChatRunes  = 500
	aiHistoryLen  = 12
	maxAISpeakers = 3
	snapshotLimit = 2 * time.Second

	defaultIdleTimeout = 10 * time.Minute
)

func defaultSettings() Settings {
	return Settings{
		MinPlayers:    minRoomSize,
		MaxPlayers:    12,
		DaySeconds:    120,
		VotingSeconds: 60,
		NightSeconds:  45,
	}
}

// normalized clamps out-of-range values back into something playable.
func (s Settings) normalized() Settings {
	d := defaultSettings()
	if s.MinPlayers < minRoomSize {
		s.MinPlayers = minRoomSize
	}
	if s.MaxPlayers <= 0 {
		s.MaxPlayers = d.MaxPlayers
	}
	if s.MaxPlayers > maxRoomSize {
		s.MaxPlayers = maxRoomSize
	}
	if s.MaxPlayers < s.MinPlayers {
		s.MaxPlayers = s.MinPlayers
	}
	if s.DaySeconds <= 0 {
		s.DaySeconds = d.DaySeconds
	}
	if s.VotingSeconds <= 0 {
		s.VotingSeconds = d.VotingSeconds
	}
	if s.NightSeconds <= 0 {
		s.NightSeconds = d.NightSeconds
	}
	return s
}

func (s Settings) phaseDuration(p Phase) time.Duration {
	switch p {
	case PhaseDay:
		return time.Duration(s.DaySeconds) * time.Second
	case PhaseVoting:
		return time.Duration(s.VotingSeconds) * time.Second
	case PhaseNight:
		return time.Duration(s.NightSeconds) * time.Second
	}
	return 0
}

// RoomState is the single authoritative record of one room. Only the owning
// Room goroutine mutates it; everyone else gets a copy from clone or viewFor.
type RoomState struct {
	RoomID        string            `json:"roomId"`
	Phase         Phase             `json:"phase"`
	Players       []Player          `json:"players"`
	CurrentDay    int               `json:"currentDay"`
	PhaseDeadline *time.Time        `json:"phaseDeadline,omitempty"`
	Votes         []Vote            `json:"votes"`
	NightActions  []NightAction     `json:"nightActions"`
	ChatLog       []ChatEvent       `json:"chatLog"`
	LastExecuted  string            `json:"lastExecuted,omitempty"`
	Winner        Team              `json:"winner,omitempty"`
	LastGuarded   map[string]string `json:"lastGuarded,omitempty"` // knight id -> target of the previous night
	Settings      Settings          `json:"settings"`
	Version       uint64            `json:"version"`
}

func newRoomState(roomID string, settings Settings) RoomState {
	return RoomState{
		RoomID:       roomID,
		Phase:        PhaseLobby,
		Players:      []Player{},
		Votes:        []Vote{},
		NightActions: []NightAction{},
		ChatLog:      []ChatEvent{},
		Settings:     settings,
	}
}

func (s *RoomState) player(id string) *Player {
	if id == "" {
		return nil
	}
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *RoomState) playerByName(name string) *Player {
	for i := range s.Players {
		if s.Players[i].DisplayName == name {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *RoomState) host() *Player {
	for i := range s.Players {
		if s.Players[i].IsHost {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *RoomState) removePlayer(id string) {
	kept := s.Players[:0]
	for _, p := range s.Players {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.Players = kept
}

func (s *RoomState) connectedHumans() int {
	n := 0
	for _, p := range s.Players {
		if !p.IsAI && p.ConnectionStatus == StatusConnected {
			n++
		}
	}
	return n
}

func (s *RoomState) humans() int {
	n := 0
	for _, p := range s.Players {
		if !p.IsAI {
			n++
		}
	}
	return n
}

func (s *RoomState) hasActedTonight(actorID string) bool {
	for _, a := range s.NightActions {
		if a.ActorID == actorID {
			return true
		}
	}
	return false
}

func (s *RoomState) clone() RoomState {
	c := *s
	c.Players = append([]Player{}, s.Players...)
	c.Votes = append([]Vote{}, s.Votes...)
	c.NightActions = append([]NightAction{}, s.NightActions...)
	c.ChatLog = append([]ChatEvent{}, s.ChatLog...)
	if s.PhaseDeadline != nil {
		d := *s.PhaseDeadline
		c.PhaseDeadline = &d
	}
	if s.LastGuarded != nil {
		c.LastGuarded = make(map[string]string, len(s.LastGuarded))
		for k, v := range s.LastGuarded {
			c.LastGuarded[k] = v
		}
	}
	if s.Settings.CustomRoles != nil {
		c.Settings.CustomRoles = make(map[Role]int, len(s.Settings.CustomRoles))
		for k, v := range s.Settings.CustomRoles {
			c.Settings.CustomRoles[k] = v
		}
	}
	return c
}

// viewFor returns the copy of the state a given viewer is allowed to see.
// An empty viewerID yields the public view used for spectators and the API.
//
// Roles are shown for the viewer, for dead players, for werewolf teammates
// (werewolves only, the Madman is not told) and for everyone once the game ends.
// Night actions are only ever shown to their actor.
func (s *RoomState) viewFor(viewerID string) RoomState {
	v := s.clone()
	viewer := s.player(viewerID)
	if s.Phase != PhaseEnded {
		for i := range v.Players {
			p := &v.Players[i]
			if p.ID == viewerID || !p.IsAlive {
				continue
			}
			if viewer != nil && viewer.Role == RoleWerewolf && p.Role == RoleWerewolf {
				continue
			}
			p.Role = ""
		}
	}
	own := []NightAction{}
	for _, a := range v.NightActions {
		if a.ActorID == viewerID {
			own = append(own, a)
		}
	}
	v.NightActions = own
	if v.LastGuarded != nil {
		target, ok := v.LastGuarded[viewerID]
		v.LastGuarded = nil
		if ok {
			v.LastGuarded = map[string]string{viewerID: target}
		}
	}
	return v
}
