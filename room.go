package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Conn is a live client connection as seen by a room. Send must not block;
// Close disconnects the client with a reason.
type Conn interface {
	Send(ev ServerEvent)
	Close(reason string)
}

// RoomDeps are the collaborators shared by every room.
type RoomDeps struct {
	Clock            clockwork.Clock
	Store            SnapshotStore
	Narrator         NarrativeAgent
	Publisher        EventPublisher
	NarrativeTimeout time.Duration
	// IdleTimeout is how long a room may go without a connected human
	// before it shuts down.
	IdleTimeout time.Duration
}

// roomEvent is anything a room processes on its own goroutine.
type roomEvent interface {
	isRoomEvent()
}

type commandEvent struct {
	playerID string
	conn     Conn
	msg      ClientMessage
	reply    chan commandResult
}

type timerEvent struct {
	token uint64
	phase Phase
}

type idleEvent struct {
	token uint64
}

type disconnectEvent struct {
	playerID string
	conn     Conn
}

type snapshotEvent struct {
	viewerID string
	reply    chan RoomState
}

func (commandEvent) isRoomEvent()    {}
func (timerEvent) isRoomEvent()      {}
func (idleEvent) isRoomEvent()       {}
func (disconnectEvent) isRoomEvent() {}
func (snapshotEvent) isRoomEvent()   {}

type commandResult struct {
	player *Player
	err    error
}

// Room coordinates one game. All state changes happen on the goroutine
// running Run, one event at a time, so RoomState needs no locking.
type Room struct {
	id    string
	state RoomState
	conns map[string]Conn

	deps RoomDeps
	rng  *rand.Rand
	log  zerolog.Logger

	timer      clockwork.Timer
	phaseToken uint64
	idleTimer  clockwork.Timer
	idleToken  uint64

	inbox     chan roomEvent
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(roomID string)
	destroyed bool
}

func newRoom(id string, settings Settings, deps RoomDeps, rng *rand.Rand) *Room {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.NarrativeTimeout <= 0 {
		deps.NarrativeTimeout = 3 * time.Second
	}
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = defaultIdleTimeout
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Room{
		id:    id,
		state: newRoomState(id, settings.normalized()),
		conns: make(map[string]Conn),
		deps:  deps,
		rng:   rng,
		log:   log.With().Str("room_id", id).Logger(),
		inbox: make(chan roomEvent, 64),
		done:  make(chan struct{}),
	}
}

// restoreRoom rebuilds a room from a stored snapshot. Nobody is connected
// after a restore; players come back through join.
func restoreRoom(blob []byte, deps RoomDeps, rng *rand.Rand) (*Room, error) {
	var st RoomState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, err
	}
	r := newRoom(st.RoomID, st.Settings, deps, rng)
	for i := range st.Players {
		if !st.Players[i].IsAI {
			st.Players[i].ConnectionStatus = StatusDisconnected
		}
	}
	if st.Players == nil {
		st.Players = []Player{}
	}
	if st.Votes == nil {
		st.Votes = []Vote{}
	}
	if st.NightActions == nil {
		st.NightActions = []NightAction{}
	}
	if st.ChatLog == nil {
		st.ChatLog = []ChatEvent{}
	}
	st.Settings = st.Settings.normalized()
	r.state = st

	switch st.Phase {
	case PhaseDay, PhaseVoting, PhaseNight:
		remaining := st.Settings.phaseDuration(st.Phase)
		if st.PhaseDeadline != nil {
			remaining = st.PhaseDeadline.Sub(r.deps.Clock.Now())
		}
		r.armPhaseTimer(max(remaining, time.Second))
	}
	r.log.Info().Str("phase", string(st.Phase)).Uint64("version", st.Version).Msg("room restored from snapshot")
	return r, nil
}

func (r *Room) ID() string {
	return r.id
}

// Run processes events until the room is destroyed or ctx is cancelled.
func (r *Room) Run(ctx context.Context) {
	defer r.shutdown()
	r.watchIdle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case ev := <-r.inbox:
			r.handle(ev)
			if r.destroyed {
				return
			}
			r.watchIdle()
		}
	}
}

func (r *Room) shutdown() {
	r.closeOnce.Do(func() {
		r.stopTimer()
		r.stopIdleTimer()
		close(r.done)
		if r.onClose != nil {
			r.onClose(r.id)
		}
	})
}

func (r *Room) enqueue(ev roomEvent) bool {
	select {
	case r.inbox <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Submit runs msg on behalf of playerID and waits for the outcome. conn is the
// connection that sent it, or nil for management API calls.
func (r *Room) Submit(ctx context.Context, playerID string, conn Conn, msg ClientMessage) (*Player, error) {
	reply := make(chan commandResult, 1)
	if !r.enqueue(commandEvent{playerID: playerID, conn: conn, msg: msg, reply: reply}) {
		return nil, errRoomGone
	}
	select {
	case res := <-reply:
		return res.player, res.err
	case <-r.done:
		return nil, errRoomGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect reports that conn, bound to playerID, has gone away.
func (r *Room) Disconnect(playerID string, conn Conn) {
	r.enqueue(disconnectEvent{playerID: playerID, conn: conn})
}

// Snapshot returns the state as seen by viewerID ("" for the public view).
func (r *Room) Snapshot(ctx context.Context, viewerID string) (RoomState, error) {
	reply := make(chan RoomState, 1)
	if !r.enqueue(snapshotEvent{viewerID: viewerID, reply: reply}) {
		return RoomState{}, errRoomGone
	}
	select {
	case st := <-reply:
		return st, nil
	case <-r.done:
		return RoomState{}, errRoomGone
	case <-ctx.Done():
		return RoomState{}, ctx.Err()
	}
}

func (r *Room) handle(ev roomEvent) {
	switch e := ev.(type) {
	case commandEvent:
		p, err := r.apply(e.playerID, e.conn, e.msg)
		if err != nil {
			r.log.Debug().Err(err).Str("player_id", e.playerID).Str("type", e.msg.clientMessageType()).Msg("action rejected")
		}
		e.reply <- commandResult{player: p, err: err}
	case timerEvent:
		r.onTimer(e)
	case idleEvent:
		r.onIdle(e)
	case disconnectEvent:
		r.onDisconnect(e.playerID, e.conn)
	case snapshotEvent:
		e.reply <- r.state.viewFor(e.viewerID)
	default:
		r.log.Error().Msgf("unknown room event %T", ev)
	}
}

// apply validates and executes one client message. A returned error means
// the state is untouched.
func (r *Room) apply(playerID string, conn Conn, msg ClientMessage) (*Player, error) {
	if r.state.Phase == PhaseEnded {
		switch msg.(type) {
		case JoinRoom, LeaveRoom:
		default:
			return nil, ErrWrongPhase
		}
	}

	switch m := msg.(type) {
	case JoinRoom:
		return r.join(m.DisplayName, conn)
	case LeaveRoom:
		return nil, r.leave(playerID, true)
	case StartGame:
		return nil, r.startGame(playerID)
	case CastVote:
		return nil, r.castVote(playerID, m.TargetID)
	case SendChat:
		return nil, r.chat(playerID, m.Content)
	case UseAbility:
		return nil, r.castNightAction(playerID, ActionKind(m.Ability), m.TargetID)
	case KickPlayer:
		return nil, r.kick(playerID, m.TargetID)
	case AddAIPlayer:
		return r.addAIPlayer(playerID)
	default:
		return nil, ErrInvalidMessage
	}
}

// commit finishes a successful mutation: bump the version, persist and
// broadcast. It must be called exactly once per accepted change.
func (r *Room) commit() {
	r.state.Version++
	r.persist()
	r.broadcastState()
}

func (r *Room) persist() {
	if r.deps.Store == nil {
		return
	}
	blob, err := json.Marshal(r.state)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotLimit)
	defer cancel()
	if err := r.deps.Store.Put(ctx, r.id, blob); err != nil {
		r.log.Warn().Err(err).Uint64("version", r.state.Version).Msg("snapshot write failed, continuing in memory")
	}
}

func (r *Room) broadcastState() {
	for playerID, conn := range r.conns {
		conn.Send(RoomStateUpdate{RoomState: r.state.viewFor(playerID)})
	}
	r.publish(RoomStateUpdate{RoomState: r.state.viewFor("")})
}

// broadcast sends ev to every live connection and mirrors it to the publisher.
func (r *Room) broadcast(ev ServerEvent) {
	for _, conn := range r.conns {
		conn.Send(ev)
	}
	r.publish(ev)
}

func (r *Room) publish(ev ServerEvent) {
	if r.deps.Publisher == nil {
		return
	}
	if err := r.deps.Publisher.Publish(r.id, ev); err != nil {
		r.log.Warn().Err(err).Str("event", ev.eventType()).Msg("failed to publish room event")
	}
}

// send delivers a private event; it is dropped if the player is not connected.
func (r *Room) send(playerID string, ev ServerEvent) {
	if conn, ok := r.conns[playerID]; ok {
		conn.Send(ev)
	}
}

func (r *Room) appendChat(kind ChatKind, p *Player, content string) {
	ev := ChatEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Content: content,
		Day:     r.state.CurrentDay,
		Phase:   r.state.Phase,
		At:      r.deps.Clock.Now(),
	}
	if p != nil {
		ev.PlayerID = p.ID
		ev.DisplayName = p.DisplayName
	}
	r.state.ChatLog = append(r.state.ChatLog, ev)
	if n := len(r.state.ChatLog); n > maxChatLog {
		r.state.ChatLog = append([]ChatEvent{}, r.state.ChatLog[n-maxChatLog:]...)
	}
}

func (r *Room) systemLine(content string) {
	r.appendChat(ChatSystem, nil, content)
}

// armPhaseTimer replaces the phase timer. The callback only enqueues a
// timerEvent carrying the current token, so a timer that fires after the
// phase already moved on is discarded in onTimer.
func (r *Room) armPhaseTimer(d time.Duration) {
	r.stopTimer()
	r.phaseToken++
	token, phase := r.phaseToken, r.state.Phase
	deadline := r.deps.Clock.Now().Add(d)
	r.state.PhaseDeadline = &deadline
	r.timer = r.deps.Clock.AfterFunc(d, func() {
		r.enqueue(timerEvent{token: token, phase: phase})
	})
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) onTimer(ev timerEvent) {
	if ev.token != r.phaseToken || ev.phase != r.state.Phase {
		r.log.Debug().Uint64("token", ev.token).Str("phase", string(ev.phase)).Msg("stale phase timer ignored")
		return
	}
	r.advancePhase()
}

// destroy releases the room. The snapshot is kept while a human seat is
// left, so a game whose players all dropped can be restored when they
// return. A room of AI seats alone is never worth restoring.
func (r *Room) destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.stopTimer()
	r.stopIdleTimer()
	if r.state.humans() == 0 && r.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotLimit)
		defer cancel()
		if err := r.deps.Store.Delete(ctx, r.id); err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			r.log.Warn().Err(err).Msg("failed to delete snapshot")
		}
	}
	for id, conn := range r.conns {
		conn.Close("room closed")
		delete(r.conns, id)
	}
	r.log.Info().Msg("room destroyed")
}

// maybeDestroy tears the room down once no human seat is left, or once a
// running game has no connected human. Lobby seats joined through the API
// have no socket yet, so an empty lobby with such seats is kept.
func (r *Room) maybeDestroy() {
	if r.state.humans() == 0 || (r.state.Phase != PhaseLobby && r.state.connectedHumans() == 0) {
		r.destroy()
	}
}

// watchIdle runs after every event. It arms the idle timer while no human
// is connected and disarms it as soon as one is.
func (r *Room) watchIdle() {
	if r.state.connectedHumans() > 0 {
		r.stopIdleTimer()
		return
	}
	if r.idleTimer != nil {
		return
	}
	r.idleToken++
	token := r.idleToken
	r.idleTimer = r.deps.Clock.AfterFunc(r.deps.IdleTimeout, func() {
		r.enqueue(idleEvent{token: token})
	})
}

func (r *Room) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

func (r *Room) onIdle(ev idleEvent) {
	if ev.token != r.idleToken || r.state.connectedHumans() > 0 {
		return
	}
	r.log.Info().Dur("idle", r.deps.IdleTimeout).Str("phase", string(r.state.Phase)).Msg("no one connected, closing room")
	r.destroy()
}
