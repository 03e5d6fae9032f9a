package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// ============================================================================
// Connections
// ============================================================================

// recordingConn is a Conn that keeps everything the room sends it.
type recordingConn struct {
	mu          sync.Mutex
	events      []ServerEvent
	closed      bool
	closeReason string
}

func (c *recordingConn) Send(ev ServerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *recordingConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
}

func (c *recordingConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// eventsOfType returns the received events with the given wire type.
func (c *recordingConn) eventsOfType(typ string) []ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ServerEvent
	for _, ev := range c.events {
		if ev.eventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// lastState returns the most recent room_state_update this connection saw.
func (c *recordingConn) lastState() (RoomState, bool) {
	updates := c.eventsOfType("room_state_update")
	if len(updates) == 0 {
		return RoomState{}, false
	}
	return updates[len(updates)-1].(RoomStateUpdate).RoomState, true
}

// ============================================================================
// Collaborators
// ============================================================================

// memoryStore is an in-process SnapshotStore.
type memoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  int
	fail  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (s *memoryStore) Put(ctx context.Context, roomID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	s.puts++
	s.blobs[roomID] = append([]byte(nil), blob...)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[roomID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return blob, nil
}

func (s *memoryStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, roomID)
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[roomID]
	return ok
}

// mockNarrator answers with a fixed line, or blocks until ctx ends when
// hang is set.
type mockNarrator struct {
	mu    sync.Mutex
	line  string
	err   error
	hang  bool
	calls int
}

func (m *mockNarrator) RequestLine(ctx context.Context, req NarrativeRequest) (string, error) {
	m.mu.Lock()
	m.calls++
	line, err, hang := m.line, m.err, m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return line, err
}

// recordingPublisher is an EventPublisher that keeps the event types it saw.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(roomID string, ev ServerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.eventType())
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) seen(typ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == typ {
			return true
		}
	}
	return false
}

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ============================================================================
// Test room
// ============================================================================

// testRoom drives one Room on a fake clock.
type testRoom struct {
	t     *testing.T
	room  *Room
	clock *clockwork.FakeClock
	store *memoryStore
	ctx   context.Context

	conns map[string]*recordingConn // by display name
	ids   map[string]string         // display name -> player id
}

func testSettings() Settings {
	return Settings{
		MinPlayers:    4,
		MaxPlayers:    8,
		DaySeconds:    10,
		VotingSeconds: 10,
		NightSeconds:  10,
	}
}

func newTestRoom(t *testing.T, settings Settings) *testRoom {
	return newTestRoomWithDeps(t, settings, RoomDeps{})
}

func newTestRoomWithDeps(t *testing.T, settings Settings, deps RoomDeps) *testRoom {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := newMemoryStore()
	deps.Clock = clock
	if deps.Store == nil {
		deps.Store = store
	}
	if deps.NarrativeTimeout == 0 {
		deps.NarrativeTimeout = 50 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := newRoom("test-room", settings, deps, testRand(1))
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testRoom{
		t:     t,
		room:  r,
		clock: clock,
		store: store,
		ctx:   ctx,
		conns: make(map[string]*recordingConn),
		ids:   make(map[string]string),
	}
}

// join connects a new socket under name and fails the test on error.
func (tr *testRoom) join(name string) string {
	tr.t.Helper()
	id, err := tr.tryJoin(name)
	if err != nil {
		tr.t.Fatalf("join %s: %v", name, err)
	}
	return id
}

func (tr *testRoom) tryJoin(name string) (string, error) {
	conn := &recordingConn{}
	p, err := tr.room.Submit(tr.ctx, "", conn, JoinRoom{DisplayName: name})
	if err != nil {
		return "", err
	}
	tr.conns[name] = conn
	tr.ids[name] = p.ID
	// Spread join times so host succession has a clear order.
	tr.clock.Advance(time.Second)
	return p.ID, nil
}

func (tr *testRoom) joinAll(names ...string) {
	tr.t.Helper()
	for _, n := range names {
		tr.join(n)
	}
}

// do submits msg as the named player.
func (tr *testRoom) do(name string, msg ClientMessage) error {
	_, err := tr.room.Submit(tr.ctx, tr.ids[name], tr.conns[name], msg)
	return err
}

func (tr *testRoom) mustDo(name string, msg ClientMessage) {
	tr.t.Helper()
	if err := tr.do(name, msg); err != nil {
		tr.t.Fatalf("%s %s: %v", name, msg.clientMessageType(), err)
	}
}

// state returns the full state as seen by viewer ("" for the public view).
func (tr *testRoom) state(viewer string) RoomState {
	tr.t.Helper()
	st, err := tr.room.Snapshot(tr.ctx, tr.ids[viewer])
	if err != nil {
		tr.t.Fatalf("snapshot: %v", err)
	}
	return st
}

// roleOf reads the named player's role from their own view.
func (tr *testRoom) roleOf(name string) Role {
	tr.t.Helper()
	st := tr.state(name)
	return st.playerCopy(tr.ids[name]).Role
}

// namesWithRole returns the joined players holding role, in join order.
func (tr *testRoom) namesWithRole(names []string, role Role) []string {
	var out []string
	for _, n := range names {
		if tr.roleOf(n) == role {
			out = append(out, n)
		}
	}
	return out
}

// advance moves the fake clock and waits until the room has left phase from.
func (tr *testRoom) advance(d time.Duration, from Phase) RoomState {
	tr.t.Helper()
	tr.clock.Advance(d)
	var st RoomState
	waitFor(tr.t, fmt.Sprintf("leave phase %s", from), func() bool {
		st = tr.state("")
		return st.Phase != from
	})
	return st
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countLines(log []ChatEvent, content string) int {
	n := 0
	for _, ev := range log {
		if ev.Content == content {
			n++
		}
	}
	return n
}

func hostCount(players []Player) int {
	n := 0
	for _, p := range players {
		if p.IsHost {
			n++
		}
	}
	return n
}

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}
