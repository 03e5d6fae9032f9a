package main

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// ============================================================================
// WebSocket test helpers
// ============================================================================

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	registry *Registry
	hub      *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry := NewRegistry(RoomDeps{Clock: clockwork.NewFakeClock()}, testSettings())
	hub := newHub(registry, DefaultConnectionConfig(), nil)
	cfg := defaultConfig()
	cfg.PublicURL = "http://werewolf.test"
	srv := httptest.NewServer(newServer(cfg, registry, hub, nil).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		registry.Close()
	})
	return &testServer{t: t, srv: srv, registry: registry, hub: hub}
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type testSocket struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(roomID string) *testSocket {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.t.Fatalf("dial %s: %v", url, err)
	}
	ts.t.Cleanup(func() { conn.Close() })
	return &testSocket{t: ts.t, conn: conn}
}

func (s *testSocket) send(msg map[string]any) {
	s.t.Helper()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.t.Fatalf("write: %v", err)
	}
}

// next reads frames until one of type typ arrives.
func (s *testSocket) next(typ string) wsEvent {
	s.t.Helper()
	for {
		s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev wsEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

func (s *testSocket) join(name string) string {
	s.t.Helper()
	s.send(map[string]any{"type": "join_room", "displayName": name})
	var joined Joined
	if err := json.Unmarshal(s.next("joined").Data, &joined); err != nil {
		s.t.Fatal(err)
	}
	return joined.PlayerID
}

func (s *testSocket) nextError() ErrorEvent {
	s.t.Helper()
	var ev ErrorEvent
	if err := json.Unmarshal(s.next("error").Data, &ev); err != nil {
		s.t.Fatal(err)
	}
	return ev
}

// ============================================================================
// Tests
// ============================================================================

func TestWebSocketJoinAndSync(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial("square")
	aliceID := alice.join("Alice")
	if aliceID == "" {
		t.Fatal("no player id in joined")
	}

	bob := ts.dial("square")
	bobID := bob.join("Bob")

	// Alice hears about herself first, then about Bob, then gets a fresh state.
	var joined PlayerJoined
	for joined.ID != bobID {
		if err := json.Unmarshal(alice.next("player_joined").Data, &joined); err != nil {
			t.Fatal(err)
		}
	}
	if joined.DisplayName != "Bob" || joined.Role != "" {
		t.Errorf("unexpected player_joined %+v", joined.Player)
	}
	var st RoomState
	if err := json.Unmarshal(alice.next("room_state_update").Data, &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Players) != 2 || st.RoomID != "square" {
		t.Errorf("unexpected state: room %s with %d players", st.RoomID, len(st.Players))
	}

	bob.send(map[string]any{"type": "chat", "content": "evening all"})
	for {
		if err := json.Unmarshal(alice.next("room_state_update").Data, &st); err != nil {
			t.Fatal(err)
		}
		if last := st.ChatLog[len(st.ChatLog)-1]; last.Content == "evening all" {
			break
		}
	}
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	ts := newTestServer(t)
	s := ts.dial("square")

	s.send(map[string]any{"type": "vote", "targetId": "x"})
	if ev := s.nextError(); ev.Code != ErrNotJoined.Code {
		t.Errorf("vote before join: got %q", ev.Code)
	}

	s.conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if ev := s.nextError(); ev.Code != ErrInvalidMessage.Code {
		t.Errorf("malformed frame: got %q", ev.Code)
	}

	s.send(map[string]any{"type": "fly_away"})
	if ev := s.nextError(); ev.Code != ErrInvalidMessage.Code {
		t.Errorf("unknown type: got %q", ev.Code)
	}

	s.join("Alice")
	s.send(map[string]any{"type": "join_room", "displayName": "Alice again"})
	if ev := s.nextError(); ev.Code != ErrAlreadyJoined.Code {
		t.Errorf("second join: got %q", ev.Code)
	}

	// Validation errors come back to the sender only.
	s.send(map[string]any{"type": "start_game"})
	if ev := s.nextError(); ev.Code != ErrInsufficientPlayers.Code {
		t.Errorf("start alone: got %q", ev.Code)
	}
}

func TestWebSocketDuplicateName(t *testing.T) {
	ts := newTestServer(t)
	ts.dial("square").join("Alice")

	other := ts.dial("square")
	other.send(map[string]any{"type": "join_room", "displayName": "Alice"})
	if ev := other.nextError(); ev.Code != ErrDuplicateName.Code {
		t.Errorf("got %q, want %q", ev.Code, ErrDuplicateName.Code)
	}
}

func TestWebSocketKickClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial("square")
	alice.join("Alice")
	bob := ts.dial("square")
	bobID := bob.join("Bob")

	alice.send(map[string]any{"type": "kick_player", "targetId": bobID})

	bob.next("player_kicked")
	bob.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := bob.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected a close frame, got %v", err)
		}
		if ce.Text != "kicked by Alice" {
			t.Errorf("close reason %q", ce.Text)
		}
		break
	}
}

func TestWebSocketInvalidRoomID(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/bad%20room"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("dial with an invalid room id should fail")
	}
}
