package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		frame string
		want  ClientMessage
	}{
		{`{"type":"join_room","displayName":"Alice"}`, JoinRoom{DisplayName: "Alice"}},
		{`{"type":"leave_room"}`, LeaveRoom{}},
		{`{"type":"start_game"}`, StartGame{}},
		{`{"type":"vote","targetId":"p2"}`, CastVote{TargetID: "p2"}},
		{`{"type":"chat","content":"hi"}`, SendChat{Content: "hi"}},
		{`{"type":"use_ability","ability":"guard","targetId":"p3"}`, UseAbility{Ability: "guard", TargetID: "p3"}},
		{`{"type":"kick_player","targetId":"p4"}`, KickPlayer{TargetID: "p4"}},
		{`{"type":"add_ai_player"}`, AddAIPlayer{}},
	}
	for _, tt := range tests {
		t.Run(tt.want.clientMessageType(), func(t *testing.T) {
			got, err := decodeClientMessage([]byte(tt.frame))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeClientMessageRejects(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"type":"teleport"}`,
		`{"type":"vote","targetId":42}`,
	} {
		if _, err := decodeClientMessage([]byte(frame)); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s: got %v, want %v", frame, err, ErrInvalidMessage)
		}
	}
}

func TestEncodeServerEvent(t *testing.T) {
	data, err := encodeServerEvent(PlayerKicked{PlayerID: "p2", By: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string `json:"type"`
		Data struct {
			PlayerID string `json:"playerId"`
			By       string `json:"by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "player_kicked" || env.Data.PlayerID != "p2" || env.Data.By != "p1" {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestErrorEvents(t *testing.T) {
	ev := errorEventFor(ErrRoomFull)
	if ev.Code != "room_full" || ev.Message != ErrRoomFull.Message {
		t.Errorf("unexpected error event %+v", ev)
	}
	if ev := errorEventFor(errors.New("disk on fire")); ev.Code != "internal" {
		t.Errorf("unknown errors must not leak: %+v", ev)
	}
	if got := httpStatusFor(ErrNotHost); got != 403 {
		t.Errorf("not host maps to %d", got)
	}
	if got := roomSubject("abc"); got != "rooms.abc.events" {
		t.Errorf("subject %q", got)
	}
}
