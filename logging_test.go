package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupLogging(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	if _, err := setupLogging(LogConfig{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}

	path := filepath.Join(t.TempDir(), "server.log")
	closer, err := setupLogging(LogConfig{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Str("room_id", "abc").Msg("hello from the test")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from the test") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestStartupLogsReachConfiguredSink(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	replay := holdStartupLogs()
	log.Warn().Str("key", "DAY_SECONDS").Msg("config: ignoring non-numeric env var")

	path := filepath.Join(t.TempDir(), "server.log")
	closer, err := setupLogging(LogConfig{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	replay()
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"config: ignoring non-numeric env var", "DAY_SECONDS", `"level":"warn"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q: %s", want, data)
		}
	}
}

func TestAppLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	al, err := NewAppLogger(LogConfig{OutputDir: dir, LogRequests: true, LogWS: true})
	if err != nil {
		t.Fatal(err)
	}
	al.LogWebSocket("IN", "room1", "c1", []byte(`{"type":"chat"}`))

	h := &LoggingHandler{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		}),
		Logger: al,
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/x", nil))
	if rec.Code != http.StatusTeapot || rec.Body.String() != "short and stout" {
		t.Errorf("response not passed through: %d %q", rec.Code, rec.Body.String())
	}
	al.Close()

	ws, _ := os.ReadFile(filepath.Join(dir, "websocket.log"))
	if !strings.Contains(string(ws), "[Room room1]") {
		t.Errorf("websocket log: %s", ws)
	}
	req, _ := os.ReadFile(filepath.Join(dir, "requests.log"))
	if !strings.Contains(string(req), "GET /api/rooms/x") || !strings.Contains(string(req), "short and stout") {
		t.Errorf("request log: %s", req)
	}
}

func TestNilAppLoggerIsSafe(t *testing.T) {
	var al *AppLogger
	al.LogWebSocket("OUT", "r", "c", []byte("x"))
	al.LogRequest("GET", "/", nil, 200, nil, nil)
	al.Close()
}
