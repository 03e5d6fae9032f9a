package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string
	File        string
	OutputDir   string
	LogRequests bool
	LogWS       bool
	Dev         bool
}

// setupLogging configures the global zerolog logger: console output on
// stderr, optionally tee'd into cfg.File. The returned closer releases the file.
func setupLogging(cfg LogConfig) (io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if cfg.Dev && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// holdStartupLogs sends log entries into a buffer until logging is set up.
// The returned func replays them through whatever log.Logger is by then.
func holdStartupLogs() func() {
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	return func() {
		dec := json.NewDecoder(&buf)
		for {
			var fields map[string]any
			if err := dec.Decode(&fields); err != nil {
				return
			}
			level, err := zerolog.ParseLevel(fmt.Sprint(fields[zerolog.LevelFieldName]))
			if err != nil {
				level = zerolog.InfoLevel
			}
			msg, _ := fields[zerolog.MessageFieldName].(string)
			delete(fields, zerolog.LevelFieldName)
			delete(fields, zerolog.MessageFieldName)
			log.WithLevel(level).Fields(fields).Msg(msg)
		}
	}
}

// AppLogger writes the optional diagnostic logs: full HTTP exchanges and
// websocket traffic, one file each under the output directory.
type AppLogger struct {
	outputDir      string
	logRequests    bool
	logWS          bool
	requestLog     *os.File
	wsLog          *os.File
	mu             sync.Mutex
	requestCount   int
	wsMessageCount int
}

// NewAppLogger creates a new application logger
func NewAppLogger(config LogConfig) (*AppLogger, error) {
	al := &AppLogger{
		outputDir:   config.OutputDir,
		logRequests: config.LogRequests,
		logWS:       config.LogWS,
	}

	if al.outputDir == "" {
		return al, nil
	}

	var err error
	if al.logRequests {
		al.requestLog, err = os.OpenFile(filepath.Join(al.outputDir, "requests.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open request log: %w", err)
		}
	}
	if al.logWS {
		al.wsLog, err = os.OpenFile(filepath.Join(al.outputDir, "websocket.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			al.Close()
			return nil, fmt.Errorf("failed to open WebSocket log: %w", err)
		}
	}

	return al, nil
}

// Close closes all open log files
func (al *AppLogger) Close() {
	if al == nil {
		return
	}
	if al.requestLog != nil {
		al.requestLog.Close()
	}
	if al.wsLog != nil {
		al.wsLog.Close()
	}
}

// LogRequest logs an HTTP request and response
func (al *AppLogger) LogRequest(method, url string, reqBody []byte, status int, header http.Header, respBody []byte) {
	if al == nil || !al.logRequests || al.requestLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	al.requestCount++
	timestamp := time.Now().Format("15:04:05.000")

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n========== REQUEST #%d [%s] ==========\n", al.requestCount, timestamp)
	fmt.Fprintf(&buf, "%s %s\n", method, url)

	if len(reqBody) > 0 {
		fmt.Fprintf(&buf, "\n--- Request Body ---\n")
		buf.Write(reqBody)
		buf.WriteString("\n")
	}

	if status != 0 {
		fmt.Fprintf(&buf, "\n--- Response [%d %s] ---\n", status, http.StatusText(status))
		for k, v := range header {
			fmt.Fprintf(&buf, "%s: %s\n", k, strings.Join(v, ", "))
		}
	}

	if len(respBody) > 0 {
		fmt.Fprintf(&buf, "\n--- Response Body ---\n")
		if len(respBody) > 5000 {
			buf.Write(respBody[:5000])
			fmt.Fprintf(&buf, "\n... (truncated, %d bytes total)\n", len(respBody))
		} else {
			buf.Write(respBody)
		}
		buf.WriteString("\n")
	}

	al.requestLog.Write(buf.Bytes())
}

// LogWebSocket logs a WebSocket message
func (al *AppLogger) LogWebSocket(direction, roomID, playerID string, message []byte) {
	if al == nil || !al.logWS || al.wsLog == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	al.wsMessageCount++
	timestamp := time.Now().Format("15:04:05.000")

	fmt.Fprintf(al.wsLog, "[%s] #%d %s [Room %s] [Player %s]: %s\n",
		timestamp, al.wsMessageCount, direction, roomID, playerID, message)
}

// LoggingHandler wraps http.Handler to log requests/responses.
// WebSocket upgrades are passed through without recording because they
// need http.Hijacker, which ResponseRecorder doesn't support.
type LoggingHandler struct {
	Handler http.Handler
	Logger  *AppLogger
}

func (l *LoggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		l.Logger.LogRequest(r.Method, r.URL.String(), nil, 0, nil, []byte("[WebSocket upgrade]"))
		l.Handler.ServeHTTP(w, r)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(reqBody))
	}

	rec := httptest.NewRecorder()
	l.Handler.ServeHTTP(rec, r)

	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	respBody := rec.Body.Bytes()
	w.Write(respBody)

	l.Logger.LogRequest(r.Method, r.URL.String(), reqBody, rec.Code, rec.Header(), respBody)
	log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.Code).Msg("http request")
}
