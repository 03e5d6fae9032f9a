package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// apiResponse is the envelope every management endpoint answers with.
type apiResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createRoomResponse struct {
	RoomID   string   `json:"roomId"`
	JoinURL  string   `json:"joinUrl"`
	Settings Settings `json:"settings"`
}

type joinRequest struct {
	DisplayName string `json:"displayName"`
}

type kickRequest struct {
	HostID   string `json:"hostId"`
	TargetID string `json:"targetId"`
}

// Server wires the management API and the websocket gateway onto one router.
type Server struct {
	registry *Registry
	hub      *Hub
	cfg      AppConfig
	appLog   *AppLogger
}

func newServer(cfg AppConfig, registry *Registry, hub *Hub, appLog *AppLogger) *Server {
	return &Server{registry: registry, hub: hub, cfg: cfg, appLog: appLog}
}

// Handler returns the full HTTP handler: routes, CORS and optional request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/{roomId}", s.hub.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(compress, disableCaching)
	api.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}", s.handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/join", s.handleJoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/kick", s.handleKick).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/qr", s.handleRoomQR).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	var h http.Handler = c.Handler(r)
	if s.cfg.LogRequests {
		h = &LoggingHandler{Handler: h, Logger: s.appLog}
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode API response")
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errRoomGone) {
		err = ErrRoomNotFound
	}
	ev := errorEventFor(err)
	writeJSON(w, httpStatusFor(err), apiResponse{
		Error: &apiError{Code: ev.Code, Message: ev.Message},
	})
}

// decodeBody reads a JSON body into dst. An empty body is allowed when optional.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return nil
		}
		return ErrInvalidMessage
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (s *Server) joinURL(roomID string) string {
	return fmt.Sprintf("%s/rooms/%s", strings.TrimRight(s.cfg.PublicURL, "/"), roomID)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 30*time.Second)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.registry.Count(),
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var overrides Settings
	if err := decodeBody(w, r, &overrides, true); err != nil {
		writeError(w, err)
		return
	}
	room := s.registry.Create(&overrides)

	ctx, cancel := s.requestContext(r)
	defer cancel()
	st, err := room.Snapshot(ctx, "")
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("room_id", room.ID()).Msg("room created via API")
	writeData(w, http.StatusCreated, createRoomResponse{
		RoomID:   room.ID(),
		JoinURL:  s.joinURL(room.ID()),
		Settings: st.Settings,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	room, err := s.registry.Lookup(ctx, mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := room.Snapshot(ctx, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	room, err := s.registry.Lookup(ctx, mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := room.Submit(ctx, "", nil, JoinRoom{DisplayName: req.DisplayName})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	room, err := s.registry.Lookup(ctx, mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := room.Submit(ctx, req.HostID, nil, KickPlayer{TargetID: req.TargetID}); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"kicked": req.TargetID})
}

func (s *Server) handleRoomQR(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	room, err := s.registry.Lookup(ctx, mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(room.ID()), qrcode.Medium, 256)
	if err != nil {
		writeError(w, fmt.Errorf("encode QR code: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
