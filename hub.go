package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CommandTimeout  time.Duration
	RatePerSecond   float64
	RateBurst       int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CommandTimeout:  30 * time.Second,
		RatePerSecond:   10,
		RateBurst:       20,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Hub accepts websocket connections and binds each one to a player in a room.
// It does no game logic: frames are decoded and handed to the room.
type Hub struct {
	registry *Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
	appLog   *AppLogger

	mu      sync.Mutex
	clients map[*Client]bool
}

func newHub(registry *Registry, config ConnectionConfig, appLog *AppLogger) *Hub {
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		appLog:  appLog,
		clients: make(map[*Client]bool),
	}
}

// Client is one websocket connection. room and playerID are only touched by
// the read pump; the room talks back through Send and Close.
type Client struct {
	id      string
	roomID  string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeOnce   sync.Once
	quit        chan struct{}
	closeReason string

	room     *Room
	playerID string
}

// Send queues ev for the write pump. It never blocks; if the client cannot
// keep up the event is dropped.
func (c *Client) Send(ev ServerEvent) {
	data, err := encodeServerEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.eventType()).Msg("failed to encode server event")
		return
	}
	select {
	case <-c.quit:
	case c.send <- data:
	default:
		log.Warn().Str("client_id", c.id).Str("room_id", c.roomID).Str("event", ev.eventType()).Msg("send buffer full, dropping event")
	}
}

// Close asks the write pump to send a close frame with reason and hang up.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.quit)
	})
}

// ServeWS upgrades GET /ws/{roomId}. The socket must send join_room before
// anything else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if !validRoomID(roomID) {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &Client{
		id:      uuid.New().String()[:8],
		roomID:  roomID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.config.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.config.RatePerSecond), h.config.RateBurst),
		quit:    make(chan struct{}),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().Str("client_id", c.id).Str("room_id", roomID).Str("remote", r.RemoteAddr).Msg("WebSocket connection established")
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Close("server shutting down")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.hub.appLog.LogWebSocket("OUT", c.roomID, c.id, message)
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("failed to write message to WebSocket")
				return
			}

		case <-c.quit:
			// Flush what the room queued before closing, so a kicked player
			// still sees player_kicked.
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.room != nil {
			c.room.Disconnect(c.playerID, c)
		}
		c.Close("connection closed")
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		c.hub.appLog.LogWebSocket("IN", c.roomID, c.id, message)

		if !c.limiter.Allow() {
			sendError(c, ErrRateLimited)
			continue
		}
		msg, err := decodeClientMessage(message)
		if err != nil {
			log.Debug().Err(err).Str("client_id", c.id).Msg("rejected malformed frame")
			sendError(c, err)
			continue
		}
		if err := c.handle(msg); err != nil {
			sendError(c, err)
		}
	}
}

// handle forwards one decoded message to the room this client is bound to.
func (c *Client) handle(msg ClientMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.CommandTimeout)
	defer cancel()

	if join, ok := msg.(JoinRoom); ok {
		if c.room != nil {
			return ErrAlreadyJoined
		}
		room, p, err := c.join(ctx, join)
		if err != nil {
			return err
		}
		c.room, c.playerID = room, p.ID
		log.Info().Str("client_id", c.id).Str("room_id", c.roomID).Str("player_id", p.ID).Msg("client bound to player")
		return nil
	}

	if c.room == nil {
		return ErrNotJoined
	}
	_, err := c.room.Submit(ctx, c.playerID, c, msg)
	if errors.Is(err, errRoomGone) {
		c.room, c.playerID = nil, ""
		c.Close("room closed")
		return ErrRoomNotFound
	}
	if err == nil {
		if _, left := msg.(LeaveRoom); left {
			c.room, c.playerID = nil, ""
		}
	}
	return err
}

// join binds the socket to a room, retrying once if the room shut down
// between lookup and submit.
func (c *Client) join(ctx context.Context, msg JoinRoom) (*Room, *Player, error) {
	for attempt := 0; ; attempt++ {
		room, err := c.hub.registry.GetOrCreate(ctx, c.roomID)
		if err != nil {
			return nil, nil, err
		}
		p, err := room.Submit(ctx, "", c, msg)
		if errors.Is(err, errRoomGone) {
			if attempt == 0 {
				continue
			}
			return nil, nil, ErrRoomNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		return room, p, nil
	}
}
