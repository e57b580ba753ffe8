package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeNewLampState    = "new-lamp-state"
	WSTypeLampRemoved     = "lamp-removed"
	WSTypeRequestAllLamps = "request-all-lamps"
	WSTypeCallLampMethod  = "call-lamp-method"
	WSTypePing            = "ping"
	WSTypePong            = "pong"
	WSTypeError           = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsCommandTimeout bounds one call-lamp-method fan-out.
	wsCommandTimeout = 15 * time.Second
)

// WSMessage is the envelope of every WebSocket message.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsIncoming defers decoding of data until the type is known.
type wsIncoming struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSErrorData is the data of an error message.
type WSErrorData struct {
	Message string `json:"message"`
	LampID  int64  `json:"lampId,omitempty"`
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id     string
	hub    *Hub
	server *Server
	conn   *websocket.Conn
	send   chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes the send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", h.ClientCount())
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(payload)
	}
}

// HandleRegistryEvent is a device.Observer pushing lamp changes to clients.
func (h *Hub) HandleRegistryEvent(ev device.Event) {
	switch ev.Type {
	case device.EventLampState:
		h.Broadcast(WSTypeNewLampState, ev.State)
	case device.EventLampRemoved:
		h.Broadcast(WSTypeLampRemoved, ev.State)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:     uuid.NewString(),
		hub:    s.hub,
		server: s,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection. A peer that
// answers neither pings nor sends anything for ping+pong time is dropped.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := heartbeat(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message counts as a sign of life.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued messages and heartbeat pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := heartbeat(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// heartbeat returns the ping interval and pong wait, defaulting unset
// values to 30 and 10 seconds.
func heartbeat(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg wsIncoming
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.sendError(WSErrorData{Message: "invalid message"})
		return
	}

	switch msg.Type {
	case WSTypeRequestAllLamps:
		for _, state := range c.server.registry.GetAll() {
			c.sendMessage(WSTypeNewLampState, state)
		}
	case WSTypeCallLampMethod:
		c.handleCallLampMethod(msg.Data)
	case WSTypePing:
		c.sendMessage(WSTypePong, nil)
	default:
		c.sendError(WSErrorData{Message: "unknown message type: " + msg.Type})
	}
}

// handleCallLampMethod sends a method to every target without blocking the
// read loop. Only failures are reported back; successful calls show up as
// new-lamp-state messages when the lamps push their change.
func (c *WSClient) handleCallLampMethod(data json.RawMessage) {
	var req rawMethodRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(WSErrorData{Message: "invalid call-lamp-method data: " + err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.sendError(WSErrorData{Message: err.Error()})
		return
	}
	cmd, err := yeelight.Build(req.Method, req.Args)
	if err != nil {
		c.sendError(WSErrorData{Message: err.Error()})
		return
	}

	c.hub.logger.Debug("websocket lamp method", "client_id", c.id, "method", req.Method, "targets", len(req.Targets))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
		defer cancel()
		for _, res := range c.server.sendToTargets(ctx, cmd, req.Targets) {
			if !res.OK {
				c.sendError(WSErrorData{Message: res.Error, LampID: res.LampID})
			}
		}
	}()
}

// trySend queues data for the client. Messages to a closed or full client
// are dropped.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		c.hub.logger.Debug("websocket client buffer full, dropping message", "client_id", c.id)
	}
}

func (c *WSClient) sendMessage(msgType string, data any) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		return
	}
	c.trySend(payload)
}

func (c *WSClient) sendError(data WSErrorData) {
	c.sendMessage(WSTypeError, data)
}
