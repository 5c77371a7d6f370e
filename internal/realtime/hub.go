package realtime

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maelcorre/fleetdesk/pkg/logger"
	"github.com/maelcorre/fleetdesk/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBufferSize = 64
)

// heartbeatAction is the only client-to-server method on the channel.
const heartbeatAction = "heartbeat"

type controlMessage struct {
	Action string `json:"action"`
}

// Hub owns the live websocket connections for the notification channel. It
// registers presence in the Registry and implements Pusher for the dispatcher.
type Hub struct {
	registry *Registry
	upgrader websocket.Upgrader

	// conns maps connection id -> *connection. This is transport state only;
	// presence semantics live in the Registry.
	conns sync.Map

	log *zap.Logger
}

// NewHub constructs a Hub bound to the supplied presence registry.
func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// Serve upgrades the HTTP connection to a WebSocket and runs it until
// disconnect. The caller identity is fixed here, at upgrade time, and is never
// re-derived for the lifetime of the connection.
func (h *Hub) Serve(userID int64, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan Event, sendBufferSize),
	}

	h.conns.Store(client.id, client)
	h.registry.Add(client.id, userID)
	metrics.ActiveConnections.Inc()

	go client.writeLoop()
	client.readLoop()
}

// Push delivers one event to one connection. A vanished connection or a full
// send buffer is reported as an error; the caller decides whether that
// matters. Pushing never blocks.
func (h *Hub) Push(connectionID string, event Event) error {
	value, ok := h.conns.Load(connectionID)
	if !ok {
		return fmt.Errorf("realtime: connection %s is gone", connectionID)
	}

	client := value.(*connection)
	if err := client.enqueue(event); err != nil {
		if err == errBackpressure {
			// A client that cannot drain its buffer is dead weight; drop it so
			// the read deadline does not keep it lingering.
			client.close()
		}
		return fmt.Errorf("realtime: connection %s: %w", connectionID, err)
	}
	return nil
}

// Disconnect tears down the hub-side connection for the given id, if it is
// still present. The inactivity sweep calls this for every presence entry it
// removes, so a transport-alive socket that stopped heartbeating does not
// linger unreachable in the connection table.
func (h *Hub) Disconnect(connectionID string) {
	if value, ok := h.conns.Load(connectionID); ok {
		value.(*connection).close()
	}
}

// ActiveConnections reports the number of live connections, for health checks.
func (h *Hub) ActiveConnections() int64 {
	return int64(h.registry.Len())
}

var (
	errConnectionClosed = fmt.Errorf("connection closed")
	errBackpressure     = fmt.Errorf("send buffer full")
)

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	userID int64
	send   chan Event
	once   sync.Once

	// mu guards closed so a concurrent Push can never write to a channel that
	// close has already torn down.
	mu     sync.Mutex
	closed bool
}

func (c *connection) enqueue(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}

	select {
	case c.send <- event:
		return nil
	default:
		return errBackpressure
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.Int64("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case heartbeatAction:
			c.hub.registry.Touch(c.id)
		default:
			c.hub.log.Debug("unsupported control action",
				zap.String("action", ctrl.Action),
				zap.Int64("user_id", c.userID),
			)
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears down the connection exactly once: transport disconnect and the
// inactivity sweep may race here, and both paths must be safe no-ops after the
// first wins.
func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.hub.conns.Delete(c.id)
		c.hub.registry.Remove(c.id)
		metrics.ActiveConnections.Dec()
		close(c.send)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
