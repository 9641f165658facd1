package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kwv/roomdash/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is one message on the /ws stream.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans messages out to websocket clients. A client whose buffer is
// full misses that message; the next snapshot supersedes it anyway.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan []byte)}
}

// Register adds a client and returns its outbound channel.
func (h *Hub) Register(id string) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[id]; ok {
		close(old)
	}
	ch := make(chan []byte, sendBuffer)
	h.clients[id] = ch
	return ch
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Broadcast encodes msg once and offers it to every client without blocking.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		logger.Log.WithError(err).WithField("type", msgType).Error("hub: encode failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams hub messages to the client.
// initial, when non-nil, is sent before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial *Envelope) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	send := h.Register(id)
	if initial != nil {
		if payload, err := json.Marshal(initial); err == nil {
			send <- payload
		}
	}
	logger.Log.WithField("client", id).Info("websocket client connected")

	go writePump(conn, send)
	readPump(conn, func() {
		h.Unregister(id)
		logger.Log.WithField("client", id).Info("websocket client disconnected")
	})
}

// readPump discards client input and keeps the read deadline fresh. It
// returns when the connection closes.
func readPump(conn *websocket.Conn, done func()) {
	defer func() {
		done()
		if err := conn.Close(); err != nil {
			logger.Log.WithError(err).Debug("failed to close websocket connection")
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Log.WithError(err).Warn("failed to set read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.WithError(err).Warn("websocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Log.WithError(err).Warn("failed to set write deadline")
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Log.WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Log.WithError(err).Warn("failed to set ping write deadline")
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
