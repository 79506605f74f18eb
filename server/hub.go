package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the number of events queued per listener before new events are dropped for it.
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

type listener struct {
	conn *websocket.Conn
	send chan *detector.Event
}

// Hub fans detection events out to websocket listeners.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners map[*listener]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{logger: logger, metrics: m, listeners: make(map[*listener]struct{})}
}

// Broadcast queues event for every listener. Slow listeners miss events rather than block.
func (h *Hub) Broadcast(event *detector.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		select {
		case l.send <- event:
		default:
			h.logger.Debug("listener queue full, dropping event", zap.Stringer("event", event.ID))
		}
	}
}

// Len returns the number of connected listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Close disconnects every listener.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		h.remove(l)
	}
}

func (h *Hub) add(l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[l] = struct{}{}
	h.metrics.Listeners(1)
}

// remove must be called with h.mu held.
func (h *Hub) remove(l *listener) {
	if _, ok := h.listeners[l]; !ok {
		return
	}
	delete(h.listeners, l)
	close(l.send)
	h.metrics.Listeners(-1)
}

func (h *Hub) drop(l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(l)
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	l := &listener{conn: conn, send: make(chan *detector.Event, sendBuffer)}
	h.add(l)

	go h.writeLoop(l)
	h.readLoop(l)
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(l *listener) {
	defer h.drop(l)

	l.conn.SetReadLimit(4096)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := l.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(l *listener) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case event, ok := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = l.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := l.conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
