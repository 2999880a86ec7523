package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/bus"
)

// Hub fans bus events out to websocket clients. Bus handlers must not
// block, so each connection gets a buffered send queue and its own writer
// goroutine; a client that cannot keep up is dropped.
type Hub struct {
	mu       sync.Mutex
	conns    map[*hubConn]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

type hubConn struct {
	ws   *websocket.Conn
	send chan []byte
}

func NewHub(events *bus.Bus) *Hub {
	h := &Hub{
		conns: make(map[*hubConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: log.With().Str("component", "monitor.ws").Logger(),
	}
	if events != nil {
		events.Subscribe(h.broadcast)
	}
	return h
}

// broadcast queues one event for every client without blocking the bus.
func (h *Hub) broadcast(event bus.Event) {
	payload, err := event.JSON()
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		select {
		case conn.send <- payload:
		default:
			// Slow consumer: close the queue so its writer exits.
			delete(h.conns, conn)
			close(conn.send)
		}
	}
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &hubConn{ws: ws, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.writer(conn)
	go h.reader(conn)
}

func (h *Hub) writer(conn *hubConn) {
	defer conn.ws.Close()
	for payload := range conn.send {
		conn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.detach(conn)
			return
		}
	}
}

// reader drains client frames so pings are answered, detaching on error.
func (h *Hub) reader(conn *hubConn) {
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			h.detach(conn)
			return
		}
	}
}

func (h *Hub) detach(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
	}
}

// ClientCount reports attached clients, for the health payload.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
