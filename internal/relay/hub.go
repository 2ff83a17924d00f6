package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	broadcastBuffer = 100
	writeTimeout    = 5 * time.Second
)

// hub fans document changes out to every connected WebSocket client. Clients
// do their own self-echo filtering by origin device ID, so the hub delivers
// each message to everyone.
type hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	broadcast chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newHub(logger *slog.Logger) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, broadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (h *hub) start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

func (h *hub) stop() {
	h.cancel()

	h.mu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// send queues a message for broadcast. Never blocks: a full channel drops
// the message, and the dropped client converges on its next sweep.
func (h *hub) send(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case data := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.mu.RUnlock()

			// Write outside the lock so a slow client cannot block broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Warn("dropping unreachable client", "error", err)
					h.remove(conn)
				}
			}
		}
	}
}

func (h *hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	return n
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	h.mu.Unlock()
}

// readLoop keeps the connection alive and detects disconnects. Client
// messages are not processed.
func (h *hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)

	for {
		_, _, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
	}
}
