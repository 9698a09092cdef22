package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"booktalk/internal/chat"
)

const writeWait = 10 * time.Second

// Hub tracks the live sockets of this process, keyed by connection ID, and
// implements chat.Pusher over them. It is the only place that writes data
// frames, serialized per socket.
type Hub struct {
	mu    sync.RWMutex
	socks map[string]*socket
}

type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHub initializes an empty hub.
func NewHub() *Hub {
	return &Hub{socks: make(map[string]*socket)}
}

// Add registers a socket under its connection ID.
func (h *Hub) Add(connectionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.socks[connectionID] = &socket{conn: conn}
}

// Remove deregisters the socket. The caller owns closing the underlying
// connection.
func (h *Hub) Remove(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.socks, connectionID)
}

// Push writes one text frame to the connection. An unknown connection ID,
// or a write against a closed socket, reports chat.ErrConnectionGone; other
// write failures are returned as-is.
func (h *Hub) Push(connectionID string, data []byte) error {
	h.mu.RLock()
	s, ok := h.socks[connectionID]
	h.mu.RUnlock()
	if !ok {
		return chat.ErrConnectionGone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", chat.ErrConnectionGone, err)
		}
		return err
	}
	return nil
}
