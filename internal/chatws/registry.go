// Package chatws serves the chat over WebSocket for browsers that keep a
// connection open instead of posting each message.
package chatws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const notifyTimeout = 5 * time.Second

// socket is the subset of *websocket.Conn the registry uses.
type socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Registry tracks the open connection for each chat session. A session key
// already carries the device and tab, so a second connection replaces the first.
type Registry struct {
	mu     sync.RWMutex
	active map[string]socket
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]socket)}
}

// Get returns the connection registered for sessionID, if any.
func (r *Registry) Get(sessionID string) socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[sessionID]
}

// Register records conn for sessionID, closing any connection it replaces.
func (r *Registry) Register(sessionID string, conn socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	r.active[sessionID] = conn
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the registered connection.
func (r *Registry) Unregister(sessionID string, conn socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[sessionID]; ok && current == conn {
		delete(r.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Notify sends frame to the session's open connection. It reports whether a
// connection was found and written to.
func (r *Registry) Notify(sessionID string, frame Frame) bool {
	conn := r.Get(sessionID)
	if conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	data, err := encodeFrame(frame)
	if err != nil {
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to notify chat socket", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// CloseAll closes every registered connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sid, conn := range r.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(r.active, sid)
	}
}
