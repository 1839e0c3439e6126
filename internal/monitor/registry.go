package monitor

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live monitor connection per user and session. A
// replacement connection closes its predecessor so at most one monitor
// drives a session at a time.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates a connection registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a monitor connection for a user/session.
func (r *Registry) Register(userID, sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[userID]; !exists {
		r.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := r.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "monitor replaced")
	}

	r.active[userID][sessionID] = conn
	slog.Info("Monitor connected", "user_id", userID, "session_id", sessionID)
}

// GetActive returns the live monitor connection for a user/session, or nil.
func (r *Registry) GetActive(userID, sessionID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sessions, ok := r.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Unregister removes a monitor connection for a user/session.
func (r *Registry) Unregister(userID, sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.active, userID)
			}
			slog.Info("Monitor disconnected", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseAll forcefully terminates all monitor connections for a user.
func (r *Registry) CloseAll(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.active[userID]
	if !ok {
		return
	}

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "monitor closed")
		slog.Info("Monitor closed", "user_id", userID, "session_id", sid)
	}
	delete(r.active, userID)
}
