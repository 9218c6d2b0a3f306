// Package live serves a conversation over a WebSocket: the server pushes the
// tab's snapshot and store events while the client sends turns and commands.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live connection of each client tab. A new connection
// for a tab replaces the previous one.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the live connection for a client tab.
func (m *Registry) Get(clientID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[clientID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register records conn for a client tab. A replaced connection is closed
// in the background; its closing handshake can wait on a stale peer.
func (m *Registry) Register(clientID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	if _, exists := m.active[clientID]; !exists {
		m.active[clientID] = make(map[string]*websocket.Conn)
	}
	existing := m.active[clientID][sessionID]
	m.active[clientID][sessionID] = conn
	m.mu.Unlock()

	if existing != nil && existing != conn {
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "session replaced") }()
	}
	slog.Info("Live chat connection registered", "user_id", clientID, "session_id", sessionID)
}

// Unregister forgets conn if it is still the tab's connection.
func (m *Registry) Unregister(clientID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[clientID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, clientID)
			}
			slog.Info("Live chat connection unregistered", "user_id", clientID, "session_id", sessionID)
		}
	}
}

// Len returns the number of live connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll terminates every live connection, for shutdown.
func (m *Registry) CloseAll() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[string]*websocket.Conn)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for clientID, sessions := range active {
		for sid, conn := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				slog.Info("Live chat connection closed", "user_id", clientID, "session_id", sid)
			}()
		}
	}
	wg.Wait()
}
