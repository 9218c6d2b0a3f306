package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/modules"
)

// Config wires a Manager.
type Config struct {
	Processor agent.Processor
	Registry  *modules.Registry
	Recorder  agent.TurnRecorder
	ConvLog   agent.ConversationLogger
	Logger    *slog.Logger
	// NewID overrides message id generation; nil uses UUIDv7.
	NewID func() string
}

// Manager owns the workspaces of every connected client, keyed by client id
// and tab id.
type Manager struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	active map[string]map[string]*Workspace
}

// NewManager creates a Manager. Closing it cancels every streaming turn.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]map[string]*Workspace),
	}
}

// Registry returns the module catalog workspaces select from.
func (m *Manager) Registry() *modules.Registry {
	return m.cfg.Registry
}

// Lookup returns an existing workspace.
func (m *Manager) Lookup(clientID, sessionID string) (*Workspace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[clientID]; ok {
		ws, ok := sessions[sessionID]
		return ws, ok
	}
	return nil, false
}

// Get returns the workspace for a client tab, creating it on the default
// module when it does not exist.
func (m *Manager) Get(clientID, sessionID string) *Workspace {
	if ws, ok := m.Lookup(clientID, sessionID); ok {
		ws.Touch()
		return ws
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[clientID]; !exists {
		m.active[clientID] = make(map[string]*Workspace)
	}
	if ws, exists := m.active[clientID][sessionID]; exists {
		ws.Touch()
		return ws
	}

	ws := m.newWorkspace(clientID, sessionID)
	m.active[clientID][sessionID] = ws
	m.cfg.Logger.Info("Chat workspace created",
		"user_id", clientID,
		"session_id", sessionID,
		"module", ws.Module().ID,
	)
	return ws
}

func (m *Manager) newWorkspace(clientID, sessionID string) *Workspace {
	logger := m.cfg.Logger.With("component", "workspace")
	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Processor: m.cfg.Processor,
		Store:     conversation.NewStore(),
		Module:    m.cfg.Registry.Default(),
		ClientID:  clientID,
		SessionID: sessionID,
		Logger:    logger,
		ConvLog:   m.cfg.ConvLog,
		Recorder:  m.cfg.Recorder,
		NewID:     m.cfg.NewID,
	})
	ws := &Workspace{
		clientID:  clientID,
		sessionID: sessionID,
		base:      m.ctx,
		orch:      orch,
		registry:  m.cfg.Registry,
		logger:    logger,
	}
	ws.Touch()
	return ws
}

// Evict closes and forgets one workspace.
func (m *Manager) Evict(clientID, sessionID string) bool {
	m.mu.Lock()
	sessions, ok := m.active[clientID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	ws, ok := sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, clientID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	ws.close()
	m.cfg.Logger.Info("Chat workspace evicted", "user_id", clientID, "session_id", sessionID)
	return true
}

// EvictIdle closes workspaces unused for longer than ttl that have no turn
// streaming and no observers attached. It returns how many were evicted.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var idle []*Workspace
	for clientID, sessions := range m.active {
		for sessionID, ws := range sessions {
			if ws.LastSeen().After(cutoff) || ws.InFlight() || ws.Store().Observers() > 0 {
				continue
			}
			idle = append(idle, ws)
			delete(sessions, sessionID)
		}
		if len(sessions) == 0 {
			delete(m.active, clientID)
		}
	}
	m.mu.Unlock()

	for _, ws := range idle {
		ws.close()
	}
	return len(idle)
}

// Len returns the number of live workspaces.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Close cancels every streaming turn and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	var all []*Workspace
	for _, sessions := range m.active {
		for _, ws := range sessions {
			all = append(all, ws)
		}
	}
	m.active = make(map[string]map[string]*Workspace)
	m.mu.Unlock()

	for _, ws := range all {
		ws.close()
	}
}
