package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/chatxai/internal/api"
	"github.com/ashureev/chatxai/internal/attachment"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/identity"
	"github.com/ashureev/chatxai/internal/session"
	"github.com/coder/websocket"
)

const (
	readLimit   = 8 << 20
	eventBuffer = 256
)

// WebSocketHandler handles WebSocket-based chat sessions.
type WebSocketHandler struct {
	mgr           *session.Manager
	registry      *Registry
	limiter       *api.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(mgr *session.Manager, registry *Registry, limiter *api.RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		mgr:           mgr,
		registry:      registry,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is a client message.
type inbound struct {
	Type       string             `json:"type"`
	Text       string             `json:"text,omitempty"`
	Module     string             `json:"module,omitempty"`
	Attachment *inboundAttachment `json:"attachment,omitempty"`
}

// inboundAttachment carries file bytes as standard base64.
type inboundAttachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data"`
}

// outbound is a server message; exactly one payload field is set per type.
type outbound struct {
	Type               string            `json:"type"`
	Snapshot           *api.SnapshotView `json:"snapshot,omitempty"`
	Event              *api.EventView    `json:"event,omitempty"`
	Module             string            `json:"module,omitempty"`
	Changed            *bool             `json:"changed,omitempty"`
	Cancelled          *bool             `json:"cancelled,omitempty"`
	TurnID             string            `json:"turn_id,omitempty"`
	UserMessageID      string            `json:"user_message_id,omitempty"`
	AssistantMessageID string            `json:"assistant_message_id,omitempty"`
	Error              string            `json:"error,omitempty"`
	Code               int               `json:"code,omitempty"`
}

// conn serializes writes to one socket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(ctx context.Context, v outbound) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) writeError(ctx context.Context, code int, msg string) {
	if err := c.writeJSON(ctx, outbound{Type: "error", Code: code, Error: msg}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", clientID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", clientID)
		}
	}()
	ws.SetReadLimit(readLimit)

	h.registry.Register(clientID, sessionID, ws)
	defer h.registry.Unregister(clientID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	workspace := h.mgr.Get(clientID, sessionID)
	c := &conn{ws: ws}

	events, unsubscribe := workspace.Store().Subscribe(eventBuffer)
	defer unsubscribe()

	snap := api.NewSnapshotView(workspace.Store(), workspace.Module().ID)
	if err := c.writeJSON(ctx, outbound{Type: "snapshot", Snapshot: &snap}); err != nil {
		slog.Debug("Failed to send snapshot", "error", err, "user_id", clientID)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: client -> workspace.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, c, workspace)
	}()

	// Output loop: store events -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, c, workspace, events, snap.Seq)
	}()

	wg.Wait()
	slog.Info("Live chat session ended", "user_id", clientID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, c *conn, workspace *session.Workspace) {
	clientID := workspace.ClientID()
	for {
		_, message, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "user_id", clientID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", clientID)
			}
			return
		}
		workspace.Touch()

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.writeError(ctx, http.StatusBadRequest, "invalid message")
			continue
		}

		switch msg.Type {
		case "send":
			h.handleSend(ctx, c, workspace, msg)
		case "module":
			changed, err := workspace.SelectModule(msg.Module)
			if errors.Is(err, session.ErrUnknownModule) {
				c.writeError(ctx, http.StatusNotFound, "unknown module")
				continue
			}
			if err := c.writeJSON(ctx, outbound{Type: "module", Module: workspace.Module().ID, Changed: &changed}); err != nil {
				return
			}
		case "cancel":
			cancelled := workspace.Cancel()
			if err := c.writeJSON(ctx, outbound{Type: "cancelled", Cancelled: &cancelled}); err != nil {
				return
			}
		case "ping":
			if err := c.writeJSON(ctx, outbound{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			c.writeError(ctx, http.StatusBadRequest, "unknown message type")
		}
	}
}

func (h *WebSocketHandler) handleSend(ctx context.Context, c *conn, workspace *session.Workspace, msg inbound) {
	if workspace.InFlight() {
		c.writeError(ctx, http.StatusConflict, "a reply is still streaming")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(workspace.ClientID()) {
		c.writeError(ctx, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var att *domain.Attachment
	if msg.Attachment != nil {
		raw, err := base64.StdEncoding.DecodeString(msg.Attachment.Data)
		if err != nil {
			c.writeError(ctx, http.StatusBadRequest, "attachment data is not base64")
			return
		}
		att, err = attachment.Prepare(ctx, attachment.BlobDescriptor(msg.Attachment.Name, msg.Attachment.MediaType, raw))
		var verr *attachment.ValidationError
		switch {
		case errors.As(err, &verr):
			c.writeError(ctx, http.StatusBadRequest, verr.Error())
			return
		case err != nil:
			c.writeError(ctx, http.StatusUnprocessableEntity, "could not read attachment")
			return
		}
	}

	turn, err := workspace.Submit(ctx, msg.Text, att)
	switch {
	case errors.Is(err, session.ErrEmptyTurn):
		c.writeError(ctx, http.StatusBadRequest, "message text or attachment is required")
		return
	case errors.Is(err, session.ErrTurnInFlight):
		c.writeError(ctx, http.StatusConflict, "a reply is still streaming")
		return
	case err != nil:
		c.writeError(ctx, http.StatusInternalServerError, "failed to submit message")
		return
	}

	if err := c.writeJSON(ctx, outbound{
		Type:               "accepted",
		TurnID:             turn.ID,
		UserMessageID:      turn.UserMessageID,
		AssistantMessageID: turn.AssistantMessageID,
	}); err != nil {
		slog.Debug("Failed to acknowledge send", "error", err)
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, c *conn, workspace *session.Workspace, events <-chan conversation.Event, after uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Dropped for falling behind or evicted; the client reconnects
				// and starts from a fresh snapshot.
				_ = c.ws.Close(websocket.StatusTryAgainLater, "resync required")
				return
			}
			if ev.Seq <= after {
				continue
			}
			view := api.NewEventView(ev)
			out := outbound{Type: "event", Event: &view}
			if ev.Kind == conversation.EventReset {
				out.Module = workspace.Module().ID
			}
			if err := c.writeJSON(ctx, out); err != nil {
				slog.Debug("Failed to write event", "error", err, "user_id", workspace.ClientID())
				return
			}
		}
	}
}
