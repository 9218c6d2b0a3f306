package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/ashureev/chatxai/internal/attachment"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/identity"
	"github.com/ashureev/chatxai/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxUploadBytes = 6 << 20
	multipartMemory       = 1 << 20
)

// ChatOptions tunes ChatHandler.
type ChatOptions struct {
	MaxUploadBytes    int64
	KeepaliveInterval time.Duration
	EventBuffer       int
}

// ChatHandler serves the conversation endpoints of one tab.
type ChatHandler struct {
	*Handler
	limiter *RateLimiter
	opts    ChatOptions
}

// NewChatHandler creates a chat handler. limiter may be nil to disable
// throttling.
func NewChatHandler(base *Handler, limiter *RateLimiter, opts ChatOptions) *ChatHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 15 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &ChatHandler{Handler: base, limiter: limiter, opts: opts}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/modules", h.ListModules)
		r.Get("/stats", h.Stats)
		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.Snapshot)
			r.Post("/module", h.SelectModule)
			r.Post("/send", h.Send)
			r.Post("/cancel", h.Cancel)
			r.Get("/events", h.Events)
		})
	})
}

// workspace resolves the caller's tab workspace, answering 401 when the
// request carries no identity.
func (h *ChatHandler) workspace(w http.ResponseWriter, r *http.Request) (*session.Workspace, bool) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return h.mgr.Get(clientID, identity.SessionIDFromContext(r.Context())), true
}

// GetMe returns the caller's anonymous identity.
func (h *ChatHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"client_id":  clientID,
		"label":      identity.LabelFromContext(r.Context()),
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":       h.aiEnabled,
		"max_upload_bytes": attachment.MaxFileSize,
		"default_module":   h.mgr.Registry().Default().ID,
	})
}

// ListModules returns the catalog and the module active in this tab.
func (h *ChatHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	mods := h.mgr.Registry().List()
	views := make([]ModuleView, 0, len(mods))
	for _, m := range mods {
		views = append(views, NewModuleView(m))
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"active":  ws.Module().ID,
		"modules": views,
	})
}

// Snapshot returns the tab's conversation.
func (h *ChatHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, NewSnapshotView(ws.Store(), ws.Module().ID))
}

type selectModuleRequest struct {
	Module string `json:"module"`
}

// SelectModule switches the tab's module, which starts a new conversation.
func (h *ChatHandler) SelectModule(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req selectModuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Module == "" {
		Error(w, http.StatusBadRequest, "module is required")
		return
	}

	changed, err := ws.SelectModule(req.Module)
	if errors.Is(err, session.ErrUnknownModule) {
		Error(w, http.StatusNotFound, "unknown module")
		return
	}
	if err != nil {
		slog.Error("Failed to select module", "error", err, "user_id", ws.ClientID(), "module", req.Module)
		Error(w, http.StatusInternalServerError, "failed to select module")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"module":  ws.Module().ID,
		"changed": changed,
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

// Send starts a turn and answers as soon as its messages exist. The reply
// streams through the events endpoint.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	if ws.InFlight() {
		Error(w, http.StatusConflict, "a reply is still streaming")
		return
	}

	// Rate-limit by client only so rotating tab ids does not bypass it.
	if h.limiter != nil && !h.limiter.Allow(ws.ClientID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	text, att, status, msg := h.readSendRequest(r)
	if status != 0 {
		Error(w, status, msg)
		return
	}

	turn, err := ws.Submit(r.Context(), text, att)
	switch {
	case errors.Is(err, session.ErrEmptyTurn):
		Error(w, http.StatusBadRequest, "message text or attachment is required")
		return
	case errors.Is(err, session.ErrTurnInFlight):
		Error(w, http.StatusConflict, "a reply is still streaming")
		return
	case err != nil:
		slog.Error("Failed to submit chat turn", "error", err, "user_id", ws.ClientID())
		Error(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	slog.Info("Chat message accepted",
		"user_id", ws.ClientID(),
		"session_id", ws.SessionID(),
		"turn_id", turn.ID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	JSON(w, http.StatusAccepted, map[string]string{
		"turn_id":              turn.ID,
		"user_message_id":      turn.UserMessageID,
		"assistant_message_id": turn.AssistantMessageID,
	})
}

// readSendRequest decodes a JSON or multipart send. A non-zero status
// reports a client error.
func (h *ChatHandler) readSendRequest(r *http.Request) (string, *domain.Attachment, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, tooLargeOr(err, http.StatusBadRequest), "invalid request body"
		}
		return req.Text, nil, 0, ""
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, tooLargeOr(err, http.StatusBadRequest), "invalid multipart body"
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	text := r.FormValue("text")
	_, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return text, nil, 0, ""
	}
	if err != nil {
		return "", nil, http.StatusBadRequest, "invalid file field"
	}

	att, err := attachment.Prepare(r.Context(), attachment.MultipartDescriptor(header))
	var verr *attachment.ValidationError
	var rerr *attachment.ReadError
	switch {
	case errors.As(err, &verr):
		return "", nil, http.StatusBadRequest, verr.Error()
	case errors.As(err, &rerr):
		slog.Warn("Failed to read attachment", "error", rerr, "name", rerr.Name)
		return "", nil, http.StatusUnprocessableEntity, "could not read attachment"
	case err != nil:
		return "", nil, http.StatusInternalServerError, "failed to prepare attachment"
	}
	return text, att, 0, ""
}

func tooLargeOr(err error, fallback int) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return fallback
}

// Cancel stops the tab's streaming reply, keeping what arrived.
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"cancelled": ws.Cancel()})
}

// Stats returns turn ledger counts for the caller, or for everyone with
// ?scope=all.
func (h *ChatHandler) Stats(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.stats == nil {
		Error(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	if r.URL.Query().Get("scope") == "all" {
		clientID = ""
	}

	stats, err := h.stats.TurnStats(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to load turn stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"turns":      stats,
		"workspaces": h.mgr.Len(),
	})
}
