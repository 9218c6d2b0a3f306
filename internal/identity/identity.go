// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/chatxai/internal/domain"
)

const (
	AnonCookieName        = "chatx_anon_id"
	SessionHeaderName     = "X-ChatX-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	touchInterval         = time.Minute
)

// ClientStore is the slice of the repository the middleware needs.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	UpsertClient(ctx context.Context, client *domain.Client) error
	TouchClient(ctx context.Context, clientID string, lastSeen time.Time) error
}

type contextKey int

const (
	clientIDKey contextKey = iota
	labelKey
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ClientIDFromContext extracts the anonymous client id from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// LabelFromContext extracts the display label from the request context.
func LabelFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(labelKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns ctx carrying a client and tab, as the middleware
// would.
func WithIdentity(ctx context.Context, clientID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, clientIDKey, clientID)
	ctx = context.WithValue(ctx, labelKey, deriveLabel(clientID))
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveLabel(clientID string) string {
	if len(clientID) > 13 {
		return "anon-" + clientID[len(clientID)-8:]
	}
	return "anon-client"
}

// ensureClient creates the client on first sight and refreshes last_seen_at
// at most once per touchInterval.
func ensureClient(ctx context.Context, repo ClientStore, clientID string) error {
	client, err := repo.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	now := time.Now()
	if client == nil {
		return repo.UpsertClient(ctx, &domain.Client{
			ClientID:   clientID,
			Label:      deriveLabel(clientID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if now.Sub(client.LastSeenAt) < touchInterval {
		return nil
	}
	if err := repo.TouchClient(ctx, clientID, now); err != nil {
		slog.Warn("Failed to refresh client last_seen_at", "user_id", clientID, "error", err)
	}
	return nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		// EventSource and WebSocket clients cannot set headers.
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects anonymous per-device identity and per-request session ID.
func Middleware(repo ClientStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureClient(r.Context(), repo, clientID); err != nil {
				slog.Error("Failed to initialize anonymous client", "user_id", clientID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous client"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), clientID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
