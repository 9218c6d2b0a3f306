package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatxai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memClients struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
	touches int
	failGet bool
}

func newMemClients() *memClients {
	return &memClients{clients: make(map[string]*domain.Client)}
}

func (m *memClients) GetClient(_ context.Context, id string) (*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("db down")
	}
	if c, ok := m.clients[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memClients) UpsertClient(_ context.Context, c *domain.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[c.ClientID] = &cp
	return nil
}

func (m *memClients) TouchClient(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if c, ok := m.clients[id]; ok {
		c.LastSeenAt = at
	}
	return nil
}

func serve(t *testing.T, repo ClientStore, req *http.Request) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var got context.Context
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Context()
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestMiddlewareIssuesCookieAndCreatesClient(t *testing.T) {
	t.Parallel()
	repo := newMemClients()

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	rec, ctx := serve(t, repo, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	clientID := ClientIDFromContext(ctx)
	assert.True(t, isValidAnonID(clientID))
	assert.Equal(t, "tab-42", SessionIDFromContext(ctx))
	assert.Equal(t, "anon-"+clientID[len(clientID)-8:], LabelFromContext(ctx))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.Equal(t, clientID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	_, ok := repo.clients[clientID]
	assert.True(t, ok)
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()
	repo := newMemClients()
	id := "anon_0123456789abcdef0123456789abcdef"

	req := httptest.NewRequest(http.MethodGet, "/api/chat?session_id=from-query", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	_, ctx := serve(t, repo, req)

	assert.Equal(t, id, ClientIDFromContext(ctx))
	assert.Equal(t, "from-query", SessionIDFromContext(ctx))
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	req.Header.Set(SessionHeaderName, "bad session id!")
	_, ctx := serve(t, newMemClients(), req)

	assert.NotEqual(t, "anon_../../etc", ClientIDFromContext(ctx))
	assert.Equal(t, DefaultSessionIDValue, SessionIDFromContext(ctx))
}

func TestMiddlewareFailsWhenStoreFails(t *testing.T) {
	t.Parallel()
	repo := newMemClients()
	repo.failGet = true

	rec, ctx := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, ctx)
}

func TestEnsureClientThrottlesTouches(t *testing.T) {
	t.Parallel()
	repo := newMemClients()
	ctx := context.Background()
	id := "anon_0123456789abcdef0123456789abcdef"

	require.NoError(t, ensureClient(ctx, repo, id))
	require.NoError(t, ensureClient(ctx, repo, id))
	assert.Zero(t, repo.touches)

	repo.clients[id].LastSeenAt = time.Now().Add(-2 * touchInterval)
	require.NoError(t, ensureClient(ctx, repo, id))
	assert.Equal(t, 1, repo.touches)
}

func TestSessionIDFromContextDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultSessionIDValue, SessionIDFromContext(context.Background()))
	assert.Empty(t, ClientIDFromContext(context.Background()))
}
