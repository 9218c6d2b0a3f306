package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/chatxai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(text string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
}

func newGeminiTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(context.Background(), GeminiClientConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}, slog.Default())
	require.NoError(t, err)
	return c
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewGeminiClient(context.Background(), GeminiClientConfig{}, nil)
	assert.ErrorIs(t, err, errAPIKeyRequired)
}

func TestGeminiClientStreamsFragments(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var body, path string
	c := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = string(raw), r.URL.Path
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("Hi"))
		_, _ = io.WriteString(w, sseChunk(" there"))
	})

	var got []string
	for fragment, err := range c.Stream(context.Background(), StreamRequest{
		Module: coderModule,
		History: []domain.Message{
			{ID: "1", Text: "earlier", Sender: domain.SenderUser},
			{ID: "2", Text: "reply", Sender: domain.SenderAssistant},
		},
		Text: "Hello",
	}) {
		require.NoError(t, err)
		got = append(got, fragment)
	}
	assert.Equal(t, "Hi there", strings.Join(got, ""))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, path, coderModule.Model)
	assert.Contains(t, body, "BLOCK_NONE")
	assert.Contains(t, body, "HARM_CATEGORY_CIVIC_INTEGRITY")
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, "earlier")
}

func TestGeminiClientSurfacesProviderError(t *testing.T) {
	t.Parallel()

	c := newGeminiTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"bad key","status":"UNAUTHENTICATED"}}`)
	})

	var errs []error
	for _, err := range c.Stream(context.Background(), StreamRequest{Module: coderModule, Text: "q"}) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrStreamTransport)
}

func TestGeminiClientRejectsMalformedHistory(t *testing.T) {
	t.Parallel()

	c := newGeminiTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("provider must not be called")
	})

	var errs []error
	for _, err := range c.Stream(context.Background(), StreamRequest{
		Module: coderModule,
		History: []domain.Message{{ID: "1", Sender: domain.SenderUser, Attachment: &domain.Attachment{
			Name: "x", Data: "data:text/plain;base64,!!",
		}}},
		Text: "q",
	}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrStreamOpen)
	assert.ErrorIs(t, errs[0], ErrMalformedPayload)
}

func TestOrchestratorWithGeminiClient(t *testing.T) {
	t.Parallel()

	c := newGeminiTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("Hi"))
		_, _ = io.WriteString(w, sseChunk(" there"))
	})

	o := newTestOrchestrator(c)
	turn := o.Send(context.Background(), "Hello", nil)
	require.Equal(t, domain.TurnCompleted, turn.Status)

	m, _ := o.Store().Get(turn.AssistantMessageID)
	assert.Equal(t, "Hi there", m.Text)
}
