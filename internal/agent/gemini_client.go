package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"
)

var errAPIKeyRequired = errors.New("gemini api key is required")

// GeminiClientConfig holds configuration for the Gemini client.
type GeminiClientConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
	// StreamTimeout bounds a whole turn; zero leaves it to the transport.
	StreamTimeout time.Duration
	HTTPClient    *http.Client
}

// GeminiClient streams chat turns from the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiClient creates a client. No network I/O happens until a turn is
// streamed.
func NewGeminiClient(ctx context.Context, cfg GeminiClientConfig, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, errAPIKeyRequired
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	logger.Info("Gemini client ready", "base_url", cfg.BaseURL)
	return &GeminiClient{client: client, timeout: cfg.StreamTimeout, logger: logger}, nil
}

// Stream opens a chat session seeded with req.History and sends the new turn.
func (c *GeminiClient) Stream(ctx context.Context, req StreamRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		history, err := ToProviderHistory(req.History)
		if err != nil {
			yield("", fmt.Errorf("%w: history: %w", ErrStreamOpen, err))
			return
		}
		parts, err := TurnParts(req.Text, req.Attachment)
		if err != nil {
			yield("", fmt.Errorf("%w: turn: %w", ErrStreamOpen, err))
			return
		}

		chat, err := c.client.Chats.Create(ctx, req.Module.Model, GenerateConfig(req.Module), history)
		if err != nil {
			yield("", fmt.Errorf("%w: create chat: %w", ErrStreamOpen, err))
			return
		}

		c.logger.Debug("Gemini stream opened",
			"module", req.Module.ID,
			"model", req.Module.Model,
			"history_len", len(history),
			"has_attachment", req.Attachment != nil,
		)

		for resp, err := range chat.SendMessageStream(ctx, parts...) {
			if err != nil {
				yield("", fmt.Errorf("%w: %w", ErrStreamTransport, err))
				return
			}
			if !yield(FragmentText(resp), nil) {
				return
			}
		}
	}
}
