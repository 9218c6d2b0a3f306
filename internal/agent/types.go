// Package agent implements the streaming conversation controller: it turns a
// user turn into a provider request and folds the streamed reply into a
// conversation store.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/chatxai/internal/domain"
)

// ErrorText replaces the assistant message when a turn fails.
const ErrorText = "Sorry, an error occurred. Please try again."

var (
	// ErrStreamOpen wraps failures to establish the provider stream.
	ErrStreamOpen = errors.New("stream open failed")
	// ErrStreamTransport wraps failures while the stream is being consumed.
	ErrStreamTransport = errors.New("stream transport failed")
	// ErrMalformedPayload wraps attachments whose data URI cannot be decoded.
	ErrMalformedPayload = errors.New("malformed attachment payload")

	errTargetGone     = errors.New("assistant message no longer in conversation")
	errProcessorPanic = errors.New("processor panicked")
)

// StreamRequest is everything a Processor needs to open one turn.
type StreamRequest struct {
	Module     domain.AIModule
	History    []domain.Message
	Text       string
	Attachment *domain.Attachment
}

// Turn describes one Send call.
type Turn struct {
	ID                 string
	UserMessageID      string
	AssistantMessageID string
	ModuleID           string
	Status             domain.TurnStatus
	Fragments          int
	Bytes              int
	Err                error
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Skipped reports whether Send returned without creating messages.
func (t Turn) Skipped() bool {
	return t.Status == domain.TurnSkipped
}
