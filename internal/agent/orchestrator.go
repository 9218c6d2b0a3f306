package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/google/uuid"
)

const recordTimeout = 5 * time.Second

// TurnRecorder persists the audit entry of a finished turn.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec *domain.TurnRecord) error
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Processor Processor
	Store     *conversation.Store
	Module    domain.AIModule
	ClientID  string
	SessionID string
	Logger    *slog.Logger
	ConvLog   ConversationLogger
	Recorder  TurnRecorder
	// NewID generates message and turn ids; nil uses UUIDv7.
	NewID func() string
}

// Orchestrator runs chat turns against one conversation store.
type Orchestrator struct {
	processor Processor
	store     *conversation.Store
	clientID  string
	sessionID string
	logger    *slog.Logger
	convLog   ConversationLogger
	recorder  TurnRecorder
	newID     func() string

	mu     sync.RWMutex
	module domain.AIModule
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConvLog == nil {
		cfg.ConvLog = noopConversationLogger{}
	}
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	if cfg.Store == nil {
		cfg.Store = conversation.NewStore()
	}
	return &Orchestrator{
		processor: cfg.Processor,
		store:     cfg.Store,
		clientID:  cfg.ClientID,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger,
		convLog:   cfg.ConvLog,
		recorder:  cfg.Recorder,
		newID:     cfg.NewID,
		module:    cfg.Module,
	}
}

// NewID returns a UUIDv7 string, which sorts by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Store returns the conversation the orchestrator writes to.
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// Module returns the active module.
func (o *Orchestrator) Module() domain.AIModule {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.module
}

// SwitchModule makes m the active module and starts a fresh conversation.
// It reports false, changing nothing, when m is already active.
func (o *Orchestrator) SwitchModule(m domain.AIModule) bool {
	o.mu.Lock()
	if o.module.ID == m.ID {
		o.mu.Unlock()
		return false
	}
	prev := o.module.ID
	o.module = m
	o.mu.Unlock()

	o.store.Reset()
	o.logger.Info("Module switched",
		"user_id", o.clientID,
		"session_id", o.sessionID,
		"from", prev,
		"to", m.ID,
	)
	return true
}

// Send runs one turn to completion. It appends the user message and an empty
// assistant placeholder, streams fragments into the placeholder and, on
// failure, replaces its text with ErrorText. Errors never escape; the
// returned Turn reports what happened. Cancelling ctx closes the stream and
// keeps whatever text already arrived.
func (o *Orchestrator) Send(ctx context.Context, text string, att *domain.Attachment) Turn {
	turn, done := o.Start(ctx, text, att)
	if done == nil {
		return turn
	}
	return <-done
}

// Start appends the turn's messages synchronously and streams the reply in a
// new goroutine. The returned Turn carries the message ids; done yields the
// finished Turn once and is nil when the input was empty.
func (o *Orchestrator) Start(ctx context.Context, text string, att *domain.Attachment) (Turn, <-chan Turn) {
	if strings.TrimSpace(text) == "" && att == nil {
		return Turn{Status: domain.TurnSkipped}, nil
	}

	module := o.Module()
	history := o.store.Messages()

	o.store.SetInFlight(true)

	turn := Turn{
		ID:                 o.newID(),
		UserMessageID:      o.newID(),
		AssistantMessageID: o.newID(),
		ModuleID:           module.ID,
		Status:             domain.TurnRunning,
		StartedAt:          time.Now(),
	}

	o.store.Append(domain.Message{ID: turn.UserMessageID, Text: text, Sender: domain.SenderUser, Attachment: att})
	o.store.Append(domain.Message{ID: turn.AssistantMessageID, Sender: domain.SenderAssistant})

	o.logger.Info("Chat turn started",
		"user_id", o.clientID,
		"session_id", o.sessionID,
		"turn_id", turn.ID,
		"module", module.ID,
		"history_len", len(history),
		"message_length", len(text),
		"has_attachment", att != nil,
	)
	o.logUserMessage(turn, module, text, att)

	req := StreamRequest{
		Module:     module,
		History:    history,
		Text:       text,
		Attachment: att,
	}
	done := make(chan Turn, 1)
	go func() {
		defer close(done)
		done <- o.run(ctx, req, turn)
	}()
	return turn, done
}

func (o *Orchestrator) run(ctx context.Context, req StreamRequest, turn Turn) Turn {
	module := req.Module
	err := o.consume(ctx, req, &turn)
	turn.FinishedAt = time.Now()

	switch {
	case err == nil:
		turn.Status = domain.TurnCompleted
	case ctx.Err() != nil:
		turn.Status = domain.TurnCancelled
		turn.Err = err
		o.logger.Info("Chat turn cancelled, keeping partial reply",
			"turn_id", turn.ID,
			"fragments", turn.Fragments,
		)
	case errors.Is(err, errTargetGone):
		turn.Status = domain.TurnCancelled
		turn.Err = err
		o.logger.Warn("Chat turn outlived its conversation",
			"turn_id", turn.ID,
			"session_id", o.sessionID,
		)
	default:
		turn.Status = domain.TurnFailed
		turn.Err = err
		o.logger.Error("Chat stream failed",
			"error", err,
			"user_id", o.clientID,
			"session_id", o.sessionID,
			"turn_id", turn.ID,
			"module", module.ID,
			"fragments", turn.Fragments,
		)
		if !o.store.ReplaceText(turn.AssistantMessageID, ErrorText) {
			o.logger.Debug("Assistant message gone before error could be shown", "turn_id", turn.ID)
		}
	}
	o.store.SetInFlight(false)

	o.logAssistantMessage(turn, module)
	o.record(ctx, turn, module, req.Attachment != nil)
	return turn
}

// consume applies every fragment, in delivery order, to the placeholder.
func (o *Orchestrator) consume(ctx context.Context, req StreamRequest, turn *Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errProcessorPanic, r)
		}
	}()

	if o.processor == nil {
		return fmt.Errorf("%w: no processor configured", ErrStreamOpen)
	}

	for fragment, streamErr := range o.processor.Stream(ctx, req) {
		if streamErr != nil {
			return streamErr
		}
		if fragment == "" {
			continue
		}
		if !o.store.MutateText(turn.AssistantMessageID, fragment) {
			return errTargetGone
		}
		turn.Fragments++
		turn.Bytes += len(fragment)
	}
	return ctx.Err()
}

func (o *Orchestrator) record(ctx context.Context, turn Turn, module domain.AIModule, hasAttachment bool) {
	if o.recorder == nil {
		return
	}
	rec := &domain.TurnRecord{
		TurnID:        turn.ID,
		ClientID:      o.clientID,
		SessionID:     o.sessionID,
		ModuleID:      module.ID,
		Model:         module.Model,
		Status:        turn.Status,
		Fragments:     turn.Fragments,
		Bytes:         turn.Bytes,
		HasAttachment: hasAttachment,
		StartedAt:     turn.StartedAt,
		FinishedAt:    turn.FinishedAt,
	}
	if turn.Err != nil {
		rec.Error = turn.Err.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.RecordTurn(recordCtx, rec); err != nil {
		o.logger.Warn("Failed to record turn", "turn_id", turn.ID, "error", err)
	}
}

func (o *Orchestrator) logUserMessage(turn Turn, module domain.AIModule, text string, att *domain.Attachment) {
	meta := map[string]any{"turn_id": turn.ID}
	if att != nil {
		meta["attachment_name"] = att.Name
		meta["attachment_type"] = att.MediaType
	}
	o.convLog.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     o.clientID,
		SessionID:  o.sessionID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ModuleID:   module.ID,
		ContentRaw: text,
		Meta:       meta,
	})
}

func (o *Orchestrator) logAssistantMessage(turn Turn, module domain.AIModule) {
	content := ""
	if m, ok := o.store.Get(turn.AssistantMessageID); ok {
		content = m.Text
	}
	streamErr := ""
	if turn.Err != nil {
		streamErr = turn.Err.Error()
	}
	o.convLog.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     o.clientID,
		SessionID:  o.sessionID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ModuleID:   module.ID,
		ContentRaw: content,
		Meta: map[string]any{
			"turn_id":       turn.ID,
			"status":        string(turn.Status),
			"stream_chunks": turn.Fragments,
			"partial":       turn.Status != domain.TurnCompleted,
			"stream_error":  streamErr,
			"duration_ms":   turn.FinishedAt.Sub(turn.StartedAt).Milliseconds(),
		},
	})
}
