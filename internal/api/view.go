package api

import (
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
)

// AttachmentView describes an attachment without its payload.
type AttachmentView struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
}

// MessageView is the wire form of a conversation message.
type MessageView struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Sender     domain.Sender   `json:"sender"`
	Pending    bool            `json:"pending,omitempty"`
	Attachment *AttachmentView `json:"attachment,omitempty"`
}

// ModuleView is the wire form of a catalog entry.
type ModuleView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model"`
}

// SnapshotView is the full state of one tab's conversation.
type SnapshotView struct {
	Seq      uint64        `json:"seq"`
	Module   string        `json:"module"`
	InFlight bool          `json:"in_flight"`
	Messages []MessageView `json:"messages"`
}

// EventView is the wire form of a store change.
type EventView struct {
	Seq       uint64                 `json:"seq"`
	Kind      conversation.EventKind `json:"kind"`
	MessageID string                 `json:"message_id,omitempty"`
	Message   *MessageView           `json:"message,omitempty"`
	Delta     string                 `json:"delta,omitempty"`
	InFlight  *bool                  `json:"in_flight,omitempty"`
}

// NewMessageView converts a message for the wire.
func NewMessageView(m domain.Message) MessageView {
	v := MessageView{
		ID:      m.ID,
		Text:    m.Text,
		Sender:  m.Sender,
		Pending: m.IsPending(),
	}
	if m.Attachment != nil {
		v.Attachment = &AttachmentView{Name: m.Attachment.Name, MediaType: m.Attachment.MediaType}
	}
	return v
}

// NewModuleView converts a module for the wire. The system instruction
// stays server-side.
func NewModuleView(m domain.AIModule) ModuleView {
	return ModuleView{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Model:       m.Model,
	}
}

// NewSnapshotView captures a store and the module it talks to.
func NewSnapshotView(store *conversation.Store, moduleID string) SnapshotView {
	messages, inFlight, seq := store.Snapshot()
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, NewMessageView(m))
	}
	return SnapshotView{
		Seq:      seq,
		Module:   moduleID,
		InFlight: inFlight,
		Messages: views,
	}
}

// NewEventView converts a store event for the wire. Deltas carry only the
// message id and the appended text.
func NewEventView(ev conversation.Event) EventView {
	v := EventView{Seq: ev.Seq, Kind: ev.Kind, Delta: ev.Delta}
	switch {
	case ev.Message == nil:
	case ev.Kind == conversation.EventDelta:
		v.MessageID = ev.Message.ID
	default:
		mv := NewMessageView(*ev.Message)
		v.Message = &mv
	}
	if ev.Kind == conversation.EventInFlight {
		inFlight := ev.InFlight
		v.InFlight = &inFlight
	}
	return v
}
