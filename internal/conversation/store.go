// Package conversation implements the ordered, observable message store a
// chat turn streams into.
package conversation

import (
	"sync"

	"github.com/ashureev/chatxai/internal/domain"
)

// EventKind names a store mutation.
type EventKind string

const (
	EventAppend   EventKind = "append"
	EventDelta    EventKind = "delta"
	EventReplace  EventKind = "replace"
	EventReset    EventKind = "reset"
	EventInFlight EventKind = "in_flight"
)

// Event is published to observers after every mutation. Message holds the
// message state after the change; Delta is set for EventDelta only.
type Event struct {
	Seq      uint64          `json:"seq"`
	Kind     EventKind       `json:"kind"`
	Message  *domain.Message `json:"message,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	InFlight bool            `json:"in_flight"`
}

// Store is the ordered message sequence of one conversation. It has a single
// writer (the turn in progress) and any number of readers.
type Store struct {
	mu       sync.RWMutex
	messages []domain.Message
	index    map[string]int
	inFlight bool
	seq      uint64

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[int]chan Event),
	}
}

// Append adds m to the end of the conversation.
func (s *Store) Append(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	s.publishLocked(EventAppend, &m, "")
}

// MutateText appends delta to the text of message id. It reports whether the
// message exists; an empty delta changes nothing and publishes nothing.
func (s *Store) MutateText(id, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	if delta == "" {
		return true
	}
	s.messages[i].Text += delta
	m := s.messages[i]
	s.publishLocked(EventDelta, &m, delta)
	return true
}

// ReplaceText overwrites the text of message id and reports whether it exists.
func (s *Store) ReplaceText(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.messages[i].Text = text
	m := s.messages[i]
	s.publishLocked(EventReplace, &m, "")
	return true
}

// Reset drops every message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.index = make(map[string]int)
	s.publishLocked(EventReset, nil, "")
}

// SetInFlight flips the turn-in-progress indicator. Setting the current
// value again is a no-op.
func (s *Store) SetInFlight(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight == v {
		return
	}
	s.inFlight = v
	s.publishLocked(EventInFlight, nil, "")
}

// InFlight reports whether a turn is streaming.
func (s *Store) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// Messages returns a copy of the conversation in display order.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return s.messages[i], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns the messages, the in-flight flag and the sequence number
// of the last published event, read atomically.
func (s *Store) Snapshot() ([]domain.Message, bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out, s.inFlight, s.seq
}

// publishLocked stamps the next sequence number and fans the event out.
// Holding mu keeps event order identical to mutation order.
func (s *Store) publishLocked(kind EventKind, m *domain.Message, delta string) {
	s.seq++
	if m != nil && m.Attachment != nil {
		att := *m.Attachment
		m.Attachment = &att
	}
	s.publish(Event{Seq: s.seq, Kind: kind, Message: m, Delta: delta, InFlight: s.inFlight})
}
