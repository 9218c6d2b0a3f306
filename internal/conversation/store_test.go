package conversation

import (
	"sync"
	"testing"

	"github.com/ashureev/chatxai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "1", Text: "Hello", Sender: domain.SenderUser})
	s.Append(domain.Message{ID: "2", Sender: domain.SenderAssistant})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "2", msgs[1].ID)

	assert.True(t, msgs[1].IsPending())
}

func TestMutateTextConcatenates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Sender: domain.SenderAssistant})

	for _, f := range []string{"Hi", "", " there", "!"} {
		require.True(t, s.MutateText("a", f))
	}

	m, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Hi there!", m.Text)
}

func TestMutateTextMissingIDIsReported(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Text: "keep", Sender: domain.SenderAssistant})

	assert.False(t, s.MutateText("ghost", "x"))
	assert.False(t, s.ReplaceText("ghost", "x"))

	m, _ := s.Get("a")
	assert.Equal(t, "keep", m.Text)
}

func TestReplaceTextOverwrites(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Sender: domain.SenderAssistant})
	s.MutateText("a", "partial")

	require.True(t, s.ReplaceText("a", "error"))
	m, _ := s.Get("a")
	assert.Equal(t, "error", m.Text)
}

func TestResetClearsAndForgetsIDs(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Sender: domain.SenderAssistant})
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.MutateText("a", "late fragment"))
	assert.Empty(t, s.Messages())
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Text: "orig"})
	msgs := s.Messages()
	msgs[0].Text = "tampered"

	m, _ := s.Get("a")
	assert.Equal(t, "orig", m.Text)
}

func TestSubscribeReceivesOrderedEvents(t *testing.T) {
	t.Parallel()

	s := NewStore()
	events, cancel := s.Subscribe(16)
	defer cancel()

	s.SetInFlight(true)
	s.Append(domain.Message{ID: "u", Text: "Hello", Sender: domain.SenderUser})
	s.Append(domain.Message{ID: "a", Sender: domain.SenderAssistant})
	s.MutateText("a", "")
	s.MutateText("a", "Hi")
	s.SetInFlight(true)
	s.SetInFlight(false)

	want := []EventKind{EventInFlight, EventAppend, EventAppend, EventDelta, EventInFlight}
	var got []Event
	for range want {
		got = append(got, <-events)
	}

	for i, ev := range got {
		assert.Equal(t, want[i], ev.Kind, "event %d", i)
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.True(t, got[0].InFlight)
	assert.Equal(t, "Hi", got[3].Delta)
	assert.Equal(t, "Hi", got[3].Message.Text)
	assert.False(t, got[4].InFlight)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestSlowObserverIsDropped(t *testing.T) {
	t.Parallel()

	s := NewStore()
	events, cancel := s.Subscribe(1)
	defer cancel()

	s.Append(domain.Message{ID: "1"})
	s.Append(domain.Message{ID: "2"})

	<-events
	_, open := <-events
	assert.False(t, open, "overflowing observer should be closed")
	assert.Equal(t, 0, s.Observers())
	assert.Equal(t, 2, s.Len(), "writer must not be blocked by observers")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, cancel := s.Subscribe(1)
	cancel()
	cancel()
	assert.Equal(t, 0, s.Observers())
}

func TestSnapshotCarriesSequence(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "1"})
	s.SetInFlight(true)

	msgs, inFlight, seq := s.Snapshot()
	assert.Len(t, msgs, 1)
	assert.True(t, inFlight)
	assert.Equal(t, uint64(2), seq)
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append(domain.Message{ID: "a", Sender: domain.SenderAssistant})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.MutateText("a", "x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Messages()
		}
	}()
	wg.Wait()

	m, _ := s.Get("a")
	assert.Len(t, m.Text, 500)
}
