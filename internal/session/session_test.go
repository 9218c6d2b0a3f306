package session

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/modules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedProcessor yields "partial" then blocks until released or cancelled.
type gatedProcessor struct {
	release chan struct{}
}

func (p *gatedProcessor) Stream(ctx context.Context, _ agent.StreamRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("partial", nil) {
			return
		}
		select {
		case <-p.release:
			yield(" done", nil)
		case <-ctx.Done():
			yield("", ctx.Err())
		}
	}
}

func newTestManager(t *testing.T, p agent.Processor) *Manager {
	t.Helper()
	reg, err := modules.NewBuiltin(modules.DefaultModuleKey)
	require.NoError(t, err)
	mgr := NewManager(Config{Processor: p, Registry: reg})
	t.Cleanup(mgr.Close)
	return mgr
}

func waitIdle(t *testing.T, ws *Workspace) {
	t.Helper()
	require.Eventually(t, func() bool { return !ws.InFlight() }, 2*time.Second, 5*time.Millisecond)
}

func TestGetCreatesWorkspaceOnDefaultModule(t *testing.T) {
	mgr := newTestManager(t, agent.ProcessorFunc(func(context.Context, agent.StreamRequest) iter.Seq2[string, error] {
		return func(func(string, error) bool) {}
	}))

	ws := mgr.Get("anon_a", "tab-1")
	assert.Equal(t, modules.DefaultModuleKey, ws.Module().ID)
	assert.Same(t, ws, mgr.Get("anon_a", "tab-1"))
	assert.NotSame(t, ws, mgr.Get("anon_a", "tab-2"))
	assert.Equal(t, 2, mgr.Len())

	_, ok := mgr.Lookup("anon_b", "tab-1")
	assert.False(t, ok)
}

func TestSubmitRejectsWhileInFlight(t *testing.T) {
	p := &gatedProcessor{release: make(chan struct{})}
	mgr := newTestManager(t, p)
	ws := mgr.Get("anon_a", "tab-1")

	turn, err := ws.Submit(context.Background(), "first", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, turn.AssistantMessageID)
	assert.True(t, ws.InFlight())

	_, err = ws.Submit(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(p.release)
	waitIdle(t, ws)
	ws.Wait()

	m, ok := ws.Store().Get(turn.AssistantMessageID)
	require.True(t, ok)
	assert.Equal(t, "partial done", m.Text)
	assert.Equal(t, 2, ws.Store().Len())
}

func TestSubmitEmptyInput(t *testing.T) {
	mgr := newTestManager(t, &gatedProcessor{release: make(chan struct{})})
	ws := mgr.Get("anon_a", "tab-1")

	_, err := ws.Submit(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyTurn)
	assert.Zero(t, ws.Store().Len())
	assert.False(t, ws.InFlight())
}

func TestSubmitOutlivesRequestContext(t *testing.T) {
	p := &gatedProcessor{release: make(chan struct{})}
	mgr := newTestManager(t, p)
	ws := mgr.Get("anon_a", "tab-1")

	reqCtx, cancel := context.WithCancel(context.Background())
	turn, err := ws.Submit(reqCtx, "hi", nil)
	require.NoError(t, err)
	cancel()

	close(p.release)
	ws.Wait()
	m, _ := ws.Store().Get(turn.AssistantMessageID)
	assert.Equal(t, "partial done", m.Text)
}

func TestCancelKeepsPartialReply(t *testing.T) {
	rec := &turnLedger{}
	reg, err := modules.NewBuiltin(modules.DefaultModuleKey)
	require.NoError(t, err)
	mgr := NewManager(Config{
		Processor: &gatedProcessor{release: make(chan struct{})},
		Registry:  reg,
		Recorder:  rec,
	})
	defer mgr.Close()
	ws := mgr.Get("anon_a", "tab-1")

	assert.False(t, ws.Cancel())
	turn, err := ws.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, _ := ws.Store().Get(turn.AssistantMessageID)
		return m.Text == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, ws.Cancel())
	ws.Wait()

	m, _ := ws.Store().Get(turn.AssistantMessageID)
	assert.Equal(t, "partial", m.Text)
	statuses := rec.statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.TurnCancelled, statuses[0])
}

func TestSelectModuleStartsEmptyConversation(t *testing.T) {
	p := &gatedProcessor{release: make(chan struct{})}
	mgr := newTestManager(t, p)
	ws := mgr.Get("anon_a", "tab-1")

	_, err := ws.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.True(t, ws.InFlight())

	changed, err := ws.SelectModule("general")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "general", ws.Module().ID)
	assert.Zero(t, ws.Store().Len())
	assert.False(t, ws.InFlight())
	assert.False(t, ws.Store().InFlight())
}

func TestSelectSameModuleIsNoop(t *testing.T) {
	p := &gatedProcessor{release: make(chan struct{})}
	mgr := newTestManager(t, p)
	ws := mgr.Get("anon_a", "tab-1")

	_, err := ws.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)

	changed, err := ws.SelectModule(modules.DefaultModuleKey)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, ws.Store().Len())

	close(p.release)
	ws.Wait()
}

func TestSelectUnknownModule(t *testing.T) {
	mgr := newTestManager(t, &gatedProcessor{release: make(chan struct{})})
	ws := mgr.Get("anon_a", "tab-1")

	_, err := ws.SelectModule("nope")
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.Equal(t, modules.DefaultModuleKey, ws.Module().ID)
}

func TestEvictIdleSkipsBusyAndObservedWorkspaces(t *testing.T) {
	p := &gatedProcessor{release: make(chan struct{})}
	mgr := newTestManager(t, p)

	idle := mgr.Get("anon_a", "idle")
	busy := mgr.Get("anon_a", "busy")
	watched := mgr.Get("anon_b", "watched")

	_, err := busy.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)
	_, unsubscribe := watched.Store().Subscribe(4)
	defer unsubscribe()

	past := time.Now().Add(-time.Hour).UnixNano()
	for _, ws := range []*Workspace{idle, busy, watched} {
		ws.lastSeen.Store(past)
	}

	assert.Equal(t, 1, mgr.EvictIdle(time.Minute))
	_, ok := mgr.Lookup("anon_a", "idle")
	assert.False(t, ok)
	assert.Equal(t, 2, mgr.Len())

	close(p.release)
	busy.Wait()
}

type fakePruner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePruner) PruneTurns(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, nil
}

func (f *fakePruner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartSweeperEvictsAndPrunes(t *testing.T) {
	mgr := newTestManager(t, &gatedProcessor{release: make(chan struct{})})
	ws := mgr.Get("anon_a", "tab-1")
	ws.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())

	pruner := &fakePruner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartSweeper(ctx, mgr, pruner, SweepConfig{
			Interval:  10 * time.Millisecond,
			IdleTTL:   time.Minute,
			Retention: time.Hour,
		})
	}()

	require.Eventually(t, func() bool { return mgr.Len() == 0 && pruner.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestManagerCloseCancelsTurns(t *testing.T) {
	reg, err := modules.NewBuiltin(modules.DefaultModuleKey)
	require.NoError(t, err)
	mgr := NewManager(Config{Processor: &gatedProcessor{release: make(chan struct{})}, Registry: reg})
	ws := mgr.Get("anon_a", "tab-1")

	turn, err := ws.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)

	mgr.Close()
	assert.False(t, ws.InFlight())
	assert.Zero(t, mgr.Len())
	m, _ := ws.Store().Get(turn.AssistantMessageID)
	assert.Equal(t, "partial", m.Text)
}

type turnLedger struct {
	mu      sync.Mutex
	records []*domain.TurnRecord
}

func (l *turnLedger) RecordTurn(_ context.Context, rec *domain.TurnRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *turnLedger) statuses() []domain.TurnStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TurnStatus, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.Status)
	}
	return out
}
