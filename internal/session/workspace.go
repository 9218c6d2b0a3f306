// Package session keeps one conversation workspace per browser tab and
// serializes the turns submitted to it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/modules"
)

var (
	// ErrTurnInFlight is returned by Submit while a reply is still streaming.
	ErrTurnInFlight = errors.New("a reply is still streaming")
	// ErrEmptyTurn is returned by Submit for input with no text and no attachment.
	ErrEmptyTurn = errors.New("message has no text and no attachment")
	// ErrUnknownModule is returned by SelectModule for keys not in the catalog.
	ErrUnknownModule = errors.New("unknown module")
)

type activeTurn struct {
	cancel   context.CancelFunc
	finished chan struct{}
}

func (a *activeTurn) running() bool {
	if a == nil {
		return false
	}
	select {
	case <-a.finished:
		return false
	default:
		return true
	}
}

// Workspace is the conversation state behind one tab.
type Workspace struct {
	clientID  string
	sessionID string
	base      context.Context
	orch      *agent.Orchestrator
	registry  *modules.Registry
	logger    *slog.Logger

	mu       sync.Mutex
	active   *activeTurn
	wg       sync.WaitGroup
	lastSeen atomic.Int64
}

// ClientID returns the anonymous client owning the workspace.
func (w *Workspace) ClientID() string { return w.clientID }

// SessionID returns the tab id.
func (w *Workspace) SessionID() string { return w.sessionID }

// Store returns the workspace's conversation.
func (w *Workspace) Store() *conversation.Store { return w.orch.Store() }

// Module returns the active module.
func (w *Workspace) Module() domain.AIModule { return w.orch.Module() }

// Touch marks the workspace as used now.
func (w *Workspace) Touch() {
	w.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the workspace was last used.
func (w *Workspace) LastSeen() time.Time {
	return time.Unix(0, w.lastSeen.Load())
}

// InFlight reports whether a turn is streaming.
func (w *Workspace) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.running()
}

// Submit starts a turn and returns once its messages are in the store. The
// reply streams in the background; ctx contributes values only, so the turn
// outlives the request that submitted it.
func (w *Workspace) Submit(ctx context.Context, text string, att *domain.Attachment) (agent.Turn, error) {
	w.Touch()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active.running() {
		return agent.Turn{}, ErrTurnInFlight
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(w.base, cancel)

	turn, done := w.orch.Start(streamCtx, text, att)
	if done == nil {
		stop()
		cancel()
		return turn, ErrEmptyTurn
	}

	a := &activeTurn{cancel: cancel, finished: make(chan struct{})}
	w.active = a
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		<-done
		stop()
		cancel()
		close(a.finished)
		w.Touch()
	}()
	return turn, nil
}

// Cancel stops the streaming turn, keeping the text received so far. It
// reports whether there was anything to cancel.
func (w *Workspace) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active.running() {
		return false
	}
	w.active.cancel()
	w.logger.Info("Chat turn cancel requested", "user_id", w.clientID, "session_id", w.sessionID)
	return true
}

// SelectModule activates the module with the given key and starts an empty
// conversation. Selecting the active module changes nothing and reports
// false. A streaming turn is cancelled and drained before the reset.
func (w *Workspace) SelectModule(key string) (bool, error) {
	mod, ok := w.registry.Get(key)
	if !ok {
		return false, ErrUnknownModule
	}
	w.Touch()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.orch.Module().ID == mod.ID {
		return false, nil
	}
	if w.active.running() {
		w.active.cancel()
		<-w.active.finished
	}
	return w.orch.SwitchModule(mod), nil
}

// Wait blocks until every submitted turn has finished.
func (w *Workspace) Wait() {
	w.wg.Wait()
}

// close cancels any streaming turn, waits for it and disconnects observers.
func (w *Workspace) close() {
	w.Cancel()
	w.Wait()
	w.Store().CloseObservers()
}
