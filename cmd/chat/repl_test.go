package main

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/modules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREPL(t *testing.T, p agent.Processor) (*repl, *bytes.Buffer) {
	t.Helper()
	reg, err := modules.NewBuiltin(modules.DefaultModuleKey)
	require.NoError(t, err)
	var out bytes.Buffer
	return &repl{
		orch: agent.NewOrchestrator(agent.OrchestratorConfig{
			Processor: p,
			Store:     conversation.NewStore(),
			Module:    reg.Default(),
		}),
		registry: reg,
		out:      &out,
	}, &out
}

func fragments(parts []string, fail error) agent.Processor {
	return agent.ProcessorFunc(func(context.Context, agent.StreamRequest) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, p := range parts {
				if !yield(p, nil) {
					return
				}
			}
			if fail != nil {
				yield("", fail)
			}
		}
	})
}

func TestSendPrintsStreamedReply(t *testing.T) {
	r, out := newTestREPL(t, fragments([]string{"Hi", " there"}, nil))

	turn := r.send(context.Background(), "Hello")
	assert.Equal(t, domain.TurnCompleted, turn.Status)
	assert.Contains(t, out.String(), "Hi there")
	assert.Equal(t, 2, r.orch.Store().Len())
}

func TestSendPrintsErrorText(t *testing.T) {
	r, out := newTestREPL(t, fragments([]string{"par"}, errors.New("boom")))

	turn := r.send(context.Background(), "Hello")
	assert.Equal(t, domain.TurnFailed, turn.Status)
	assert.Contains(t, out.String(), agent.ErrorText)
}

func TestSendEmptyIsSkipped(t *testing.T) {
	r, out := newTestREPL(t, fragments([]string{"x"}, nil))

	turn := r.send(context.Background(), "  ")
	assert.True(t, turn.Skipped())
	assert.Empty(t, out.String())
}

func TestCommands(t *testing.T) {
	r, out := newTestREPL(t, fragments([]string{"ok"}, nil))
	ctx := context.Background()

	quit, err := r.command(ctx, "/modules")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "* coder")

	r.send(ctx, "hi")
	_, err = r.command(ctx, "/module general")
	require.NoError(t, err)
	assert.Equal(t, "general", r.orch.Module().ID)
	assert.Zero(t, r.orch.Store().Len())

	_, err = r.command(ctx, "/module nope")
	assert.ErrorContains(t, err, "unknown module")

	_, err = r.command(ctx, "/attach")
	assert.Error(t, err)

	_, err = r.command(ctx, "/frobnicate")
	assert.ErrorContains(t, err, "unknown command")

	quit, err = r.command(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestAttachThenSend(t *testing.T) {
	var seen *domain.Attachment
	p := agent.ProcessorFunc(func(_ context.Context, req agent.StreamRequest) iter.Seq2[string, error] {
		seen = req.Attachment
		return func(yield func(string, error) bool) { yield("read it", nil) }
	})
	r, _ := newTestREPL(t, p)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# todo"), 0o600))

	_, err := r.command(ctx, "/attach "+path)
	require.NoError(t, err)
	require.NotNil(t, r.pending)

	r.send(ctx, "")
	require.NotNil(t, seen)
	assert.Equal(t, "notes.md", seen.Name)
	assert.Nil(t, r.pending)

	_, err = r.command(ctx, "/attach "+path)
	require.NoError(t, err)
	_, err = r.command(ctx, "/detach")
	require.NoError(t, err)
	assert.Nil(t, r.pending)
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "hello big world", joinArgs([]string{"hello", "big", "world"}))
}

func TestHandleSendsLineAsTyped(t *testing.T) {
	var seen string
	p := agent.ProcessorFunc(func(_ context.Context, req agent.StreamRequest) iter.Seq2[string, error] {
		seen = req.Text
		return func(yield func(string, error) bool) { yield("ok", nil) }
	})
	r, _ := newTestREPL(t, p)
	ctx := context.Background()

	assert.False(t, r.handle(ctx, "    return x  "))
	assert.Equal(t, "    return x  ", seen)
	msgs := r.orch.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "    return x  ", msgs[0].Text)

	assert.True(t, r.handle(ctx, "  /quit  "))
}
