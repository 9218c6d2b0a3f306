package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/modules"
	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

type repl struct {
	orch     *agent.Orchestrator
	registry *modules.Registry
	out      io.Writer
	pending  *domain.Attachment
}

// send runs one turn, printing fragments as the store receives them.
func (r *repl) send(ctx context.Context, text string) agent.Turn {
	att := r.pending
	r.pending = nil

	events, unsubscribe := r.orch.Store().Subscribe(4096)
	defer unsubscribe()

	turn, done := r.orch.Start(ctx, text, att)
	if done == nil {
		return turn
	}

	fmt.Fprint(r.out, assistantStyle.Render(r.orch.Module().Name)+" ")
	printed := false
	for ev := range events {
		if ev.Message == nil || ev.Message.ID != turn.AssistantMessageID {
			if ev.Kind == conversation.EventInFlight && !ev.InFlight {
				break
			}
			continue
		}
		switch ev.Kind {
		case conversation.EventDelta:
			fmt.Fprint(r.out, ev.Delta)
			printed = true
		case conversation.EventReplace:
			if printed {
				fmt.Fprintln(r.out)
			}
			fmt.Fprint(r.out, errorStyle.Render(ev.Message.Text))
		}
	}
	fmt.Fprintln(r.out)

	finished := <-done
	if finished.Status == domain.TurnCancelled {
		fmt.Fprintln(r.out, infoStyle.Render("[cancelled]"))
	}
	return finished
}

// command handles a slash command. It reports whether the session should end.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, arg := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/modules":
		active := r.orch.Module().ID
		for _, m := range r.registry.List() {
			marker := "  "
			if m.ID == active {
				marker = "* "
			}
			fmt.Fprintf(r.out, "%s%-12s %s\n", marker, m.ID, infoStyle.Render(m.Description))
		}
	case "/module":
		m, ok := r.registry.Get(arg)
		if !ok {
			return false, fmt.Errorf("unknown module %q", arg)
		}
		if r.orch.SwitchModule(m) {
			fmt.Fprintln(r.out, infoStyle.Render("switched to "+m.Name+", new conversation"))
		}
	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <path>")
		}
		return false, r.attach(ctx, arg)
	case "/detach":
		r.pending = nil
		fmt.Fprintln(r.out, infoStyle.Render("attachment dropped"))
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

// interactive runs the read-send loop until /quit, Ctrl+C at the prompt or
// EOF. Ctrl+C while a reply streams cancels that reply only.
func (r *repl) interactive(ctx context.Context, historyFile string) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer func() {
		saveHistory(line, historyFile)
		_ = line.Close()
	}()
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Fprintln(r.out, infoStyle.Render("module: "+r.orch.Module().Name+"  (/modules, /module <key>, /attach <path>, /quit)"))

	for {
		prompt := "you> "
		if r.pending != nil {
			prompt = "you [" + r.pending.Name + "]> "
		}
		input, err := line.Prompt(promptStyle.Render(prompt))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted) or EOF.
			fmt.Fprintln(r.out)
			return nil
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" && r.pending == nil {
			continue
		}
		line.AppendHistory(input)

		if r.handle(ctx, input) {
			return nil
		}
	}
}

// handle dispatches one line: slash commands by their trimmed form, anything
// else is sent as typed. It reports whether the session should end.
func (r *repl) handle(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "/") {
		quit, err := r.command(ctx, trimmed)
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		}
		return quit
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	r.send(turnCtx, input)
	return false
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = line.WriteHistory(f)
}
