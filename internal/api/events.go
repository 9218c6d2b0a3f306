package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chatxai/internal/conversation"
)

const sseRetryDelay = 3 * time.Second

// Events streams the tab's conversation as server-sent events: one
// "snapshot", then one event per store change named after its kind, with
// "ping" keepalives. Event ids are store sequence numbers. A reconnecting
// client receives a fresh snapshot, so Last-Event-ID is not replayed.
func (h *ChatHandler) Events(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before the snapshot so nothing falls between them; events
	// already reflected in the snapshot are skipped by sequence.
	events, unsubscribe := ws.Store().Subscribe(h.opts.EventBuffer)
	defer unsubscribe()

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "user_id", ws.ClientID())
		return
	}

	snap := NewSnapshotView(ws.Store(), ws.Module().ID)
	if err := writeSSEJSON(w, snap.Seq, "snapshot", snap); err != nil {
		slog.Warn("failed to write SSE snapshot", "error", err, "user_id", ws.ClientID())
		return
	}
	flusher.Flush()

	slog.Info("Chat event stream connected",
		"user_id", ws.ClientID(),
		"session_id", ws.SessionID(),
		"seq", snap.Seq,
	)
	defer slog.Info("Chat event stream closed", "user_id", ws.ClientID(), "session_id", ws.SessionID())

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				// Dropped for falling behind, or the workspace was evicted.
				// The client reconnects and resynchronizes from a snapshot.
				_ = writeSSE(w, "resync", `{"reason":"stream closed"}`)
				flusher.Flush()
				return
			}
			if ev.Seq <= snap.Seq {
				continue
			}
			if err := writeSSEJSON(w, ev.Seq, string(ev.Kind), NewEventView(ev)); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "user_id", ws.ClientID())
				return
			}
			if ev.Kind == conversation.EventReset {
				data, _ := json.Marshal(map[string]string{"module": ws.Module().ID})
				if err := writeSSE(w, "module", string(data)); err != nil {
					return
				}
			}
			flusher.Flush()

		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "user_id", ws.ClientID())
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id uint64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

func writeSSEJSON(w io.Writer, id uint64, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return writeSSEWithID(w, id, event, string(data))
}
