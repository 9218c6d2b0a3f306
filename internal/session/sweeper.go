package session

import (
	"context"
	"log/slog"
	"time"
)

// TurnPruner removes old entries from the turn ledger.
type TurnPruner interface {
	PruneTurns(ctx context.Context, retention time.Duration) (int64, error)
}

// SweepConfig controls StartSweeper.
type SweepConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

// StartSweeper runs a background goroutine that periodically evicts idle
// workspaces and prunes the turn ledger. It returns when ctx is done.
func StartSweeper(ctx context.Context, mgr *Manager, pruner TurnPruner, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	slog.Info("Workspace sweeper started",
		"interval", cfg.Interval,
		"idle_ttl", cfg.IdleTTL,
		"retention", cfg.Retention,
	)

	for {
		select {
		case <-ticker.C:
			sweep(ctx, mgr, pruner, cfg)
		case <-ctx.Done():
			slog.Info("Workspace sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

func sweep(ctx context.Context, mgr *Manager, pruner TurnPruner, cfg SweepConfig) {
	if evicted := mgr.EvictIdle(cfg.IdleTTL); evicted > 0 {
		slog.Info("Sweeper evicted idle workspaces", "count", evicted, "remaining", mgr.Len())
	}

	if pruner == nil || cfg.Retention <= 0 {
		return
	}
	if deleted, err := pruner.PruneTurns(ctx, cfg.Retention); err != nil {
		slog.Error("Sweeper failed to prune turn ledger", "error", err)
	} else if deleted > 0 {
		slog.Info("Sweeper pruned turn ledger", "count", deleted)
	}
}
