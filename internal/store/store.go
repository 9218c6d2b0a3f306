// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatxai/internal/domain"
)

// Repository persists anonymous clients and the turn audit ledger. It never
// stores conversation content.
type Repository interface {
	// GetClient retrieves a client by id; nil when unknown.
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)

	// UpsertClient creates or updates a client record.
	UpsertClient(ctx context.Context, client *domain.Client) error

	// TouchClient updates last_seen_at for a client.
	TouchClient(ctx context.Context, clientID string, lastSeen time.Time) error

	// RecordTurn appends a finished turn to the ledger.
	RecordTurn(ctx context.Context, rec *domain.TurnRecord) error

	// TurnStats aggregates the ledger, optionally for one client.
	TurnStats(ctx context.Context, clientID string) (*domain.TurnStats, error)

	// PruneTurns removes ledger entries older than retention.
	PruneTurns(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
