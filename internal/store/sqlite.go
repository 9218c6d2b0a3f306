package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository. ":memory:" opens a
// private in-memory database.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clients_last_seen ON clients(last_seen_at);

	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		fragments INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		has_attachment INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_client ON turns(client_id);
	CREATE INDEX IF NOT EXISTS idx_turns_finished ON turns(finished_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetClient retrieves a client by id.
func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	query := `
		SELECT client_id, label, last_seen_at, created_at, updated_at
		FROM clients WHERE client_id = ?`

	var c domain.Client
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, clientID).Scan(
		&c.ClientID, &c.Label, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client row: %w", err)
	}

	c.LastSeenAt = time.Unix(lastSeen, 0)
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// UpsertClient creates or updates a client record.
func (s *SQLiteStore) UpsertClient(ctx context.Context, c *domain.Client) error {
	query := `
	INSERT INTO clients (client_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert client", func() error {
		_, err := s.db.ExecContext(ctx, query,
			c.ClientID, c.Label, c.LastSeenAt.Unix(), c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
		)
		return err
	})
}

// TouchClient updates last_seen_at for a client.
func (s *SQLiteStore) TouchClient(ctx context.Context, clientID string, lastSeen time.Time) error {
	query := `UPDATE clients SET last_seen_at = ?, updated_at = ? WHERE client_id = ?`
	var rows int64
	err := s.withRetry(ctx, "touch client", func() error {
		result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), clientID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("TouchClient affected 0 rows", "user_id", clientID)
	}
	return nil
}

// RecordTurn appends a finished turn to the ledger.
func (s *SQLiteStore) RecordTurn(ctx context.Context, rec *domain.TurnRecord) error {
	query := `
	INSERT INTO turns (
		turn_id, client_id, session_id, module_id, model, status,
		fragments, bytes, has_attachment, error, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(turn_id) DO UPDATE SET
		status = excluded.status,
		fragments = excluded.fragments,
		bytes = excluded.bytes,
		error = excluded.error,
		finished_at = excluded.finished_at`

	var errText interface{}
	if rec.Error != "" {
		errText = rec.Error
	}

	return s.withRetry(ctx, "record turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.TurnID, rec.ClientID, rec.SessionID, rec.ModuleID, rec.Model, string(rec.Status),
			rec.Fragments, rec.Bytes, rec.HasAttachment, errText,
			rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		)
		return err
	})
}

// TurnStats aggregates the ledger. An empty clientID covers every client.
func (s *SQLiteStore) TurnStats(ctx context.Context, clientID string) (*domain.TurnStats, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(fragments), 0) FROM turns`
	var args []interface{}
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turn stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn stats rows", "error", closeErr)
		}
	}()

	stats := &domain.TurnStats{ByStatus: make(map[domain.TurnStatus]int64)}
	for rows.Next() {
		var status string
		var count, fragments int64
		if err := rows.Scan(&status, &count, &fragments); err != nil {
			return nil, fmt.Errorf("scan turn stats row: %w", err)
		}
		stats.ByStatus[domain.TurnStatus(status)] = count
		stats.Total += count
		stats.Fragments += fragments
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn stats: %w", err)
	}
	return stats, nil
}

// PruneTurns removes ledger entries older than retention.
func (s *SQLiteStore) PruneTurns(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	var deleted int64
	err := s.withRetry(ctx, "prune turns", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE finished_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// withRetry retries fn with exponential backoff on SQLITE_BUSY / locked
// errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
