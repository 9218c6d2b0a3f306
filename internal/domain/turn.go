package domain

import (
	"time"
)

// TurnStatus is the outcome of one user/assistant exchange.
type TurnStatus string

const (
	TurnSkipped   TurnStatus = "skipped"
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// TurnRecord is the audit entry kept for a finished turn. Message text is
// deliberately absent: the ledger records how a turn went, not what was said.
type TurnRecord struct {
	TurnID        string
	ClientID      string
	SessionID     string
	ModuleID      string
	Model         string
	Status        TurnStatus
	Fragments     int
	Bytes         int
	HasAttachment bool
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the turn ran.
func (t *TurnRecord) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// TurnStats aggregates the ledger by status.
type TurnStats struct {
	Total     int64                `json:"total"`
	ByStatus  map[TurnStatus]int64 `json:"by_status"`
	Fragments int64                `json:"fragments"`
}
