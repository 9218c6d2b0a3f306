package domain

import (
	"time"
)

// Client is an anonymous browser identity. It carries no conversation
// content.
type Client struct {
	ClientID   string    `json:"client_id"`
	Label      string    `json:"label"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
