package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BroadcastRecord is the durable row for one scheduled broadcast. The full
// document rides in Payload (JSON); the indexed columns exist for querying.
type BroadcastRecord struct {
	ID       string
	HostID   string
	Status   string
	StartsAt time.Time
	Payload  []byte
}

// TemplateRecord is the durable row for one broadcast template.
type TemplateRecord struct {
	ID      string
	Name    string
	Payload []byte
}

// AnalyticsRecord is the durable row for one final analytics document,
// keyed by broadcast id and immutable once written.
type AnalyticsRecord struct {
	BroadcastID string
	EndedAt     time.Time
	Payload     []byte
}
