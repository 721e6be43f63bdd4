package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Store is the persistence API used by the scheduler.
type Store interface {
	PutBroadcast(ctx context.Context, r BroadcastRecord) error
	DeleteBroadcast(ctx context.Context, id string) error
	PutTemplate(ctx context.Context, r TemplateRecord) error
	PutAnalytics(ctx context.Context, r AnalyticsRecord) error
	GetAnalytics(ctx context.Context, broadcastID string) (AnalyticsRecord, bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
