//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := db.Exec("PRAGMA busy_timeout = " + strconv.FormatInt(busy.Milliseconds(), 10)); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(schema)); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("path", cfg.Path).Msg("sqlite storage opened")
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) PutBroadcast(ctx context.Context, r BroadcastRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, host_id, status, starts_at, payload, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id = excluded.host_id,
			status = excluded.status,
			starts_at = excluded.starts_at,
			payload = excluded.payload,
			updated = excluded.updated`,
		r.ID, r.HostID, r.Status, r.StartsAt.Unix(), string(r.Payload), time.Now().Unix())
	return err
}

func (s *sqliteStore) DeleteBroadcast(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broadcasts WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) PutTemplate(ctx context.Context, r TemplateRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, payload, updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload,
			updated = excluded.updated`,
		r.ID, r.Name, string(r.Payload), time.Now().Unix())
	return err
}

func (s *sqliteStore) PutAnalytics(ctx context.Context, r AnalyticsRecord) error {
	// Analytics are immutable once produced; first write wins.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics (broadcast_id, ended_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(broadcast_id) DO NOTHING`,
		r.BroadcastID, r.EndedAt.Unix(), string(r.Payload))
	return err
}

func (s *sqliteStore) GetAnalytics(ctx context.Context, broadcastID string) (AnalyticsRecord, bool, error) {
	var rec AnalyticsRecord
	var ended int64
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT broadcast_id, ended_at, payload FROM analytics WHERE broadcast_id = ?`, broadcastID).
		Scan(&rec.BroadcastID, &ended, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalyticsRecord{}, false, nil
	}
	if err != nil {
		return AnalyticsRecord{}, false, err
	}
	rec.EndedAt = time.Unix(ended, 0)
	rec.Payload = []byte(payload)
	return rec, true, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
