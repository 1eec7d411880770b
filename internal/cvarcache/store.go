package cvarcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNoSnapshot means the cache holds nothing for the host:port.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrStale means a snapshot exists but is older than the caller's TTL.
	ErrStale = errors.New("snapshot stale")
)

// Store persists the last successful cvar listing per console endpoint, so
// completion still has an index when a listing probe comes back empty.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the snapshot for host:port wholesale.
func (s *Store) Save(ctx context.Context, host string, port int, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cvar_names WHERE host = ? AND port = ?`, host, port); err != nil {
		return fmt.Errorf("clear names: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO cvar_snapshots(host, port, fetched_at) VALUES (?, ?, ?)
ON CONFLICT(host, port) DO UPDATE SET fetched_at = excluded.fetched_at
`, host, port, ts(time.Now())); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO cvar_names(host, port, name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, host, port, name); err != nil {
			return fmt.Errorf("insert name %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns the sorted snapshot for host:port. A missing snapshot is
// ErrNoSnapshot; one older than maxAge is ErrStale.
func (s *Store) Load(ctx context.Context, host string, port int, maxAge time.Duration) ([]string, time.Time, error) {
	var fetchedRaw string
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM cvar_snapshots WHERE host = ? AND port = ?`, host, port,
	).Scan(&fetchedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query snapshot: %w", err)
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, fetchedRaw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse fetched_at: %w", err)
	}
	if maxAge > 0 && time.Since(fetchedAt) > maxAge {
		return nil, fetchedAt, ErrStale
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM cvar_names WHERE host = ? AND port = ?`, host, port)
	if err != nil {
		return nil, fetchedAt, fmt.Errorf("query names: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fetchedAt, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fetchedAt, fmt.Errorf("iterate names: %w", err)
	}
	sort.Strings(names)
	return names, fetchedAt, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
