package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	query     TEXT PRIMARY KEY,
	products  TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_timestamp ON cache_entries(timestamp);
`

// SQLiteBackend persists entries in a local SQLite file so the cache
// survives restarts. Timestamps are stored as unix milliseconds.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path with WAL
// journaling and a busy timeout. ":memory:" opens a private in-memory store.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("cache: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Load(ctx context.Context, query string) (Entry, bool, error) {
	var (
		raw string
		ms  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT products, timestamp FROM cache_entries WHERE query = ?`, query).Scan(&raw, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: load %q: %w", query, err)
	}
	e := Entry{Query: query, Timestamp: time.UnixMilli(ms)}
	if err := json.Unmarshal([]byte(raw), &e.Products); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode %q: %w", query, err)
	}
	return e, true, nil
}

func (s *SQLiteBackend) Save(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e.Products)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", e.Query, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (query, products, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET products = excluded.products, timestamp = excluded.timestamp`,
		e.Query, string(raw), e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache: save %q: %w", e.Query, err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, query string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE query = ?`, query); err != nil {
		return fmt.Errorf("cache: delete %q: %w", query, err)
	}
	return nil
}

func (s *SQLiteBackend) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteBackend) Trim(ctx context.Context, max int) (int, error) {
	if max < 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE query IN (
			SELECT query FROM cache_entries ORDER BY timestamp DESC, query ASC LIMIT -1 OFFSET ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("cache: trim: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteBackend) Stats(ctx context.Context, cutoff time.Time) (BackendStats, error) {
	var st BackendStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN timestamp < ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(LENGTH(products)), 0)
		FROM cache_entries`, cutoff.UnixMilli()).Scan(&st.Total, &st.Expired, &st.Bytes)
	if err != nil {
		return BackendStats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }
