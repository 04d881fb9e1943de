package handoff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS handoff (
	scope      TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);
CREATE INDEX IF NOT EXISTS idx_handoff_expires ON handoff (expires_at);
`

// SQLiteStore keeps records in a SQLite database so they survive a restart
// and can be shared by several quantpanel processes on one host.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the store at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening handoff database: %w", err)
	}
	// A single connection serializes Take transactions and keeps a
	// ":memory:" database alive for the store's lifetime.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating handoff schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Put stores value under (scope, key).
func (s *SQLiteStore) Put(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handoff (scope, key, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		scope, key, value, expires)
	return err
}

// Take removes and returns the record under (scope, key). The read and the
// delete are one statement, so concurrent takers across processes see the
// record at most once and the losers get a plain miss.
func (s *SQLiteStore) Take(ctx context.Context, scope, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	var value []byte
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM handoff WHERE scope = ? AND key = ? RETURNING value, expires_at`, scope, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires != 0 && s.now().UnixNano() >= expires {
		return nil, false, nil
	}
	return value, true, nil
}

// Sweep deletes expired records and returns how many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM handoff WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
