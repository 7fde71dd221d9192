// Package sqlite stores sessions in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_kv (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS session_kv_expires_at_idx ON session_kv (expires_at);
`

type Storage struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ kv.Store = (*Storage)(nil)
var _ kv.Purger = (*Storage)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database at path. Pass ":memory:" for an
// in-memory database.
func Open(path string, ttl time.Duration) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection: ":memory:" databases are per connection and writers
	// would otherwise hit "database is locked"
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session table: %w", err)
	}
	return &Storage{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *Storage) expiresAt() sql.NullInt64 {
	if s.ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(s.ttl).UnixNano(), Valid: true}
}

func (s *Storage) get(ctx context.Context, q querier, namespace, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM session_kv
		WHERE namespace = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		namespace, key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session key %q: %w", key, err)
	}
	return value, nil
}

func (s *Storage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	return s.get(ctx, s.db, namespace, key)
}

func (s *Storage) Apply(ctx context.Context, namespace string, txn kv.Txn) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.dropExpired(ctx, tx, namespace); err != nil {
		return err
	}
	for _, c := range txn.Conditions {
		current, err := s.get(ctx, tx, namespace, c.Key)
		present := true
		if errors.Is(err, kv.ErrNotFound) {
			present = false
		} else if err != nil {
			return err
		}
		if !kv.ConditionHolds(c, current, present) {
			return kv.ErrConflict
		}
	}

	expiresAt := s.expiresAt()
	for _, m := range txn.Mutations {
		if m.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_kv WHERE namespace = ? AND key = ?`, namespace, m.Key); err != nil {
				return fmt.Errorf("deleting session key %q: %w", m.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_kv (namespace, key, value, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			namespace, m.Key, m.Value, expiresAt,
		); err != nil {
			return fmt.Errorf("writing session key %q: %w", m.Key, err)
		}
	}
	if err := refresh(ctx, tx, namespace, expiresAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Storage) Touch(ctx context.Context, namespace string) error {
	if s.ttl <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.dropExpired(ctx, tx, namespace); err != nil {
		return err
	}
	if err := refresh(ctx, tx, namespace, s.expiresAt()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// dropExpired deletes expired keys of namespace so a refresh cannot revive them.
func (s *Storage) dropExpired(ctx context.Context, tx *sql.Tx, namespace string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_kv WHERE namespace = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		namespace, s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("dropping expired session keys: %w", err)
	}
	return nil
}

func refresh(ctx context.Context, tx *sql.Tx, namespace string, expiresAt sql.NullInt64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE session_kv SET expires_at = ? WHERE namespace = ?`, expiresAt, namespace); err != nil {
		return fmt.Errorf("refreshing session expiry: %w", err)
	}
	return nil
}

func (s *Storage) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}
