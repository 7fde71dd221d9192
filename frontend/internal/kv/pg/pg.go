// Package pg stores sessions in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/shared/config"
	shared_pg "github.com/neuroaccess/neuroaccess/shared/storage/pg"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_kv (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS session_kv_expires_at_idx ON session_kv (expires_at);
`

type Storage struct {
	db  *sql.DB
	ttl time.Duration
}

var _ kv.Store = (*Storage)(nil)
var _ kv.Purger = (*Storage)(nil)

// New connects, creates the table if needed and returns the store.
// ttl <= 0 keeps sessions forever.
func New(ctx context.Context, cfg config.Pg, ttl time.Duration) (*Storage, error) {
	db, err := shared_pg.Connect(ctx, cfg, shared_pg.LightweightConnectionConfig())
	if err != nil {
		return nil, err
	}
	s := &Storage{db: db, ttl: ttl}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create session table: %w", err)
	}
	return nil
}

func (s *Storage) expiresAt() sql.NullTime {
	if s.ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().Add(s.ttl), Valid: true}
}

func get(ctx context.Context, q shared_pg.Querier, namespace, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM session_kv
		WHERE namespace = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now())`,
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session key %q: %w", key, err)
	}
	return value, nil
}

func (s *Storage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	return get(ctx, s.db, namespace, key)
}

func (s *Storage) Apply(ctx context.Context, namespace string, txn kv.Txn) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	return shared_pg.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		// serialize writers of one session; absent keys have no row to lock
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, namespace); err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if err := dropExpired(ctx, tx, namespace); err != nil {
			return err
		}

		for _, c := range txn.Conditions {
			current, err := get(ctx, tx, namespace, c.Key)
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
				if _, err := tx.ExecContext(ctx, `DELETE FROM session_kv WHERE namespace = $1 AND key = $2`, namespace, m.Key); err != nil {
					return fmt.Errorf("failed to delete session key %q: %w", m.Key, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_kv (namespace, key, value, expires_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
				namespace, m.Key, m.Value, expiresAt,
			); err != nil {
				return fmt.Errorf("failed to write session key %q: %w", m.Key, err)
			}
		}

		return refresh(ctx, tx, namespace, expiresAt)
	})
}

func (s *Storage) Touch(ctx context.Context, namespace string) error {
	if s.ttl <= 0 {
		return nil
	}
	return shared_pg.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := dropExpired(ctx, tx, namespace); err != nil {
			return err
		}
		return refresh(ctx, tx, namespace, s.expiresAt())
	})
}

// dropExpired deletes expired keys of namespace so a refresh cannot revive them.
func dropExpired(ctx context.Context, tx *sql.Tx, namespace string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_kv WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		namespace,
	); err != nil {
		return fmt.Errorf("failed to drop expired session keys: %w", err)
	}
	return nil
}

func refresh(ctx context.Context, tx *sql.Tx, namespace string, expiresAt sql.NullTime) error {
	if _, err := tx.ExecContext(ctx, `UPDATE session_kv SET expires_at = $2 WHERE namespace = $1`, namespace, expiresAt); err != nil {
		return fmt.Errorf("failed to refresh session expiry: %w", err)
	}
	return nil
}

func (s *Storage) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}
