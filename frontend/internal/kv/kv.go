// Package kv is the per-session key/value store that carries state between
// screens. A namespace is one browser session; keys inside it are the slots
// documented in package scanstate.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neuroaccess/neuroaccess/shared/logger"
)

var (
	// ErrNotFound is returned by Get for absent or expired keys.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is returned by Apply when a condition no longer holds.
	ErrConflict = errors.New("kv: condition failed")
)

// Mutation sets or deletes one key.
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

func Put(key string, value []byte) Mutation {
	return Mutation{Key: key, Value: value}
}

func Del(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}

// Condition requires Key to currently hold exactly Value; a nil Value
// requires the key to be absent.
type Condition struct {
	Key   string
	Value []byte
}

// Txn is applied atomically: either every condition holds and every
// mutation is written, or nothing changes.
type Txn struct {
	Conditions []Condition
	Mutations  []Mutation
}

// Store is implemented by memory, pg, redis and sqlite backends.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Apply(ctx context.Context, namespace string, txn Txn) error
	// Touch extends the lifetime of the keys still live in namespace.
	// Expired keys stay gone.
	Touch(ctx context.Context, namespace string) error
	Ping(ctx context.Context) error
	Close() error
}

// Purger is implemented by stores that expire sessions lazily and need a
// periodic sweep to reclaim space.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Set writes a single key unconditionally.
func Set(ctx context.Context, s Store, namespace, key string, value []byte) error {
	return s.Apply(ctx, namespace, Txn{Mutations: []Mutation{Put(key, value)}})
}

// Validate rejects transactions that no backend could apply meaningfully.
func (t Txn) Validate() error {
	if len(t.Mutations) == 0 {
		return errors.New("kv: empty transaction")
	}
	for _, m := range t.Mutations {
		if m.Key == "" {
			return errors.New("kv: empty key")
		}
		if !m.Delete && m.Value == nil {
			return fmt.Errorf("kv: nil value for key %q", m.Key)
		}
	}
	return nil
}

// ConditionHolds compares the current value (present=false when absent)
// against the expectation.
func ConditionHolds(c Condition, current []byte, present bool) bool {
	if c.Value == nil {
		return !present
	}
	return present && bytes.Equal(c.Value, current)
}

// StartBackgroundPurge sweeps expired sessions every interval until ctx is done.
func StartBackgroundPurge(ctx context.Context, p Purger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started session purge", "interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					logger.Log.Error("session purge failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Log.Info("purged expired session keys", "count", n)
				}
			case <-ctx.Done():
				logger.Log.Info("stopped session purge")
				return
			}
		}
	}()
}
