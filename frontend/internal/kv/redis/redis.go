// Package redis stores each session as one Redis hash.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "neuroaccess:session:"
	// optimistic transactions are retried when another writer touches the
	// same session between WATCH and EXEC
	maxTxRetries = 5
)

type Storage struct {
	client *redis.Client
	ttl    time.Duration
}

var _ kv.Store = (*Storage)(nil)

// New parses redisURL, verifies the connection and returns the store.
// ttl <= 0 keeps sessions forever.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Storage, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Storage {
	return &Storage{client: client, ttl: ttl}
}

func hashKey(namespace string) string {
	return keyPrefix + namespace
}

func (s *Storage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session key %q: %w", key, err)
	}
	return v, nil
}

func (s *Storage) Apply(ctx context.Context, namespace string, txn kv.Txn) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	h := hashKey(namespace)

	apply := func(tx *redis.Tx) error {
		for _, c := range txn.Conditions {
			current, err := tx.HGet(ctx, h, c.Key).Bytes()
			present := true
			if errors.Is(err, redis.Nil) {
				present = false
			} else if err != nil {
				return fmt.Errorf("failed to read session key %q: %w", c.Key, err)
			}
			if !kv.ConditionHolds(c, current, present) {
				return kv.ErrConflict
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range txn.Mutations {
				if m.Delete {
					pipe.HDel(ctx, h, m.Key)
					continue
				}
				pipe.HSet(ctx, h, m.Key, m.Value)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, h, s.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, apply, h)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, kv.ErrConflict) {
			return fmt.Errorf("failed to apply session transaction: %w", err)
		}
		return err
	}
	return kv.ErrConflict
}

// Touch restarts the hash's ttl. Redis expires the whole hash at once, so
// there is never a partly expired session to revive.
func (s *Storage) Touch(ctx context.Context, namespace string) error {
	if s.ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, hashKey(namespace), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh session expiry: %w", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) Close() error {
	return s.client.Close()
}
