// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. Each subtest uses its own namespace so backends may share
// one instance across the suite.
func Run(t *testing.T, s kv.Store) {
	ctx := context.Background()
	ns := func(t *testing.T) string { return "kvtest-" + t.Name() }

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, ns(t), "analysisResult")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "promptText", []byte("is there a tumor?")))
		got, err := s.Get(ctx, ns(t), "promptText")
		require.NoError(t, err)
		assert.Equal(t, "is there a tumor?", string(got))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "k", []byte("one")))
		require.NoError(t, kv.Set(ctx, s, ns(t), "k", []byte("two")))
		got, err := s.Get(ctx, ns(t), "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t)+"-a", "k", []byte("a")))
		_, err := s.Get(ctx, ns(t)+"-b", "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put and delete in one transaction", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "selectedHistoryItem", []byte(`{"id":"1"}`)))
		err := s.Apply(ctx, ns(t), kv.Txn{Mutations: []kv.Mutation{
			kv.Put("analysisResult", []byte(`{"timestamp":"t"}`)),
			kv.Del("selectedHistoryItem"),
		}})
		require.NoError(t, err)

		_, err = s.Get(ctx, ns(t), "selectedHistoryItem")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		got, err := s.Get(ctx, ns(t), "analysisResult")
		require.NoError(t, err)
		assert.JSONEq(t, `{"timestamp":"t"}`, string(got))
	})

	t.Run("deleting an absent key is fine", func(t *testing.T) {
		assert.NoError(t, s.Apply(ctx, ns(t), kv.Txn{Mutations: []kv.Mutation{kv.Del("nothing")}}))
	})

	t.Run("conditions that hold", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "uploadedImages", []byte("draft-1")))
		err := s.Apply(ctx, ns(t), kv.Txn{
			Conditions: []kv.Condition{
				{Key: "uploadedImages", Value: []byte("draft-1")},
				{Key: "selectedHistoryItem"},
			},
			Mutations: []kv.Mutation{kv.Put("analysisResult", []byte("r"))},
		})
		require.NoError(t, err)
		got, err := s.Get(ctx, ns(t), "analysisResult")
		require.NoError(t, err)
		assert.Equal(t, "r", string(got))
	})

	t.Run("failed condition writes nothing", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "uploadedImages", []byte("draft-2")))
		err := s.Apply(ctx, ns(t), kv.Txn{
			Conditions: []kv.Condition{{Key: "uploadedImages", Value: []byte("draft-1")}},
			Mutations: []kv.Mutation{
				kv.Put("analysisResult", []byte("r")),
				kv.Del("uploadedImages"),
			},
		})
		assert.ErrorIs(t, err, kv.ErrConflict)

		_, err = s.Get(ctx, ns(t), "analysisResult")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		got, err := s.Get(ctx, ns(t), "uploadedImages")
		require.NoError(t, err)
		assert.Equal(t, "draft-2", string(got))
	})

	t.Run("absence condition fails when present", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "selectedHistoryItem", []byte("x")))
		err := s.Apply(ctx, ns(t), kv.Txn{
			Conditions: []kv.Condition{{Key: "selectedHistoryItem"}},
			Mutations:  []kv.Mutation{kv.Put("chatResponse", []byte("c"))},
		})
		assert.ErrorIs(t, err, kv.ErrConflict)
	})

	t.Run("empty transaction rejected", func(t *testing.T) {
		assert.Error(t, s.Apply(ctx, ns(t), kv.Txn{}))
	})

	t.Run("concurrent compare-and-set has one winner", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, s, ns(t), "counter", []byte("0")))

		const writers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Apply(ctx, ns(t), kv.Txn{
					Conditions: []kv.Condition{{Key: "counter", Value: []byte("0")}},
					Mutations:  []kv.Mutation{kv.Put("counter", []byte(fmt.Sprintf("w%d", i)))},
				})
				if err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

// RunExpiry checks that expired keys stay gone. s must have been built with a
// ttl that elapse moves time past.
func RunExpiry(t *testing.T, s kv.Store, elapse func()) {
	ctx := context.Background()
	ns := "kvtest-" + t.Name()

	require.NoError(t, kv.Set(ctx, s, ns, "analysisResult", []byte("old")))
	elapse()
	_, err := s.Get(ctx, ns, "analysisResult")
	require.ErrorIs(t, err, kv.ErrNotFound)

	// a later write to the same session must not revive the expired key
	require.NoError(t, kv.Set(ctx, s, ns, "promptText", []byte("new")))
	_, err = s.Get(ctx, ns, "analysisResult")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	got, err := s.Get(ctx, ns, "promptText")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	require.NoError(t, s.Touch(ctx, ns))
	_, err = s.Get(ctx, ns, "analysisResult")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.Get(ctx, ns, "promptText")
	assert.NoError(t, err)

	assert.NoError(t, s.Touch(ctx, ns+"-missing"))
}
