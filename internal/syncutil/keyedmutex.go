// Package syncutil holds locking helpers shared by the storage backends.
package syncutil

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// KeyedMutex serializes callers that use the same key, and lets a waiting
// caller give up when its context ends. Distinct keys may share a shard.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates an unlocked KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock waits for key. On success the returned func releases it and must be
// called exactly once. If ctx ends first, ctx.Err() is returned.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[xxhash.Sum64String(key)%shardCount]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
