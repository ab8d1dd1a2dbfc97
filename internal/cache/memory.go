package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process LRU cache with a fixed TTL for every entry.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory builds an in-process cache holding at most size entries, each
// expiring ttl after insertion.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the cached value, if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.lru.Get(key)
	return value, ok, nil
}

// Set stores the value. The per-call ttl is ignored: the LRU applies the
// TTL it was constructed with.
func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Delete removes the key if present.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}
