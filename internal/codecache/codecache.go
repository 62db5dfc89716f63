// Package codecache stores the last captured login code per phone number.
// Freshness is always judged by the reader against CapturedAt; backend TTLs
// only reclaim space.
package codecache

import (
	"context"
	"sync"
	"time"
)

// Code is a captured login code.
type Code struct {
	Code       string    `json:"code"`
	CapturedAt time.Time `json:"captured_at"`
}

// FreshAt reports whether c is still servable at now.
func (c Code) FreshAt(now time.Time, freshness time.Duration) bool {
	return c.Code != "" && now.Sub(c.CapturedAt) < freshness
}

// Cache is the code store shared by the watcher's poll and push paths.
type Cache interface {
	Put(ctx context.Context, phone string, c Code) error
	Get(ctx context.Context, phone string) (Code, bool, error)
	Delete(ctx context.Context, phone string) error
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.RWMutex
	codes map[string]Code
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{codes: make(map[string]Code)}
}

func (m *Memory) Put(_ context.Context, phone string, c Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = c
	return nil
}

func (m *Memory) Get(_ context.Context, phone string) (Code, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[phone]
	return c, ok, nil
}

func (m *Memory) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, phone)
	return nil
}
