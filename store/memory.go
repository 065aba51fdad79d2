package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process Store with no durability across restarts, used
// by default and in tests.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]Record
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]Record)}
}

func (m *Memory) LoadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	records := make([]Record, 0, len(m.data))
	for _, r := range m.data {
		records = append(records, r)
	}
	return records, nil
}

func (m *Memory) Upsert(ctx context.Context, name string, value json.RawMessage, lastModified time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	m.data[name] = Record{Name: name, Value: cp, LastModified: lastModified}
	return nil
}

func (m *Memory) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	_, existed := m.data[name]
	delete(m.data, name)
	return existed, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.closed = true
	m.data = nil
	return nil
}
