package store

import (
	"context"
	"sync"
)

// Memory is a process-local KV. Faults can be injected to exercise the
// degraded paths of callers.
type Memory struct {
	mu       sync.Mutex
	data     map[string]string
	readErr  error
	writeErr error
	setCalls int
}

var _ KV = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// FailReads makes every subsequent Get fail with err. Pass nil to heal.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes every subsequent Set and Remove fail with err.
// Pass nil to heal.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetCalls returns how many times Set has been called, failed calls included.
func (m *Memory) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// Get implements KV.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", false, wrap("get", key, m.readErr)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KV.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.writeErr != nil {
		return wrap("set", key, m.writeErr)
	}
	m.data[key] = value
	return nil
}

// Remove implements KV.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return wrap("remove", key, m.writeErr)
	}
	delete(m.data, key)
	return nil
}

// Close implements KV.
func (m *Memory) Close() error {
	return nil
}
