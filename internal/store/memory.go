package store

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps everything in process. It survives room actors being
// unloaded but not a process restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, room, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[room][key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(value), nil
}

func (m *Memory) Put(ctx context.Context, room, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.data[room]
	if !ok {
		keys = make(map[string][]byte)
		m.data[room] = keys
	}
	keys[key] = slices.Clone(value)
	return nil
}

func (m *Memory) Delete(ctx context.Context, room, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[room], key)
	if len(m.data[room]) == 0 {
		delete(m.data, room)
	}
	return nil
}

func (m *Memory) Scan(ctx context.Context, key string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for room, keys := range m.data {
		if value, ok := keys[key]; ok {
			out[room] = slices.Clone(value)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
