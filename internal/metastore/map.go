package metastore

import (
	"context"
	"sync"
)

// Map is an in-memory Store.
type Map struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMap returns a Map seeded with a copy of data.
func NewMap(data map[string]Record) *Map {
	m := &Map{data: make(map[string]Record, len(data))}
	for k, v := range data {
		m.data[k] = v.clone()
	}
	return m
}

func (m *Map) Lookup(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return rec.clone(), true, nil
}

// Put stores a copy of rec under key.
func (m *Map) Put(key string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = rec.clone()
}

// Len returns the number of records.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Range calls fn for every record, in no particular order, until fn returns false.
// fn receives copies and must not call back into the Map.
func (m *Map) Range(fn func(key string, rec Record) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.data {
		if !fn(k, v.clone()) {
			return
		}
	}
}
