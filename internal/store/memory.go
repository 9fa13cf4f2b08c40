package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is a DocumentStore held in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document
}

var _ DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) Get(_ context.Context, name string) (*Document, error) {
	if !isCollection(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[name]
	if !ok {
		return nil, nil
	}
	return &Document{Data: cloneRaw(doc.Data), Version: doc.Version}, nil
}

func (m *MemoryStore) Put(_ context.Context, name string, data json.RawMessage, expectedVersion int64) (int64, error) {
	if !isCollection(name) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if !json.Valid(data) {
		return 0, fmt.Errorf("%w: collection %s is not valid JSON", ErrInvalidDocument, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.docs[name].Version
	if current != expectedVersion {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, name, current, expectedVersion)
	}
	m.docs[name] = Document{Data: cloneRaw(data), Version: current + 1}
	return current + 1, nil
}

func (m *MemoryStore) ExportAll(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage, len(Collections))
	for _, name := range Collections {
		if doc, ok := m.docs[name]; ok {
			out[name] = cloneRaw(doc.Data)
		} else {
			out[name] = json.RawMessage("null")
		}
	}
	return out, nil
}

func (m *MemoryStore) ImportAll(_ context.Context, docs map[string]json.RawMessage) error {
	for name, data := range docs {
		if isCollection(name) && !isNull(data) && !json.Valid(data) {
			return fmt.Errorf("%w: collection %s is not valid JSON", ErrInvalidDocument, name)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, data := range docs {
		if !isCollection(name) || isNull(data) {
			continue
		}
		m.docs[name] = Document{Data: cloneRaw(data), Version: m.docs[name].Version + 1}
	}
	return nil
}

func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]Document)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneRaw(data json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}
