package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory DocumentStore with the same last-writer-wins
// semantics as the Postgres one. Tests use it directly; it is also handy for
// local runs without a database.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		now:  time.Now,
	}
}

// SetClock overrides the timestamp source; tests use it to make updated_at
// deterministic.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetDocument(_ context.Context, key string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) PutDocument(_ context.Context, key string, value json.RawMessage, clientID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{
		Key:               key,
		Value:             append(json.RawMessage(nil), value...),
		UpdatedAt:         s.now(),
		UpdatedByClientID: clientID,
	}
	s.docs[key] = doc
	return doc, nil
}

func (s *MemoryStore) ListDocumentsSince(_ context.Context, since time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Document, 0)
	for _, doc := range s.docs {
		if doc.UpdatedAt.After(since) {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].Key < items[j].Key
		}
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) ListKeysOlderThan(_ context.Context, prefix string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for key, doc := range s.docs {
		if strings.HasPrefix(key, prefix) && doc.UpdatedAt.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}
