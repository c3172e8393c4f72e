// Package memory provides the in-process LocalStore. It backs tests and the
// degraded mode used when a durable backend cannot be opened; nothing
// survives a restart, which is the accepted cost of degradation.
package memory

import (
	"context"
	"sync"

	"quiz-attempt-engine/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	outboxes    map[string][]store.QueuedEntry
	nextSeq     map[string]uint64
}

func NewStore() *Store {
	return &Store{
		collections: make(map[string]map[string][]byte),
		outboxes:    make(map[string][]store.QueuedEntry),
		nextSeq:     make(map[string]uint64),
	}
}

func (s *Store) Put(_ context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string][]byte)
		s.collections[collection] = col
	}
	col[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, ok := s.collections[collection]; ok {
		if value, ok := col[key]; ok {
			return append([]byte(nil), value...), nil
		}
	}
	return nil, store.ErrKeyNotFound
}

func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[collection]; ok {
		delete(col, key)
	}
	return nil
}

func (s *Store) Enqueue(_ context.Context, outbox string, data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[outbox]++
	seq := s.nextSeq[outbox]
	s.outboxes[outbox] = append(s.outboxes[outbox], store.QueuedEntry{
		Seq:  seq,
		Data: append([]byte(nil), data...),
	})
	return seq, nil
}

func (s *Store) ListAll(_ context.Context, outbox string) ([]store.QueuedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.outboxes[outbox]
	out := make([]store.QueuedEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) RemoveBySeq(_ context.Context, outbox string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.outboxes[outbox]
	for i, entry := range entries {
		if entry.Seq == seq {
			s.outboxes[outbox] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }
