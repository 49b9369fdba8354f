package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/AlexKimmel/PageGate/internal/store"
)

// Store is an in-process implementation of store.Store. Useful for tests
// and single-shot runs; nothing survives a restart.
type Store struct {
	mu   sync.Mutex
	recs map[string][]byte
}

func New() *Store {
	return &Store{recs: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.recs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, val)
	return nil
}

func (s *Store) Update(_ context.Context, key string, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var old []byte
	if v, ok := s.recs[key]; ok {
		old = make([]byte, len(v))
		copy(old, v)
	}
	next, err := fn(old)
	if errors.Is(err, store.Tombstone) {
		delete(s.recs, key)
		return nil
	}
	if err != nil {
		return err
	}
	if next != nil {
		s.set(key, next)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.recs))
	for k := range s.recs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) set(key string, val []byte) {
	v := make([]byte, len(val))
	copy(v, val)
	s.recs[key] = v
}

var _ store.Store = (*Store)(nil)
