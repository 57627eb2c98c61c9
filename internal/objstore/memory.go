package objstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store keyed by full URI, used for local runs
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) List(_ context.Context, prefixURI string) ([]string, error) {
	if _, err := Parse(prefixURI); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uris []string
	for uri := range s.objects {
		if strings.HasPrefix(uri, prefixURI) {
			uris = append(uris, uri)
		}
	}
	return uris, nil
}

func (s *MemoryStore) Get(_ context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, uri string, data []byte) error {
	if _, err := Parse(uri); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[uri] = append([]byte(nil), data...)
	return nil
}
