package catalog

import (
	"context"
	"sync"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// MemoryService keeps the catalog in process memory. It backs local runs and
// tests.
type MemoryService struct {
	mu          sync.Mutex
	collections map[string]models.Collection
	items       map[string]map[string]models.Item
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		collections: make(map[string]models.Collection),
		items:       make(map[string]map[string]models.Item),
	}
}

func (s *MemoryService) GetCollection(_ context.Context, id string) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryService) CreateCollection(_ context.Context, c models.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[c.ID]; ok {
		return ErrAlreadyExists
	}
	s.collections[c.ID] = c
	return nil
}

func (s *MemoryService) GetItem(_ context.Context, collectionID, itemID string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[collectionID][itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (s *MemoryService) PutItem(_ context.Context, item models.Item, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[item.CollectionID]; !ok {
		return ErrNotFound
	}
	items, ok := s.items[item.CollectionID]
	if !ok {
		items = make(map[string]models.Item)
		s.items[item.CollectionID] = items
	}
	if _, exists := items[item.ID]; exists && !upsert {
		return ErrAlreadyExists
	}
	items[item.ID] = item
	return nil
}

// Collections returns the ids of every stored collection.
func (s *MemoryService) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.collections))
	for id := range s.collections {
		ids = append(ids, id)
	}
	return ids
}

// Items returns the items stored in one collection.
func (s *MemoryService) Items(collectionID string) []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.Item, 0, len(s.items[collectionID]))
	for _, item := range s.items[collectionID] {
		items = append(items, item)
	}
	return items
}
