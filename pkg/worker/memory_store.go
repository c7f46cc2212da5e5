package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

// MemoryStore is an in-process Store. List returns contacts in creation order.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]contacts.Contact
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]contacts.Contact)}
}

func (s *MemoryStore) Create(_ context.Context, c contacts.Contact) (*contacts.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; !exists {
		s.order = append(s.order, c.ID)
	}
	s.byID[c.ID] = c
	return &c, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*contacts.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]contacts.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contacts.Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, c contacts.Contact) (*contacts.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return nil, nil
	}
	s.byID[c.ID] = c
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Clear removes every contact and returns how many there were.
func (s *MemoryStore) Clear(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.byID))
	s.byID = make(map[string]contacts.Contact)
	s.order = nil
	return n, nil
}
