// Package draft keeps the in-progress cart of each terminal between requests.
// Every key holds a single slot; the last save wins.
package draft

import (
	"context"
	"fmt"
	"sync"

	"posledger/backend/internal/domain"
)

type Key struct {
	StoreID    string
	TerminalID string
	Type       domain.InvoiceType
}

func (k Key) String() string {
	return fmt.Sprintf("draft:%s:%s:%s", k.StoreID, k.TerminalID, k.Type)
}

type Store interface {
	Save(ctx context.Context, key Key, state domain.DraftState) error
	Load(ctx context.Context, key Key) (domain.DraftState, bool, error)
	Clear(ctx context.Context, key Key) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]domain.DraftState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: map[string]domain.DraftState{}}
}

func (s *MemoryStore) Save(_ context.Context, key Key, state domain.DraftState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(state.Items) == 0 {
		delete(s.drafts, key.String())
		return nil
	}
	state.Items = append([]domain.LineItem(nil), state.Items...)
	s.drafts[key.String()] = state
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key Key) (domain.DraftState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.drafts[key.String()]
	if !ok {
		return domain.DraftState{}, false, nil
	}
	state.Items = append([]domain.LineItem(nil), state.Items...)
	return state, true, nil
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, key.String())
	return nil
}
