package store

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/checkout/domain"
)

type memoryStore struct {
	mu     sync.Mutex
	drafts map[snowflake.ID]domain.Draft
}

func NewMemoryStore() domain.Store {
	return &memoryStore{drafts: map[snowflake.ID]domain.Draft{}}
}

func (s *memoryStore) Save(_ context.Context, draft domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.UserID] = draft
	return nil
}

func (s *memoryStore) Load(_ context.Context, userID snowflake.ID) (*domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[userID]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (s *memoryStore) Delete(_ context.Context, userID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, userID)
	return nil
}
