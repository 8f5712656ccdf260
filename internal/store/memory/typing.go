package memory

import (
	"context"
	"sync"
	"time"
)

type TypingStore struct {
	mu     sync.Mutex
	byChat map[string]map[string]time.Time // chatID -> userID -> last typing
}

func NewTypingStore() *TypingStore {
	return &TypingStore{byChat: make(map[string]map[string]time.Time)}
}

func (s *TypingStore) UpsertTypingState(_ context.Context, chatID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byChat[chatID]; !ok {
		s.byChat[chatID] = make(map[string]time.Time)
	}
	s.byChat[chatID][userID] = at
	return nil
}

func (s *TypingStore) ClearTypingState(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if users, ok := s.byChat[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.byChat, chatID)
		}
	}
	return nil
}

func (s *TypingStore) ListTyping(_ context.Context, chatID string, ttl time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	var users []string
	for userID, at := range s.byChat[chatID] {
		if at.After(cutoff) {
			users = append(users, userID)
		}
	}
	return users, nil
}

func (s *TypingStore) PurgeTypingOlderThan(_ context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	purged := 0
	for chatID, users := range s.byChat {
		for userID, at := range users {
			if !at.After(cutoff) {
				delete(users, userID)
				purged++
			}
		}
		if len(users) == 0 {
			delete(s.byChat, chatID)
		}
	}
	return purged, nil
}

// Count reports the number of live entries, for tests.
func (s *TypingStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, users := range s.byChat {
		n += len(users)
	}
	return n
}
