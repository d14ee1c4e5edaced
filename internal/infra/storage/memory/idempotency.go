package memory

import (
	"context"
	"sync"
	"time"

	"staybook/internal/app/middleware"
)

// IdempotencyStore keeps records for TTL after they were written.
type IdempotencyStore struct {
	mu    sync.Mutex
	items map[string]middleware.IdempotencyRecord
	ttl   time.Duration
	now   func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{items: make(map[string]middleware.IdempotencyRecord), ttl: ttl, now: time.Now}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, rec middleware.IdempotencyRecord) (middleware.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[rec.Key]; ok && !s.expired(existing) {
		return existing, true, nil
	}
	s.items[rec.Key] = rec
	return middleware.IdempotencyRecord{}, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.items[rec.Key]; ok && held.Pending && held.Token == rec.Token {
		s.items[rec.Key] = rec
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.items[key]; ok && held.Pending && held.Token == token {
		delete(s.items, key)
	}
	return nil
}

func (s *IdempotencyStore) expired(rec middleware.IdempotencyRecord) bool {
	return s.ttl > 0 && s.now().Sub(rec.OccurredAt) > s.ttl
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
