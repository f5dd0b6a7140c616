package service

import (
	"context"
	"sync"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
)

// WindowStore holds fixed-window rate-limit state. Implementations must make
// Increment atomic so concurrent requests from one identity cannot lose
// updates. Expired blocks are cleared lazily on read; nothing relies on
// active eviction.
type WindowStore interface {
	// Increment applies the fixed-window transition for one request and
	// returns the resulting count and the window's start time. The first
	// request in a window yields count 1.
	Increment(ctx context.Context, identity, endpoint string, window time.Duration) (int, time.Time, error)
	// BlockedUntil reports an active block. Expired blocks read as absent.
	BlockedUntil(ctx context.Context, identity, endpoint string) (time.Time, bool, error)
	Block(ctx context.Context, identity, endpoint string, until time.Time) error
	Unblock(ctx context.Context, identity, endpoint string) error
}

type InMemoryWindowStore struct {
	mu      sync.Mutex
	store   map[string]*domain.RateLimitCounter
	cleanup time.Time
}

func NewInMemoryWindowStore() *InMemoryWindowStore {
	return &InMemoryWindowStore{
		store:   make(map[string]*domain.RateLimitCounter),
		cleanup: time.Now().Add(time.Minute),
	}
}

func windowKey(identity, endpoint string) string { return identity + "|" + endpoint }

func (s *InMemoryWindowStore) Increment(_ context.Context, identity, endpoint string, window time.Duration) (int, time.Time, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.cleanup) {
		for k, c := range s.store {
			if now.After(c.WindowStart.Add(2*window)) && !c.BlockActive(now) {
				delete(s.store, k)
			}
		}
		s.cleanup = now.Add(window)
	}

	key := windowKey(identity, endpoint)
	c, ok := s.store[key]
	if !ok || c.WindowExpired(now, window) {
		fresh := &domain.RateLimitCounter{Identity: identity, Endpoint: endpoint, WindowStart: now}
		if ok {
			fresh.IsBlocked = c.IsBlocked
			fresh.BlockedUntil = c.BlockedUntil
		}
		c = fresh
		s.store[key] = c
	}
	c.Requests++
	return c.Requests, c.WindowStart, nil
}

func (s *InMemoryWindowStore) BlockedUntil(_ context.Context, identity, endpoint string) (time.Time, bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.store[windowKey(identity, endpoint)]
	if !ok || !c.IsBlocked {
		return time.Time{}, false, nil
	}
	if !c.BlockActive(now) {
		c.IsBlocked = false
		c.BlockedUntil = time.Time{}
		return time.Time{}, false, nil
	}
	return c.BlockedUntil, true, nil
}

func (s *InMemoryWindowStore) Block(_ context.Context, identity, endpoint string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := windowKey(identity, endpoint)
	c, ok := s.store[key]
	if !ok {
		c = &domain.RateLimitCounter{Identity: identity, Endpoint: endpoint, WindowStart: time.Now()}
		s.store[key] = c
	}
	c.IsBlocked = true
	c.BlockedUntil = until
	return nil
}

func (s *InMemoryWindowStore) Unblock(_ context.Context, identity, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.store[windowKey(identity, endpoint)]; ok {
		c.IsBlocked = false
		c.BlockedUntil = time.Time{}
	}
	return nil
}
