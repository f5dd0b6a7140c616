package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChallengeStore holds one-shot, TTL-bounded challenge payloads (CAPTCHA
// answers, biometric nonces). Take removes the entry unconditionally: a
// challenge is never checkable twice, whatever the outcome of the check.
type ChallengeStore interface {
	Put(ctx context.Context, id, payload string, ttl time.Duration) error
	Take(ctx context.Context, id string) (string, bool, error)
}

type memoryChallenge struct {
	payload   string
	expiresAt time.Time
}

type InMemoryChallengeStore struct {
	mu    sync.Mutex
	store map[string]memoryChallenge
}

func NewInMemoryChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{store: make(map[string]memoryChallenge)}
}

func (s *InMemoryChallengeStore) Put(_ context.Context, id, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.store {
		if now.After(c.expiresAt) {
			delete(s.store, k)
		}
	}
	s.store[id] = memoryChallenge{payload: payload, expiresAt: now.Add(ttl)}
	return nil
}

func (s *InMemoryChallengeStore) Take(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.store[id]
	if !ok {
		return "", false, nil
	}
	delete(s.store, id)
	if time.Now().After(c.expiresAt) {
		return "", false, nil
	}
	return c.payload, true, nil
}

type RedisChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisChallengeStore(client redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "challenge"
	}
	return &RedisChallengeStore{client: client, prefix: prefix}
}

func (s *RedisChallengeStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func (s *RedisChallengeStore) Put(ctx context.Context, id, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(id), payload, ttl).Err()
}

func (s *RedisChallengeStore) Take(ctx context.Context, id string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
