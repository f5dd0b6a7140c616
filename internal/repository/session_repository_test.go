package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
)

func TestSessionRepositoryListLiveByUserID(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	live := &domain.Session{
		UserID:       "u1",
		TokenHash:    "h1",
		IsActive:     true,
		LastActivity: now.Add(-time.Minute),
		ExpiresAt:    now.Add(2 * time.Hour),
	}
	inactive := &domain.Session{
		UserID:       "u1",
		TokenHash:    "h2",
		IsActive:     false,
		LastActivity: now,
		ExpiresAt:    now.Add(2 * time.Hour),
	}
	expired := &domain.Session{
		UserID:       "u1",
		TokenHash:    "h3",
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    now.Add(-time.Hour),
	}
	otherUser := &domain.Session{
		UserID:       "u2",
		TokenHash:    "h4",
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    now.Add(2 * time.Hour),
	}
	for _, s := range []*domain.Session{live, inactive, expired, otherUser} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("create %s: %v", s.TokenHash, err)
		}
	}

	sessions, err := repo.ListLiveByUserID("u1", now)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(sessions) != 1 || sessions[0].TokenHash != "h1" {
		t.Fatalf("expected only h1 live, got %+v", sessions)
	}
	count, err := repo.CountLiveByUserID("u1", now)
	if err != nil {
		t.Fatalf("count live: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestSessionRepositoryListLiveOrdersByLastActivity(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()

	for i, hash := range []string{"newest", "oldest", "middle"} {
		offsets := map[string]time.Duration{"newest": -time.Minute, "oldest": -time.Hour, "middle": -30 * time.Minute}
		s := &domain.Session{
			UserID:       "u1",
			TokenHash:    hash,
			IsActive:     true,
			LastActivity: now.Add(offsets[hash]),
			ExpiresAt:    now.Add(2 * time.Hour),
		}
		if err := repo.Create(s); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	sessions, err := repo.ListLiveByUserID("u1", now)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	want := []string{"oldest", "middle", "newest"}
	for i, w := range want {
		if sessions[i].TokenHash != w {
			t.Fatalf("position %d: got %s, want %s", i, sessions[i].TokenHash, w)
		}
	}
}

func TestSessionRepositoryDeactivate(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()
	s := &domain.Session{
		UserID:       "u1",
		TokenHash:    "h1",
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := repo.Create(s); err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := repo.Deactivate(s.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !changed {
		t.Fatal("first deactivate should report a change")
	}
	changed, err = repo.Deactivate(s.ID)
	if err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if changed {
		t.Fatal("second deactivate should be a no-op")
	}
}

func TestSessionRepositoryDeactivateAllForUserSparesException(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()
	var keep uint
	for _, hash := range []string{"a", "b", "c"} {
		s := &domain.Session{
			UserID:       "u1",
			TokenHash:    hash,
			IsActive:     true,
			LastActivity: now,
			ExpiresAt:    now.Add(time.Hour),
		}
		if err := repo.Create(s); err != nil {
			t.Fatalf("create %s: %v", hash, err)
		}
		if hash == "b" {
			keep = s.ID
		}
	}

	count, err := repo.DeactivateAllForUser("u1", keep)
	if err != nil {
		t.Fatalf("deactivate all: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deactivated, got %d", count)
	}
	sessions, err := repo.ListLiveByUserID("u1", now)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != keep {
		t.Fatalf("expected only spared session live, got %+v", sessions)
	}
}

func TestSessionRepositoryPurgeExpired(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	now := time.Now().UTC()
	for _, s := range []*domain.Session{
		{UserID: "u1", TokenHash: "live", IsActive: true, LastActivity: now, ExpiresAt: now.Add(time.Hour)},
		{UserID: "u1", TokenHash: "gone", IsActive: true, LastActivity: now, ExpiresAt: now.Add(-time.Hour)},
		{UserID: "u2", TokenHash: "also-gone", IsActive: false, LastActivity: now, ExpiresAt: now.Add(-time.Minute)},
	} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("create %s: %v", s.TokenHash, err)
		}
	}

	purged, err := repo.PurgeExpiredForUser("u1", now)
	if err != nil {
		t.Fatalf("purge for user: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged for u1, got %d", purged)
	}
	purged, err = repo.PurgeExpired(now)
	if err != nil {
		t.Fatalf("purge all: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged globally, got %d", purged)
	}
	if _, err := repo.FindByTokenHash("live"); err != nil {
		t.Fatalf("live session should remain: %v", err)
	}
	if _, err := repo.FindByTokenHash("gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
