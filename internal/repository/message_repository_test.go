package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"

	"github.com/google/uuid"
)

func TestKeyPairRepositoryRotate(t *testing.T) {
	repo := NewKeyPairRepository(newTestDB(t))

	v1 := &domain.EncryptionKeyPair{
		UserID:            "u1",
		KeyVersion:        1,
		PublicKey:         []byte("pub-1"),
		WrappedPrivateKey: []byte("priv-1"),
		WrapNonce:         []byte("nonce-1"),
		IsActive:          true,
	}
	if err := repo.Create(v1); err != nil {
		t.Fatalf("create v1: %v", err)
	}

	v2 := &domain.EncryptionKeyPair{
		UserID:            "u1",
		KeyVersion:        2,
		PublicKey:         []byte("pub-2"),
		WrappedPrivateKey: []byte("priv-2"),
		WrapNonce:         []byte("nonce-2"),
		IsActive:          true,
	}
	if err := repo.Rotate("u1", v2); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	active, err := repo.FindActive("u1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active.KeyVersion != 2 {
		t.Fatalf("active version %d, want 2", active.KeyVersion)
	}
	archived, err := repo.FindByVersion("u1", 1)
	if err != nil {
		t.Fatalf("find archived: %v", err)
	}
	if archived.IsActive {
		t.Fatal("version 1 should be archived after rotation")
	}
	if _, err := repo.FindActive("nobody"); !errors.Is(err, ErrKeyPairNotFound) {
		t.Fatalf("expected ErrKeyPairNotFound, got %v", err)
	}
}

func TestEphemeralKeyRepositoryConsumeIsSingleUse(t *testing.T) {
	repo := NewEphemeralKeyRepository(newTestDB(t))

	k := &domain.EphemeralMessageKey{
		ID:                  uuid.NewString(),
		RecipientUserID:     "u1",
		RecipientKeyVersion: 1,
		WrappedKey:          []byte("wrapped"),
		ExpiresAt:           time.Now().Add(time.Hour),
	}
	if err := repo.Create(k); err != nil {
		t.Fatalf("create: %v", err)
	}

	consumed, err := repo.Consume(k.ID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed {
		t.Fatal("first consume should win")
	}
	consumed, err = repo.Consume(k.ID)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if consumed {
		t.Fatal("second consume must lose")
	}
	got, err := repo.FindByID(k.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.IsUsed {
		t.Fatal("key should be marked used")
	}
}

func TestEphemeralKeyRepositoryPurgeExpiredUnused(t *testing.T) {
	repo := NewEphemeralKeyRepository(newTestDB(t))
	now := time.Now()

	expiredUnused := &domain.EphemeralMessageKey{
		ID: uuid.NewString(), RecipientUserID: "u1", RecipientKeyVersion: 1,
		WrappedKey: []byte("w"), ExpiresAt: now.Add(-time.Hour),
	}
	expiredUsed := &domain.EphemeralMessageKey{
		ID: uuid.NewString(), RecipientUserID: "u1", RecipientKeyVersion: 1,
		WrappedKey: []byte("w"), ExpiresAt: now.Add(-time.Hour), IsUsed: true,
	}
	fresh := &domain.EphemeralMessageKey{
		ID: uuid.NewString(), RecipientUserID: "u1", RecipientKeyVersion: 1,
		WrappedKey: []byte("w"), ExpiresAt: now.Add(time.Hour),
	}
	for _, k := range []*domain.EphemeralMessageKey{expiredUnused, expiredUsed, fresh} {
		if err := repo.Create(k); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	purged, err := repo.PurgeExpiredUnused(now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if _, err := repo.FindByID(expiredUnused.ID); !errors.Is(err, ErrEphemeralKeyNotFound) {
		t.Fatalf("expired unused key should be gone, got %v", err)
	}
	// Consumed keys keep their row as a decrypt receipt.
	if _, err := repo.FindByID(expiredUsed.ID); err != nil {
		t.Fatalf("consumed key should survive purge: %v", err)
	}
	if _, err := repo.FindByID(fresh.ID); err != nil {
		t.Fatalf("fresh key should survive purge: %v", err)
	}
}

func TestMessageRepositoryRoundTrip(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))

	m := &domain.EncryptedMessage{
		MessageID:      uuid.NewString(),
		SenderID:       "u1",
		ReceiverID:     "u2",
		Ciphertext:     []byte("ct"),
		Nonce:          []byte("nonce"),
		Tag:            []byte("tag"),
		KeyFingerprint: "abcd1234",
		EphemeralKeyID: uuid.NewString(),
		IntegrityHash:  "deadbeef",
	}
	if err := repo.Create(m); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.FindByID(m.MessageID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ReceiverID != "u2" || string(got.Ciphertext) != "ct" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if _, err := repo.FindByID("missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
