package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/repository"

	"gorm.io/gorm"
)

func newMessageServiceForTest(t *testing.T, db *gorm.DB) *MessageService {
	t.Helper()
	return NewMessageService(
		repository.NewKeyPairRepository(db),
		repository.NewEphemeralKeyRepository(db),
		repository.NewMessageRepository(db),
		newAuditServiceForTest(t, db),
		"test-pepper",
		time.Hour,
	)
}

func TestEnsureUserKeysIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	first, err := svc.EnsureUserKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure keys: %v", err)
	}
	if first.KeyVersion != 1 {
		t.Fatalf("version = %d, want 1", first.KeyVersion)
	}
	second, err := svc.EnsureUserKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure keys again: %v", err)
	}
	if second.KeyVersion != 1 || string(second.PublicKey) != string(first.PublicKey) {
		t.Fatal("second call issued a new key pair")
	}

	if _, err := svc.EnsureUserKeys(ctx, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	plaintext := "the milestone payment cleared this morning"
	message, err := svc.EncryptMessage(ctx, "alice", "bob", plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(message.Ciphertext) == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}
	if message.EphemeralKeyID == "" || message.KeyFingerprint == "" {
		t.Fatalf("incomplete message record: %+v", message)
	}

	got, err := svc.DecryptMessage(ctx, message.MessageID, "bob")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("plaintext = %q, want %q", got, plaintext)
	}

	// The ephemeral key was consumed; the same message never opens twice.
	if _, err := svc.DecryptMessage(ctx, message.MessageID, "bob"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("second decrypt: got %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptMessageWrongRequester(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	message, err := svc.EncryptMessage(ctx, "alice", "bob", "for bob only")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := svc.DecryptMessage(ctx, message.MessageID, "mallory"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("wrong requester: got %v, want ErrDecryptFailed", err)
	}
	if _, err := svc.DecryptMessage(ctx, "no-such-message", "bob"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("unknown message: got %v, want ErrDecryptFailed", err)
	}

	// The denied attempt must not burn the ephemeral key.
	got, err := svc.DecryptMessage(ctx, message.MessageID, "bob")
	if err != nil {
		t.Fatalf("receiver decrypt after denied attempt: %v", err)
	}
	if got != "for bob only" {
		t.Fatalf("plaintext = %q", got)
	}
}

func TestDecryptMessageDetectsTampering(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	message, err := svc.EncryptMessage(ctx, "alice", "bob", "contract draft v3")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := append([]byte(nil), message.Ciphertext...)
	tampered[0] ^= 0x01
	if err := db.Model(&domain.EncryptedMessage{}).
		Where("message_id = ?", message.MessageID).
		Update("ciphertext", tampered).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := svc.DecryptMessage(ctx, message.MessageID, "bob"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("tampered decrypt: got %v, want ErrDecryptFailed", err)
	}

	events := repository.NewAuditRepository(db)
	count, err := events.CountByUserAndType("bob", domain.EventIntegrityFailure, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("integrity failure events = %d, want 1", count)
	}
}

func TestRotateUserKeysKeepsOldMessagesDecryptable(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	before, err := svc.EncryptMessage(ctx, "alice", "bob", "sent before rotation")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rotated, err := svc.RotateUserKeys(ctx, "bob")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.KeyVersion != 2 {
		t.Fatalf("rotated version = %d, want 2", rotated.KeyVersion)
	}

	after, err := svc.EncryptMessage(ctx, "alice", "bob", "sent after rotation")
	if err != nil {
		t.Fatalf("encrypt after rotation: %v", err)
	}
	if after.KeyFingerprint == before.KeyFingerprint {
		t.Fatal("new messages still use the old key pair")
	}

	got, err := svc.DecryptMessage(ctx, before.MessageID, "bob")
	if err != nil {
		t.Fatalf("decrypt pre-rotation message: %v", err)
	}
	if got != "sent before rotation" {
		t.Fatalf("plaintext = %q", got)
	}
	got, err = svc.DecryptMessage(ctx, after.MessageID, "bob")
	if err != nil {
		t.Fatalf("decrypt post-rotation message: %v", err)
	}
	if got != "sent after rotation" {
		t.Fatalf("plaintext = %q", got)
	}
}

func TestCleanupExpiredKeys(t *testing.T) {
	db := newTestDB(t)
	svc := newMessageServiceForTest(t, db)
	ctx := context.Background()

	expired, err := svc.EncryptMessage(ctx, "alice", "bob", "left to rot")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	consumed, err := svc.EncryptMessage(ctx, "alice", "bob", "read in time")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := svc.DecryptMessage(ctx, consumed.MessageID, "bob"); err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	if err := db.Model(&domain.EphemeralMessageKey{}).
		Where("id = ?", expired.EphemeralKeyID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("expire key: %v", err)
	}

	purged, err := svc.CleanupExpiredKeys(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	ephemeral := repository.NewEphemeralKeyRepository(db)
	if _, err := ephemeral.FindByID(expired.EphemeralKeyID); !errors.Is(err, repository.ErrEphemeralKeyNotFound) {
		t.Fatalf("expired key still present: %v", err)
	}
	// Consumed keys survive as decrypt receipts.
	if _, err := ephemeral.FindByID(consumed.EphemeralKeyID); err != nil {
		t.Fatalf("consumed key was purged: %v", err)
	}
}
