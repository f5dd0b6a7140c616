package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"
	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/security"

	"github.com/google/uuid"
)

// ErrDecryptFailed re-exports the single generic decryption failure signal.
// Every failing check on the decrypt path maps to it; callers never learn
// which one tripped.
var ErrDecryptFailed = security.ErrDecryptFailed

type MessageService struct {
	keyPairs  repository.KeyPairRepository
	ephemeral repository.EphemeralKeyRepository
	messages  repository.MessageRepository
	audit     *AuditService
	pepper    string
	keyTTL    time.Duration
}

func NewMessageService(keyPairs repository.KeyPairRepository, ephemeral repository.EphemeralKeyRepository, messages repository.MessageRepository, audit *AuditService, pepper string, ephemeralKeyTTL time.Duration) *MessageService {
	if ephemeralKeyTTL <= 0 {
		ephemeralKeyTTL = 24 * time.Hour
	}
	return &MessageService{
		keyPairs:  keyPairs,
		ephemeral: ephemeral,
		messages:  messages,
		audit:     audit,
		pepper:    pepper,
		keyTTL:    ephemeralKeyTTL,
	}
}

// EnsureUserKeys returns the user's active key pair, generating version 1 on
// first use. The private key is stored wrapped under the identity-derived key.
func (s *MessageService) EnsureUserKeys(ctx context.Context, userID string) (*domain.EncryptionKeyPair, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	kp, err := s.keyPairs.FindActive(userID)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, repository.ErrKeyPairNotFound) {
		return nil, err
	}
	return s.issueKeyPair(ctx, userID, 1)
}

func (s *MessageService) issueKeyPair(ctx context.Context, userID string, version int) (*domain.EncryptionKeyPair, error) {
	pub, priv, err := security.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	wrapKey, err := security.DeriveWrapKey(s.pepper, userID)
	if err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	wrapped, nonce, err := security.WrapPrivateKey(wrapKey, priv)
	if err != nil {
		return nil, fmt.Errorf("wrap private key: %w", err)
	}
	kp := &domain.EncryptionKeyPair{
		UserID:            userID,
		KeyVersion:        version,
		PublicKey:         pub,
		WrappedPrivateKey: wrapped,
		WrapNonce:         nonce,
		IsActive:          true,
	}
	if version == 1 {
		err = s.keyPairs.Create(kp)
	} else {
		err = s.keyPairs.Rotate(userID, kp)
	}
	if err != nil {
		return nil, fmt.Errorf("persist key pair: %w", err)
	}
	observability.RecordCryptoOperation(ctx, "issue_key_pair", "success")
	return kp, nil
}

// EncryptMessage encrypts plaintext for the receiver with a fresh symmetric
// key, wraps that key under the receiver's current public key as a one-time
// ephemeral key, and commits an integrity hash over the stored fields. The
// per-message key is never persisted in the clear, which is what buys
// forward secrecy: compromising a long-term pair exposes at most the
// unconsumed ephemeral wrappings still inside their 24h lifetime.
func (s *MessageService) EncryptMessage(ctx context.Context, senderID, receiverID, plaintext string) (*domain.EncryptedMessage, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(receiverID) == "" {
		return nil, fmt.Errorf("%w: sender and receiver are required", ErrValidation)
	}
	receiverKeys, err := s.EnsureUserKeys(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	messageKey, err := security.RandomBytes(security.MessageKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate message key: %w", err)
	}
	ciphertext, nonce, tag, err := security.SealMessage(messageKey, []byte(plaintext))
	if err != nil {
		observability.RecordCryptoOperation(ctx, "encrypt_message", "error")
		return nil, fmt.Errorf("seal message: %w", err)
	}
	wrappedKey, err := security.WrapKey(messageKey, receiverKeys.PublicKey)
	if err != nil {
		observability.RecordCryptoOperation(ctx, "encrypt_message", "error")
		return nil, fmt.Errorf("wrap message key: %w", err)
	}
	ephemeral := &domain.EphemeralMessageKey{
		ID:                  uuid.NewString(),
		RecipientUserID:     receiverID,
		RecipientKeyVersion: receiverKeys.KeyVersion,
		WrappedKey:          wrappedKey,
		ExpiresAt:           time.Now().Add(s.keyTTL),
	}
	if err := s.ephemeral.Create(ephemeral); err != nil {
		return nil, fmt.Errorf("create ephemeral key: %w", err)
	}
	message := &domain.EncryptedMessage{
		MessageID:      uuid.NewString(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Tag:            tag,
		KeyFingerprint: security.KeyFingerprint(receiverKeys.PublicKey),
		EphemeralKeyID: ephemeral.ID,
		IntegrityHash:  security.IntegrityHash(ciphertext, nonce, tag),
	}
	if err := s.messages.Create(message); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	observability.RecordCryptoOperation(ctx, "encrypt_message", "success")
	return message, nil
}

// DecryptMessage recovers the plaintext for the receiver. The integrity hash
// is recomputed and compared before any key material is touched; a mismatch
// aborts, is logged HIGH, and never surfaces corrupted plaintext. The
// ephemeral key is consumed on the first decrypt attempt that reaches it, so
// a second decrypt of the same message fails. All failures collapse into the
// one generic signal.
func (s *MessageService) DecryptMessage(ctx context.Context, messageID, requesterID string) (string, error) {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(requesterID) == "" {
		return "", fmt.Errorf("%w: message id and requester are required", ErrValidation)
	}
	message, err := s.messages.FindByID(messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return "", ErrDecryptFailed
		}
		return "", err
	}
	if message.ReceiverID != requesterID {
		observability.RecordCryptoOperation(ctx, "decrypt_message", "denied")
		return "", ErrDecryptFailed
	}
	if !security.IntegrityMatch(message.IntegrityHash, message.Ciphertext, message.Nonce, message.Tag) {
		observability.RecordCryptoOperation(ctx, "decrypt_message", "integrity_failure")
		s.audit.TryLog(ctx, LogEntry{
			UserID:    requesterID,
			EventType: domain.EventIntegrityFailure,
			Resource:  "encrypted_message",
			Action:    "decrypt",
			Metadata:  domain.JSONMap{"message_id": messageID},
		})
		return "", ErrDecryptFailed
	}
	ephemeral, err := s.ephemeral.FindByID(message.EphemeralKeyID)
	if err != nil {
		if errors.Is(err, repository.ErrEphemeralKeyNotFound) {
			return "", ErrDecryptFailed
		}
		return "", err
	}
	if ephemeral.IsUsed || time.Now().After(ephemeral.ExpiresAt) {
		return "", ErrDecryptFailed
	}
	consumed, err := s.ephemeral.Consume(ephemeral.ID)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", ErrDecryptFailed
	}

	// Rotation must not strand in-flight keys: unwrap with the pair version
	// the ephemeral key was created under, active or archived.
	keyPair, err := s.keyPairs.FindByVersion(requesterID, ephemeral.RecipientKeyVersion)
	if err != nil {
		if errors.Is(err, repository.ErrKeyPairNotFound) {
			return "", ErrDecryptFailed
		}
		return "", err
	}
	wrapKey, err := security.DeriveWrapKey(s.pepper, requesterID)
	if err != nil {
		return "", ErrDecryptFailed
	}
	privateKey, err := security.UnwrapPrivateKey(wrapKey, keyPair.WrappedPrivateKey, keyPair.WrapNonce)
	if err != nil {
		return "", ErrDecryptFailed
	}
	messageKey, err := security.UnwrapKey(ephemeral.WrappedKey, keyPair.PublicKey, privateKey)
	if err != nil {
		return "", ErrDecryptFailed
	}
	plaintext, err := security.OpenMessage(messageKey, message.Ciphertext, message.Nonce, message.Tag)
	if err != nil {
		observability.RecordCryptoOperation(ctx, "decrypt_message", "error")
		return "", ErrDecryptFailed
	}
	observability.RecordCryptoOperation(ctx, "decrypt_message", "success")
	return string(plaintext), nil
}

// RotateUserKeys archives the active pair and issues the next version.
// Archived pairs stay decryptable, so ephemeral keys wrapped before the
// rotation still open.
func (s *MessageService) RotateUserKeys(ctx context.Context, userID string) (*domain.EncryptionKeyPair, error) {
	current, err := s.EnsureUserKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := s.issueKeyPair(ctx, userID, current.KeyVersion+1)
	if err != nil {
		return nil, err
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    userID,
		EventType: domain.EventKeyRotated,
		Resource:  "encryption_key_pair",
		Action:    "rotate",
		Metadata: domain.JSONMap{
			"old_version": current.KeyVersion,
			"new_version": next.KeyVersion,
		},
	})
	return next, nil
}

// CleanupExpiredKeys purges ephemeral keys that expired without being
// consumed. Consumed keys keep their row as a decrypt receipt.
func (s *MessageService) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	return s.ephemeral.PurgeExpiredUnused(time.Now())
}
