package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrKeyPairNotFound      = errors.New("encryption key pair not found")
	ErrEphemeralKeyNotFound = errors.New("ephemeral key not found")
	ErrEphemeralKeyConsumed = errors.New("ephemeral key already consumed")
	ErrMessageNotFound      = errors.New("message not found")
)

type KeyPairRepository interface {
	Create(kp *domain.EncryptionKeyPair) error
	FindActive(userID string) (*domain.EncryptionKeyPair, error)
	FindByVersion(userID string, version int) (*domain.EncryptionKeyPair, error)
	// Rotate archives the active pair and inserts the replacement inside one
	// transaction. Archived pairs are never deleted.
	Rotate(userID string, next *domain.EncryptionKeyPair) error
}

type GormKeyPairRepository struct{ db *gorm.DB }

func NewKeyPairRepository(db *gorm.DB) KeyPairRepository { return &GormKeyPairRepository{db: db} }

func (r *GormKeyPairRepository) Create(kp *domain.EncryptionKeyPair) error {
	return r.record("create", r.db.Create(kp).Error)
}

func (r *GormKeyPairRepository) FindActive(userID string) (*domain.EncryptionKeyPair, error) {
	var kp domain.EncryptionKeyPair
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).First(&kp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "key_pair", "find_active", "not_found")
			return nil, ErrKeyPairNotFound
		}
		return nil, r.record("find_active", err)
	}
	r.record("find_active", nil)
	return &kp, nil
}

func (r *GormKeyPairRepository) FindByVersion(userID string, version int) (*domain.EncryptionKeyPair, error) {
	var kp domain.EncryptionKeyPair
	err := r.db.Where("user_id = ? AND key_version = ?", userID, version).First(&kp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "key_pair", "find_by_version", "not_found")
			return nil, ErrKeyPairNotFound
		}
		return nil, r.record("find_by_version", err)
	}
	r.record("find_by_version", nil)
	return &kp, nil
}

func (r *GormKeyPairRepository) Rotate(userID string, next *domain.EncryptionKeyPair) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.EncryptionKeyPair{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(next).Error
	})
	return r.record("rotate", err)
}

func (r *GormKeyPairRepository) record(op string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "key_pair", op, outcome)
	return err
}

type EphemeralKeyRepository interface {
	Create(k *domain.EphemeralMessageKey) error
	FindByID(id string) (*domain.EphemeralMessageKey, error)
	// Consume marks the key used with a conditional update so concurrent
	// decrypts cannot both win.
	Consume(id string) (bool, error)
	PurgeExpiredUnused(now time.Time) (int64, error)
}

type GormEphemeralKeyRepository struct{ db *gorm.DB }

func NewEphemeralKeyRepository(db *gorm.DB) EphemeralKeyRepository {
	return &GormEphemeralKeyRepository{db: db}
}

func (r *GormEphemeralKeyRepository) Create(k *domain.EphemeralMessageKey) error {
	return r.record("create", r.db.Create(k).Error)
}

func (r *GormEphemeralKeyRepository) FindByID(id string) (*domain.EphemeralMessageKey, error) {
	var k domain.EphemeralMessageKey
	err := r.db.Where("id = ?", id).First(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "ephemeral_key", "find_by_id", "not_found")
			return nil, ErrEphemeralKeyNotFound
		}
		return nil, r.record("find_by_id", err)
	}
	r.record("find_by_id", nil)
	return &k, nil
}

func (r *GormEphemeralKeyRepository) Consume(id string) (bool, error) {
	res := r.db.Model(&domain.EphemeralMessageKey{}).
		Where("id = ? AND is_used = ?", id, false).
		Update("is_used", true)
	if res.Error != nil {
		return false, r.record("consume", res.Error)
	}
	r.record("consume", nil)
	return res.RowsAffected > 0, nil
}

func (r *GormEphemeralKeyRepository) PurgeExpiredUnused(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ? AND is_used = ?", now, false).
		Delete(&domain.EphemeralMessageKey{})
	if res.Error != nil {
		return res.RowsAffected, r.record("purge_expired_unused", res.Error)
	}
	r.record("purge_expired_unused", nil)
	return res.RowsAffected, nil
}

func (r *GormEphemeralKeyRepository) record(op string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "ephemeral_key", op, outcome)
	return err
}

type MessageRepository interface {
	Create(m *domain.EncryptedMessage) error
	FindByID(messageID string) (*domain.EncryptedMessage, error)
}

type GormMessageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &GormMessageRepository{db: db} }

func (r *GormMessageRepository) Create(m *domain.EncryptedMessage) error {
	err := r.db.Create(m).Error
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "encrypted_message", "create", outcome)
	return err
}

func (r *GormMessageRepository) FindByID(messageID string) (*domain.EncryptedMessage, error) {
	var m domain.EncryptedMessage
	err := r.db.Where("message_id = ?", messageID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "encrypted_message", "find_by_id", "not_found")
			return nil, ErrMessageNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "encrypted_message", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "encrypted_message", "find_by_id", "success")
	return &m, nil
}
