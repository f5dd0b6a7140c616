package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByTokenHash(hash string) (*domain.Session, error)
	ListLiveByUserID(userID string, now time.Time) ([]domain.Session, error)
	CountLiveByUserID(userID string, now time.Time) (int64, error)
	Touch(id uint, at time.Time) error
	MarkTrusted(id uint) error
	Deactivate(id uint) (bool, error)
	DeactivateAllForUser(userID string, exceptID uint) (int64, error)
	PurgeExpiredForUser(userID string, now time.Time) (int64, error)
	PurgeExpired(now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByTokenHash(hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListLiveByUserID(userID string, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
		Order("last_activity ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_live_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_live_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CountLiveByUserID(userID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "count_live_by_user_id", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "count_live_by_user_id", "success")
	return count, nil
}

func (r *GormSessionRepository) Touch(id uint, at time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("last_activity", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch", "success")
	return nil
}

func (r *GormSessionRepository) MarkTrusted(id uint) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ?", id).
		Update("is_trusted", true).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "mark_trusted", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "mark_trusted", "success")
	return nil
}

func (r *GormSessionRepository) Deactivate(id uint) (bool, error) {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "deactivate", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "deactivate", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) DeactivateAllForUser(userID string, exceptID uint) (int64, error) {
	q := r.db.Model(&domain.Session{}).Where("user_id = ? AND is_active = ?", userID, true)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	res := q.Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_all_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) PurgeExpiredForUser(userID string, now time.Time) (int64, error) {
	res := r.db.Where("user_id = ? AND expires_at <= ?", userID, now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "purge_expired_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "purge_expired_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) PurgeExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "purge_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "purge_expired", "success")
	return res.RowsAffected, nil
}
