package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"

	"gorm.io/gorm"
)

var ErrAlertNotFound = errors.New("alert not found")

type AlertRepository interface {
	Create(a *domain.SecurityAlert) error
	FindByID(id string) (*domain.SecurityAlert, error)
	ListUnresolved(limit int) ([]domain.SecurityAlert, error)
	// HasRecentUnresolved suppresses duplicate alerts for the same subject
	// while one is already open.
	HasRecentUnresolved(alertType domain.AlertType, userID *string, since time.Time) (bool, error)
	Resolve(id, resolvedBy string, at time.Time) (bool, error)
}

type GormAlertRepository struct{ db *gorm.DB }

func NewAlertRepository(db *gorm.DB) AlertRepository { return &GormAlertRepository{db: db} }

func (r *GormAlertRepository) Create(a *domain.SecurityAlert) error {
	err := r.db.Create(a).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "security_alert", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "security_alert", "create", "success")
	return nil
}

func (r *GormAlertRepository) FindByID(id string) (*domain.SecurityAlert, error) {
	var a domain.SecurityAlert
	err := r.db.Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "security_alert", "find_by_id", "not_found")
			return nil, ErrAlertNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "security_alert", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "security_alert", "find_by_id", "success")
	return &a, nil
}

func (r *GormAlertRepository) ListUnresolved(limit int) ([]domain.SecurityAlert, error) {
	var alerts []domain.SecurityAlert
	q := r.db.Where("is_resolved = ?", false).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&alerts).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "security_alert", "list_unresolved", "error")
		return alerts, err
	}
	observability.RecordRepositoryOperation(context.Background(), "security_alert", "list_unresolved", "success")
	return alerts, nil
}

func (r *GormAlertRepository) HasRecentUnresolved(alertType domain.AlertType, userID *string, since time.Time) (bool, error) {
	var count int64
	q := r.db.Model(&domain.SecurityAlert{}).
		Where("alert_type = ? AND is_resolved = ? AND created_at >= ?", alertType, false, since)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	} else {
		q = q.Where("user_id IS NULL")
	}
	err := q.Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "security_alert", "has_recent_unresolved", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "security_alert", "has_recent_unresolved", "success")
	return count > 0, nil
}

func (r *GormAlertRepository) Resolve(id, resolvedBy string, at time.Time) (bool, error) {
	res := r.db.Model(&domain.SecurityAlert{}).
		Where("id = ? AND is_resolved = ?", id, false).
		Updates(map[string]any{"is_resolved": true, "resolved_at": at, "resolved_by": resolvedBy})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "security_alert", "resolve", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "security_alert", "resolve", "success")
	return res.RowsAffected > 0, nil
}
