package repository

import (
	"context"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"

	"gorm.io/gorm"
)

// TypeCount is one row of a grouped aggregation.
type TypeCount struct {
	Key   string `gorm:"column:key"`
	Count int64  `gorm:"column:cnt"`
}

// AuditRepository is append-only on events: there is no update or delete path.
type AuditRepository interface {
	Append(e *domain.AuditEvent) error
	CountByUserAndType(userID string, eventType domain.EventType, since time.Time) (int64, error)
	CountByUser(userID string, since time.Time) (int64, error)
	CountByUserTypeResource(userID string, eventType domain.EventType, resource string, since time.Time) (int64, error)
	LastEventTime(userID string, eventType domain.EventType, since time.Time) (*time.Time, error)
	DistinctIPsByUser(userID string, since time.Time) (int64, error)
	DistinctUsersByIP(ip string, since time.Time) (int64, error)
	DistinctUserAgentsByUser(userID string, since time.Time) (int64, error)
	FailuresByIPSince(threshold int64, since time.Time) ([]TypeCount, error)
	CountByTypeInRange(start, end time.Time, userID string) ([]TypeCount, error)
	CountBySeverityInRange(start, end time.Time, userID string) ([]TypeCount, error)
	TopOffendersInRange(start, end time.Time, limit int) ([]TypeCount, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Append(e *domain.AuditEvent) error {
	err := r.db.Create(e).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "audit_event", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "audit_event", "append", "success")
	return nil
}

func (r *GormAuditRepository) CountByUserAndType(userID string, eventType domain.EventType, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("user_id = ? AND event_type = ? AND timestamp >= ?", userID, eventType, since).
		Count(&count).Error
	return count, r.record("count_by_user_and_type", err)
}

func (r *GormAuditRepository) CountByUser(userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Count(&count).Error
	return count, r.record("count_by_user", err)
}

func (r *GormAuditRepository) CountByUserTypeResource(userID string, eventType domain.EventType, resource string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("user_id = ? AND event_type = ? AND resource = ? AND timestamp >= ?", userID, eventType, resource, since).
		Count(&count).Error
	return count, r.record("count_by_user_type_resource", err)
}

func (r *GormAuditRepository) LastEventTime(userID string, eventType domain.EventType, since time.Time) (*time.Time, error) {
	var e domain.AuditEvent
	err := r.db.Where("user_id = ? AND event_type = ? AND timestamp >= ?", userID, eventType, since).
		Order("timestamp DESC").
		First(&e).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			r.record("last_event_time", nil)
			return nil, nil
		}
		return nil, r.record("last_event_time", err)
	}
	r.record("last_event_time", nil)
	return &e.Timestamp, nil
}

func (r *GormAuditRepository) DistinctIPsByUser(userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("user_id = ? AND timestamp >= ? AND ip <> ''", userID, since).
		Distinct("ip").
		Count(&count).Error
	return count, r.record("distinct_ips_by_user", err)
}

func (r *GormAuditRepository) DistinctUsersByIP(ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("ip = ? AND timestamp >= ? AND user_id <> ''", ip, since).
		Distinct("user_id").
		Count(&count).Error
	return count, r.record("distinct_users_by_ip", err)
}

func (r *GormAuditRepository) DistinctUserAgentsByUser(userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AuditEvent{}).
		Where("user_id = ? AND timestamp >= ? AND user_agent <> ''", userID, since).
		Distinct("user_agent").
		Count(&count).Error
	return count, r.record("distinct_user_agents_by_user", err)
}

// FailuresByIPSince groups AUTH_FAILURE events by source IP for the periodic
// brute-force scan.
func (r *GormAuditRepository) FailuresByIPSince(threshold int64, since time.Time) ([]TypeCount, error) {
	var rows []TypeCount
	err := r.db.Model(&domain.AuditEvent{}).
		Select("ip AS key, COUNT(*) AS cnt").
		Where("event_type = ? AND timestamp >= ? AND ip <> ''", domain.EventAuthFailure, since).
		Group("ip").
		Having("COUNT(*) >= ?", threshold).
		Scan(&rows).Error
	return rows, r.record("failures_by_ip_since", err)
}

func (r *GormAuditRepository) CountByTypeInRange(start, end time.Time, userID string) ([]TypeCount, error) {
	var rows []TypeCount
	q := r.db.Model(&domain.AuditEvent{}).
		Select("event_type AS key, COUNT(*) AS cnt").
		Where("timestamp >= ? AND timestamp < ?", start, end)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Group("event_type").Scan(&rows).Error
	return rows, r.record("count_by_type_in_range", err)
}

func (r *GormAuditRepository) CountBySeverityInRange(start, end time.Time, userID string) ([]TypeCount, error) {
	var rows []TypeCount
	q := r.db.Model(&domain.AuditEvent{}).
		Select("severity AS key, COUNT(*) AS cnt").
		Where("timestamp >= ? AND timestamp < ?", start, end)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Group("severity").Scan(&rows).Error
	return rows, r.record("count_by_severity_in_range", err)
}

func (r *GormAuditRepository) TopOffendersInRange(start, end time.Time, limit int) ([]TypeCount, error) {
	var rows []TypeCount
	err := r.db.Model(&domain.AuditEvent{}).
		Select("user_id AS key, COUNT(*) AS cnt").
		Where("timestamp >= ? AND timestamp < ? AND severity IN ? AND user_id <> ''",
			start, end, []domain.Severity{domain.SeverityHigh, domain.SeverityCritical}).
		Group("user_id").
		Order("cnt DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, r.record("top_offenders_in_range", err)
}

func (r *GormAuditRepository) record(op string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "audit_event", op, outcome)
	return err
}
