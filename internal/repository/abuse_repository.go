package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReportNotFound     = errors.New("abuse report not found")
	ErrProfileNotFound    = errors.New("user profile not found")
	ErrTrustScoreNotFound = errors.New("trust score not found")
)

type AbuseReportRepository interface {
	Create(r *domain.AbuseReport) error
	FindByID(id string) (*domain.AbuseReport, error)
	HasPendingPair(reporterID, reportedUserID string, since time.Time) (bool, error)
	CountByReporter(reporterID string, since time.Time) (int64, error)
	CountPendingAgainst(reportedUserID string, since time.Time) (int64, error)
	// CountStandingAgainst counts reports against a user that still weigh on
	// trust: everything except reports dismissed by a moderator.
	CountStandingAgainst(reportedUserID string) (int64, error)
	ListUsersWithPendingReports(threshold int64, since time.Time) ([]TypeCount, error)
	Update(r *domain.AbuseReport) error
}

type GormAbuseReportRepository struct{ db *gorm.DB }

func NewAbuseReportRepository(db *gorm.DB) AbuseReportRepository {
	return &GormAbuseReportRepository{db: db}
}

func (r *GormAbuseReportRepository) Create(report *domain.AbuseReport) error {
	return r.record("create", r.db.Create(report).Error)
}

func (r *GormAbuseReportRepository) FindByID(id string) (*domain.AbuseReport, error) {
	var report domain.AbuseReport
	err := r.db.Where("id = ?", id).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "abuse_report", "find_by_id", "not_found")
			return nil, ErrReportNotFound
		}
		return nil, r.record("find_by_id", err)
	}
	r.record("find_by_id", nil)
	return &report, nil
}

func (r *GormAbuseReportRepository) HasPendingPair(reporterID, reportedUserID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&domain.AbuseReport{}).
		Where("reporter_id = ? AND reported_user_id = ? AND status IN ? AND created_at >= ?",
			reporterID, reportedUserID,
			[]domain.ReportStatus{domain.ReportPending, domain.ReportUnderReview}, since).
		Count(&count).Error
	return count > 0, r.record("has_pending_pair", err)
}

func (r *GormAbuseReportRepository) CountByReporter(reporterID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AbuseReport{}).
		Where("reporter_id = ? AND created_at >= ?", reporterID, since).
		Count(&count).Error
	return count, r.record("count_by_reporter", err)
}

func (r *GormAbuseReportRepository) CountPendingAgainst(reportedUserID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AbuseReport{}).
		Where("reported_user_id = ? AND status IN ? AND created_at >= ?",
			reportedUserID,
			[]domain.ReportStatus{domain.ReportPending, domain.ReportUnderReview}, since).
		Count(&count).Error
	return count, r.record("count_pending_against", err)
}

func (r *GormAbuseReportRepository) CountStandingAgainst(reportedUserID string) (int64, error) {
	var count int64
	err := r.db.Model(&domain.AbuseReport{}).
		Where("reported_user_id = ? AND (action_taken IS NULL OR action_taken <> ?)",
			reportedUserID, domain.ActionDismiss).
		Count(&count).Error
	return count, r.record("count_standing_against", err)
}

func (r *GormAbuseReportRepository) ListUsersWithPendingReports(threshold int64, since time.Time) ([]TypeCount, error) {
	var rows []TypeCount
	err := r.db.Model(&domain.AbuseReport{}).
		Select("reported_user_id AS key, COUNT(*) AS cnt").
		Where("status IN ? AND created_at >= ?",
			[]domain.ReportStatus{domain.ReportPending, domain.ReportUnderReview}, since).
		Group("reported_user_id").
		Having("COUNT(*) >= ?", threshold).
		Scan(&rows).Error
	return rows, r.record("list_users_with_pending_reports", err)
}

func (r *GormAbuseReportRepository) Update(report *domain.AbuseReport) error {
	return r.record("update", r.db.Save(report).Error)
}

func (r *GormAbuseReportRepository) record(op string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "abuse_report", op, outcome)
	return err
}

type UserProfileRepository interface {
	Get(userID string) (*domain.UserProfile, error)
	Upsert(p *domain.UserProfile) error
	SetStanding(userID string, standing domain.UserStanding, until *time.Time) (bool, error)
}

type GormUserProfileRepository struct{ db *gorm.DB }

func NewUserProfileRepository(db *gorm.DB) UserProfileRepository {
	return &GormUserProfileRepository{db: db}
}

func (r *GormUserProfileRepository) Get(userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := r.db.Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user_profile", "get", "not_found")
			return nil, ErrProfileNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user_profile", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user_profile", "get", "success")
	return &p, nil
}

func (r *GormUserProfileRepository) Upsert(p *domain.UserProfile) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(p).Error
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "user_profile", "upsert", outcome)
	return err
}

func (r *GormUserProfileRepository) SetStanding(userID string, standing domain.UserStanding, until *time.Time) (bool, error) {
	res := r.db.Model(&domain.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"standing": standing, "suspended_until": until})
	outcome := "success"
	if res.Error != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "user_profile", "set_standing", outcome)
	return res.RowsAffected > 0, res.Error
}

type TrustScoreRepository interface {
	Get(userID string) (*domain.TrustScore, error)
	Upsert(score *domain.TrustScore) error
}

type GormTrustScoreRepository struct{ db *gorm.DB }

func NewTrustScoreRepository(db *gorm.DB) TrustScoreRepository {
	return &GormTrustScoreRepository{db: db}
}

func (r *GormTrustScoreRepository) Get(userID string) (*domain.TrustScore, error) {
	var s domain.TrustScore
	err := r.db.Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "trust_score", "get", "not_found")
			return nil, ErrTrustScoreNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "trust_score", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "trust_score", "get", "success")
	return &s, nil
}

func (r *GormTrustScoreRepository) Upsert(score *domain.TrustScore) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(score).Error
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordRepositoryOperation(context.Background(), "trust_score", "upsert", outcome)
	return err
}
