package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"

	"github.com/google/uuid"
)

func newReport(reporter, reported string, status domain.ReportStatus) *domain.AbuseReport {
	return &domain.AbuseReport{
		ID:             uuid.NewString(),
		ReporterID:     reporter,
		ReportedUserID: reported,
		Category:       domain.CategorySpam,
		Description:    "spammy messages",
		Status:         status,
		Priority:       domain.PriorityMedium,
	}
}

func TestAbuseReportRepositoryPendingQueries(t *testing.T) {
	repo := NewAbuseReportRepository(newTestDB(t))

	if err := repo.Create(newReport("r1", "bad-user", domain.ReportPending)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(newReport("r2", "bad-user", domain.ReportUnderReview)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(newReport("r3", "bad-user", domain.ReportResolved)); err != nil {
		t.Fatalf("create: %v", err)
	}
	since := time.Now().Add(-24 * time.Hour)

	dup, err := repo.HasPendingPair("r1", "bad-user", since)
	if err != nil {
		t.Fatalf("has pending pair: %v", err)
	}
	if !dup {
		t.Fatal("expected pending pair for r1/bad-user")
	}
	dup, err = repo.HasPendingPair("r3", "bad-user", since)
	if err != nil {
		t.Fatalf("has pending pair: %v", err)
	}
	if dup {
		t.Fatal("resolved report should not count as pending pair")
	}

	count, err := repo.CountPendingAgainst("bad-user", since)
	if err != nil {
		t.Fatalf("count pending against: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 pending reports, got %d", count)
	}

	rows, err := repo.ListUsersWithPendingReports(2, since)
	if err != nil {
		t.Fatalf("list users with pending reports: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "bad-user" || rows[0].Count != 2 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestAbuseReportRepositoryCountStandingExcludesDismissed(t *testing.T) {
	repo := NewAbuseReportRepository(newTestDB(t))

	kept := newReport("r1", "bad-user", domain.ReportResolved)
	if err := repo.Create(kept); err != nil {
		t.Fatalf("create: %v", err)
	}
	dismissed := newReport("r2", "bad-user", domain.ReportResolved)
	action := domain.ActionDismiss
	dismissed.ActionTaken = &action
	if err := repo.Create(dismissed); err != nil {
		t.Fatalf("create: %v", err)
	}
	pending := newReport("r3", "bad-user", domain.ReportPending)
	if err := repo.Create(pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err := repo.CountStandingAgainst("bad-user")
	if err != nil {
		t.Fatalf("count standing: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 standing reports (dismissed excluded), got %d", count)
	}
}

func TestUserProfileRepositorySetStanding(t *testing.T) {
	repo := NewUserProfileRepository(newTestDB(t))

	if err := repo.Upsert(&domain.UserProfile{
		UserID:    "u1",
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		Standing:  domain.StandingActive,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	until := time.Now().Add(7 * 24 * time.Hour)
	changed, err := repo.SetStanding("u1", domain.StandingSuspended, &until)
	if err != nil {
		t.Fatalf("set standing: %v", err)
	}
	if !changed {
		t.Fatal("expected standing change")
	}
	p, err := repo.Get("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Standing != domain.StandingSuspended || p.SuspendedUntil == nil {
		t.Fatalf("standing not applied: %+v", p)
	}

	changed, err = repo.SetStanding("missing", domain.StandingBanned, nil)
	if err != nil {
		t.Fatalf("set standing for missing user: %v", err)
	}
	if changed {
		t.Fatal("missing user should not report a change")
	}
}

func TestTrustScoreRepositoryUpsert(t *testing.T) {
	repo := NewTrustScoreRepository(newTestDB(t))

	score := &domain.TrustScore{UserID: "u1", Overall: 0.7, LastUpdated: time.Now().UTC()}
	if err := repo.Upsert(score); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	score.Overall = 0.4
	if err := repo.Upsert(score); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := repo.Get("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Overall != 0.4 {
		t.Fatalf("expected upsert to overwrite, got %v", got.Overall)
	}

	if _, err := repo.Get("nobody"); !errors.Is(err, ErrTrustScoreNotFound) {
		t.Fatalf("expected ErrTrustScoreNotFound for unknown user, got %v", err)
	}
}
