package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/repository"

	"github.com/google/uuid"
)

const (
	reporterDailyLimit    = 5
	duplicateReportWindow = 24 * time.Hour
	autoModerateWindow    = 7 * 24 * time.Hour
	autoModerateReports   = 3
	autoModerateTrustCap  = 0.2
	suspensionDuration    = 7 * 24 * time.Hour
	lowTrustAuthorCutoff  = 0.3
)

// Trust score factor weights.
const (
	weightAccountAge   = 0.2
	weightVerification = 0.25
	weightReportHist   = 0.3
	weightActivity     = 0.15
	weightFeedback     = 0.1
)

type ModerationResult struct {
	IsAppropriate   bool     `json:"is_appropriate"`
	Confidence      float64  `json:"confidence"`
	Flags           []string `json:"flags"`
	SuggestedAction string   `json:"suggested_action"`
}

var spamKeywords = []string{
	"buy now", "click here", "free money", "limited offer", "act now",
	"guaranteed income", "work from home", "no experience required",
	"double your", "instant payout", "winner", "congratulations you",
}

var threatKeywords = []string{
	"kill you", "hurt you", "find you", "know where you live", "watch your back",
}

var profanityWords = []string{
	"damn", "hell", "crap", "bastard", "idiot", "moron", "scumbag",
}

var (
	cardNumberPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	contactInfoPattern = regexp.MustCompile(`(?i)([a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,})|(\+?\d{1,3}[ -]?\(?\d{2,4}\)?[ -]?\d{3}[ -]?\d{2,4})|(contact me (?:at|on))|(whats?app|telegram)[: ]`)
	moneyPattern       = regexp.MustCompile(`(?i)(\$\s?\d[\d,]*)|(\d[\d,]*\s?(?:usd|dollars|eur))|(free money)|(easy money)|(make money fast)`)
)

type AbuseService struct {
	reports  repository.AbuseReportRepository
	profiles repository.UserProfileRepository
	trust    repository.TrustScoreRepository
	audit    *AuditService
}

func NewAbuseService(reports repository.AbuseReportRepository, profiles repository.UserProfileRepository, trust repository.TrustScoreRepository, audit *AuditService) *AbuseService {
	return &AbuseService{reports: reports, profiles: profiles, trust: trust, audit: audit}
}

// SubmitReport files an abuse report. Reporters who are suspended or banned,
// over their daily quota, or duplicating a pending report for the same pair
// inside 24h are rejected. FRAUD and SCAM reports open directly under review.
func (s *AbuseService) SubmitReport(ctx context.Context, reporterID, reportedUserID string, category domain.ReportCategory, description string, evidence map[string]any) (*domain.AbuseReport, error) {
	if strings.TrimSpace(reporterID) == "" || strings.TrimSpace(reportedUserID) == "" {
		return nil, fmt.Errorf("%w: reporter and reported user are required", ErrValidation)
	}
	if reporterID == reportedUserID {
		return nil, fmt.Errorf("%w: cannot report yourself", ErrValidation)
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}

	reporter, err := s.profiles.Get(reporterID)
	if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
		return nil, err
	}
	if reporter != nil && (reporter.Standing == domain.StandingSuspended || reporter.Standing == domain.StandingBanned) {
		return nil, ErrReporterBlocked
	}
	recent, err := s.reports.CountByReporter(reporterID, time.Now().Add(-duplicateReportWindow))
	if err != nil {
		return nil, err
	}
	if recent >= reporterDailyLimit {
		return nil, ErrTooManyReports
	}
	duplicate, err := s.reports.HasPendingPair(reporterID, reportedUserID, time.Now().Add(-duplicateReportWindow))
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, ErrDuplicateReport
	}

	priority := domain.PriorityFor(category)
	if (priority == domain.PriorityLow || priority == domain.PriorityMedium) && containsAny(strings.ToLower(description), threatKeywords) {
		priority = domain.PriorityHigh
	}
	status := domain.ReportPending
	if priority == domain.PriorityUrgent {
		status = domain.ReportUnderReview
	}
	report := &domain.AbuseReport{
		ID:             uuid.NewString(),
		ReporterID:     reporterID,
		ReportedUserID: reportedUserID,
		Category:       category,
		Description:    description,
		Evidence:       evidence,
		Status:         status,
		Priority:       priority,
	}
	if err := s.reports.Create(report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    reporterID,
		EventType: domain.EventReportSubmitted,
		Resource:  "abuse_report",
		Action:    "submit",
		Metadata: domain.JSONMap{
			"report_id":     report.ID,
			"reported_user": reportedUserID,
			"category":      string(category),
			"priority":      string(priority),
		},
	})
	if _, err := s.RecomputeTrust(ctx, reportedUserID); err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
		return report, err
	}
	return report, nil
}

// ModerateContent scores a piece of text. Confidence components: spam-keyword
// density 0.4, suspicious patterns (card-like numbers, embedded contact info,
// money bait) 0.3, profanity density 0.2, flat 0.1 when the author's trust is
// below 0.3. Content is appropriate iff confidence stays under 0.5.
func (s *AbuseService) ModerateContent(ctx context.Context, text, authorID string) (*ModerationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	lower := strings.ToLower(text)
	var flags []string
	confidence := 0.0

	spamHits := 0
	for _, kw := range spamKeywords {
		spamHits += strings.Count(lower, kw)
	}
	if spamHits > 0 {
		flags = append(flags, "spam")
		confidence += 0.4 * capUnit(float64(spamHits)/3)
	}

	patternHits := 0
	if cardNumberPattern.MatchString(text) {
		patternHits++
	}
	if contactInfoPattern.MatchString(text) {
		patternHits++
	}
	if moneyPattern.MatchString(text) {
		patternHits++
	}
	if patternHits > 0 {
		flags = append(flags, "suspicious_patterns")
		confidence += 0.3 * capUnit(float64(patternHits)/2)
	}

	profanityHits := 0
	for _, w := range profanityWords {
		profanityHits += strings.Count(lower, w)
	}
	if profanityHits > 0 {
		flags = append(flags, "profanity")
		confidence += 0.2 * capUnit(float64(profanityHits)/3)
	}

	if authorID != "" {
		if score, err := s.trust.Get(authorID); err == nil && score.Overall < lowTrustAuthorCutoff {
			flags = append(flags, "low_trust_author")
			confidence += 0.1
		}
	}

	result := &ModerationResult{
		IsAppropriate: confidence < 0.5,
		Confidence:    confidence,
		Flags:         flags,
	}
	switch {
	case confidence >= 0.8:
		result.SuggestedAction = "REJECT"
	case confidence >= 0.5:
		result.SuggestedAction = "REVIEW"
	case confidence >= 0.3:
		result.SuggestedAction = "AUTO_MODERATE"
	default:
		result.SuggestedAction = "APPROVE"
	}
	return result, nil
}

// RecomputeTrust rebuilds the trust score from current facts. Recomputation
// is pure: every qualifying event triggers a full rebuild, there are no
// incremental adjustments to double-count against it.
func (s *AbuseService) RecomputeTrust(ctx context.Context, userID string) (*domain.TrustScore, error) {
	profile, err := s.profiles.Get(userID)
	if err != nil {
		return nil, err
	}
	standing, err := s.reports.CountStandingAgainst(userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	ageDays := now.Sub(profile.CreatedAt).Hours() / 24
	accountAge := capUnit(ageDays / 365)
	verification := 0.3
	if profile.IsVerified {
		verification = 1.0
	}
	reportHist := 1 - 0.1*float64(standing)
	if reportHist < 0 {
		reportHist = 0
	}
	activity := capUnit(float64(profile.CompletedProjects) / 10)
	feedback := 0.5
	if profile.ReviewCount > 0 {
		feedback = capUnit(profile.AvgRating / 5)
	}

	overall := weightAccountAge*accountAge +
		weightVerification*verification +
		weightReportHist*reportHist +
		weightActivity*activity +
		weightFeedback*feedback
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}

	score := &domain.TrustScore{
		UserID:       userID,
		Overall:      overall,
		AccountAge:   accountAge,
		Verification: verification,
		ReportHist:   reportHist,
		Activity:     activity,
		Feedback:     feedback,
		LastUpdated:  now,
	}
	if err := s.trust.Upsert(score); err != nil {
		return nil, fmt.Errorf("upsert trust score: %w", err)
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    userID,
		EventType: domain.EventTrustScoreUpdated,
		Resource:  "trust_score",
		Action:    "recompute",
		Metadata:  domain.JSONMap{"overall": overall},
	})
	return score, nil
}

// GetTrustScore returns the stored score, computing it on first access.
func (s *AbuseService) GetTrustScore(ctx context.Context, userID string) (*domain.TrustScore, error) {
	score, err := s.trust.Get(userID)
	if err == nil {
		return score, nil
	}
	if !errors.Is(err, repository.ErrTrustScoreNotFound) {
		return nil, err
	}
	return s.RecomputeTrust(ctx, userID)
}

// ProcessReport applies a moderator decision. DISMISS restores the reported
// user's trust by discounting the report; WARN, SUSPEND (7 days) and BAN
// degrade standing. The transition is audited with before and after state.
func (s *AbuseService) ProcessReport(ctx context.Context, reportID, moderatorID string, action domain.ModerationAction, resolution string) (*domain.AbuseReport, error) {
	if strings.TrimSpace(reportID) == "" || strings.TrimSpace(moderatorID) == "" {
		return nil, fmt.Errorf("%w: report id and moderator are required", ErrValidation)
	}
	report, err := s.reports.FindByID(reportID)
	if err != nil {
		return nil, err
	}
	if report.Status == domain.ReportResolved {
		return report, nil
	}
	oldStatus := report.Status

	switch action {
	case domain.ActionDismiss:
		// Nothing to apply; trust recomputation below discounts the report.
	case domain.ActionWarn:
		if _, err := s.profiles.SetStanding(report.ReportedUserID, domain.StandingWarned, nil); err != nil {
			return nil, err
		}
	case domain.ActionSuspend:
		until := time.Now().Add(suspensionDuration)
		if _, err := s.profiles.SetStanding(report.ReportedUserID, domain.StandingSuspended, &until); err != nil {
			return nil, err
		}
	case domain.ActionBan:
		if _, err := s.profiles.SetStanding(report.ReportedUserID, domain.StandingBanned, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown moderation action %q", ErrValidation, action)
	}

	report.Status = domain.ReportResolved
	report.Resolution = &resolution
	report.ActionTaken = &action
	if err := s.reports.Update(report); err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    moderatorID,
		EventType: domain.EventModerationAction,
		Resource:  "abuse_report",
		Action:    string(action),
		OldValue:  domain.JSONMap{"status": string(oldStatus)},
		NewValue:  domain.JSONMap{"status": string(domain.ReportResolved), "action": string(action)},
		Metadata:  domain.JSONMap{"report_id": reportID, "reported_user": report.ReportedUserID},
	})
	if _, err := s.RecomputeTrust(ctx, report.ReportedUserID); err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
		return report, err
	}
	return report, nil
}

// AutoModerate is the periodic sweep: users carrying three or more open
// reports in seven days whose trust sits under 0.2 get suspended.
func (s *AbuseService) AutoModerate(ctx context.Context) (int, error) {
	rows, err := s.reports.ListUsersWithPendingReports(autoModerateReports, time.Now().Add(-autoModerateWindow))
	if err != nil {
		return 0, fmt.Errorf("list reported users: %w", err)
	}
	suspended := 0
	for _, row := range rows {
		score, err := s.GetTrustScore(ctx, row.Key)
		if err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				continue
			}
			return suspended, err
		}
		if score.Overall >= autoModerateTrustCap {
			continue
		}
		until := time.Now().Add(suspensionDuration)
		changed, err := s.profiles.SetStanding(row.Key, domain.StandingSuspended, &until)
		if err != nil {
			return suspended, err
		}
		if !changed {
			continue
		}
		suspended++
		s.audit.TryLog(ctx, LogEntry{
			UserID:    row.Key,
			EventType: domain.EventModerationAction,
			Resource:  "user_profile",
			Action:    "auto_suspend",
			Metadata: domain.JSONMap{
				"pending_reports": row.Count,
				"trust_score":     score.Overall,
				"until":           until.UTC(),
			},
		})
	}
	return suspended, nil
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func capUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
