package service

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"
	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/security"

	"github.com/google/uuid"
)

type FraudAction string

const (
	FraudAllow     FraudAction = "ALLOW"
	FraudChallenge FraudAction = "CHALLENGE"
	FraudBlock     FraudAction = "BLOCK"
)

const (
	fraudBlockThreshold     = 80
	fraudChallengeThreshold = 50
	riskCategoryCap         = 40
)

// highValueActions mark operations worth extra scrutiny for young accounts
// and off-hours activity.
var highValueActions = map[string]bool{
	"payment":        true,
	"withdrawal":     true,
	"payout":         true,
	"project_award":  true,
	"admin_override": true,
}

type FraudAssessment struct {
	IsFraudulent bool        `json:"is_fraudulent"`
	RiskScore    int         `json:"risk_score"`
	Reasons      []string    `json:"reasons"`
	Action       FraudAction `json:"action"`
}

type CaptchaChallenge struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

type FraudService struct {
	events     repository.AuditRepository
	audit      *AuditService
	challenges ChallengeStore
	threatIPs  map[string]bool
	captchaTTL time.Duration
	now        func() time.Time
}

func NewFraudService(events repository.AuditRepository, audit *AuditService, challenges ChallengeStore, threatIPs []string, captchaTTL time.Duration) *FraudService {
	if captchaTTL <= 0 {
		captchaTTL = 5 * time.Minute
	}
	threats := make(map[string]bool, len(threatIPs))
	for _, ip := range threatIPs {
		threats[ip] = true
	}
	return &FraudService{
		events:     events,
		audit:      audit,
		challenges: challenges,
		threatIPs:  threats,
		captchaTTL: captchaTTL,
		now:        time.Now,
	}
}

// DetectFraud sums four independent heuristics, each capped at 40, and maps
// the total to an action. Every qualifying signal only ever adds, so the
// score is monotone in the signal set. Non-ALLOW outcomes are audited with
// their reasons.
func (s *FraudService) DetectFraud(ctx context.Context, userID, action, ip, userAgent string, metadata map[string]any) (*FraudAssessment, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("%w: user id and action are required", ErrValidation)
	}
	now := s.now()
	var reasons []string
	score := 0

	ipRisk, ipReasons, err := s.ipRisk(userID, ip, now)
	if err != nil {
		return nil, err
	}
	score += ipRisk
	reasons = append(reasons, ipReasons...)

	behaviorRisk, behaviorReasons, err := s.behavioralRisk(userID, action, now, metadata)
	if err != nil {
		return nil, err
	}
	score += behaviorRisk
	reasons = append(reasons, behaviorReasons...)

	deviceRisk, deviceReasons, err := s.deviceRisk(userID, userAgent, now)
	if err != nil {
		return nil, err
	}
	score += deviceRisk
	reasons = append(reasons, deviceReasons...)

	temporalRisk, temporalReasons := s.temporalRisk(action, now)
	score += temporalRisk
	reasons = append(reasons, temporalReasons...)

	assessment := &FraudAssessment{RiskScore: score, Reasons: reasons, Action: FraudAllow}
	switch {
	case score >= fraudBlockThreshold:
		assessment.Action = FraudBlock
		assessment.IsFraudulent = true
	case score >= fraudChallengeThreshold:
		assessment.Action = FraudChallenge
		assessment.IsFraudulent = true
	}
	observability.RecordFraudDecision(ctx, string(assessment.Action), score)
	if assessment.Action != FraudAllow {
		s.audit.TryLog(ctx, LogEntry{
			UserID:    userID,
			EventType: domain.EventFraudDetected,
			Resource:  action,
			Action:    string(assessment.Action),
			IP:        ip,
			UserAgent: userAgent,
			Metadata: domain.JSONMap{
				"risk_score": score,
				"reasons":    reasons,
			},
		})
	}
	return assessment, nil
}

func (s *FraudService) ipRisk(userID, ip string, now time.Time) (int, []string, error) {
	if ip == "" {
		return 0, nil, nil
	}
	risk := 0
	var reasons []string
	if s.threatIPs[ip] {
		risk += 25
		reasons = append(reasons, "ip on threat list")
	}
	users, err := s.events.DistinctUsersByIP(ip, now.Add(-24*time.Hour))
	if err != nil {
		return 0, nil, fmt.Errorf("distinct users by ip: %w", err)
	}
	if users > 5 {
		risk += 20
		reasons = append(reasons, fmt.Sprintf("%d distinct users from ip in 24h", users))
	}
	ips, err := s.events.DistinctIPsByUser(userID, now.Add(-time.Hour))
	if err != nil {
		return 0, nil, fmt.Errorf("distinct ips by user: %w", err)
	}
	if ips > 3 {
		risk += 15
		reasons = append(reasons, fmt.Sprintf("user on %d distinct ips in 1h", ips))
	}
	return capRisk(risk), reasons, nil
}

func (s *FraudService) behavioralRisk(userID, action string, now time.Time, metadata map[string]any) (int, []string, error) {
	risk := 0
	var reasons []string
	events, err := s.events.CountByUser(userID, now.Add(-time.Hour))
	if err != nil {
		return 0, nil, fmt.Errorf("count events by user: %w", err)
	}
	if events > 100 {
		risk += 25
		reasons = append(reasons, fmt.Sprintf("%d events in the last hour", events))
	}
	if highValueActions[action] && accountYoungerThan(metadata, 24*time.Hour, now) {
		risk += 15
		reasons = append(reasons, "high-value action by account younger than 24h")
	}
	return capRisk(risk), reasons, nil
}

func (s *FraudService) deviceRisk(userID, userAgent string, now time.Time) (int, []string, error) {
	risk := 0
	var reasons []string
	if security.ParseUserAgent(userAgent).IsBot {
		risk += 25
		reasons = append(reasons, "bot-like user agent")
	}
	agents, err := s.events.DistinctUserAgentsByUser(userID, now.Add(-7*24*time.Hour))
	if err != nil {
		return 0, nil, fmt.Errorf("distinct user agents by user: %w", err)
	}
	if agents > 5 {
		risk += 15
		reasons = append(reasons, fmt.Sprintf("%d distinct user agents in 7d", agents))
	}
	return capRisk(risk), reasons, nil
}

func (s *FraudService) temporalRisk(action string, now time.Time) (int, []string) {
	risk := 0
	var reasons []string
	hour := now.UTC().Hour()
	if hour >= 2 && hour < 6 {
		risk += 20
		reasons = append(reasons, "activity between 02:00 and 06:00")
	}
	weekday := now.UTC().Weekday()
	if (weekday == time.Saturday || weekday == time.Sunday) && highValueActions[action] {
		risk += 20
		reasons = append(reasons, "weekend high-value action")
	}
	return capRisk(risk), reasons
}

func capRisk(risk int) int {
	if risk > riskCategoryCap {
		return riskCategoryCap
	}
	return risk
}

// accountYoungerThan reads the caller-supplied account creation time out of
// the opaque metadata blob; absent or malformed values count as not young.
func accountYoungerThan(metadata map[string]any, age time.Duration, now time.Time) bool {
	raw, ok := metadata["account_created_at"]
	if !ok {
		return false
	}
	var created time.Time
	switch v := raw.(type) {
	case time.Time:
		created = v
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return false
		}
		created = parsed
	default:
		return false
	}
	return now.Sub(created) < age
}

// CreateCaptchaChallenge issues a single-use arithmetic challenge with a
// five-minute lifetime.
func (s *FraudService) CreateCaptchaChallenge(ctx context.Context) (*CaptchaChallenge, error) {
	a := rand.Intn(20) + 1
	b := rand.Intn(20) + 1
	var question string
	var answer int
	switch rand.Intn(3) {
	case 0:
		question = fmt.Sprintf("%d + %d", a, b)
		answer = a + b
	case 1:
		if a < b {
			a, b = b, a
		}
		question = fmt.Sprintf("%d - %d", a, b)
		answer = a - b
	default:
		question = fmt.Sprintf("%d × %d", a, b)
		answer = a * b
	}
	challenge := &CaptchaChallenge{ID: uuid.NewString(), Question: question}
	if err := s.challenges.Put(ctx, "captcha:"+challenge.ID, strconv.Itoa(answer), s.captchaTTL); err != nil {
		return nil, fmt.Errorf("store captcha: %w", err)
	}
	return challenge, nil
}

// VerifyCaptcha consumes the challenge on the first check whatever the
// answer; a wrong guess burns the challenge.
func (s *FraudService) VerifyCaptcha(ctx context.Context, challengeID string, answer int) (bool, error) {
	if strings.TrimSpace(challengeID) == "" {
		return false, fmt.Errorf("%w: challenge id is required", ErrValidation)
	}
	stored, ok, err := s.challenges.Take(ctx, "captcha:"+challengeID)
	if err != nil {
		return false, fmt.Errorf("take captcha: %w", err)
	}
	if !ok {
		return false, nil
	}
	expected, err := strconv.Atoi(stored)
	if err != nil {
		return false, nil
	}
	return answer == expected, nil
}
