package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"
)

// GlobalBlockEndpoint is the reserved endpoint key IP-level blocks live under.
const GlobalBlockEndpoint = "__global__"

type RateLimitRule struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultEndpointRules is the built-in per-endpoint table; endpoints without
// a rule fall back to the service default (60 requests per hour unless
// configured otherwise).
var DefaultEndpointRules = map[string]RateLimitRule{
	"auth:login":        {MaxRequests: 10, Window: 15 * time.Minute},
	"auth:register":     {MaxRequests: 5, Window: time.Hour},
	"auth:reset":        {MaxRequests: 3, Window: time.Hour},
	"messages:send":     {MaxRequests: 120, Window: time.Hour},
	"reports:submit":    {MaxRequests: 10, Window: time.Hour},
	"projects:bid":      {MaxRequests: 30, Window: time.Hour},
	"payments:initiate": {MaxRequests: 10, Window: time.Hour},
}

type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type RateLimitService struct {
	store       WindowStore
	audit       *AuditService
	rules       map[string]RateLimitRule
	defaultRule RateLimitRule
}

func NewRateLimitService(store WindowStore, audit *AuditService, rules map[string]RateLimitRule, defaultRule RateLimitRule) *RateLimitService {
	if rules == nil {
		rules = DefaultEndpointRules
	}
	if defaultRule.MaxRequests <= 0 {
		defaultRule.MaxRequests = 60
	}
	if defaultRule.Window <= 0 {
		defaultRule.Window = time.Hour
	}
	return &RateLimitService{store: store, audit: audit, rules: rules, defaultRule: defaultRule}
}

func (s *RateLimitService) rule(endpoint string) RateLimitRule {
	if r, ok := s.rules[endpoint]; ok && r.MaxRequests > 0 && r.Window > 0 {
		return r
	}
	return s.defaultRule
}

// CheckRateLimit applies the fixed window for (identity, endpoint). An active
// block, whether on the identity's endpoint window or on the IP globally,
// overrides the counter entirely; expired blocks clear lazily inside the
// store. Exceeding the window denies and audits, but never blocks by itself:
// blocking stays an explicit BlockIP decision.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, identity, endpoint, ip, userAgent string) (*RateLimitResult, error) {
	if strings.TrimSpace(identity) == "" || strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: identity and endpoint are required", ErrValidation)
	}
	rule := s.rule(endpoint)

	if ip != "" {
		until, blocked, err := s.store.BlockedUntil(ctx, IPKey(ip), GlobalBlockEndpoint)
		if err != nil {
			return nil, fmt.Errorf("check ip block: %w", err)
		}
		if blocked {
			return s.deny(ctx, identity, endpoint, ip, userAgent, rule, 0, until, "ip_blocked"), nil
		}
	}
	until, blocked, err := s.store.BlockedUntil(ctx, identity, endpoint)
	if err != nil {
		return nil, fmt.Errorf("check identity block: %w", err)
	}
	if blocked {
		return s.deny(ctx, identity, endpoint, ip, userAgent, rule, 0, until, "identity_blocked"), nil
	}

	count, windowStart, err := s.store.Increment(ctx, identity, endpoint, rule.Window)
	if err != nil {
		return nil, fmt.Errorf("increment window: %w", err)
	}
	resetTime := windowStart.Add(rule.Window)
	if count > rule.MaxRequests {
		return s.deny(ctx, identity, endpoint, ip, userAgent, rule, 0, resetTime, "window_exceeded"), nil
	}
	observability.RecordRateLimitDecision(ctx, endpoint, "allow")
	return &RateLimitResult{
		Allowed:   true,
		Remaining: rule.MaxRequests - count,
		ResetTime: resetTime,
	}, nil
}

func (s *RateLimitService) deny(ctx context.Context, identity, endpoint, ip, userAgent string, rule RateLimitRule, remaining int, resetTime time.Time, reason string) *RateLimitResult {
	retryAfter := time.Until(resetTime)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	observability.RecordRateLimitDecision(ctx, endpoint, "deny")
	observability.RecordRateLimitRetryAfter(ctx, endpoint, retryAfter)
	s.audit.TryLog(ctx, LogEntry{
		UserID:    identity,
		EventType: domain.EventRateLimitExceeded,
		Resource:  endpoint,
		Action:    "deny",
		IP:        ip,
		UserAgent: userAgent,
		Metadata: domain.JSONMap{
			"reason":       reason,
			"max_requests": rule.MaxRequests,
			"window_ms":    rule.Window.Milliseconds(),
		},
	})
	return &RateLimitResult{
		Allowed:    false,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: retryAfter,
	}
}

// BlockIP places an explicit block on an IP under the reserved global key.
// Zero duration applies the default of one hour.
func (s *RateLimitService) BlockIP(ctx context.Context, ip string, duration time.Duration, reason string) error {
	if strings.TrimSpace(ip) == "" {
		return fmt.Errorf("%w: ip is required", ErrValidation)
	}
	if duration <= 0 {
		duration = time.Hour
	}
	until := time.Now().Add(duration)
	if err := s.store.Block(ctx, IPKey(ip), GlobalBlockEndpoint, until); err != nil {
		return fmt.Errorf("block ip: %w", err)
	}
	s.audit.TryLog(ctx, LogEntry{
		EventType: domain.EventIPBlocked,
		Resource:  GlobalBlockEndpoint,
		Action:    "block",
		IP:        ip,
		Metadata: domain.JSONMap{
			"reason":        reason,
			"blocked_until": until.UTC(),
		},
	})
	return nil
}

// UnblockIP lifts an explicit IP block early.
func (s *RateLimitService) UnblockIP(ctx context.Context, ip string) error {
	if strings.TrimSpace(ip) == "" {
		return fmt.Errorf("%w: ip is required", ErrValidation)
	}
	return s.store.Unblock(ctx, IPKey(ip), GlobalBlockEndpoint)
}

// IPKey is the limiter identity for unauthenticated traffic.
func IPKey(ip string) string { return "ip:" + ip }
