package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/observability"
	"github.com/gigbridge/trustcore/internal/repository"

	"github.com/google/uuid"
)

// AlertNotifier is the outward alerting contract. Transports (email, chat
// webhooks) live outside this subsystem.
type AlertNotifier interface {
	Notify(ctx context.Context, title, message string, severity domain.Severity) error
}

// SlogAlertNotifier is the default transport: alerts land in the structured log.
type SlogAlertNotifier struct{}

func (SlogAlertNotifier) Notify(ctx context.Context, title, message string, severity domain.Severity) error {
	slog.WarnContext(ctx, "security alert", "title", title, "message", message, "severity", string(severity))
	return nil
}

// Detector thresholds.
const (
	rapidFailureThreshold  = 10
	rapidFailureWindow     = 5 * time.Minute
	lockoutFailureCount    = 5
	multiIPThreshold       = 3
	multiIPWindow          = time.Hour
	bulkAccessThreshold    = 100
	bulkAccessWindow       = 10 * time.Minute
	bruteForceThreshold    = 5
	bruteForceWindow       = 5 * time.Minute
	alertDedupeWindow      = time.Hour
	reportTopOffenderLimit = 10
)

type AuditService struct {
	events   repository.AuditRepository
	alerts   repository.AlertRepository
	notifier AlertNotifier

	lockoutWindow   time.Duration
	lockoutDuration time.Duration
}

func NewAuditService(events repository.AuditRepository, alerts repository.AlertRepository, notifier AlertNotifier, lockoutWindow, lockoutDuration time.Duration) *AuditService {
	if notifier == nil {
		notifier = SlogAlertNotifier{}
	}
	if lockoutWindow <= 0 {
		lockoutWindow = 15 * time.Minute
	}
	if lockoutDuration <= 0 {
		lockoutDuration = 15 * time.Minute
	}
	return &AuditService{
		events:          events,
		alerts:          alerts,
		notifier:        notifier,
		lockoutWindow:   lockoutWindow,
		lockoutDuration: lockoutDuration,
	}
}

// LogEntry is the caller-facing shape of a security event.
type LogEntry struct {
	UserID    string
	EventType domain.EventType
	Resource  string
	Action    string
	IP        string
	UserAgent string
	Metadata  domain.JSONMap
	OldValue  domain.JSONMap
	NewValue  domain.JSONMap
}

// LogSecurityEvent persists the event immutably, then runs the synchronous
// detectors against the fresh history. The returned error reflects the
// append only; detector failures are logged and swallowed so a detector
// problem cannot undo a recorded event.
func (s *AuditService) LogSecurityEvent(ctx context.Context, entry LogEntry) (*domain.AuditEvent, error) {
	if entry.EventType == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrValidation)
	}
	event := &domain.AuditEvent{
		ID:        uuid.NewString(),
		UserID:    entry.UserID,
		EventType: entry.EventType,
		Resource:  entry.Resource,
		Action:    entry.Action,
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
		Severity:  domain.SeverityFor(entry.EventType),
		Metadata:  entry.Metadata,
		OldValue:  entry.OldValue,
		NewValue:  entry.NewValue,
		Timestamp: time.Now().UTC(),
	}
	if err := s.events.Append(event); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	observability.Audit(ctx, string(entry.EventType),
		"user_id", entry.UserID,
		"resource", entry.Resource,
		"severity", string(event.Severity),
		"ip", entry.IP,
	)
	s.runDetectors(ctx, event)
	return event, nil
}

// TryLog is the fire-and-forget form other services use for audit side
// effects: a logging failure must never flip the primary security decision.
func (s *AuditService) TryLog(ctx context.Context, entry LogEntry) {
	if _, err := s.LogSecurityEvent(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "audit log write failed", "event_type", string(entry.EventType), "error", err)
	}
}

func (s *AuditService) runDetectors(ctx context.Context, event *domain.AuditEvent) {
	now := event.Timestamp
	if event.EventType == domain.EventAuthFailure && event.UserID != "" {
		count, err := s.events.CountByUserAndType(event.UserID, domain.EventAuthFailure, now.Add(-rapidFailureWindow))
		if err != nil {
			slog.ErrorContext(ctx, "rapid-failure detector query failed", "error", err)
		} else if count >= rapidFailureThreshold {
			s.raiseAlert(ctx, domain.AlertRapidFailures, &event.UserID, domain.SeverityHigh,
				fmt.Sprintf("%d authentication failures for user %s within %s", count, event.UserID, rapidFailureWindow))
		}
	}
	if event.UserID != "" {
		count, err := s.events.DistinctIPsByUser(event.UserID, now.Add(-multiIPWindow))
		if err != nil {
			slog.ErrorContext(ctx, "multi-ip detector query failed", "error", err)
		} else if count >= multiIPThreshold {
			s.raiseAlert(ctx, domain.AlertMultiIP, &event.UserID, domain.SeverityMedium,
				fmt.Sprintf("user %s active from %d distinct IPs within %s", event.UserID, count, multiIPWindow))
		}
	}
	if event.EventType == domain.EventDataAccess && event.UserID != "" && event.Resource != "" {
		count, err := s.events.CountByUserTypeResource(event.UserID, domain.EventDataAccess, event.Resource, now.Add(-bulkAccessWindow))
		if err != nil {
			slog.ErrorContext(ctx, "bulk-access detector query failed", "error", err)
		} else if count >= bulkAccessThreshold {
			s.raiseAlert(ctx, domain.AlertBulkAccess, &event.UserID, domain.SeverityMedium,
				fmt.Sprintf("user %s accessed resource %s %d times within %s", event.UserID, event.Resource, count, bulkAccessWindow))
		}
	}
}

func (s *AuditService) raiseAlert(ctx context.Context, alertType domain.AlertType, userID *string, severity domain.Severity, description string) {
	exists, err := s.alerts.HasRecentUnresolved(alertType, userID, time.Now().Add(-alertDedupeWindow))
	if err != nil {
		slog.ErrorContext(ctx, "alert dedupe lookup failed", "alert_type", string(alertType), "error", err)
		return
	}
	if exists {
		return
	}
	alert := &domain.SecurityAlert{
		ID:          uuid.NewString(),
		UserID:      userID,
		AlertType:   alertType,
		Severity:    severity,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.alerts.Create(alert); err != nil {
		slog.ErrorContext(ctx, "alert create failed", "alert_type", string(alertType), "error", err)
		return
	}
	observability.RecordSecurityAlert(ctx, string(alertType), string(severity))
	if err := s.notifier.Notify(ctx, string(alertType), description, severity); err != nil {
		slog.ErrorContext(ctx, "alert notify failed", "alert_type", string(alertType), "error", err)
	}
}

// IsAccountLocked reports whether the 15-minute lockout is active for a user:
// lockoutFailureCount failures inside lockoutWindow lock the account until
// lockoutDuration past the most recent failure. Derived from the event log,
// no separate lockout state.
func (s *AuditService) IsAccountLocked(ctx context.Context, userID string) (bool, time.Time, error) {
	if userID == "" {
		return false, time.Time{}, nil
	}
	since := time.Now().Add(-s.lockoutWindow)
	count, err := s.events.CountByUserAndType(userID, domain.EventAuthFailure, since)
	if err != nil {
		return false, time.Time{}, err
	}
	if count < lockoutFailureCount {
		return false, time.Time{}, nil
	}
	last, err := s.events.LastEventTime(userID, domain.EventAuthFailure, since)
	if err != nil {
		return false, time.Time{}, err
	}
	if last == nil {
		return false, time.Time{}, nil
	}
	until := last.Add(s.lockoutDuration)
	if !until.After(time.Now()) {
		return false, time.Time{}, nil
	}
	return true, until, nil
}

// ResolveAlert is the explicit moderator action that closes an alert; the
// resolution itself is audited.
func (s *AuditService) ResolveAlert(ctx context.Context, alertID, resolvedBy string) (bool, error) {
	if alertID == "" || resolvedBy == "" {
		return false, fmt.Errorf("%w: alert id and resolver are required", ErrValidation)
	}
	changed, err := s.alerts.Resolve(alertID, resolvedBy, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if changed {
		s.TryLog(ctx, LogEntry{
			UserID:    resolvedBy,
			EventType: domain.EventAlertResolved,
			Resource:  "security_alert",
			Action:    "resolve",
			Metadata:  domain.JSONMap{"alert_id": alertID},
		})
	}
	return changed, nil
}

// RunBruteForceScan is the periodic detector: IPs with bruteForceThreshold
// failed logins inside bruteForceWindow raise a HIGH alert each.
func (s *AuditService) RunBruteForceScan(ctx context.Context) (int, error) {
	rows, err := s.events.FailuresByIPSince(bruteForceThreshold, time.Now().Add(-bruteForceWindow))
	if err != nil {
		return 0, fmt.Errorf("brute force scan: %w", err)
	}
	for _, row := range rows {
		s.raiseAlert(ctx, domain.AlertBruteForce, nil, domain.SeverityHigh,
			fmt.Sprintf("%d failed logins from IP %s within %s", row.Count, row.Key, bruteForceWindow))
	}
	return len(rows), nil
}

type SecurityReport struct {
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	UserID       string           `json:"user_id,omitempty"`
	TotalEvents  int64            `json:"total_events"`
	ByType       map[string]int64 `json:"by_type"`
	BySeverity   map[string]int64 `json:"by_severity"`
	TopOffenders []Offender       `json:"top_offenders"`
}

type Offender struct {
	UserID string `json:"user_id"`
	Events int64  `json:"events"`
}

// GenerateSecurityReport aggregates the event log for a range; read-only.
func (s *AuditService) GenerateSecurityReport(ctx context.Context, start, end time.Time, userID string) (*SecurityReport, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: report range end must follow start", ErrValidation)
	}
	byType, err := s.events.CountByTypeInRange(start, end, userID)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.events.CountBySeverityInRange(start, end, userID)
	if err != nil {
		return nil, err
	}
	report := &SecurityReport{
		Start:      start,
		End:        end,
		UserID:     userID,
		ByType:     make(map[string]int64, len(byType)),
		BySeverity: make(map[string]int64, len(bySeverity)),
	}
	for _, row := range byType {
		report.ByType[row.Key] = row.Count
		report.TotalEvents += row.Count
	}
	for _, row := range bySeverity {
		report.BySeverity[row.Key] = row.Count
	}
	if userID == "" {
		offenders, err := s.events.TopOffendersInRange(start, end, reportTopOffenderLimit)
		if err != nil {
			return nil, err
		}
		for _, row := range offenders {
			report.TopOffenders = append(report.TopOffenders, Offender{UserID: row.Key, Events: row.Count})
		}
	}
	return report, nil
}

func (s *AuditService) ListUnresolvedAlerts(limit int) ([]domain.SecurityAlert, error) {
	return s.alerts.ListUnresolved(limit)
}
