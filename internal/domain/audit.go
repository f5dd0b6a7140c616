package domain

import "time"

// EventType enumerates every security event the subsystem records. Severity is
// derived from this enumeration, never from substring matching, so a new event
// type fails loudly in SeverityFor until it is classified.
type EventType string

const (
	EventAuthSuccess        EventType = "AUTH_SUCCESS"
	EventAuthFailure        EventType = "AUTH_FAILURE"
	EventSessionCreated     EventType = "SESSION_CREATED"
	EventSessionDestroyed   EventType = "SESSION_DESTROYED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventUnauthorizedAccess EventType = "UNAUTHORIZED_ACCESS"
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventFraudDetected      EventType = "FRAUD_DETECTED"
	EventIPBlocked          EventType = "IP_BLOCKED"
	EventAccountLockout     EventType = "ACCOUNT_LOCKOUT"
	EventPasswordChanged    EventType = "PASSWORD_CHANGED"
	EventProfileUpdated     EventType = "PROFILE_UPDATED"
	EventSensitiveAccess    EventType = "SENSITIVE_ACCESS"
	EventDataAccess         EventType = "DATA_ACCESS"
	EventAdminAction        EventType = "ADMIN_ACTION"
	EventPrivilegeChange    EventType = "PRIVILEGE_CHANGE"
	EventDataBreachAttempt  EventType = "DATA_BREACH_ATTEMPT"
	EventIntegrityFailure   EventType = "INTEGRITY_FAILURE"
	EventKeyRotated         EventType = "KEY_ROTATED"
	EventReportSubmitted    EventType = "REPORT_SUBMITTED"
	EventReportResolved     EventType = "REPORT_RESOLVED"
	EventModerationAction   EventType = "MODERATION_ACTION"
	EventAlertResolved      EventType = "ALERT_RESOLVED"
	EventTrustScoreUpdated  EventType = "TRUST_SCORE_UPDATED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor maps each event type to its severity. The switch is exhaustive
// over the constants above; unknown types default to LOW.
func SeverityFor(t EventType) Severity {
	switch t {
	case EventAdminAction, EventPrivilegeChange, EventDataBreachAttempt:
		return SeverityCritical
	case EventAuthFailure, EventSuspiciousActivity, EventUnauthorizedAccess,
		EventFraudDetected, EventAccountLockout, EventIntegrityFailure:
		return SeverityHigh
	case EventPasswordChanged, EventProfileUpdated, EventSensitiveAccess,
		EventRateLimitExceeded, EventIPBlocked, EventModerationAction:
		return SeverityMedium
	case EventAuthSuccess, EventSessionCreated, EventSessionDestroyed,
		EventDataAccess, EventKeyRotated, EventReportSubmitted,
		EventReportResolved, EventAlertResolved, EventTrustScoreUpdated:
		return SeverityLow
	default:
		return SeverityLow
	}
}

// AuditEvent is append-only: rows are inserted and queried, never updated.
type AuditEvent struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	EventType EventType `gorm:"size:64;index;not null" json:"event_type"`
	Resource  string    `gorm:"size:256;index" json:"resource"`
	Action    string    `gorm:"size:128" json:"action"`
	IP        string    `gorm:"size:64;index" json:"ip"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	Severity  Severity  `gorm:"size:16;index;not null" json:"severity"`
	Metadata  JSONMap   `gorm:"type:text" json:"metadata,omitempty"`
	OldValue  JSONMap   `gorm:"type:text" json:"old_value,omitempty"`
	NewValue  JSONMap   `gorm:"type:text" json:"new_value,omitempty"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

type AlertType string

const (
	AlertRapidFailures AlertType = "RAPID_AUTH_FAILURES"
	AlertMultiIP       AlertType = "MULTIPLE_IP_ACCESS"
	AlertBulkAccess    AlertType = "BULK_DATA_ACCESS"
	AlertBruteForce    AlertType = "BRUTE_FORCE_ATTEMPT"
)

// SecurityAlert is mutable only through resolution, unlike AuditEvent.
type SecurityAlert struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	UserID      *string    `gorm:"size:64;index" json:"user_id,omitempty"`
	AlertType   AlertType  `gorm:"size:64;index;not null" json:"alert_type"`
	Severity    Severity   `gorm:"size:16;index;not null" json:"severity"`
	Description string     `gorm:"size:1024" json:"description"`
	IsResolved  bool       `gorm:"index;not null;default:false" json:"is_resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy  *string    `gorm:"size:64" json:"resolved_by,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}
