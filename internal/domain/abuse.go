package domain

import "time"

type ReportCategory string

const (
	CategoryFraud         ReportCategory = "FRAUD"
	CategoryScam          ReportCategory = "SCAM"
	CategoryHarassment    ReportCategory = "HARASSMENT"
	CategorySpam          ReportCategory = "SPAM"
	CategoryInappropriate ReportCategory = "INAPPROPRIATE"
	CategoryOther         ReportCategory = "OTHER"
)

type ReportStatus string

const (
	ReportPending     ReportStatus = "pending"
	ReportUnderReview ReportStatus = "under_review"
	ReportResolved    ReportStatus = "resolved"
)

type ReportPriority string

const (
	PriorityLow    ReportPriority = "LOW"
	PriorityMedium ReportPriority = "MEDIUM"
	PriorityHigh   ReportPriority = "HIGH"
	PriorityUrgent ReportPriority = "URGENT"
)

type AbuseReport struct {
	ID             string         `gorm:"primaryKey;size:64" json:"id"`
	ReporterID     string         `gorm:"size:64;index;not null" json:"reporter_id"`
	ReportedUserID string         `gorm:"size:64;index;not null" json:"reported_user_id"`
	Category       ReportCategory `gorm:"size:32;not null" json:"category"`
	Description    string         `gorm:"size:4096" json:"description"`
	Evidence       JSONMap        `gorm:"type:text" json:"evidence,omitempty"`
	Status         ReportStatus   `gorm:"size:32;index;not null" json:"status"`
	Priority       ReportPriority `gorm:"size:16;index;not null" json:"priority"`
	Resolution     *string        `gorm:"size:2048" json:"resolution,omitempty"`
	ActionTaken    *ModerationAction `gorm:"size:16" json:"action_taken,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PriorityFor classifies a report category; URGENT reports skip the pending
// queue and open directly under review.
func PriorityFor(c ReportCategory) ReportPriority {
	switch c {
	case CategoryFraud, CategoryScam:
		return PriorityUrgent
	case CategoryHarassment:
		return PriorityHigh
	case CategorySpam, CategoryInappropriate:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type UserStanding string

const (
	StandingActive    UserStanding = "active"
	StandingWarned    UserStanding = "warned"
	StandingSuspended UserStanding = "suspended"
	StandingBanned    UserStanding = "banned"
)

// UserProfile carries the marketplace facts trust scoring reads. The full user
// record lives outside this subsystem; this is its security-relevant shadow.
type UserProfile struct {
	UserID            string       `gorm:"primaryKey;size:64" json:"user_id"`
	CreatedAt         time.Time    `json:"created_at"`
	IsVerified        bool         `gorm:"not null;default:false" json:"is_verified"`
	CompletedProjects int          `gorm:"not null;default:0" json:"completed_projects"`
	ReviewCount       int          `gorm:"not null;default:0" json:"review_count"`
	AvgRating         float64      `gorm:"not null;default:0" json:"avg_rating"`
	Standing          UserStanding `gorm:"size:16;index;not null;default:active" json:"standing"`
	SuspendedUntil    *time.Time   `json:"suspended_until,omitempty"`
}

type TrustScore struct {
	UserID       string    `gorm:"primaryKey;size:64" json:"user_id"`
	Overall      float64   `gorm:"not null" json:"overall"`
	AccountAge   float64   `gorm:"not null" json:"account_age"`
	Verification float64   `gorm:"not null" json:"verification"`
	ReportHist   float64   `gorm:"not null" json:"report_history"`
	Activity     float64   `gorm:"not null" json:"activity"`
	Feedback     float64   `gorm:"not null" json:"feedback"`
	LastUpdated  time.Time `gorm:"not null" json:"last_updated"`
}

type ModerationAction string

const (
	ActionDismiss ModerationAction = "DISMISS"
	ActionWarn    ModerationAction = "WARN"
	ActionSuspend ModerationAction = "SUSPEND"
	ActionBan     ModerationAction = "BAN"
)
