package domain

import "time"

// MaxLiveSessionsPerUser caps concurrent sessions; the least-recently-active
// session is evicted when a create would exceed it.
const MaxLiveSessionsPerUser = 5

type Session struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"size:64;index;not null" json:"user_id"`
	TokenHash         string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	DeviceFingerprint string    `gorm:"size:128;index" json:"device_fingerprint"`
	IP                string    `gorm:"size:64" json:"ip"`
	UserAgent         string    `gorm:"size:512" json:"user_agent"`
	IsTrusted         bool      `gorm:"not null;default:false" json:"is_trusted"`
	IsActive          bool      `gorm:"index;not null;default:true" json:"is_active"`
	LastActivity      time.Time `gorm:"index;not null" json:"last_activity"`
	ExpiresAt         time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}
