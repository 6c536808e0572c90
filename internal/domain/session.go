package domain

import "time"

// Session is one login instance. Revocation is terminal: IsRevoked is never flipped back.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"not null;index:idx_sessions_user_revoked,priority:1" json:"user_id"`
	ClientIP      string     `gorm:"size:64" json:"client_ip"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IsRevoked     bool       `gorm:"not null;default:false;index:idx_sessions_user_revoked,priority:2" json:"is_revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (s *Session) Active() bool {
	return s != nil && !s.IsRevoked
}
