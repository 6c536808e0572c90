package domain

import "time"

// RefreshToken is a single-use rotation credential bound to one session.
// Only the peppered digest of the token value is persisted.
type RefreshToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	TokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID    uint       `gorm:"not null;index:idx_refresh_tokens_user_state,priority:1" json:"user_id"`
	SessionID uint       `gorm:"not null;index" json:"session_id"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	IsUsed    bool       `gorm:"not null;default:false;index:idx_refresh_tokens_user_state,priority:2" json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	IsRevoked bool       `gorm:"not null;default:false;index:idx_refresh_tokens_user_state,priority:3" json:"is_revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
