package domain

import (
	"fmt"
	"time"
)

type ConfirmationCodeType string

const (
	ConfirmationCodeEmail         ConfirmationCodeType = "email_confirmation"
	ConfirmationCodePasswordReset ConfirmationCodeType = "password_reset"
)

func ParseConfirmationCodeType(v string) (ConfirmationCodeType, error) {
	switch ConfirmationCodeType(v) {
	case ConfirmationCodeEmail, ConfirmationCodePasswordReset:
		return ConfirmationCodeType(v), nil
	default:
		return "", fmt.Errorf("unknown confirmation code type %q", v)
	}
}

// ConfirmationCode is a short numeric one-time code. At most one unused, unexpired
// code exists per (UserID, Type).
type ConfirmationCode struct {
	ID        uint                 `gorm:"primaryKey" json:"id"`
	UserID    uint                 `gorm:"not null;index:idx_confirmation_codes_user_type,priority:1" json:"user_id"`
	Type      ConfirmationCodeType `gorm:"size:32;not null;index:idx_confirmation_codes_user_type,priority:2" json:"type"`
	CodeHash  string               `gorm:"size:128;not null" json:"-"`
	ExpiresAt time.Time            `gorm:"not null" json:"expires_at"`
	IsUsed    bool                 `gorm:"not null;default:false" json:"is_used"`
	UsedAt    *time.Time           `json:"used_at,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

func (c *ConfirmationCode) Active(now time.Time) bool {
	return c != nil && !c.IsUsed && c.ExpiresAt.After(now)
}
