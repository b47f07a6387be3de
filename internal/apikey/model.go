package apikey

import (
	"slices"
	"time"

	"github.com/eleven-am/voice-relay/internal/shared"
)

// APIKey authorizes an operator against the control surface.
type APIKey struct {
	ID         string             `gorm:"primaryKey" json:"id"`
	Name       string             `gorm:"not null" json:"name"`
	Prefix     string             `gorm:"uniqueIndex;not null" json:"-"`
	SecretHash string             `gorm:"not null" json:"-"`
	Scopes     shared.StringSlice `gorm:"type:text" json:"scopes"`
	LastUsedAt *time.Time         `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (APIKey) TableName() string {
	return "operator_keys"
}

// ExpiredAt reports whether the key is past its expiry at now.
func (k *APIKey) ExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HasScope reports whether the key grants scope. The control scope implies
// every other scope.
func (k *APIKey) HasScope(scope shared.Scope) bool {
	return slices.Contains(k.Scopes, string(shared.ScopeControl)) || slices.Contains(k.Scopes, string(scope))
}
