package model

import "time"

// PortalAuth is the secondary user record created by portal self-registration.
// A username may exist here independently of the users table; lookups probe
// users first and fall back to this table.
type PortalAuth struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	LicenseKey   string     `gorm:"index;size:64;not null" json:"license_key"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

func (PortalAuth) TableName() string { return "user_portal_auth" }
