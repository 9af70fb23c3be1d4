package model

import (
	"time"

	"gorm.io/datatypes"
)

// Account is the primary user record. It mirrors license state (HWID list,
// reset quota) so that profile lookups need a single row; license_keys stays
// the source of truth and the mirror is maintained by the HWID service.
type Account struct {
	ID             int64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username       string                     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash   string                     `gorm:"size:64;not null" json:"-"`
	Subscription   string                     `gorm:"size:32" json:"subscription"`
	ExpiresAt      *time.Time                 `json:"expires_at"`
	Banned         bool                       `gorm:"default:false" json:"banned"`
	LicenseKey     string                     `gorm:"index;size:64" json:"license_key"`
	HWIDs          datatypes.JSONSlice[string] `gorm:"column:hwids" json:"hwids"`
	HWIDResetCount int                        `gorm:"column:hwid_reset_count;default:0" json:"hwid_reset_count"`
	MaxDevices     int                        `gorm:"default:1" json:"max_devices"`
	// PortalSettings is the legacy embedded portal-settings blob. Dedicated
	// portal_configs rows take precedence when both exist.
	PortalSettings datatypes.JSON `json:"portal_settings"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt    *time.Time     `json:"last_login_at"`
	LastLoginIP    string         `gorm:"size:45" json:"last_login_ip"`
}

// TableName keeps the table name the dashboard schema uses.
func (Account) TableName() string { return "users" }
