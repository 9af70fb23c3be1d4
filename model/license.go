package model

import (
	"time"

	"gorm.io/datatypes"
)

// License is a standalone license record. It may or may not be linked to an
// account; linkage is by string equality of the key field.
type License struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	LicenseKey   string     `gorm:"uniqueIndex;size:64;not null" json:"license_key"`
	MobileNumber string     `gorm:"index;size:20" json:"mobile_number"`
	Subscription string     `gorm:"size:32" json:"subscription"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Active       bool       `gorm:"default:true" json:"active"`
	Banned       bool       `gorm:"default:false" json:"banned"`
	Approved     bool       `gorm:"default:false" json:"approved"`
	// SaveHWID controls whether successful authentications bind the caller's
	// hardware ID to this license.
	SaveHWID       bool                        `gorm:"column:save_hwid;default:true" json:"save_hwid"`
	HWIDs          datatypes.JSONSlice[string] `gorm:"column:hwids" json:"hwids"`
	HWIDResetCount int                         `gorm:"column:hwid_reset_count;default:3" json:"hwid_reset_count"`
	MaxDevices     int                         `gorm:"default:1" json:"max_devices"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (License) TableName() string { return "license_keys" }

// Expired reports whether the license is past its expiry date.
func (l *License) Expired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}
