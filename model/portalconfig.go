package model

import "time"

// PortalConfig is the dedicated portal configuration record, identified by
// (owner username, custom path). It takes precedence over the legacy blob
// embedded on the owning account.
type PortalConfig struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string    `gorm:"uniqueIndex:idx_portal_owner_path;size:32;not null" json:"username"`
	CustomPath  string    `gorm:"uniqueIndex:idx_portal_owner_path;size:64;not null" json:"custom_path"`
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	AppName     string    `gorm:"size:64" json:"app_name"`
	DownloadURL string    `gorm:"size:255" json:"download_url"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PortalConfig) TableName() string { return "portal_configs" }
