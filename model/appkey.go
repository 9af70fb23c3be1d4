package model

import "time"

// AppKey is a capability credential that gates the app-auth endpoint.
// Only active keys authorize requests.
type AppKey struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key         string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Name        string    `gorm:"size:64;not null" json:"name"`
	Description string    `gorm:"size:255" json:"description"`
	Active      bool      `gorm:"default:true" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AppKey) TableName() string { return "app_authentication_keys" }
