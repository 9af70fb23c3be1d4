package model

import (
	"time"

	"gorm.io/datatypes"
)

// Login log statuses.
const (
	LoginStatusSuccess = "success"
	LoginStatusFailed  = "failed"
)

// Login sources (which entry point produced the record).
const (
	LoginSourceApp    = "app"
	LoginSourcePortal = "portal"
)

// LoginLog is an append-only audit record written on every authentication
// attempt. Rows are never updated; old rows are removed by the retention task.
type LoginLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_login_trace;size:36" json:"trace_id"`
	Username  string         `gorm:"index:idx_login_user;size:32;not null" json:"username"`
	Status    string         `gorm:"size:16;not null" json:"status"`
	Source    string         `gorm:"size:16" json:"source"`
	IP        string         `gorm:"size:45" json:"ip"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_login_created;autoCreateTime:milli" json:"created_at"`
}

func (LoginLog) TableName() string { return "login_logs" }
