// Package portal resolves public portal configurations and handles end-user
// self-registration against license keys.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPortalNotFound is returned when neither a dedicated config row nor a
// matching embedded settings blob exists.
var ErrPortalNotFound = errors.New("portal: not found")

// Source identifies where a resolved config came from.
type Source string

const (
	SourceDedicated Source = "dedicated"
	SourceEmbedded  Source = "embedded"
)

// Settings is the legacy settings blob embedded on the owning account's
// users row, kept readable until a migration moves it to portal_configs.
type Settings struct {
	Enabled     bool   `json:"enabled"`
	CustomPath  string `json:"custom_path"`
	AppName     string `json:"app_name"`
	DownloadURL string `json:"download_url"`
}

// Config is a resolved portal configuration. Callers must refuse to serve
// content when Enabled is false.
type Config struct {
	Username    string `json:"username"`
	CustomPath  string `json:"custom_path"`
	Enabled     bool   `json:"enabled"`
	AppName     string `json:"app_name"`
	DownloadURL string `json:"download_url"`
	Source      Source `json:"source"`
}

// Resolver resolves (owner, custom path) pairs to portal configurations.
// The dedicated portal_configs table wins over the embedded blob.
type Resolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewResolver creates a portal config Resolver.
func NewResolver(db *gorm.DB, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve looks up a dedicated row first and returns it even when disabled;
// the embedded fallback is only consulted when no dedicated row exists, and
// only matches when enabled.
func (r *Resolver) Resolve(ctx context.Context, owner, customPath string) (*Config, error) {
	var pc model.PortalConfig
	err := r.db.WithContext(ctx).
		Where("username = ? AND custom_path = ?", owner, customPath).
		First(&pc).Error
	switch {
	case err == nil:
		return &Config{
			Username:    pc.Username,
			CustomPath:  pc.CustomPath,
			Enabled:     pc.Enabled,
			AppName:     pc.AppName,
			DownloadURL: pc.DownloadURL,
			Source:      SourceDedicated,
		}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("portal config lookup: %w", err)
	}

	var acc model.Account
	err = r.db.WithContext(ctx).Where("username = ?", owner).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPortalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("portal owner lookup: %w", err)
	}
	if len(acc.PortalSettings) == 0 {
		return nil, ErrPortalNotFound
	}

	var settings Settings
	if err := json.Unmarshal(acc.PortalSettings, &settings); err != nil {
		r.logger.Warn("unreadable embedded portal settings",
			zap.String("username", owner), zap.Error(err))
		return nil, ErrPortalNotFound
	}
	if settings.CustomPath != customPath || !settings.Enabled {
		return nil, ErrPortalNotFound
	}
	return &Config{
		Username:    owner,
		CustomPath:  settings.CustomPath,
		Enabled:     true,
		AppName:     settings.AppName,
		DownloadURL: settings.DownloadURL,
		Source:      SourceEmbedded,
	}, nil
}
