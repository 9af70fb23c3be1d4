// Package license implements credential resolution and hardware-ID binding
// for license-protected applications.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Profile is the unified view of an authenticated identity, regardless of
// which table the credentials matched. It never carries a password or secret.
type Profile struct {
	Username       string     `json:"username"`
	Subscription   string     `json:"subscription"`
	ExpiresAt      *time.Time `json:"expire_date"`
	// Banned is false on every successful login; banned identities fail
	// resolution with ErrBanned. It can be true only from Lookup, where an
	// existing session outlives a ban.
	Banned         bool       `json:"banned"`
	SaveHWID       bool       `json:"save_hwid"`
	HWIDs          []string   `json:"hwid"`
	HWIDResetCount int        `json:"hwid_reset_count"`
	MaxDevices     int        `json:"max_devices"`
	LicenseKey     string     `json:"-"`
}

// Meta carries request-scoped values the resolver records in the login log.
type Meta struct {
	IP      string
	TraceID string
	Source  string // model.LoginSourceApp or model.LoginSourcePortal
}

// Resolver locates an identity for an (identifier, secret) pair. The lookup
// order is fixed for every entry point: the users table, then license_keys by
// mobile number, then user_portal_auth. First match wins; partial matches are
// never merged across steps.
type Resolver struct {
	db     *gorm.DB
	audit  *audit.Service
	logger *zap.Logger
}

// NewResolver creates a Resolver. audit may not be nil; logging a login is
// fire-and-forget and never fails the request.
func NewResolver(db *gorm.DB, auditSvc *audit.Service, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, audit: auditSvc, logger: logger}
}

// Resolve authenticates the pair and returns the unified profile.
// identifier is a username or a mobile number; secret is a password or a raw
// license key depending on which step matches.
func (r *Resolver) Resolve(ctx context.Context, identifier, secret string, meta Meta) (*Profile, error) {
	profile, err := r.resolve(ctx, identifier, secret)
	status := model.LoginStatusSuccess
	if err != nil {
		status = model.LoginStatusFailed
	}
	r.audit.Log(audit.Entry{
		TraceID:  meta.TraceID,
		Username: identifier,
		Status:   status,
		Source:   meta.Source,
		IP:       meta.IP,
	})
	if err != nil {
		return nil, err
	}

	// Best-effort last-login update on the primary record.
	now := time.Now()
	if uerr := r.db.WithContext(ctx).Model(&model.Account{}).
		Where("username = ?", profile.Username).
		Updates(map[string]interface{}{"last_login_at": now, "last_login_ip": meta.IP}).Error; uerr != nil {
		r.logger.Warn("last-login update failed", zap.Error(uerr))
	}
	return profile, nil
}

// Lookup returns the profile for an already-authenticated username without
// re-checking credentials. Used by session-protected endpoints.
func (r *Resolver) Lookup(ctx context.Context, username string) (*Profile, error) {
	var acc model.Account
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&acc).Error
	switch {
	case err == nil:
		return profileFromAccount(&acc), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	var pa model.PortalAuth
	err = r.db.WithContext(ctx).Where("username = ?", username).First(&pa).Error
	switch {
	case err == nil:
		return r.mergePortalProfile(ctx, &pa)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("portal account lookup: %w", err)
	}

	return nil, ErrInvalidCredentials
}

func (r *Resolver) resolve(ctx context.Context, identifier, secret string) (*Profile, error) {
	// Step 1: primary account by username + password.
	var acc model.Account
	err := r.db.WithContext(ctx).Where("username = ?", identifier).First(&acc).Error
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(secret)) != nil {
			// Wrong password on an existing username does not fall through to
			// the later steps; that would let a license key double as the
			// account's password.
			return nil, ErrInvalidCredentials
		}
		if acc.Banned {
			return nil, ErrBanned
		}
		return profileFromAccount(&acc), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	// Step 2: standalone license by mobile number + raw key.
	var lic model.License
	err = r.db.WithContext(ctx).
		Where("mobile_number = ? AND license_key = ?", identifier, secret).
		First(&lic).Error
	switch {
	case err == nil:
		if lic.Banned {
			return nil, ErrBanned
		}
		if !lic.Active {
			return nil, ErrInvalidCredentials
		}
		return profileFromLicense(identifier, &lic), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("license lookup: %w", err)
	}

	// Step 3: portal account, cross-referencing its license by key string.
	var pa model.PortalAuth
	err = r.db.WithContext(ctx).Where("username = ?", identifier).First(&pa).Error
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(pa.PasswordHash), []byte(secret)) != nil {
			return nil, ErrInvalidCredentials
		}
		return r.mergePortalProfile(ctx, &pa)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("portal account lookup: %w", err)
	}

	return nil, ErrInvalidCredentials
}

// mergePortalProfile takes identity from the portal record and license state
// from the cross-referenced license. A dangling key still authenticates, but
// with an empty license profile.
func (r *Resolver) mergePortalProfile(ctx context.Context, pa *model.PortalAuth) (*Profile, error) {
	profile := &Profile{
		Username:     pa.Username,
		Subscription: "default",
		LicenseKey:   pa.LicenseKey,
	}
	if pa.LicenseKey == "" {
		return profile, nil
	}

	var lic model.License
	err := r.db.WithContext(ctx).Where("license_key = ?", pa.LicenseKey).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.logger.Warn("portal account references missing license",
			zap.String("username", pa.Username))
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("portal license lookup: %w", err)
	}
	if lic.Banned {
		return nil, ErrBanned
	}

	profile.Subscription = lic.Subscription
	profile.ExpiresAt = lic.ExpiresAt
	profile.SaveHWID = lic.SaveHWID
	profile.HWIDs = lic.HWIDs
	profile.HWIDResetCount = lic.HWIDResetCount
	profile.MaxDevices = lic.MaxDevices
	return profile, nil
}

func profileFromAccount(acc *model.Account) *Profile {
	return &Profile{
		Username:       acc.Username,
		Subscription:   acc.Subscription,
		ExpiresAt:      acc.ExpiresAt,
		Banned:         acc.Banned,
		SaveHWID:       true,
		HWIDs:          acc.HWIDs,
		HWIDResetCount: acc.HWIDResetCount,
		MaxDevices:     acc.MaxDevices,
		LicenseKey:     acc.LicenseKey,
	}
}

func profileFromLicense(identifier string, lic *model.License) *Profile {
	return &Profile{
		Username:       identifier,
		Subscription:   lic.Subscription,
		ExpiresAt:      lic.ExpiresAt,
		SaveHWID:       lic.SaveHWID,
		HWIDs:          lic.HWIDs,
		HWIDResetCount: lic.HWIDResetCount,
		MaxDevices:     lic.MaxDevices,
		LicenseKey:     lic.LicenseKey,
	}
}

// NewKey mints a license key like "LIC-1A2B-3C4D-5E6F-7A8B".
func NewKey() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("LIC-%s-%s-%s-%s", hex[0:4], hex[4:8], hex[8:12], hex[12:16])
}
