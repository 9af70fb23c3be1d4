package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mizuhane/keygate/license"
	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrDuplicateUsername is returned when the username is already taken in
// either user table.
var ErrDuplicateUsername = errors.New("portal: username already taken")

// Registrar creates portal accounts bound to validated license keys.
type Registrar struct {
	db         *gorm.DB
	bcryptCost int
	logger     *zap.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(db *gorm.DB, bcryptCost int, logger *zap.Logger) *Registrar {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Registrar{db: db, bcryptCost: bcryptCost, logger: logger}
}

// Register creates a user_portal_auth row for the given license key.
// The username must be free in both user tables; the license must exist,
// be active, and not banned.
func (r *Registrar) Register(ctx context.Context, username, password, licenseKey string) error {
	var lic model.License
	err := r.db.WithContext(ctx).Where("license_key = ?", licenseKey).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return license.ErrLicenseNotFound
	}
	if err != nil {
		return fmt.Errorf("register license lookup: %w", err)
	}
	if lic.Banned {
		return license.ErrBanned
	}
	if !lic.Active {
		return license.ErrLicenseNotFound
	}

	// A username already present in the primary table would shadow the new
	// portal account on every lookup; refuse it up front.
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Account{}).
		Where("username = ?", username).Count(&count).Error; err != nil {
		return fmt.Errorf("register account check: %w", err)
	}
	if count > 0 {
		return ErrDuplicateUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.bcryptCost)
	if err != nil {
		return fmt.Errorf("register hash: %w", err)
	}

	rec := &model.PortalAuth{
		Username:     username,
		PasswordHash: string(hash),
		LicenseKey:   licenseKey,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		// Unique constraint violation: concurrent registration of same name.
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("register create: %w", err)
	}
	return nil
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
