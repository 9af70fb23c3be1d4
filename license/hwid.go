package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HWIDService mutates hardware-ID bindings and reset quotas. All mutations
// update the license row and the mirrored users row in one transaction.
type HWIDService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHWIDService creates a HWIDService.
func NewHWIDService(db *gorm.DB, logger *zap.Logger) *HWIDService {
	return &HWIDService{db: db, logger: logger}
}

// Reset clears the bound HWID set and decrements the reset quota by one,
// returning the remaining count. The decrement is a conditional update
// (WHERE hwid_reset_count > 0); of two concurrent resets racing on a quota
// of one, exactly one succeeds and the count never goes negative.
func (s *HWIDService) Reset(ctx context.Context, licenseKey string) (int, error) {
	var remaining int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.License{}).
			Where("license_key = ? AND hwid_reset_count > 0", licenseKey).
			Updates(map[string]interface{}{
				"hwids":            datatypes.NewJSONSlice([]string{}),
				"hwid_reset_count": gorm.Expr("hwid_reset_count - 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("reset update: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.License{}).
				Where("license_key = ?", licenseKey).
				Count(&count).Error; err != nil {
				return fmt.Errorf("reset lookup: %w", err)
			}
			if count == 0 {
				return ErrLicenseNotFound
			}
			return ErrResetQuotaExhausted
		}

		var lic model.License
		if err := tx.Where("license_key = ?", licenseKey).First(&lic).Error; err != nil {
			return fmt.Errorf("reset readback: %w", err)
		}
		remaining = lic.HWIDResetCount

		// Mirror the cleared list and new quota onto the linked account, if any.
		if err := tx.Model(&model.Account{}).
			Where("license_key = ?", licenseKey).
			Updates(map[string]interface{}{
				"hwids":            datatypes.NewJSONSlice([]string{}),
				"hwid_reset_count": remaining,
			}).Error; err != nil {
			return fmt.Errorf("reset mirror: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Bind records a hardware ID against the license. Binding is a no-op when the
// license does not save HWIDs or the ID is already bound; it fails when the
// device limit would be exceeded.
func (s *HWIDService) Bind(ctx context.Context, licenseKey, hwid string) error {
	if licenseKey == "" || hwid == "" {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic model.License
		err := tx.Where("license_key = ?", licenseKey).First(&lic).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return fmt.Errorf("bind lookup: %w", err)
		}
		if !lic.SaveHWID {
			return nil
		}
		for _, bound := range lic.HWIDs {
			if bound == hwid {
				return nil
			}
		}
		if lic.MaxDevices > 0 && len(lic.HWIDs) >= lic.MaxDevices {
			return ErrDeviceLimitReached
		}

		hwids := append([]string(lic.HWIDs), hwid)
		if err := tx.Model(&lic).Update("hwids", datatypes.NewJSONSlice(hwids)).Error; err != nil {
			return fmt.Errorf("bind update: %w", err)
		}
		if err := tx.Model(&model.Account{}).
			Where("license_key = ?", licenseKey).
			Update("hwids", datatypes.NewJSONSlice(hwids)).Error; err != nil {
			return fmt.Errorf("bind mirror: %w", err)
		}
		return nil
	})
}

// SweepExpired deactivates licenses past their expiry date. Run periodically
// by the scheduler; returns the number of licenses flipped.
func (s *HWIDService) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.License{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP", true).
		Update("active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("expiry sweep: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired licenses deactivated", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
