// Package appkey implements the application-key gate: every app-auth request
// must present a key that exists and is active before any account data is read.
package appkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidAppKey is returned for unknown or inactive application keys.
var ErrInvalidAppKey = errors.New("appkey: invalid or inactive application key")

const cachePrefix = "appkey:"

// Service validates and manages application keys.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// New creates an application-key Service. cacheTTL bounds how stale a
// cached validation result may be.
func New(db *gorm.DB, c cache.Cache, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{db: db, cache: c, cacheTTL: cacheTTL, logger: logger}
}

// Validate succeeds only if an active key record matches. Read-only.
func (s *Service) Validate(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidAppKey
	}

	if v, err := s.cache.Get(ctx, cachePrefix+key); err == nil {
		if v == "1" {
			return nil
		}
		return ErrInvalidAppKey
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.AppKey{}).
		Where("key = ? AND active = ?", key, true).
		Count(&count).Error; err != nil {
		return fmt.Errorf("appkey lookup: %w", err)
	}

	verdict := "0"
	if count > 0 {
		verdict = "1"
	}
	if err := s.cache.Set(ctx, cachePrefix+key, verdict, s.cacheTTL); err != nil {
		s.logger.Warn("appkey cache set failed", zap.Error(err))
	}

	if count == 0 {
		return ErrInvalidAppKey
	}
	return nil
}

// Mint creates a new active key and returns the record with its plaintext
// key populated. The plaintext must be shown to the caller exactly once.
func (s *Service) Mint(ctx context.Context, name, description string) (*model.AppKey, error) {
	rec := &model.AppKey{
		Key:         NewKey(),
		Name:        name,
		Description: description,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("appkey create: %w", err)
	}
	return rec, nil
}

// List returns all key records. Plaintext keys are not serialized.
func (s *Service) List(ctx context.Context) ([]model.AppKey, error) {
	var keys []model.AppKey
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// Deactivate flips a key inactive and drops its cached verdict.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	var rec model.AppKey
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&rec).Update("active", false).Error; err != nil {
		return err
	}
	return s.cache.Del(ctx, cachePrefix+rec.Key)
}

// Delete removes a key record and drops its cached verdict.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var rec model.AppKey
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&rec).Error; err != nil {
		return err
	}
	return s.cache.Del(ctx, cachePrefix+rec.Key)
}

// NewKey mints a key string like "KEY-1A2B-3C4D-5E6F".
func NewKey() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("KEY-%s-%s-%s", hex[0:4], hex[4:8], hex[8:12])
}
