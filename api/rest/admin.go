package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/license"
	"github.com/mizuhane/keygate/model"
	"github.com/mizuhane/keygate/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles the dashboard backend: license and user management
// plus login log access. Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	audit  *audit.Service
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, auditSvc *audit.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, audit: auditSvc, sched: sched, logger: logger}
}

// ListLicenses handles GET /api/admin/licenses.
func (h *AdminHandler) ListLicenses(c *gin.Context) {
	var licenses []model.License
	if err := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").Find(&licenses).Error; err != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"licenses": licenses, "count": len(licenses)})
}

type createLicenseRequest struct {
	LicenseKey     string     `json:"license_key" binding:"max=64"`
	MobileNumber   string     `json:"mobile_number" binding:"max=20"`
	Subscription   string     `json:"subscription" binding:"max=32"`
	ExpiresAt      *time.Time `json:"expires_at"`
	SaveHWID       *bool      `json:"save_hwid"`
	HWIDResetCount *int       `json:"hwid_reset_count"`
	MaxDevices     *int       `json:"max_devices"`
}

// CreateLicense handles POST /api/admin/licenses. A missing license_key is
// minted server-side.
func (h *AdminHandler) CreateLicense(c *gin.Context) {
	var req createLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.LicenseKey == "" {
		req.LicenseKey = license.NewKey()
	}
	if req.Subscription == "" {
		req.Subscription = "default"
	}

	lic := model.License{
		LicenseKey:   req.LicenseKey,
		MobileNumber: req.MobileNumber,
		Subscription: req.Subscription,
		ExpiresAt:    req.ExpiresAt,
		Active:       true,
		Approved:     true,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&lic).Error; err != nil {
		if isUniqueViolation(err) {
			fail(c, http.StatusConflict, "license key already exists")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	// Optional overrides for columns with non-zero defaults; Create applies
	// the defaults, so flip them afterwards.
	overrides := map[string]interface{}{}
	if req.SaveHWID != nil {
		overrides["save_hwid"] = *req.SaveHWID
	}
	if req.HWIDResetCount != nil {
		overrides["hwid_reset_count"] = *req.HWIDResetCount
	}
	if req.MaxDevices != nil {
		overrides["max_devices"] = *req.MaxDevices
	}
	if len(overrides) > 0 {
		if err := h.db.WithContext(c.Request.Context()).Model(&lic).Updates(overrides).Error; err != nil {
			fail(c, http.StatusInternalServerError, "internal error")
			return
		}
	}

	h.logger.Info("license created", zap.String("license_key", lic.LicenseKey))
	created(c, lic)
}

type updateLicenseRequest struct {
	Subscription   *string    `json:"subscription"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Active         *bool      `json:"active"`
	Banned         *bool      `json:"banned"`
	Approved       *bool      `json:"approved"`
	SaveHWID       *bool      `json:"save_hwid"`
	HWIDResetCount *int       `json:"hwid_reset_count"`
	MaxDevices     *int       `json:"max_devices"`
}

// UpdateLicense handles PATCH /api/admin/licenses/:id. Only fields present
// in the request change.
func (h *AdminHandler) UpdateLicense(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req updateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Subscription != nil {
		updates["subscription"] = *req.Subscription
	}
	if req.ExpiresAt != nil {
		updates["expires_at"] = *req.ExpiresAt
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Banned != nil {
		updates["banned"] = *req.Banned
	}
	if req.Approved != nil {
		updates["approved"] = *req.Approved
	}
	if req.SaveHWID != nil {
		updates["save_hwid"] = *req.SaveHWID
	}
	if req.HWIDResetCount != nil {
		updates["hwid_reset_count"] = *req.HWIDResetCount
	}
	if req.MaxDevices != nil {
		updates["max_devices"] = *req.MaxDevices
	}
	if len(updates) == 0 {
		fail(c, http.StatusBadRequest, "no fields to update")
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&model.License{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	if res.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "license not found")
		return
	}
	ok(c, gin.H{"id": id})
}

// DeleteLicense handles DELETE /api/admin/licenses/:id.
func (h *AdminHandler) DeleteLicense(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&model.License{}, id)
	if res.Error != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	if res.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "license not found")
		return
	}
	ok(c, gin.H{"id": id})
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var users []model.Account
	if err := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").Find(&users).Error; err != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"users": users, "count": len(users)})
}

// BanUser handles POST /api/admin/users/:id/ban. Banning also bans the
// linked license so the user cannot fall back to key-based login.
func (h *AdminHandler) BanUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	var acc model.Account
	if err := h.db.WithContext(c.Request.Context()).First(&acc, id).Error; err != nil {
		fail(c, http.StatusNotFound, "user not found")
		return
	}
	if err := h.db.WithContext(c.Request.Context()).
		Model(&acc).Update("banned", req.Ban).Error; err != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	if acc.LicenseKey != "" {
		if err := h.db.WithContext(c.Request.Context()).Model(&model.License{}).
			Where("license_key = ?", acc.LicenseKey).
			Update("banned", req.Ban).Error; err != nil {
			h.logger.Warn("license ban mirror failed",
				zap.String("license_key", acc.LicenseKey), zap.Error(err))
		}
	}

	h.logger.Info("user ban state changed",
		zap.String("username", acc.Username), zap.Bool("banned", req.Ban))
	ok(c, gin.H{"id": id, "banned": req.Ban})
}

// ListLogs handles GET /api/admin/logs?limit=N.
func (h *AdminHandler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"logs": logs, "count": len(logs)})
}

// Metrics handles GET /api/admin/metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()
	var userCount, licenseCount, activeLicenses int64
	_ = h.db.WithContext(ctx).Model(&model.Account{}).Count(&userCount).Error
	_ = h.db.WithContext(ctx).Model(&model.License{}).Count(&licenseCount).Error
	_ = h.db.WithContext(ctx).Model(&model.License{}).
		Where("active = ?", true).Count(&activeLicenses).Error

	ok(c, gin.H{
		"users":           userCount,
		"licenses":        licenseCount,
		"active_licenses": activeLicenses,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"success": false, "error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		if c.GetHeader("X-Admin-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
