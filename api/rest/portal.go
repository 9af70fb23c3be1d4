package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/config"
	"github.com/mizuhane/keygate/license"
	mw "github.com/mizuhane/keygate/middleware"
	"github.com/mizuhane/keygate/model"
	"github.com/mizuhane/keygate/portal"
	"go.uber.org/zap"
)

// PortalHandler handles the end-user portal endpoints: login, registration,
// HWID self-reset, and public portal config lookup.
type PortalHandler struct {
	resolver  *license.Resolver
	hwid      *license.HWIDService
	registrar *portal.Registrar
	configs   *portal.Resolver
	cache     cache.Cache
	sec       config.SecurityConfig
	logger    *zap.Logger
}

// NewPortalHandler creates a PortalHandler.
func NewPortalHandler(
	resolver *license.Resolver,
	hwid *license.HWIDService,
	registrar *portal.Registrar,
	configs *portal.Resolver,
	c cache.Cache,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *PortalHandler {
	return &PortalHandler{
		resolver: resolver, hwid: hwid, registrar: registrar,
		configs: configs, cache: c, sec: sec, logger: logger,
	}
}

type portalAuthRequest struct {
	Action     string `json:"action" binding:"required,oneof=login register reset_hwid"`
	Username   string `json:"username" binding:"required,min=1,max=64"`
	Password   string `json:"password" binding:"required,min=1,max=128"`
	LicenseKey string `json:"license_key" binding:"max=64"`
}

// PortalAuth handles POST /api/portal-auth. The action field selects login,
// register, or reset_hwid; register is the only one that does not resolve
// credentials first.
func (h *PortalHandler) PortalAuth(c *gin.Context) {
	var req portalAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.Action == "register" {
		if req.LicenseKey == "" {
			fail(c, http.StatusBadRequest, "license_key is required to register")
			return
		}
		if err := h.registrar.Register(ctx, req.Username, req.Password, req.LicenseKey); err != nil {
			failErr(c, err)
			return
		}
		created(c, gin.H{"username": req.Username})
		return
	}

	profile, err := h.resolver.Resolve(ctx, req.Username, req.Password, license.Meta{
		IP:      c.ClientIP(),
		TraceID: mw.GetTraceID(c),
		Source:  model.LoginSourcePortal,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	switch req.Action {
	case "login":
		token, err := mw.GenerateToken(profile.Username, model.LoginSourcePortal, h.sec.JWTSecret, h.sec.SessionTTL)
		if err != nil {
			fail(c, http.StatusInternalServerError, "token error")
			return
		}
		cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = h.cache.Set(cacheCtx, "session:"+token, profile.Username, h.sec.SessionTTL)

		ok(c, gin.H{
			"username":         profile.Username,
			"subscription":     profile.Subscription,
			"expire_date":      profile.ExpiresAt,
			"hwid_reset_count": profile.HWIDResetCount,
			"token":            token,
		})

	case "reset_hwid":
		if profile.LicenseKey == "" {
			failErr(c, license.ErrLicenseNotFound)
			return
		}
		remaining, err := h.hwid.Reset(ctx, profile.LicenseKey)
		if err != nil {
			failErr(c, err)
			return
		}
		h.logger.Info("hwid reset",
			zap.String("username", profile.Username), zap.Int("remaining", remaining))
		ok(c, gin.H{"username": profile.Username, "hwid_reset_count": remaining})
	}
}

// PortalConfig handles GET /api/portal/:username/:path. Public; a disabled
// portal is reported but never served.
func (h *PortalHandler) PortalConfig(c *gin.Context) {
	cfg, err := h.configs.Resolve(c.Request.Context(), c.Param("username"), c.Param("path"))
	if err != nil {
		failErr(c, err)
		return
	}
	if !cfg.Enabled {
		fail(c, http.StatusForbidden, "portal disabled")
		return
	}
	ok(c, cfg)
}
