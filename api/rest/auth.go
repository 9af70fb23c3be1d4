package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/appkey"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/config"
	"github.com/mizuhane/keygate/license"
	mw "github.com/mizuhane/keygate/middleware"
	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
)

// AuthHandler handles the application authentication endpoint.
type AuthHandler struct {
	keys     *appkey.Service
	resolver *license.Resolver
	hwid     *license.HWIDService
	cache    cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	keys *appkey.Service,
	resolver *license.Resolver,
	hwid *license.HWIDService,
	c cache.Cache,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{keys: keys, resolver: resolver, hwid: hwid, cache: c, sec: sec, logger: logger}
}

type appAuthRequest struct {
	Username string `json:"username" binding:"required,min=1,max=64"`
	Password string `json:"password" binding:"required,min=1,max=128"`
	AppKey   string `json:"appKey" binding:"required"`
	HWID     string `json:"hwid" binding:"max=128"`
}

// AppAuth handles POST /api/app-auth.
// The application key is checked before any account data is read.
func (h *AuthHandler) AppAuth(c *gin.Context) {
	var req appAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.keys.Validate(ctx, req.AppKey); err != nil {
		failErr(c, err)
		return
	}

	profile, err := h.resolver.Resolve(ctx, req.Username, req.Password, license.Meta{
		IP:      c.ClientIP(),
		TraceID: mw.GetTraceID(c),
		Source:  model.LoginSourceApp,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	hwids := profile.HWIDs
	if req.HWID != "" && profile.SaveHWID && profile.LicenseKey != "" {
		err := h.hwid.Bind(ctx, profile.LicenseKey, req.HWID)
		switch {
		case errors.Is(err, license.ErrDeviceLimitReached):
			failErr(c, err)
			return
		case err != nil:
			h.logger.Warn("hwid bind failed",
				zap.String("username", profile.Username), zap.Error(err))
		default:
			hwids = appendUnique(hwids, req.HWID)
		}
	}

	token, err := mw.GenerateToken(profile.Username, model.LoginSourceApp, h.sec.JWTSecret, h.sec.SessionTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token error")
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = h.cache.Set(cacheCtx, "session:"+token, profile.Username, h.sec.SessionTTL)

	ok(c, gin.H{
		"username":     profile.Username,
		"subscription": profile.Subscription,
		"expire_date":  profile.ExpiresAt,
		"hwid":         hwids,
		"banned":       profile.Banned,
		"save_hwid":    profile.SaveHWID,
		"token":        token,
	})
}

// Me handles GET /api/me. Requires the Auth middleware.
func (h *AuthHandler) Me(c *gin.Context) {
	username := mw.GetUsername(c)
	if username == "" {
		fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	profile, err := h.resolver.Lookup(c.Request.Context(), username)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, profile)
}

// Logout handles POST /api/logout. Dropping the session cache entry
// invalidates the token even though the JWT itself has not expired.
func (h *AuthHandler) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		fail(c, http.StatusBadRequest, "missing token")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+tokenStr)
	ok(c, gin.H{"message": "logged out"})
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
