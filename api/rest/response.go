// Package rest contains the gin HTTP handlers for the public authentication
// endpoints and the admin dashboard backend.
package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/appkey"
	"github.com/mizuhane/keygate/license"
	"github.com/mizuhane/keygate/portal"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failErr maps a domain error to its HTTP status. Unknown errors become a
// generic 500 so internals never leak into a response body.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appkey.ErrInvalidAppKey):
		fail(c, http.StatusUnauthorized, "invalid application key")
	case errors.Is(err, license.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, license.ErrBanned):
		fail(c, http.StatusForbidden, "banned")
	case errors.Is(err, license.ErrResetQuotaExhausted):
		fail(c, http.StatusForbidden, "hwid reset quota exhausted")
	case errors.Is(err, license.ErrDeviceLimitReached):
		fail(c, http.StatusForbidden, "device limit reached")
	case errors.Is(err, license.ErrLicenseNotFound):
		fail(c, http.StatusNotFound, "license not found")
	case errors.Is(err, portal.ErrPortalNotFound):
		fail(c, http.StatusNotFound, "portal not found")
	case errors.Is(err, portal.ErrDuplicateUsername):
		fail(c, http.StatusConflict, "username already taken")
	default:
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
