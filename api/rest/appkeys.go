package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/appkey"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppKeyHandler manages application keys. Routes must sit behind AdminAuth.
type AppKeyHandler struct {
	keys   *appkey.Service
	logger *zap.Logger
}

// NewAppKeyHandler creates an AppKeyHandler.
func NewAppKeyHandler(keys *appkey.Service, logger *zap.Logger) *AppKeyHandler {
	return &AppKeyHandler{keys: keys, logger: logger}
}

type createAppKeyRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description" binding:"max=255"`
}

// Create handles POST /api/admin/app-keys. The plaintext key appears in this
// response and nowhere else.
func (h *AppKeyHandler) Create(c *gin.Context) {
	var req createAppKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.keys.Mint(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		h.logger.Error("app key mint failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	created(c, gin.H{
		"id":   rec.ID,
		"name": rec.Name,
		"key":  rec.Key,
	})
}

// List handles GET /api/admin/app-keys. Plaintext keys are not serialized.
func (h *AppKeyHandler) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"keys": keys, "count": len(keys)})
}

// Deactivate handles PATCH /api/admin/app-keys/:id/deactivate.
func (h *AppKeyHandler) Deactivate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.keys.Deactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "key not found")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"id": id, "active": false})
}

// Delete handles DELETE /api/admin/app-keys/:id.
func (h *AppKeyHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.keys.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "key not found")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	ok(c, gin.H{"id": id})
}
