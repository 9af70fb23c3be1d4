package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizuhane/keygate/api/rest"
	"github.com/mizuhane/keygate/appkey"
	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/config"
	"github.com/mizuhane/keygate/license"
	mw "github.com/mizuhane/keygate/middleware"
	"github.com/mizuhane/keygate/portal"
	"github.com/mizuhane/keygate/scheduler"
	"github.com/mizuhane/keygate/testutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testAdminKey = "test-admin-key"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	cache  cache.Cache
	keys   *appkey.Service
	audit  *audit.Service
	router *gin.Engine
}

// newTestEnv wires the full route table the way main.go does, minus the
// global middleware that the handlers under test do not depend on.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	sec := config.SecurityConfig{
		JWTSecret:      "test-secret",
		SessionTTL:     time.Hour,
		AppKeyCacheTTL: time.Minute,
		BcryptCost:     bcrypt.MinCost,
	}

	keys := appkey.New(db, c, sec.AppKeyCacheTTL, logger)
	resolver := license.NewResolver(db, auditSvc, logger)
	hwid := license.NewHWIDService(db, logger)
	registrar := portal.NewRegistrar(db, sec.BcryptCost, logger)
	portalCfg := portal.NewResolver(db, logger)

	authH := rest.NewAuthHandler(keys, resolver, hwid, c, sec, logger)
	portalH := rest.NewPortalHandler(resolver, hwid, registrar, portalCfg, c, sec, logger)
	keysH := rest.NewAppKeyHandler(keys, logger)
	adminH := rest.NewAdminHandler(db, auditSvc, sched, logger)

	r := gin.New()
	r.POST("/api/app-auth", authH.AppAuth)
	r.POST("/api/portal-auth", portalH.PortalAuth)
	r.GET("/api/portal/:username/:path", portalH.PortalConfig)
	r.GET("/api/me", mw.Auth(sec, c), authH.Me)
	r.POST("/api/logout", mw.Auth(sec, c), authH.Logout)

	admin := r.Group("/api/admin", rest.AdminAuth(testAdminKey))
	admin.POST("/app-keys", keysH.Create)
	admin.GET("/app-keys", keysH.List)
	admin.PATCH("/app-keys/:id/deactivate", keysH.Deactivate)
	admin.DELETE("/app-keys/:id", keysH.Delete)
	admin.GET("/licenses", adminH.ListLicenses)
	admin.POST("/licenses", adminH.CreateLicense)
	admin.PATCH("/licenses/:id", adminH.UpdateLicense)
	admin.DELETE("/licenses/:id", adminH.DeleteLicense)
	admin.GET("/users", adminH.ListUsers)
	admin.POST("/users/:id/ban", adminH.BanUser)
	admin.GET("/logs", adminH.ListLogs)
	admin.GET("/metrics", adminH.Metrics)

	return &testEnv{db: db, cache: c, keys: keys, audit: auditSvc, router: r}
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return doJSON(r, http.MethodPost, path, body, headers...)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, w.Body.String())
	}
	if !resp.Success {
		t.Fatalf("expected success envelope, got: %s", w.Body.String())
	}
	return resp.Data
}

// mintTestKey creates an active application key directly via the service.
func mintTestKey(t *testing.T, env *testEnv) string {
	t.Helper()
	rec, err := env.keys.Mint(context.Background(), "test app", "")
	if err != nil {
		t.Fatalf("mint test key: %v", err)
	}
	return rec.Key
}
