package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/mizuhane/keygate/api/rest"
	"github.com/mizuhane/keygate/appkey"
	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/config"
	"github.com/mizuhane/keygate/license"
	mw "github.com/mizuhane/keygate/middleware"
	"github.com/mizuhane/keygate/portal"
	"github.com/mizuhane/keygate/scheduler"
	"github.com/mizuhane/keygate/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with all subsystems wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	Audit  *audit.Service
	Sched  *scheduler.Scheduler
	HWID   *license.HWIDService
	Server *httptest.Server
	URL    string
	Sec    config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		SessionTTL:     time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AppKeyCacheTTL: time.Minute,
		BcryptCost:     bcrypt.MinCost,
	}

	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)

	keySvc := appkey.New(db, c, sec.AppKeyCacheTTL, logger)
	resolver := license.NewResolver(db, auditSvc, logger)
	hwidSvc := license.NewHWIDService(db, logger)
	registrar := portal.NewRegistrar(db, sec.BcryptCost, logger)
	portalCfg := portal.NewResolver(db, logger)

	authH := apirest.NewAuthHandler(keySvc, resolver, hwidSvc, c, sec, logger)
	portalH := apirest.NewPortalHandler(resolver, hwidSvc, registrar, portalCfg, c, sec, logger)
	keysH := apirest.NewAppKeyHandler(keySvc, logger)
	adminH := apirest.NewAdminHandler(db, auditSvc, sched, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/app-auth", authH.AppAuth)
		api.POST("/portal-auth", portalH.PortalAuth)
		api.GET("/portal/:username/:path", portalH.PortalConfig)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(AdminKey))
		adminG.POST("/app-keys", keysH.Create)
		adminG.GET("/app-keys", keysH.List)
		adminG.PATCH("/app-keys/:id/deactivate", keysH.Deactivate)
		adminG.DELETE("/app-keys/:id", keysH.Delete)
		adminG.GET("/licenses", adminH.ListLicenses)
		adminG.POST("/licenses", adminH.CreateLicense)
		adminG.PATCH("/licenses/:id", adminH.UpdateLicense)
		adminG.DELETE("/licenses/:id", adminH.DeleteLicense)
		adminG.GET("/users", adminH.ListUsers)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.GET("/logs", adminH.ListLogs)
		adminG.GET("/metrics", adminH.Metrics)
	}

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB: db, Cache: c, Audit: auditSvc, Sched: sched, HWID: hwidSvc,
		Server: srv, URL: srv.URL, Sec: sec,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts the server and its background workers down.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Audit.Stop(nil)
}

// PostJSON sends a JSON POST. headers are key/value pairs.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodPost, path, body, headers...)
}

// Get sends a GET request.
func (ts *TestServer) Get(t *testing.T, path string, headers ...string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodGet, path, nil, headers...)
}

// Do sends a request with an arbitrary method.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	return ts.request(t, method, path, body, headers...)
}

func (ts *TestServer) request(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes a response body and closes it.
func ReadJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// Data decodes the "data" member of a success envelope and closes the body.
func Data(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	ReadJSON(t, resp, &envelope)
	require.True(t, envelope.Success, "expected success envelope")
	return envelope.Data
}

var uniqueCounter int64

// UniqueID generates a unique identifier with the given prefix.
func UniqueID(prefix string) string {
	n := atomic.AddInt64(&uniqueCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%1e9, n)
}
