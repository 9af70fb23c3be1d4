package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/mizuhane/keygate/api/rest"
	"github.com/mizuhane/keygate/appkey"
	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/cache"
	"github.com/mizuhane/keygate/config"
	dbadapter "github.com/mizuhane/keygate/db"
	"github.com/mizuhane/keygate/license"
	mw "github.com/mizuhane/keygate/middleware"
	"github.com/mizuhane/keygate/model"
	"github.com/mizuhane/keygate/portal"
	"github.com/mizuhane/keygate/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		log.Fatalf("config: security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache ----
	c, err := cache.NewCache(cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Services ----
	keySvc := appkey.New(db, c, cfg.Security.AppKeyCacheTTL, logger)
	resolver := license.NewResolver(db, auditSvc, logger)
	hwidSvc := license.NewHWIDService(db, logger)
	registrar := portal.NewRegistrar(db, cfg.Security.BcryptCost, logger)
	portalCfg := portal.NewResolver(db, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	sched.AddTicker("license_expiry_sweep", cfg.License.ExpirySweepInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := hwidSvc.SweepExpired(ctx); err != nil {
			logger.Error("license expiry sweep failed", zap.Error(err))
		}
	})
	sched.AddTicker("login_log_retention", cfg.Audit.CleanupInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if n, err := auditSvc.Cleanup(ctx, retention); err != nil {
			logger.Error("login log cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("login logs pruned", zap.Int64("count", n))
		}
	})
	// Catch up on licenses that expired while the server was down.
	sched.AddDelay("license_expiry_startup", 10*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := hwidSvc.SweepExpired(ctx); err != nil {
			logger.Error("startup expiry sweep failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(keySvc, resolver, hwidSvc, c, cfg.Security, logger)
	portalH := apirest.NewPortalHandler(resolver, hwidSvc, registrar, portalCfg, c, cfg.Security, logger)
	keysH := apirest.NewAppKeyHandler(keySvc, logger)
	adminH := apirest.NewAdminHandler(db, auditSvc, sched, logger)

	api := r.Group("/api")
	{
		api.POST("/app-auth", authH.AppAuth)
		api.POST("/portal-auth", portalH.PortalAuth)
		api.GET("/portal/:username/:path", portalH.PortalConfig)
		api.GET("/me", mw.Auth(cfg.Security, c), authH.Me)
		api.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminAllowedIPs))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
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
		adminG.GET("/scheduler", func(ctx *gin.Context) {
			ctx.JSON(200, gin.H{"success": true, "data": gin.H{"tasks": sched.ListTickers()}})
		})
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
