package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cardforge/cardforge/internal/config"
	"github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/entitlement"
	adminapi "github.com/cardforge/cardforge/internal/http/api/admin"
	"github.com/cardforge/cardforge/internal/http/api/front"
	"github.com/cardforge/cardforge/internal/ratelimit"
	"github.com/cardforge/cardforge/internal/renderer"
	internalsettings "github.com/cardforge/cardforge/internal/settings"
	"github.com/cardforge/cardforge/internal/tasks"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maintenanceInterval paces the background settings refresh and orphan sweep.
const maintenanceInterval = 5 * time.Minute

// orphanMaxAge is how long a pending task may sit without a renderer binding
// before the background sweep removes it.
const orphanMaxAge = 24 * time.Hour

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the API server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return errRefresh
	}

	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if !initialized {
		log.Warn("no admin account exists, the admin API is unusable until one is created")
	}

	jwtConfig, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return fmt.Errorf("load jwt config: %w", errJWT)
	}
	rendererConfig, errRenderer := config.LoadRendererConfig(configPath)
	if errRenderer != nil {
		return fmt.Errorf("load renderer config: %w", errRenderer)
	}
	serverConfig := config.LoadServerConfig(configPath, defaultPort)

	engine := entitlement.NewEngine(conn)
	ledger := tasks.NewLedger(conn)
	render := renderer.NewClient(rendererConfig)
	if !render.Configured() {
		log.Warn("renderer is not configured, generation submissions will fail")
	}
	limiter := ratelimit.NewManager(nil, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogMiddleware())

	front.RegisterFrontRoutes(router, conn, jwtConfig, engine, ledger, render, limiter)
	adminapi.RegisterAdminRoutes(router, conn, jwtConfig, ledger)

	go runMaintenance(ctx, conn, ledger)

	addr := fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Error("server shutdown error")
		}
	}()

	log.Infof("starting server on %s with config=%s", addr, configPath)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// runMaintenance periodically reloads the settings snapshot and sweeps
// pending tasks that never reached the render service.
func runMaintenance(ctx context.Context, conn *gorm.DB, ledger *tasks.Ledger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
			log.WithError(errRefresh).Warn("settings snapshot refresh failed")
		}
		purged, errPurge := ledger.PurgeOrphaned(ctx, time.Now().UTC().Add(-orphanMaxAge))
		if errPurge != nil {
			log.WithError(errPurge).Warn("orphan task sweep failed")
			continue
		}
		if purged > 0 {
			log.WithField("purged", purged).Info("removed orphaned generation tasks")
		}
	}
}

// requestLogMiddleware logs one line per request with latency and status.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
