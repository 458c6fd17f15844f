package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/parks-console/api/swagger"
	"github.com/noah-isme/parks-console/internal/definition"
	"github.com/noah-isme/parks-console/internal/handler"
	"github.com/noah-isme/parks-console/internal/middleware"
	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/repository"
	"github.com/noah-isme/parks-console/internal/service"
	"github.com/noah-isme/parks-console/pkg/cache"
	"github.com/noah-isme/parks-console/pkg/config"
	"github.com/noah-isme/parks-console/pkg/database"
	"github.com/noah-isme/parks-console/pkg/jobs"
	"github.com/noah-isme/parks-console/pkg/logger"
	corsmiddleware "github.com/noah-isme/parks-console/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/parks-console/pkg/middleware/requestid"
)

// @title Parks Console API
// @version 1.0.0
// @description Backend for the parks administration list pages
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	validate := validator.New()
	defs, err := definition.NewLoader(validate).LoadDir(cfg.PagesDir)
	if err != nil {
		logr.Fatal("failed to load page definitions", zap.Error(err))
	}
	pages := definition.NewRegistry(defs)
	logr.Info("page definitions loaded", zap.Int("count", len(defs)), zap.String("dir", cfg.PagesDir))

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	var sharedCache *service.CacheService
	if cfg.Cache.RedisEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		cacheRepo := repository.NewCacheRepository(client, logr)
		defer cacheRepo.Close() //nolint:errcheck
		sharedCache = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, true)
		checks["redis"] = cacheRepo.Ping
	}

	client := repository.NewResourceClient(repository.ResourceClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		RateLimit: cfg.Upstream.RateLimit,
		Burst:     cfg.Upstream.Burst,
	}, nil, metrics, logr)

	collections := service.NewCollectionCache(client, sharedCache, metrics, logr, service.CollectionCacheConfig{TTL: cfg.Cache.TTL})
	recordValidator := service.NewRecordValidator(validate)

	deps := service.ListDeps{
		Cache:     collections,
		Mutator:   client,
		Importer:  service.NewImportService(recordValidator, metrics, logr, service.ImportConfig{PreviewRows: cfg.Import.PreviewRows, FallbackConcurrency: cfg.Import.FallbackConcurrency}),
		Exporter:  service.NewExportService(nil, nil, metrics, logr),
		Validator: recordValidator,
		Logger:    logr,
	}

	var (
		db         *sqlx.DB
		auditQueue *jobs.Queue
		audits     *service.ImportAuditService
	)
	if cfg.Audit.Enabled {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close() //nolint:errcheck
		if err := database.EnsureSchema(ctx, db); err != nil {
			logr.Fatal("failed to prepare schema", zap.Error(err))
		}
		auditRepo := repository.NewImportAuditRepository(db)
		auditQueue = jobs.NewQueue(service.JobTypeImportAudit, service.ImportAuditJobHandler(auditRepo), jobs.QueueConfig{
			Workers:    cfg.Audit.Workers,
			MaxRetries: cfg.Audit.Retries,
			Logger:     logr,
		})
		auditQueue.Start(ctx)
		audits = service.NewImportAuditService(auditRepo, auditQueue, logr)
		deps.Recorder = audits
		checks["postgres"] = db.PingContext
	}

	sessions := service.NewSessionService(pages, deps, metrics, logr, service.SessionConfig{
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
	})
	go sessions.Run(ctx)

	authService := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})

	r := newRouter(cfg, logr, metrics, checks, authService, pages, audits, sessions, validate)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-errCh:
		logr.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	sessions.Shutdown()
	if auditQueue != nil {
		auditQueue.Stop()
	}
	logr.Info("server stopped")
}

func newRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	checks map[string]handler.ReadinessCheck,
	authService *service.AuthService,
	pages *definition.Registry,
	history *service.ImportAuditService,
	sessions *service.SessionService,
	validate *validator.Validate,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var pageHandler *handler.PageHandler
	if history != nil {
		pageHandler = handler.NewPageHandler(pages, history)
	} else {
		pageHandler = handler.NewPageHandler(pages, nil)
	}
	sessionHandler := handler.NewSessionHandler(sessions, validate, cfg.Import.MaxFileSizeBytes)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authService), middleware.WithResponseMeta())

	api.GET("/pages", pageHandler.List)
	api.GET("/pages/:page", pageHandler.Get)
	api.GET("/pages/:page/imports", middleware.RequireRoles(models.RoleAdmin), pageHandler.Imports)
	api.POST("/pages/:page/sessions", sessionHandler.Mount)

	s := api.Group("/sessions/:id")
	s.GET("", sessionHandler.View)
	s.DELETE("", sessionHandler.Unmount)
	s.PUT("/filters", sessionHandler.Filters)
	s.PUT("/page", sessionHandler.Page)
	s.POST("/retry", sessionHandler.Retry)
	s.POST("/records", sessionHandler.CreateRecord)
	s.PUT("/records/:recordId", sessionHandler.UpdateRecord)
	s.DELETE("/records/:recordId", sessionHandler.DeleteRecord)
	s.GET("/export", sessionHandler.Export)
	s.POST("/import", sessionHandler.BeginImport)
	s.PUT("/import/mapping", sessionHandler.UpdateMapping)
	s.POST("/import/confirm", sessionHandler.ConfirmImport)
	s.DELETE("/import", sessionHandler.CancelImport)

	return r
}
