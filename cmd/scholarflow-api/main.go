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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/scholarflow-api/api/swagger"
	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/handler"
	"github.com/noah-isme/scholarflow-api/internal/ledger"
	"github.com/noah-isme/scholarflow-api/internal/middleware"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/repository"
	"github.com/noah-isme/scholarflow-api/internal/service"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	"github.com/noah-isme/scholarflow-api/pkg/cache"
	"github.com/noah-isme/scholarflow-api/pkg/config"
	"github.com/noah-isme/scholarflow-api/pkg/database"
	"github.com/noah-isme/scholarflow-api/pkg/jobs"
	"github.com/noah-isme/scholarflow-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/scholarflow-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/scholarflow-api/pkg/middleware/requestid"
	"github.com/noah-isme/scholarflow-api/pkg/storage"
)

// @title ScholarFlow API
// @version 1.0.0
// @description Grant applications, review and a student marketplace backed by a funding ledger
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	authority := authz.NewAuthority(cfg.Auth.AdminAddresses, cfg.Auth.GrantOwnerAddresses)
	l, engine, db, err := openLedger(ctx, cfg, validate, authority, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to open ledger", "error", err)
	}
	if db != nil {
		defer db.Close() //nolint:errcheck
		checks["database"] = database.LedgerReady(db)
	}
	checks["ledger"] = func(ctx context.Context) error {
		_, err := l.Stats(ctx)
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, falling back to in-process stores", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
			checks["redis"] = cache.Ready(redisClient)
		}
	}

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Registry.CacheTTL, logr)

	var (
		challenges service.ChallengeStore
		pruners    prunerGroup
	)
	if redisClient != nil {
		challenges = repository.NewChallengeRepository(redisClient)
	} else {
		memoryChallenges := repository.NewMemoryChallengeStore()
		challenges = memoryChallenges
		pruners = append(pruners, memoryChallenges)
	}

	sessions := service.NewSessionService(l, metricsSvc, logr)
	scholarflow := service.NewScholarFlowService(l, sessions, cacheSvc, metricsSvc, validate, logr, service.ScholarFlowConfig{
		PackageID:   cfg.Ledger.PackageID,
		RegistryTTL: cfg.Registry.CacheTTL,
	})
	authSvc := service.NewAuthService(challenges, wallet.NewRegistry(), authority, sessions, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		ChallengeTTL:      cfg.Auth.ChallengeTTL,
		Issuer:            "scholarflow-api",
	})

	var (
		reportSvc   *service.ReportService
		reportQueue *jobs.Queue
	)
	if cfg.Reports.Enabled {
		reportSvc, reportQueue, err = buildReports(cfg, l, metricsSvc, validate, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to init reports", "error", err)
		}
		reportQueue.Start(ctx)
		defer reportQueue.Stop()
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logr)
		pruners = append(pruners, limiter)
	}

	if cfg.Maintenance.Enabled {
		var closer interface {
			CloseExpiredGrants(ctx context.Context) ([]string, error)
		}
		if engine != nil {
			closer = engine
		}
		var purger interface {
			PurgeExpired(ctx context.Context) (int, error)
		}
		if reportSvc != nil {
			purger = reportSvc
		}
		maintenance := service.NewMaintenanceService(closer, sessions, pruners, purger, metricsSvc, logr, service.MaintenanceConfig{
			GrantSchedule:   cfg.Maintenance.GrantSchedule,
			SessionSchedule: cfg.Maintenance.SessionSchedule,
			ExportSchedule:  cfg.Maintenance.ExportSchedule,
			SessionIdleTTL:  cfg.Session.IdleTTL,
		})
		if err := maintenance.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to schedule maintenance", "error", err)
		}
		defer maintenance.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsSvc, "/health", "/ready", cfg.Metrics.Path))
	}
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Ledger.ServeRPC {
		rpcHandler := handler.NewRPCHandler(ledger.NewDispatcher(l), cfg.Ledger.RPCToken, logr)
		r.POST("/rpc", rpcHandler.Serve)
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		cfg:         cfg,
		auth:        authSvc,
		scholarflow: scholarflow,
		reports:     reportSvc,
		limiter:     limiter,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "ledger_mode", cfg.Ledger.Mode, "network", cfg.Ledger.Network)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routeDeps struct {
	cfg         *config.Config
	auth        *service.AuthService
	scholarflow *service.ScholarFlowService
	reports     *service.ReportService
	limiter     *middleware.RateLimiter
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	authHandler := handler.NewAuthHandler(deps.auth)
	sessionHandler := handler.NewSessionHandler(deps.scholarflow)
	studentHandler := handler.NewStudentHandler(deps.scholarflow)
	grantHandler := handler.NewGrantHandler(deps.scholarflow)
	applicationHandler := handler.NewApplicationHandler(deps.scholarflow)
	marketplaceHandler := handler.NewMarketplaceHandler(deps.scholarflow)
	registryHandler := handler.NewRegistryHandler(deps.scholarflow, deps.cfg.Ledger)

	var throttle gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.limiter != nil {
		throttle = deps.limiter.Handler()
	}
	reviewers := middleware.RequireRoles(models.RoleAdmin, models.RoleGrantOwner)

	api.GET("/network", registryHandler.Network)
	api.GET("/registry", registryHandler.Registry)
	api.GET("/grants", grantHandler.List)
	api.GET("/grants/:id", grantHandler.Get)
	api.GET("/stores", marketplaceHandler.Stores)

	authGroup := api.Group("/auth")
	authGroup.POST("/challenge", throttle, authHandler.Challenge)
	authGroup.POST("/connect", throttle, authHandler.Connect)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.POST("/auth/disconnect", authHandler.Disconnect)
	secured.GET("/session", sessionHandler.State)
	secured.DELETE("/session/error", sessionHandler.ClearError)

	secured.POST("/students", throttle, studentHandler.Register)
	secured.POST("/students/:address/verify", middleware.RequireRoles(models.RoleAdmin), throttle, studentHandler.Verify)

	secured.POST("/grants", reviewers, throttle, grantHandler.Create)

	secured.POST("/applications", throttle, applicationHandler.Submit)
	secured.GET("/applications", reviewers, applicationHandler.List)
	secured.POST("/applications/:id/approve", reviewers, throttle, applicationHandler.Approve)
	secured.POST("/applications/:id/reject", reviewers, throttle, applicationHandler.Reject)

	secured.POST("/marketplace/purchases", throttle, marketplaceHandler.Purchase)

	if deps.reports != nil {
		reportHandler := handler.NewReportHandler(deps.reports)
		secured.POST("/grants/:id/reports", reviewers, throttle, reportHandler.Create)
		secured.GET("/reports/:id", reportHandler.Status)
		api.GET("/export/:token", reportHandler.Download)
	}
}

// openLedger builds the authoritative ledger. In local mode it also returns the engine,
// which the maintenance scheduler uses to close expired grants.
func openLedger(ctx context.Context, cfg *config.Config, validate *validator.Validate, authority *authz.Authority, logr *zap.Logger) (ledger.Ledger, *ledger.Engine, *sqlx.DB, error) {
	if cfg.Ledger.Mode == config.LedgerModeRPC {
		client, err := ledger.NewRPCClient(ledger.RPCClientConfig{
			URL:     cfg.Ledger.NodeURL(),
			Token:   cfg.Ledger.RPCToken,
			Timeout: cfg.Ledger.RPCTimeout,
			Logger:  logr,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return client, nil, nil, nil
	}

	var (
		store ledger.Store
		db    *sqlx.DB
		err   error
	)
	switch cfg.Ledger.Store {
	case config.LedgerStorePostgres:
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(db, logr); err != nil {
				db.Close() //nolint:errcheck
				return nil, nil, nil, err
			}
		}
		store = repository.NewLedgerRepository(db)
	default:
		store = ledger.NewMemoryStore()
	}

	seed, err := ledger.LoadSeed(cfg.Ledger.SeedFile)
	if err != nil {
		return nil, nil, db, err
	}
	applied, err := seed.Apply(ctx, store, time.Now().UTC())
	if err != nil {
		return nil, nil, db, err
	}
	if applied {
		logr.Info("ledger seeded", zap.String("file", cfg.Ledger.SeedFile), zap.String("store", cfg.Ledger.Store))
	}

	engine := ledger.NewEngine(store, cfg.Ledger.PackageID, logr,
		ledger.WithValidator(validate),
		ledger.WithAuthority(authority),
	)
	return engine, engine, db, nil
}

func buildReports(cfg *config.Config, l ledger.Ledger, metricsSvc *service.MetricsService, validate *validator.Validate, logr *zap.Logger) (*service.ReportService, *jobs.Queue, error) {
	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exporter := service.NewExportService(l, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)
	reports := service.NewReportService(repository.NewReportJobRepository(), l, exporter, metricsSvc, validate, logr, service.ReportServiceConfig{
		ResultTTL: cfg.Reports.SignedURLTTL,
	})
	queue := jobs.NewQueue(service.ReportJobType, reports.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		OnGiveUp:   reports.GiveUp,
		Logger:     logr,
	})
	reports.SetQueue(queue)
	return reports, queue, nil
}

// prunerGroup fans one housekeeping tick out to every in-process store that forgets idle entries.
type prunerGroup []interface{ Prune() int }

func (g prunerGroup) Prune() int {
	removed := 0
	for _, p := range g {
		removed += p.Prune()
	}
	return removed
}
