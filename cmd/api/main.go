package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/lanekeeper/swim-ops-api/api/swagger"
	"github.com/lanekeeper/swim-ops-api/internal/handler"
	"github.com/lanekeeper/swim-ops-api/internal/middleware"
	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/internal/repository"
	"github.com/lanekeeper/swim-ops-api/internal/service"
	"github.com/lanekeeper/swim-ops-api/pkg/cache"
	"github.com/lanekeeper/swim-ops-api/pkg/config"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	"github.com/lanekeeper/swim-ops-api/pkg/database"
	"github.com/lanekeeper/swim-ops-api/pkg/jobs"
	"github.com/lanekeeper/swim-ops-api/pkg/logger"
	corsmiddleware "github.com/lanekeeper/swim-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lanekeeper/swim-ops-api/pkg/middleware/requestid"
)

// @title Swim Ops API
// @version 0.1.0
// @description Enrolment coverage, credits and makeup capacity for the swim school
// @BasePath /
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

	loc, err := time.LoadLocation(cfg.Business.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid business timezone", "timezone", cfg.Business.Timezone, "error", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	// Repositories.
	planRepo := repository.NewPlanRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	enrolmentRepo := repository.NewEnrolmentRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	creditRepo := repository.NewCreditEventRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	sweepStateRepo := repository.NewSweepStateRepository(db)

	metricsSvc := service.NewMetricsService()
	resolver := service.NewCoverageResolver(loc)

	// Capacity computations are cached in redis when enabled; everything
	// else is served straight from postgres.
	var cacheSvc *service.CacheService
	if cfg.Capacity.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Capacity.CacheTTL, logr, true)
	} else {
		cacheSvc = service.NewCacheService(nil, metricsSvc, cfg.Capacity.CacheTTL, logr, false)
	}

	// Services.
	ledgerSvc := service.NewCreditLedgerService(creditRepo, enrolmentRepo, db, metricsSvc, loc, nil, logr)
	applierSvc := service.NewEntitlementService(invoiceRepo, enrolmentRepo, planRepo, templateRepo, holidayRepo, creditRepo, ledgerSvc, resolver, db, metricsSvc, logr)
	sweepSvc := service.NewSweepService(
		enrolmentRepo,
		planRepo,
		templateRepo,
		holidayRepo,
		sweepStateRepo,
		resolver,
		db,
		metricsSvc,
		loc,
		service.SweepConfig{BatchSize: cfg.Sweep.BatchSize, Interval: cfg.Sweep.Interval},
		logr,
		jobs.QueueConfig{BufferSize: cfg.Sweep.QueueBuffer, Logger: logr},
	)
	invoiceSvc := service.NewInvoiceService(invoiceRepo, enrolmentRepo, planRepo, templateRepo, holidayRepo, applierSvc, resolver, db, nil, logr)
	enrolmentSvc := service.NewEnrolmentService(enrolmentRepo, templateRepo, planRepo, holidayRepo, resolver, db, nil, logr)
	holidaySvc := service.NewHolidayService(holidayRepo, templateRepo, enrolmentRepo, ledgerSvc, sweepSvc, db, nil, logr)
	capacitySvc := service.NewCapacityService(templateRepo, enrolmentRepo, attendanceRepo, holidayRepo, cacheSvc, db, metricsSvc, nil, logr)
	levelChangeSvc := service.NewLevelChangeService(enrolmentRepo, templateRepo, planRepo, creditRepo, ledgerSvc, db, nil, logr)
	authSvc := service.NewAuthService(cfg.JWT, logr)

	// Handlers.
	enrolmentHandler := handler.NewEnrolmentHandler(enrolmentSvc, ledgerSvc, levelChangeSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	holidayHandler := handler.NewHolidayHandler(holidaySvc)
	capacityHandler := handler.NewCapacityHandler(capacitySvc)
	sweepHandler := handler.NewSweepHandler(sweepSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sweep.Enabled {
		if err := sweepSvc.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start sweep workers", "error", err)
		}
		defer sweepSvc.Stop()
		go runPeriodicSweep(ctx, sweepSvc, cfg.Sweep.Interval, loc, logr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	staff := api.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))
	{
		staff.GET("/enrolments", enrolmentHandler.List)
		staff.GET("/enrolments/:id", enrolmentHandler.Get)
		staff.POST("/enrolments", enrolmentHandler.Create)
		staff.PUT("/enrolments/:id/pause", enrolmentHandler.Pause)
		staff.PUT("/enrolments/:id/resume", enrolmentHandler.Resume)
		staff.PUT("/enrolments/:id/cancel", enrolmentHandler.Cancel)
		staff.GET("/enrolments/:id/coverage", enrolmentHandler.CoveragePreview)
		staff.GET("/enrolments/:id/credits", enrolmentHandler.Credits)
		staff.POST("/enrolments/:id/level-change", enrolmentHandler.ChangeLevel)

		staff.GET("/invoices/:id", invoiceHandler.Get)
		staff.POST("/invoices/preview", invoiceHandler.Preview)
		staff.POST("/invoices", invoiceHandler.Issue)
		staff.POST("/invoices/:id/paid", invoiceHandler.MarkPaid)

		staff.GET("/holidays", holidayHandler.List)

		staff.GET("/capacity/availabilities", capacityHandler.Availabilities)
		staff.POST("/capacity/makeups", capacityHandler.BookMakeup)
	}

	admin := api.Group("", middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/enrolments/:id/credits", enrolmentHandler.AdjustCredits)

		admin.POST("/holidays", holidayHandler.Create)
		admin.PUT("/holidays/:id", holidayHandler.Update)
		admin.DELETE("/holidays/:id", holidayHandler.Delete)
		admin.POST("/cancellations", holidayHandler.CancelOccurrence)
		admin.DELETE("/cancellations/:templateId/:date", holidayHandler.UncancelOccurrence)

		admin.POST("/sweep/recompute", sweepHandler.Recompute)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// runPeriodicSweep re-projects coverage over a rolling horizon so paid
// through projections converge even when a mutation's enqueue was lost.
func runPeriodicSweep(ctx context.Context, sweep *service.SweepService, interval time.Duration, loc *time.Location, logr *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := daykey.Today(loc)
			horizon := models.DateRange{Start: today.AddDays(-7), End: today.AddDays(180)}
			if _, err := sweep.MaybeRunPeriodic(ctx, horizon); err != nil {
				logr.Sugar().Warnw("periodic sweep failed", "error", err)
			}
		}
	}
}
