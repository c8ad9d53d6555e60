package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/etapa-dev/sgp-workflow-api/api/swagger"
	"github.com/etapa-dev/sgp-workflow-api/internal/handler"
	"github.com/etapa-dev/sgp-workflow-api/internal/middleware"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/notify"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	"github.com/etapa-dev/sgp-workflow-api/pkg/cache"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
	"github.com/etapa-dev/sgp-workflow-api/pkg/database"
	"github.com/etapa-dev/sgp-workflow-api/pkg/logger"
	corsmiddleware "github.com/etapa-dev/sgp-workflow-api/pkg/middleware/cors"
	reqidmiddleware "github.com/etapa-dev/sgp-workflow-api/pkg/middleware/requestid"
	"github.com/etapa-dev/sgp-workflow-api/pkg/storage"
)

// @title SGP Workflow API
// @version 1.0.0
// @description Assignment and follow-up workflow engine for practice requests
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, redisErr := cache.NewRedis(cfg.Redis)
	if redisErr != nil {
		logr.Warn("redis unavailable, caching disabled and events logged locally", zap.Error(redisErr))
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	requestRepo := repository.NewRequestRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	trailRepo := repository.NewMessageTrailRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metrics := service.NewMetricsService()

	var cacheService *service.CacheService
	if redisErr == nil {
		cacheService = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Workflow.QueueCacheTTL, logr, true)
	} else {
		cacheService = service.NewCacheService(nil, metrics, cfg.Workflow.QueueCacheTTL, logr, false)
	}

	var publisher notify.Publisher
	if redisErr == nil {
		publisher = notify.NewRedisPublisher(redisClient, cfg.Notifications.Channel)
	} else {
		publisher = notify.PublisherFunc(func(_ context.Context, event models.WorkflowEvent) error {
			logr.Info("workflow event",
				zap.String("subject_role", string(event.SubjectRole)),
				zap.String("subject_id", event.SubjectID),
				zap.String("title", event.Title))
			return nil
		})
	}
	dispatcher := notify.NewDispatcher(publisher, cfg.Notifications, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	evidenceStore, err := storage.NewLocalStorage(cfg.Visits.EvidenceStorageDir)
	if err != nil {
		logr.Fatal("failed to init evidence storage", zap.Error(err))
	}
	evidenceSigner := storage.NewSignedURLSigner(cfg.Visits.SignedURLSecret, cfg.Visits.SignedURLTTL)

	validate := validator.New()
	planner := service.NewOffsetPlanner(cfg.Visits)
	tokenService := service.NewTokenService(cfg.JWT)
	workflowService := service.NewWorkflowService(requestRepo, assignmentRepo, trailRepo, auditRepo, planner, dispatcher, cacheService, metrics, validate, logr)
	visitService := service.NewVisitService(assignmentRepo, evidenceStore, evidenceSigner, auditRepo, dispatcher, metrics, cfg.Visits, logr)

	var exportService *service.ExportService
	if cfg.Exports.Enabled {
		exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init export storage", zap.Error(err))
		}
		exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService = service.NewExportService(assignmentRepo, exportStore, exportSigner, cfg.Exports, logr)
		exportService.StartCleanup()
		defer exportService.StopCleanup()
	}

	workflowHandler := handler.NewWorkflowHandler(workflowService)
	visitHandler := handler.NewVisitHandler(visitService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Signed tokens authorize downloads on their own.
	api.GET("/evidence", visitHandler.DownloadEvidence)

	authed := api.Group("", middleware.Authenticated(tokenService))

	requests := authed.Group("/requests")
	requests.POST("/:id/assign", middleware.RequireRoles(models.RoleCoordinator, models.RoleOperator), workflowHandler.Assign)
	requests.POST("/:id/valuation", middleware.RequireRoles(models.RoleInstructor), workflowHandler.InstructorValuation)
	requests.POST("/:id/review", middleware.RequireRoles(models.RoleCoordinator), workflowHandler.CoordinatorReview)
	requests.POST("/:id/confirm", middleware.RequireRoles(models.RoleOperator), workflowHandler.OperatorConfirm)
	requests.GET("/:id/messages", workflowHandler.MessageTrail)
	requests.GET("/:id/assignments", workflowHandler.AssignmentHistory)

	authed.GET("/review-queue", middleware.RequireRoles(models.RoleCoordinator, models.RoleOperator), workflowHandler.ReviewQueue)

	assignments := authed.Group("/assignments")
	assignments.POST("/:id/reassign", middleware.RequireRoles(models.RoleCoordinator), workflowHandler.Reassign)
	assignments.GET("/:id/visits", visitHandler.Ledger)
	assignments.POST("/:id/visits/complete", middleware.RequireRoles(models.RoleInstructor), visitHandler.CompleteVisit)
	assignments.GET("/:id/visits/:milestone/evidence-link", visitHandler.EvidenceLink)

	if exportService != nil {
		exportHandler := handler.NewExportHandler(exportService)
		assignments.POST("/:id/export", middleware.RequireRoles(models.RoleCoordinator, models.RoleOperator), exportHandler.FollowUpSummary)
		api.GET("/exports/download", exportHandler.Download)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}
