package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/complymed/backend/config"
	"github.com/complymed/backend/extract"
	"github.com/complymed/backend/handler"
	"github.com/complymed/backend/middleware"
	"github.com/complymed/backend/pipeline"
	"github.com/complymed/backend/pkg/logger"
	"github.com/complymed/backend/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}
	if err := minioSvc.EnsureBuckets(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO buckets", "error", err)
		os.Exit(1)
	}

	store, err := service.NewPostgresStore(context.Background(), &cfg.Postgres)
	if err != nil {
		slog.Error("failed to initialize postgres store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	llmSvc := service.NewLLMService(&cfg.LLM)
	if !llmSvc.Configured() {
		slog.Warn("no LLM credential configured, model-based analysis and vision fallback disabled")
	}

	extractor := extract.New(cfg.Pipeline.MinTextLength, llmSvc)
	analyzer := pipeline.NewAnalyzer(llmSvc, store, cfg.Pipeline)
	processor := pipeline.NewProcessor(minioSvc, store, llmSvc, extractor, analyzer, cfg.Pipeline,
		cfg.Minio.SubmissionsBucket, cfg.Minio.RegulationsBucket)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	submissionHandler := handler.NewSubmissionHandler(store, minioSvc, processor, cfg.Minio.SubmissionsBucket)
	regulationHandler := handler.NewRegulationHandler(store, minioSvc, processor, cfg.Minio.RegulationsBucket)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(middleware.RateLimit(100, time.Minute))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if err := store.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/submissions", submissionHandler.Upload)
		protected.GET("/submissions", submissionHandler.List)
		protected.GET("/submissions/:id", submissionHandler.Get)
		protected.GET("/submissions/:id/status", submissionHandler.GetStatus)
		protected.POST("/submissions/:id/analyze", submissionHandler.Analyze)
		protected.GET("/submissions/:id/report.xlsx", submissionHandler.Report)
		protected.DELETE("/submissions/:id", submissionHandler.Delete)

		protected.GET("/regulations", regulationHandler.List)

		// Corpus management is reviewer-only
		reviewer := protected.Group("/")
		reviewer.Use(middleware.RequireRole("reviewer"))
		{
			reviewer.POST("/regulations", regulationHandler.Create)
			reviewer.POST("/regulations/:id/process", regulationHandler.Process)
		}
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
