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

	"github.com/dledger/slipchain/backend/config"
	"github.com/dledger/slipchain/backend/handler"
	"github.com/dledger/slipchain/backend/middleware"
	"github.com/dledger/slipchain/backend/pkg/logger"
	"github.com/dledger/slipchain/backend/service"
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

	// Open the local mirror database
	db, err := service.OpenDatabase(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	store := service.NewSlipStore(db)

	// Connect to the ledger RPC endpoint
	ledgerSvc, err := service.DialLedger(&cfg.Ledger)
	if err != nil {
		slog.Error("failed to connect to ledger", "error", err)
		os.Exit(1)
	}
	slog.Info("ledger client ready",
		"contract", cfg.Ledger.ContractAddress,
		"issuer", ledgerSvc.From(),
	)

	pinningSvc := service.NewPinningService(&cfg.Pinning)
	identitySvc := service.NewIdentityService(&cfg.Identity)

	// Receipt archive is optional; without an endpoint the registry
	// skips archiving.
	var archive service.Archiver
	if cfg.Archive.Endpoint != "" {
		archiveSvc, err := service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize archive service", "error", err)
			os.Exit(1)
		}
		if err := archiveSvc.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
		archive = archiveSvc
	}

	registry := service.NewRegistryService(pinningSvc, ledgerSvc, store, archive)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	warrantyHandler := handler.NewWarrantyHandler(registry, store, ledgerSvc, identitySvc, cfg)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		mirrored, err := store.Count(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"mirrored":  mirrored,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/upload", warrantyHandler.Upload)
		api.GET("/records", warrantyHandler.List)
		api.POST("/register-warranty", warrantyHandler.Register)
		api.GET("/warranty/:device_id", warrantyHandler.GetByDevice)
		api.GET("/warranty/:device_id/validity", warrantyHandler.Validity)
	}

	// Issuer operations run with the service signing key
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.GET("/warranty", warrantyHandler.Issued)
		protected.POST("/warranty/:device_id/extend", warrantyHandler.Extend)
		protected.POST("/warranty/:device_id/document", warrantyHandler.UpdateDocument)
		protected.POST("/warranty/:device_id/transfer", warrantyHandler.Transfer)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
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
