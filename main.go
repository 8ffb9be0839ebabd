package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/handler"
	"github.com/surajmurari02/ocr-card/middleware"
	"github.com/surajmurari02/ocr-card/pkg/logger"
	"github.com/surajmurari02/ocr-card/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logCloser, err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("configuration loaded successfully",
		"env", cfg.App.Env,
		"ocr_api_url", cfg.OCR.APIURL,
		"max_file_size", service.FormatMB(cfg.Upload.MaxFileSize),
	)

	// Initialize services
	ocrClient, err := service.NewOCRClient(&cfg.OCR)
	if err != nil {
		slog.Error("failed to initialize OCR client", "error", err)
		os.Exit(1)
	}

	deps := service.ControllerDeps{
		Validator: service.NewFileValidator(&cfg.Upload),
		Preparer:  service.NewImageProcessor(cfg.PreprocessImages()),
		Scanner:   ocrClient,
		Exporter:  service.NewResultFormatter(),
		Deadline:  cfg.ScanDeadline(),
	}
	registry := service.NewSessionRegistry(&cfg.Session, func(sessionID string) *service.UploadController {
		return service.NewUploadController(sessionID, deps)
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.Run(sweepCtx, 5*time.Minute)

	// Initialize handlers
	scanHandler := handler.NewScanHandler(registry)
	healthHandler := handler.NewHealthHandler(cfg, ocrClient)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	if cfg.SecurityHeadersEnabled() {
		router.Use(middleware.SecurityHeaders())
	}
	router.Use(middleware.CORS(cfg.Security.CORSOrigins))
	if cfg.RateLimitEnabled() {
		router.Use(middleware.RateLimit(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow, "/health"))
	}

	handler.RegisterFallbacks(router)
	router.GET("/health", healthHandler.Live)

	if dir := cfg.Server.StaticDir; dir != "" {
		slog.Info("serving static files", "directory", dir)
		static := router.Group("/")
		static.Use(staticCache())
		static.Static("/static", dir)
		static.StaticFile("/", filepath.Join(dir, "index.html"))
	}

	session := router.Group("/")
	session.Use(middleware.Session(cfg))
	{
		upload := session.Group("/process_image")
		upload.Use(middleware.NoStore())
		upload.Use(middleware.BodyLimit(cfg.Server.MaxContentLength, service.FormatMB(cfg.Server.MaxContentLength)))
		upload.POST("", scanHandler.ProcessImage)

		api := session.Group("/api")
		api.Use(middleware.NoStore())
		api.GET("/health", healthHandler.Health)
		api.GET("/info", healthHandler.Info)
		api.GET("/scan", scanHandler.State)
		api.POST("/scan/reset", scanHandler.Reset)
		api.GET("/export/:format", scanHandler.Export)
	}

	// The write timeout has to outlast a scan with all its retries.
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.ScanDeadline() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully", "sessions", registry.Count())
}

// configPath prefers CONFIG_FILE, then ./config.yaml when present. An empty
// path means environment only.
func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// staticCache sets cache headers for the page assets (1 hour).
func staticCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasSuffix(path, ".js") ||
			strings.HasSuffix(path, ".css") ||
			strings.HasSuffix(path, ".html") ||
			path == "/" {
			c.Header("Cache-Control", "public, max-age=3600, must-revalidate")
		}
		c.Next()
	}
}
