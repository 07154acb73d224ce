package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mailscan/internal/api"
	"mailscan/internal/config"
	"mailscan/internal/cursor"
	"mailscan/internal/health"
	"mailscan/internal/logger"
	"mailscan/internal/mailbox"
	"mailscan/internal/metrics"
	"mailscan/internal/middleware"
	"mailscan/internal/sanitizer"
	"mailscan/internal/scan"
	"mailscan/internal/storage"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	// Cursor store is optional; without it scans still run but there is no
	// server-side auto-resume.
	var cursorStore *cursor.Store
	if cfg.Cursor.Path != "" {
		store, err := cursor.Open(cfg.Cursor.Path)
		if err != nil {
			log.Error("Failed to open cursor store", "error", err, "path", cfg.Cursor.Path)
			os.Exit(1)
		}
		defer store.Close()
		cursorStore = store
		log.Info("Cursor store ready", "path", cfg.Cursor.Path)

		dbStats := metrics.NewDBStatsCollector(store)
		dbStats.Start(30 * time.Second)
		defer dbStats.Stop()
	}

	// Archiving is optional and only enabled when a bucket is configured.
	var archiveService *storage.ArchiveService
	if cfg.Storage.Bucket != "" {
		svc, err := storage.NewArchiveService(cfg.Storage)
		if err != nil {
			log.Error("Failed to initialize archive storage", "error", err)
			os.Exit(1)
		}
		archiveService = svc
		log.Info("Attachment archiving enabled", "bucket", cfg.Storage.Bucket)
	}

	dialer := mailbox.NewDialer(log)
	orchestrator := scan.NewOrchestrator(log)
	retriever := scan.NewRetriever(log)
	htmlSanitizer := sanitizer.New()

	handler := api.NewHandler(
		dialer,
		orchestrator,
		retriever,
		cursorStore,
		archiveService,
		htmlSanitizer,
		cfg.IMAP,
		log,
	)
	healthHandler := health.NewHandler(cursorStore, version)

	var authenticate func(next http.Handler) http.Handler
	if cfg.Auth.Secret != "" {
		authenticate = middleware.NewAuthMiddleware(cfg.Auth.Secret, cfg.Auth.Issuer).Authenticate
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewLoggingMiddleware(log).Handler)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window).Handler)

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		api.RegisterRoutes(r, handler, authenticate)
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streaming scans hold the response open for as
		// long as the mailbox takes to walk.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting server", "addr", cfg.Server.Addr(), "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}
