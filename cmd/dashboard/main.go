package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/admin"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/auth"
	dashboardhttp "github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard/http"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
	uploadhttp "github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload/http"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	components, err := app.Build(ctx, cfg, logger, app.BuildOptions{Enqueue: true})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()
	if components.Pool == nil {
		logger.Info("PG_DSN not set, direct Postgres fallbacks disabled")
	}

	sessionManager := shared.NewSessionManager(components.Redis, "dashboard_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authService := auth.NewService(components.Backend, admin.NewRPCRepository(components.Backend))
	authMiddleware := auth.NewMiddleware(authService, sessionManager, cfg.IngestTokenHash, logger)
	if cfg.IngestTokenHash == "" {
		logger.Info("INGEST_TOKEN_HASH not set, bearer uploads disabled")
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthMiddleware:   authMiddleware,
		AuthHandler:      auth.NewHandler(logger, authService, sessionManager, csrfManager),
		DashboardHandler: dashboardhttp.NewHandler(logger, components.Dashboard, components.Refresh),
		UploadHandler:    uploadhttp.NewHandler(logger, components.Uploads, components.Idempotency, components.Audit),
		AdminHandler:     admin.NewHandler(logger, components.Admin),
		JobHandler:       jobs.NewHandler(components.Jobs.Inspector(), logger),
		Metrics:          components.Metrics,
		HealthChecks:     components.HealthChecks(),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("cache", cfg.CacheBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
