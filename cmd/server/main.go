package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/api"
	"github.com/webpilot/webpilot/internal/artifact"
	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/executor"
	"github.com/webpilot/webpilot/internal/proxy"
	"github.com/webpilot/webpilot/internal/ratelimit"
	"github.com/webpilot/webpilot/internal/scheduler"
	"github.com/webpilot/webpilot/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting web-pilot",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
		zap.String("launcher", cfg.Launcher))

	// Worker launcher backend.
	var launcher browser.Launcher
	var dockerLauncher *browser.DockerLauncher
	switch cfg.Launcher {
	case config.LauncherDocker:
		dockerLauncher, err = browser.NewDockerLauncher(cfg.DockerImage)
		if err != nil {
			logger.Fatal("failed to create docker launcher", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := dockerLauncher.EnsureImage(ctx); err != nil {
			cancel()
			logger.Fatal("failed to ensure browser image", zap.Error(err))
		}
		cancel()
		launcher = dockerLauncher
		logger.Info("browser image ready", zap.String("image", cfg.DockerImage))
	default:
		launcher = browser.NewLocalLauncher(cfg.BrowserPath)
	}

	pool := browser.NewPool(launcher, cfg.PoolSize, cfg.AdmissionPolicy == config.AdmissionWait, logger)

	store := artifact.NewStore(cfg.ArtifactTTL, logger)
	store.StartSweep(cfg.SweepInterval)

	exec := executor.New(store, cfg.CommandDeadline, logger)

	sessionMgr := session.NewManager(pool, exec, session.Config{
		IdleTimeout:       cfg.SessionIdleTimeout,
		AdmissionDeadline: cfg.AdmissionDeadline,
		MailboxDepth:      cfg.MailboxDepth,
	}, logger)
	sessionMgr.StartSweep(cfg.SweepInterval)

	sched := scheduler.New(sessionMgr, cfg.QueueDepth, logger)
	sched.Start()

	proxyServer := proxy.NewServer(sessionMgr, logger)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateBurst)

	handler := api.NewHandler(sessionMgr, sched, store, logger)
	router := handler.SetupRoutes(proxyServer, rateLimiter, cfg.RateLimitPerHour)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.CommandDeadline,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	sched.Stop()
	sessionMgr.Shutdown()
	if err := pool.Close(); err != nil {
		logger.Warn("pool close", zap.Error(err))
	}
	store.Stop()
	if dockerLauncher != nil {
		_ = dockerLauncher.Close()
	}

	logger.Info("stopped cleanly")
}
