package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/calebmorrow/hearthside/internal/config"
	"github.com/calebmorrow/hearthside/internal/database"
	"github.com/calebmorrow/hearthside/internal/jobs"
	"github.com/calebmorrow/hearthside/internal/logging"
	"github.com/calebmorrow/hearthside/internal/server"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Reminder loop; nil when push is unconfigured.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(bgCtx)
		defer sched.Stop()
	}

	// In-process cron plan. Deployments that drive the /api/cron endpoints
	// from an external crontab run with HEARTHSIDE_SCHEDULER=false.
	var jobSched *jobs.Scheduler
	if cfg.SchedulerEnabled {
		jobSched = jobs.NewScheduler(srv.Runner(), logger)
		if err := jobSched.Start(); err != nil {
			logger.Error("start scheduler", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		logger.Info("hearthside starting",
			"addr", cfg.Addr,
			"base_url", cfg.BaseURL,
			"email", cfg.EmailEnabled(),
			"push", cfg.PushEnabled(),
			"billing", cfg.BillingEnabled(),
			"export", cfg.ExportEnabled(),
			"scheduler", cfg.SchedulerEnabled,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if jobSched != nil {
		jobSched.Stop()
	}
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
