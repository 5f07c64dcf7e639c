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

	"fleet-dispatch/internal/audit"
	"fleet-dispatch/internal/auth"
	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/config"
	"fleet-dispatch/internal/dispatch"
	"fleet-dispatch/internal/feed"
	"fleet-dispatch/internal/httpapi"
	"fleet-dispatch/internal/reporting"
	"fleet-dispatch/internal/telephony"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Record store, wrapped so every committed write fans out to the
	// dashboard feed.
	store := feed.NewNotifyingStore(
		batch.NewPostgresStore(db),
		&feed.RedisPublisher{Client: rdb},
	)

	provider := telephony.NewVoxioProvider(cfg.Voxio.BaseURL, cfg.Voxio.APIKey, cfg.Voxio.AgentName)

	dispatcher := &dispatch.Dispatcher{
		Store:    store,
		Provider: provider,
		Lock:     &dispatch.RedisBatchLock{Client: rdb},
		Delay:    cfg.Dispatch.CallDelay,
	}
	ingestor := &dispatch.Ingestor{Store: store}

	watchdog := &dispatch.Watchdog{
		Store:    store,
		Provider: provider,
		Interval: cfg.Dispatch.WatchdogInterval,
		Deadline: cfg.Dispatch.StuckDeadline,
	}
	go func() {
		if err := watchdog.Run(logger.With(rootCtx, log)); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("watchdog stopped", "err", err)
		}
	}()

	h := httpapi.Handlers{
		Auth:       authManager,
		Store:      store,
		Dispatcher: dispatcher,
		Ingestor:   ingestor,
		Reports:    reporting.NewService(store),
		Audit:      audit.NewService(audit.NewPostgresRepo(db)),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Dispatch triggers run the throttled loop inline; give them room.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
