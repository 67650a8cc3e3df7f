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

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/config"
	"github.com/scanshare/internal/db"
	"github.com/scanshare/internal/feature"
	"github.com/scanshare/internal/handler"
	"github.com/scanshare/internal/realtime"
	"github.com/scanshare/internal/router"
	"github.com/scanshare/internal/service"
)

const cleanupInterval = 24 * time.Hour

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 功能门控表在启动时校验，配置错误直接拒绝启动。
	if err := feature.ValidateRules(); err != nil {
		logger.Error("invalid feature rules", "error", err)
		os.Exit(1)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	store, err := newCacheStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	emitter := newEmitter(cfg, logger)
	if natsEmitter, ok := emitter.(*realtime.NATSEmitter); ok {
		defer natsEmitter.Close()
	}

	reports := service.NewCachedReportService(
		service.NewReportService(db.DB, emitter, logger), store, logger)
	analytics := service.NewAnalyticsService(db.DB, store, logger).
		WithRetention(cfg.RetentionDays).
		WithDoNotTrackPolicy(cfg.RespectDoNotTrack)
	integrated := service.NewIntegratedService(reports, analytics, store, logger)

	// 启动时预热最近公开报告的缓存。
	reports.PreloadRecentReports()

	api := handler.NewAPI(db.DB, cfg, integrated, store, logger)
	engine := router.SetupRouter(cfg, api)

	stopCleanup := startCleanupJob(analytics, logger)
	defer close(stopCleanup)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// newCacheStore 根据配置选择缓存后端：配置了 Redis 用 Redis，
// 否则退回内嵌的 Badger 缓存。
func newCacheStore(cfg config.AppConfig, logger *slog.Logger) (cache.Store, error) {
	if cfg.RedisAddr != "" {
		logger.Info("using redis cache", "addr", cfg.RedisAddr)
		return cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	logger.Info("using embedded badger cache", "dir", cfg.CacheDir)
	return cache.NewBadgerStore(cache.BadgerOptions{Path: cfg.CacheDir})
}

// newEmitter 在配置了 NATS 时连接消息总线，否则静默丢弃事件。
func newEmitter(cfg config.AppConfig, logger *slog.Logger) realtime.Emitter {
	if cfg.NATSURL == "" {
		return realtime.NoopEmitter{}
	}
	emitter, err := realtime.NewNATSEmitter(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("nats unavailable, realtime events disabled", "error", err)
		return realtime.NoopEmitter{}
	}
	return emitter
}

// startCleanupJob 周期清理保留窗口外的统计数据。
func startCleanupJob(analytics *service.AnalyticsService, logger *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(cleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				views, shares, err := analytics.CleanupOldData()
				if err != nil {
					logger.Error("analytics cleanup failed", "error", err)
					continue
				}
				logger.Info("analytics cleanup done", "views", views, "shares", shares)
			case <-stop:
				return
			}
		}
	}()

	return stop
}
