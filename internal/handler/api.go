package handler

import (
	"log/slog"

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/config"
	"github.com/scanshare/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	cfg       config.AppConfig
	svc       *service.IntegratedService
	reports   *service.CachedReportService
	analytics *service.AnalyticsService
	store     cache.Store
	logger    *slog.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, svc *service.IntegratedService, store cache.Store, logger *slog.Logger) *API {
	return &API{
		db:        gdb,
		cfg:       cfg,
		svc:       svc,
		reports:   svc.Reports(),
		analytics: svc.Analytics(),
		store:     store,
		logger:    logger,
	}
}
