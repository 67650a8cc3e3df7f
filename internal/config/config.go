package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string
	Port          string
	DatabasePath  string
	SessionSecret string
	GinMode       string
	SiteBaseURL   string

	// 缓存后端：RedisAddr 为空时使用内嵌的 Badger 缓存。
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheDir      string

	// NATSURL 为空时实时事件静默丢弃。
	NATSURL string

	RetentionDays      int
	TrendingWindowDays int
	RespectDoNotTrack  bool
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "scanshare.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "scanshare-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	siteBaseURL := strings.TrimSpace(os.Getenv("SITE_BASE_URL"))
	if siteBaseURL == "" {
		siteBaseURL = "http://localhost:" + port
	}

	cacheDir := strings.TrimSpace(os.Getenv("CACHE_DIR"))
	if cacheDir == "" {
		cacheDir = "data/cache"
	}

	return AppConfig{
		ListenAddr:         listenAddr,
		Port:               port,
		DatabasePath:       databasePath,
		SessionSecret:      sessionSecret,
		GinMode:            ginMode,
		SiteBaseURL:        siteBaseURL,
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            intEnv("REDIS_DB", 0),
		CacheDir:           cacheDir,
		NATSURL:            strings.TrimSpace(os.Getenv("NATS_URL")),
		RetentionDays:      intEnv("ANALYTICS_RETENTION_DAYS", 90),
		TrendingWindowDays: intEnv("TRENDING_WINDOW_DAYS", 7),
		RespectDoNotTrack:  boolEnv("RESPECT_DO_NOT_TRACK", true),
	}
}

// Validate 校验数值型配置，防止错误的环境变量悄悄生效。
func (c AppConfig) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s", c.Port)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}
	if c.TrendingWindowDays < 1 {
		return fmt.Errorf("trending window days must be positive, got %d", c.TrendingWindowDays)
	}
	return nil
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
