package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingServiceKey 表示未配置特权密钥，服务端路径无法启动。
var ErrMissingServiceKey = errors.New("SERVICE_KEY is required")

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr      string
	Port            string
	GinMode         string
	StoreDriver     string
	StoreURL        string
	AnonKey         string
	ServiceKey      string
	SessionSecret   string
	RedisURL        string
	UploadDir       string
	UploadURLPath   string
	SiteBaseURL     string
	LogLevel        string
	LogFormat       string
	AdminEmail      string
	AdminPassword   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ViewQueueSize   int
}

// Load 从环境变量读取应用配置，并为缺失项提供默认值。
// 当前目录存在 .env 时先加载它；已设置的环境变量优先。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	port := env("PORT", "8080")

	cfg := AppConfig{
		ListenAddr:    env("LISTEN_ADDR", fmt.Sprintf(":%s", port)),
		Port:          port,
		GinMode:       env("GIN_MODE", "release"),
		StoreDriver:   strings.ToLower(env("STORE_DRIVER", "sqlite")),
		StoreURL:      env("STORE_URL", "data/inkblog.db"),
		AnonKey:       env("ANON_KEY", ""),
		ServiceKey:    env("SERVICE_KEY", ""),
		SessionSecret: env("SESSION_SECRET", "inkblog-dev-secret"),
		RedisURL:      env("REDIS_URL", ""),
		UploadDir:     env("UPLOAD_DIR", "data/uploads"),
		UploadURLPath: env("UPLOAD_URL_PATH", "/uploads"),
		SiteBaseURL:   strings.TrimRight(env("SITE_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      env("LOG_LEVEL", "info"),
		LogFormat:     env("LOG_FORMAT", "json"),
		AdminEmail:    env("ADMIN_EMAIL", ""),
		AdminPassword: env("ADMIN_PASSWORD", ""),
	}

	var err error
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return AppConfig{}, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return AppConfig{}, err
	}
	if cfg.ViewQueueSize, err = intEnv("VIEW_QUEUE_SIZE", 256); err != nil {
		return AppConfig{}, err
	}

	if cfg.ServiceKey == "" {
		return cfg, ErrMissingServiceKey
	}

	return cfg, nil
}

func env(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := env(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := env(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}
