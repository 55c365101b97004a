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

	"github.com/gin-gonic/gin"
	"github.com/inkblog/internal/auth"
	"github.com/inkblog/internal/config"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/handler"
	"github.com/inkblog/internal/logging"
	"github.com/inkblog/internal/ratelimit"
	"github.com/inkblog/internal/router"
	"github.com/inkblog/internal/service"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	logger := logging.New(logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})
	slog.SetDefault(logger)
	if err != nil {
		// 缺少特权密钥时拒绝启动
		return err
	}
	if cfg.AnonKey == "" {
		logger.Warn("ANON_KEY is not set, the public API is unguarded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	gdb, err := db.Open(db.Options{Driver: cfg.StoreDriver, URL: cfg.StoreURL})
	if err != nil {
		return err
	}
	defer closeDB(gdb, logger)

	tokens, err := newTokenStore(ctx, cfg, gdb, logger)
	if err != nil {
		return err
	}
	provider := auth.NewProvider(gdb, tokens, auth.ProviderOptions{
		Secret:     []byte(cfg.ServiceKey),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, logger)

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if _, created, err := provider.EnsureUser(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		} else if created {
			logger.Info("bootstrap admin created", "email", cfg.AdminEmail)
		}
	}

	views := service.NewViewRecorder(service.NewPostService(gdb, logger), logger, cfg.ViewQueueSize)
	limiter := ratelimit.New(time.Minute/5, 5)

	api := handler.NewAPI(gdb, handler.Options{
		Auth:         provider,
		Views:        views,
		LoginLimiter: limiter,
		Logger:       logger,
		AnonKey:      cfg.AnonKey,
		SiteBaseURL:  cfg.SiteBaseURL,
		UploadDir:    cfg.UploadDir,
		UploadURL:    cfg.UploadURLPath,
	})

	gin.SetMode(cfg.GinMode)
	r := router.SetupRouter(api, router.Options{
		SessionSecret: cfg.SessionSecret,
		SessionMaxAge: cfg.RefreshTokenTTL,
		SecureCookie:  gin.Mode() == gin.ReleaseMode,
		UploadDir:     cfg.UploadDir,
		UploadURL:     cfg.UploadURLPath,
		Logger:        logger,
	})

	go housekeeping(ctx, limiter, tokens, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := views.Close(shutdownCtx); err != nil {
		logger.Warn("view recorder did not drain", "error", err)
	}
	return nil
}

func newTokenStore(ctx context.Context, cfg config.AppConfig, gdb *gorm.DB, logger *slog.Logger) (auth.TokenStore, error) {
	if cfg.RedisURL == "" {
		return auth.NewGormTokenStore(gdb), nil
	}
	client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("refresh tokens stored in redis")
	return auth.NewRedisTokenStore(client), nil
}

// housekeeping 定期清理限流器和过期刷新令牌
func housekeeping(ctx context.Context, limiter *ratelimit.KeyedRateLimiter, tokens auth.TokenStore, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep()
			if store, ok := tokens.(*auth.GormTokenStore); ok {
				if purged, err := store.PurgeExpired(ctx, now); err != nil {
					logger.Warn("purge expired refresh tokens", "error", err)
				} else if purged > 0 {
					logger.Info("purged expired refresh tokens", "count", purged)
				}
			}
		}
	}
}

func closeDB(gdb *gorm.DB, logger *slog.Logger) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("close database", "error", err)
	}
}
