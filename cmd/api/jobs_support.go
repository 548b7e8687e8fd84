package main

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/blogme/internal/auth"
	"github.com/yourusername/blogme/internal/config"
	"github.com/yourusername/blogme/internal/jobs"
)

// redisDeps は Redis に依存するコンポーネントをまとめたものです。
// REDIS_URL が空の場合はメモリ上のレート制限のみで動作します。
type redisDeps struct {
	limiter  auth.AttemptLimiter
	events   auth.EventRecorder
	activity auth.ActivityReader

	client  *redis.Client
	manager *jobs.Manager
}

func limiterPolicy(cfg *config.Config) auth.LimiterPolicy {
	return auth.LimiterPolicy{
		MaxAttempts:  cfg.LoginMaxAttempts,
		Window:       time.Duration(cfg.LoginWindowMinutes) * time.Minute,
		LockDuration: time.Duration(cfg.LoginLockMinutes) * time.Minute,
	}
}

func setupRedisDeps(cfg *config.Config, logger *slog.Logger) (*redisDeps, error) {
	policy := limiterPolicy(cfg)
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL is not set; using in-memory login limiter, activity log disabled")
		return &redisDeps{limiter: auth.NewMemoryLimiter(policy)}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opt)

	retention := time.Duration(cfg.ActivityRetentionHours) * time.Hour
	store := jobs.NewStore(redisClient, retention)
	manager, err := jobs.NewManager(cfg.RedisURL, store, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	manager.StartWorkers()

	return &redisDeps{
		limiter:  auth.NewRedisLimiter(redisClient, policy),
		events:   manager,
		activity: manager,
		client:   redisClient,
		manager:  manager,
	}, nil
}

// Close はワーカーと Redis クライアントを停止します。
func (d *redisDeps) Close() {
	if d.manager != nil {
		_ = d.manager.Shutdown(context.Background())
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}
