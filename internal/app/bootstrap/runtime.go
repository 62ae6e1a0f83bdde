package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/internal/worker/notifierbot"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// BuildLogger creates the process logger from the LOG_* settings. A sink
// that cannot be opened falls back to console-only logging.
func BuildLogger(cfg *appconfig.Config, component string) *logging.Logger {
	logger, err := logging.NewWithOptions(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		FilePath:  cfg.LogFile,
		Component: component,
	})
	if err != nil {
		logger = logging.New(cfg.LogLevel).Component(component)
		logger.Warn("log file unavailable, logging to console only", "path", cfg.LogFile, "error", err)
	}
	return logger
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildOffsetStore persists the bot update offset in Redis when available,
// otherwise in memory for the life of the process.
func BuildOffsetStore(redisClient *redis.Client, logger *logging.Logger) notifierbot.OffsetStore {
	if redisClient == nil {
		if logger != nil {
			logger.Info("redis disabled, update offset kept in memory")
		}
		return &notifierbot.MemoryOffsetStore{}
	}
	return notifierbot.NewRedisOffsetStore(redisClient, notifierbot.DefaultOffsetKey)
}
