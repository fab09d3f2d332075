package cache

import (
	"fmt"

	"github.com/usagebill/backend/internal/domain/shared"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LockerFactory creates lockers based on configuration
type LockerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory locker when Redis is unavailable
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisLocker connects to Redis and returns a distributed locker
func (f *LockerFactory) CreateRedisLocker() (*RedisLocker, error) {
	client, err := NewRedisClient(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis locker: %w", err)
	}
	return NewRedisLocker(client, "usagebill:lock:"), nil
}

// CreateLocker returns a Redis locker when Redis is enabled and reachable.
// With Redis disabled, or unreachable and fallback allowed, it returns an
// in-memory locker.
func (f *LockerFactory) CreateLocker() (shared.Locker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory locks")
		return NewInMemoryLocker(), nil
	}

	locker, err := f.CreateRedisLocker()
	if err == nil {
		f.logger.Info("Using Redis locks",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port))
		return locker, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory locks. "+
		"Two instances may then rate the same window concurrently; idempotency keys still prevent duplicate documents.",
		zap.Error(err))
	return NewInMemoryLocker(), nil
}
