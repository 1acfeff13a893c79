package repositories

import (
	"context"

	"rillrec/internal/core/ports"
	"rillrec/internal/infrastructure/repositories/memory"
	redisrepo "rillrec/internal/infrastructure/repositories/redis"
	"rillrec/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks Redis backed stores when Redis is configured and
// reachable, in-memory ones otherwise.
type RepositoryFactory struct {
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("redis unavailable, falling back to memory repositories", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	if factory.redisClient == nil {
		logger.Info("using memory repositories")
	}
	return factory
}

func (f *RepositoryFactory) CreateChannelRepository() ports.ChannelRepository {
	if f.redisClient != nil {
		return redisrepo.NewRedisChannelRepository(f.redisClient)
	}
	return memory.NewMemoryChannelRepository()
}

// RedisClient returns the shared client, nil when running on memory stores.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings Redis when it is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
