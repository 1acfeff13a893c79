package repositories

import (
	"context"
	"testing"

	"rillrec/internal/infrastructure/repositories/memory"
	"rillrec/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())

	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryChannelRepository{}, f.CreateChannelRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())

	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryChannelRepository{}, f.CreateChannelRepository())
}
