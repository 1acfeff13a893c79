package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisChannelRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisChannelRepository(client *redis.Client) ports.ChannelRepository {
	return &RedisChannelRepository{
		client: client,
		prefix: "rillrec:channel:",
	}
}

func (r *RedisChannelRepository) channelKey(id domain.ChannelID) string {
	return r.prefix + string(id)
}

func (r *RedisChannelRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisChannelRepository) Save(ctx context.Context, info *domain.ChannelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}

	// Store description and index entry together
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.channelKey(info.ID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), string(info.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save channel in Redis: %w", err)
	}

	return nil
}

func (r *RedisChannelRepository) Get(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	data, err := r.client.Get(ctx, r.channelKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel from Redis: %w", err)
	}

	var info domain.ChannelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}

	return &info, nil
}

func (r *RedisChannelRepository) Delete(ctx context.Context, id domain.ChannelID) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.indexKey(), string(id))
		deleted = pipe.Del(ctx, r.channelKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete channel from Redis: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrChannelNotFound
	}

	return nil
}

func (r *RedisChannelRepository) List(ctx context.Context) ([]*domain.ChannelInfo, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list channels from Redis: %w", err)
	}

	channels := make([]*domain.ChannelInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.Get(ctx, domain.ChannelID(id))
		if err != nil {
			// Skip channels that no longer exist
			continue
		}
		channels = append(channels, info)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})

	return channels, nil
}
