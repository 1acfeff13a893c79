package memory

import (
	"context"
	"sort"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
)

type MemoryChannelRepository struct {
	channels map[domain.ChannelID]domain.ChannelInfo
	mu       sync.RWMutex
}

func NewMemoryChannelRepository() ports.ChannelRepository {
	return &MemoryChannelRepository{
		channels: make(map[domain.ChannelID]domain.ChannelInfo),
	}
}

// Save creates or replaces the stored description of a channel.
func (r *MemoryChannelRepository) Save(ctx context.Context, info *domain.ChannelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[info.ID] = *info
	return nil
}

func (r *MemoryChannelRepository) Get(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.channels[id]
	if !exists {
		return nil, domain.ErrChannelNotFound
	}

	return &info, nil
}

func (r *MemoryChannelRepository) Delete(ctx context.Context, id domain.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[id]; !exists {
		return domain.ErrChannelNotFound
	}

	delete(r.channels, id)
	return nil
}

// List returns channels oldest first.
func (r *MemoryChannelRepository) List(ctx context.Context) ([]*domain.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]*domain.ChannelInfo, 0, len(r.channels))
	for _, info := range r.channels {
		info := info
		channels = append(channels, &info)
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].ID < channels[j].ID
		}
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})

	return channels, nil
}
