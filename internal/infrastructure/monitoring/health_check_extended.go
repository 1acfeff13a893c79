package monitoring

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddWorkerPoolCheck fails while the pool has no live worker.
func (h *HealthChecker) AddWorkerPoolCheck(size func() int, timeout time.Duration) {
	h.AddCheck("workers", func(ctx context.Context) (bool, error) {
		if n := size(); n == 0 {
			return false, fmt.Errorf("no live workers")
		}
		return true, nil
	}, timeout)
}

// AddFolderCheck verifies the recording roots exist and are directories.
func (h *HealthChecker) AddFolderCheck(timeout time.Duration, paths ...string) {
	h.AddCheck("folders", func(ctx context.Context) (bool, error) {
		for _, path := range paths {
			info, err := os.Stat(path)
			if err != nil {
				return false, err
			}
			if !info.IsDir() {
				return false, fmt.Errorf("%s is not a directory", path)
			}
		}
		return true, nil
	}, timeout)
}
