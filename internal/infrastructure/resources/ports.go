package resources

import (
	"fmt"
	"sync"

	"rillrec/internal/core/domain"
)

// PortAllocator hands out even ports from an inclusive range. The odd port
// above each issued port is left for the RTCP companion stream and is never
// issued on its own.
type PortAllocator struct {
	mu        sync.Mutex
	available []int
	total     int
}

// NewPortAllocator fills the pool with minPort, minPort+2, ... as long as the
// companion port still fits in the range. minPort must be even.
func NewPortAllocator(minPort, maxPort int) (*PortAllocator, error) {
	if minPort <= 0 || maxPort > 65535 || minPort > maxPort {
		return nil, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	if minPort%2 != 0 {
		return nil, fmt.Errorf("port range must start on an even port, got %d", minPort)
	}
	pa := &PortAllocator{}
	for p := minPort; p+1 <= maxPort; p += 2 {
		pa.available = append(pa.available, p)
	}
	pa.total = len(pa.available)
	return pa, nil
}

// Acquire takes the oldest released port.
func (pa *PortAllocator) Acquire() (int, error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	if len(pa.available) == 0 {
		return 0, domain.ErrNoPortAvailable
	}
	port := pa.available[0]
	pa.available = pa.available[1:]
	return port, nil
}

// Release puts a port back. Each acquired port must be released exactly once.
func (pa *PortAllocator) Release(port int) {
	pa.mu.Lock()
	pa.available = append(pa.available, port)
	pa.mu.Unlock()
}

func (pa *PortAllocator) Available() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return len(pa.available)
}

func (pa *PortAllocator) Capacity() int {
	return pa.total
}
