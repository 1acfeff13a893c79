package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// producerFootprint approximates the buffers held per live producer. All
// workers share one address space, so it is what tells them apart.
const producerFootprint = 256 << 10

type worker struct {
	id       string
	api      *webrtc.API
	pcConfig webrtc.Configuration
	sampler  MemorySampler
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool

	died    chan error
	dieOnce sync.Once
}

func newWorker(id string, api *webrtc.API, pcConfig webrtc.Configuration, sampler MemorySampler, logger *zap.SugaredLogger) *worker {
	return &worker{
		id:       id,
		api:      api,
		pcConfig: pcConfig,
		sampler:  sampler,
		logger:   logger,
		routers:  make(map[string]*Router),
		died:     make(chan error, 1),
	}
}

func (w *worker) ID() string         { return w.id }
func (w *worker) Died() <-chan error { return w.died }

func (w *worker) ResourceUsage(ctx context.Context) (domain.ResourceUsage, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return domain.ResourceUsage{}, domain.ErrWorkerClosed
	}
	var producers int
	for _, r := range w.routers {
		producers += r.producerCount()
	}
	w.mu.Unlock()

	var resident uint64
	if w.sampler != nil {
		var err error
		if resident, err = w.sampler.ResidentBytes(ctx); err != nil {
			return domain.ResourceUsage{}, fmt.Errorf("failed to sample memory: %w", err)
		}
	}

	return domain.ResourceUsage{
		ResidentBytes: resident + uint64(producers)*producerFootprint,
		SampledAt:     time.Now(),
	}, nil
}

func (w *worker) CreateRouter(ctx context.Context) (ports.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, domain.ErrWorkerClosed
	}

	r := newRouter(utils.GenerateID("router"), w)
	w.routers[r.id] = r
	w.logger.Infow("router created", "router_id", r.id)
	return r, nil
}

func (w *worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

func (w *worker) Close() error {
	return w.shutdown()
}

func (w *worker) shutdown() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	var err error
	for _, r := range routers {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// die tears the worker down after an unexpected failure and reports it on
// Died exactly once.
func (w *worker) die(cause error) {
	w.dieOnce.Do(func() {
		w.logger.Errorw("worker died", "error", cause)
		if err := w.shutdown(); err != nil {
			w.logger.Warnw("failed to close routers of dead worker", "error", err)
		}
		w.died <- cause
	})
}

// guard turns a panic in one of the worker's goroutines into a worker
// death instead of a process crash.
func (w *worker) guard() {
	if r := recover(); r != nil {
		w.die(fmt.Errorf("worker panic: %v", r))
	}
}
