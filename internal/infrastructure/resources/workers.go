package resources

import (
	"context"
	"fmt"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WorkerPool keeps a set of routing engine workers alive and hands out the
// least loaded one.
type WorkerPool struct {
	factory ports.WorkerFactory
	logger  *zap.SugaredLogger
	metrics ports.RecordingMetrics

	mu      sync.Mutex
	workers []ports.Worker
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(factory ports.WorkerFactory, logger *zap.SugaredLogger, metrics ports.RecordingMetrics) *WorkerPool {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		factory: factory,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start creates n workers one after another.
func (p *WorkerPool) Start(ctx context.Context, n int) error {
	p.logger.Infow("starting worker pool", "workers", n)
	for i := 0; i < n; i++ {
		if err := p.addWorker(ctx); err != nil {
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
	}
	p.logger.Infow("worker pool started", "workers", p.Size())
	return nil
}

func (p *WorkerPool) addWorker(ctx context.Context) error {
	w, err := p.factory.CreateWorker(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = w.Close()
		return domain.ErrWorkerClosed
	}
	p.workers = append(p.workers, w)
	p.wg.Add(1)
	p.mu.Unlock()

	go p.watch(w)
	return nil
}

func (p *WorkerPool) watch(w ports.Worker) {
	defer p.wg.Done()

	select {
	case err := <-w.Died():
		p.handleDeath(w, err)
	case <-p.ctx.Done():
	}
}

// handleDeath drops the worker and creates one replacement. Replacement
// failures are logged only and there is no retry limit.
func (p *WorkerPool) handleDeath(w ports.Worker, cause error) {
	p.mu.Lock()
	for i, candidate := range p.workers {
		if candidate == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}

	p.metrics.RecordWorkerDied()
	p.logger.Errorw("worker died", "worker_id", w.ID(), "error", cause)

	if err := p.addWorker(p.ctx); err != nil {
		p.metrics.RecordWorkerReplaced(false)
		p.logger.Errorw("failed to create replacement worker", "error", err)
		return
	}
	p.metrics.RecordWorkerReplaced(true)
}

// GetWorker samples every worker concurrently and returns the one with the
// lowest resident memory. Ties go to the earlier worker in pool order.
func (p *WorkerPool) GetWorker(ctx context.Context) (ports.Worker, error) {
	workers := p.Workers()
	if len(workers) == 0 {
		return nil, domain.ErrNoWorkersAvailable
	}

	type sample struct {
		usage uint64
		ok    bool
	}
	samples := make([]sample, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w ports.Worker) {
			defer wg.Done()
			usage, err := w.ResourceUsage(ctx)
			if err != nil {
				p.logger.Warnw("failed to sample worker usage", "worker_id", w.ID(), "error", err)
				return
			}
			samples[i] = sample{usage: usage.ResidentBytes, ok: true}
		}(i, w)
	}
	wg.Wait()

	best := -1
	for i, s := range samples {
		if !s.ok {
			continue
		}
		if best < 0 || s.usage < samples[best].usage {
			best = i
		}
	}
	if best < 0 {
		return nil, domain.ErrNoWorkersAvailable
	}

	p.logger.Debugw("worker selected",
		"worker_id", workers[best].ID(),
		"resident_bytes", samples[best].usage,
	)
	return workers[best], nil
}

// Workers returns a snapshot of the live workers in pool order.
func (p *WorkerPool) Workers() []ports.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.Worker(nil), p.workers...)
}

func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close closes every worker and waits for pending replacements. Calling it
// again is a no-op.
func (p *WorkerPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	p.cancel()

	var errs error
	for _, w := range workers {
		errs = multierr.Append(errs, w.Close())
	}
	p.wg.Wait()

	p.logger.Infow("worker pool closed", "workers", len(workers))
	return errs
}
