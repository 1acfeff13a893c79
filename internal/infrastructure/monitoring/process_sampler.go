package monitoring

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ProcessSampler reads memory and CPU usage of the running process. Routing
// workers use it for load sampling and Run exports it as gauges.
type ProcessSampler struct {
	proc   *process.Process
	logger *zap.SugaredLogger

	residentBytes prometheus.Gauge
	cpuPercent    prometheus.Gauge
}

func NewProcessSampler(reg prometheus.Registerer, logger *zap.SugaredLogger) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	factory := promauto.With(reg)

	return &ProcessSampler{
		proc:   proc,
		logger: logger,
		residentBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rillrec_process_resident_bytes",
			Help: "Resident memory of the recorder process",
		}),
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rillrec_process_cpu_percent",
			Help: "CPU usage of the recorder process",
		}),
	}, nil
}

func (s *ProcessSampler) ResidentBytes(ctx context.Context) (uint64, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Sample refreshes the gauges once.
func (s *ProcessSampler) Sample(ctx context.Context) error {
	rss, err := s.ResidentBytes(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory info: %w", err)
	}
	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cpu usage: %w", err)
	}

	s.residentBytes.Set(float64(rss))
	s.cpuPercent.Set(cpu)
	return nil
}

// Run samples every interval until ctx is done.
func (s *ProcessSampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sample(ctx); err != nil {
				s.logger.Warnw("failed to sample process", "error", err)
			}
		}
	}
}
