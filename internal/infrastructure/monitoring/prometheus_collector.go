package monitoring

import (
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	recorders *prometheus.GaugeVec

	pipelinesActive *prometheus.GaugeVec
	pipelinesTotal  *prometheus.CounterVec

	encodersRunning *prometheus.GaugeVec
	encodersTotal   *prometheus.CounterVec

	recordingsSealed    prometheus.Counter
	recordingsDiscarded prometheus.Counter
	recordingDuration   prometheus.Histogram

	workerDeaths       prometheus.Counter
	workerReplacements *prometheus.CounterVec

	mu     sync.Mutex
	states map[domain.ChannelID]domain.RecorderState
}

var _ ports.RecordingMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the recording metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		recorders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillrec_recorders",
			Help: "Number of channel recorders per state",
		}, []string{"state"}),

		pipelinesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillrec_pipelines_active",
			Help: "Number of open media pipelines",
		}, []string{"kind"}),

		pipelinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillrec_pipelines_opened_total",
			Help: "Total number of media pipelines opened",
		}, []string{"kind"}),

		encodersRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillrec_encoders_running",
			Help: "Number of running encoder processes",
		}, []string{"codec"}),

		encodersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillrec_encoders_started_total",
			Help: "Total number of encoder processes started",
		}, []string{"codec"}),

		recordingsSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillrec_recordings_sealed_total",
			Help: "Total number of recordings sealed",
		}),

		recordingsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillrec_recordings_discarded_total",
			Help: "Total number of recordings deleted instead of sealed",
		}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillrec_recording_duration_seconds",
			Help:    "Duration of sealed recordings",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),

		workerDeaths: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillrec_worker_deaths_total",
			Help: "Total number of routing workers that died",
		}),

		workerReplacements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillrec_worker_replacements_total",
			Help: "Total number of worker replacement attempts",
		}, []string{"result"}),

		states: make(map[domain.ChannelID]domain.RecorderState),
	}
}

func (p *PrometheusCollector) RecordRecorderState(channelID domain.ChannelID, state domain.RecorderState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.states[channelID]; ok {
		if prev == state {
			return
		}
		p.recorders.WithLabelValues(string(prev)).Dec()
	}
	if state == domain.RecorderStopped {
		delete(p.states, channelID)
		return
	}
	p.states[channelID] = state
	p.recorders.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) RecordPipelineOpened(kind domain.StreamKind) {
	p.pipelinesActive.WithLabelValues(string(kind)).Inc()
	p.pipelinesTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordPipelineClosed(kind domain.StreamKind) {
	p.pipelinesActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) RecordEncoderStarted(codec string) {
	p.encodersRunning.WithLabelValues(codec).Inc()
	p.encodersTotal.WithLabelValues(codec).Inc()
}

func (p *PrometheusCollector) RecordEncoderStopped(codec string) {
	p.encodersRunning.WithLabelValues(codec).Dec()
}

func (p *PrometheusCollector) RecordRecordingSealed(duration time.Duration) {
	p.recordingsSealed.Inc()
	p.recordingDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordRecordingDiscarded() {
	p.recordingsDiscarded.Inc()
}

func (p *PrometheusCollector) RecordWorkerDied() {
	p.workerDeaths.Inc()
}

func (p *PrometheusCollector) RecordWorkerReplaced(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	p.workerReplacements.WithLabelValues(result).Inc()
}
