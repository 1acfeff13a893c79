package webrtc

import (
	"context"
	"fmt"
	"strings"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig configures the in-process routing engine.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// MemorySampler reports the resident memory of the process hosting the
// workers.
type MemorySampler interface {
	ResidentBytes(ctx context.Context) (uint64, error)
}

// Engine creates routing workers backed by pion peer connections.
type Engine struct {
	config  EngineConfig
	sampler MemorySampler
	logger  *zap.SugaredLogger
}

var _ ports.WorkerFactory = (*Engine)(nil)

func NewEngine(config EngineConfig, sampler MemorySampler, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{config: config, sampler: sampler, logger: logger}
}

func (e *Engine) CreateWorker(ctx context.Context) (ports.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	api, err := e.newAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to create webrtc api: %w", err)
	}

	id := utils.GenerateID("worker")
	w := newWorker(id, api, e.peerConfig(), e.sampler, e.logger.With("worker_id", id))
	e.logger.Infow("worker created", "worker_id", id)
	return w, nil
}

func (e *Engine) newAPI() (*webrtc.API, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settingEngine)), nil
}

func (e *Engine) peerConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:   e.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
}

// streamKind classifies a remote track. Video tracks whose track or stream
// id mentions "screen" are screen shares, every other video track is the
// camera.
func streamKind(kind webrtc.RTPCodecType, trackID, streamID string) (domain.StreamKind, bool) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return domain.StreamAudio, true
	case webrtc.RTPCodecTypeVideo:
		if strings.Contains(strings.ToLower(trackID+" "+streamID), "screen") {
			return domain.StreamScreen, true
		}
		return domain.StreamCamera, true
	}
	return "", false
}

func rtpCodec(codec webrtc.RTPCodecParameters) domain.RTPCodec {
	return domain.RTPCodec{
		MimeType:    codec.MimeType,
		PayloadType: uint8(codec.PayloadType),
		ClockRate:   codec.ClockRate,
		Channels:    codec.Channels,
		SDPFmtpLine: codec.SDPFmtpLine,
	}
}
