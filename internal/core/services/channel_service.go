package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/retry"
	"rillrec/pkg/tracing"
	"rillrec/pkg/utils"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ChannelServiceConfig struct {
	RecordingEnabled bool
	ForwardAddress   string
	PublishRetry     retry.Config
}

type channelEntry struct {
	channel  *Channel
	recorder *Recorder
	cleanup  func()
}

type channelService struct {
	cfg       ChannelServiceConfig
	workers   ports.WorkerProvider
	repo      ports.ChannelRepository
	folders   ports.FolderStore
	pipelines ports.PipelineFactory
	publisher ports.RecordingPublisher
	metrics   ports.RecordingMetrics
	logger    *zap.SugaredLogger

	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelEntry

	listeners registry[func(domain.ChannelID, domain.RecordingStatus)]
}

func NewChannelService(
	cfg ChannelServiceConfig,
	workers ports.WorkerProvider,
	repo ports.ChannelRepository,
	folders ports.FolderStore,
	pipelines ports.PipelineFactory,
	publisher ports.RecordingPublisher,
	metrics ports.RecordingMetrics,
	logger *zap.SugaredLogger,
) ports.ChannelService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &channelService{
		cfg:       cfg,
		workers:   workers,
		repo:      repo,
		folders:   folders,
		pipelines: pipelines,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		channels:  make(map[domain.ChannelID]*channelEntry),
	}
}

func (s *channelService) CreateChannel(ctx context.Context, name string) (*domain.ChannelInfo, error) {
	name = utils.TruncateString(utils.SanitizeString(name), 128)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	worker, err := s.workers.GetWorker(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	router, err := worker.CreateRouter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	channel := NewChannel(domain.ChannelID(utils.GenerateChannelID()), name, router, worker.ID())
	entry := &channelEntry{channel: channel}

	if s.cfg.RecordingEnabled {
		entry.recorder = NewRecorder(RecorderOptions{
			Channel:        channel,
			Folders:        s.folders,
			Pipelines:      s.pipelines,
			Publisher:      s.publisher,
			Metrics:        s.metrics,
			Logger:         s.logger,
			ForwardAddress: s.cfg.ForwardAddress,
			PublishRetry:   s.cfg.PublishRetry,
		})
		entry.cleanup = entry.recorder.OnUpdate(func(status domain.RecordingStatus) {
			s.statusChanged(channel.ID(), status)
		})
	}

	s.mu.Lock()
	s.channels[channel.ID()] = entry
	s.mu.Unlock()

	info := s.info(entry)
	if err := s.repo.Save(ctx, info); err != nil {
		s.mu.Lock()
		delete(s.channels, channel.ID())
		s.mu.Unlock()
		if cerr := router.Close(); cerr != nil {
			s.logger.Warnw("failed to close router", "channel_id", channel.ID(), "error", cerr)
		}
		return nil, fmt.Errorf("failed to save channel: %w", err)
	}

	s.logger.Infow("channel created", "channel_id", channel.ID(), "name", name, "worker_id", worker.ID())
	return info, nil
}

func (s *channelService) GetChannel(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return s.info(entry), nil
}

func (s *channelService) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	return s.repo.List(ctx)
}

// CloseChannel stops the channel's recording with save and releases its router.
func (s *channelService) CloseChannel(ctx context.Context, id domain.ChannelID) error {
	s.mu.Lock()
	entry, ok := s.channels[id]
	delete(s.channels, id)
	s.mu.Unlock()

	if !ok {
		return domain.ErrChannelNotFound
	}
	return s.close(ctx, entry)
}

func (s *channelService) close(ctx context.Context, entry *channelEntry) error {
	channel := entry.channel

	if entry.recorder != nil {
		entry.recorder.Terminate(ctx, true)
	}
	if entry.cleanup != nil {
		entry.cleanup()
	}

	var errs error
	for _, participant := range channel.Participants() {
		if _, err := channel.Leave(participant.ID()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if err := channel.Router().Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close router: %w", err))
	}
	if err := s.repo.Delete(ctx, channel.ID()); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to delete channel: %w", err))
	}

	s.logger.Infow("channel closed", "channel_id", channel.ID())
	return errs
}

func (s *channelService) Join(ctx context.Context, channelID domain.ChannelID, name string) (*domain.ParticipantInfo, error) {
	entry, err := s.entry(channelID)
	if err != nil {
		return nil, err
	}

	name = utils.TruncateString(utils.SanitizeString(name), 128)
	participant := NewParticipant(domain.ParticipantID(utils.GenerateParticipantID()), name)
	entry.channel.Join(participant)
	s.persist(ctx, entry)

	s.logger.Infow("participant joined", "channel_id", channelID, "participant_id", participant.ID())
	info := participant.Info()
	return &info, nil
}

func (s *channelService) Leave(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID) error {
	entry, err := s.entry(channelID)
	if err != nil {
		return err
	}

	if _, err := entry.channel.Leave(participantID); err != nil {
		return err
	}
	if err := entry.channel.Router().Unpublish(participantID); err != nil {
		s.logger.Warnw("failed to unpublish participant", "channel_id", channelID, "participant_id", participantID, "error", err)
	}
	s.persist(ctx, entry)

	s.logger.Infow("participant left", "channel_id", channelID, "participant_id", participantID)
	return nil
}

func (s *channelService) Publish(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, offerSDP string) (string, error) {
	entry, err := s.entry(channelID)
	if err != nil {
		return "", err
	}
	participant, ok := entry.channel.Member(participantID)
	if !ok {
		return "", domain.ErrParticipantNotFound
	}

	ctx, span := tracing.TraceEngine(ctx, "publish", string(participantID))
	defer span.End()
	start := time.Now()

	answer, err := entry.channel.Router().Publish(ctx, participantID, offerSDP, participant)
	tracing.MeasureDuration(ctx, start, "publish")
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to publish: %w", err)
	}
	return answer, nil
}

func (s *channelService) SetProducerPaused(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, kind domain.StreamKind, paused bool) error {
	if !kind.Valid() {
		return domain.ErrInvalidStreamKind
	}
	entry, err := s.entry(channelID)
	if err != nil {
		return err
	}
	participant, ok := entry.channel.Member(participantID)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	producer := participant.Producer(kind)
	if producer == nil {
		return domain.ErrProducerNotFound
	}

	if paused {
		err = producer.Pause()
	} else {
		err = producer.Resume()
	}
	if err != nil {
		return fmt.Errorf("failed to change producer state: %w", err)
	}

	s.logger.Infow("producer state changed", "channel_id", channelID, "participant_id", participantID, "kind", kind, "paused", paused)
	return nil
}

func (s *channelService) StartRecording(ctx context.Context, id domain.ChannelID) (bool, error) {
	return s.withRecorder(ctx, id, (*Recorder).Start)
}

func (s *channelService) StopRecording(ctx context.Context, id domain.ChannelID) (bool, error) {
	return s.withRecorder(ctx, id, (*Recorder).Stop)
}

func (s *channelService) StartTranscription(ctx context.Context, id domain.ChannelID) (bool, error) {
	return s.withRecorder(ctx, id, (*Recorder).StartTranscription)
}

func (s *channelService) StopTranscription(ctx context.Context, id domain.ChannelID) (bool, error) {
	return s.withRecorder(ctx, id, (*Recorder).StopTranscription)
}

func (s *channelService) RecordingStatus(ctx context.Context, id domain.ChannelID) (domain.RecordingStatus, domain.RecorderState, error) {
	entry, err := s.entry(id)
	if err != nil {
		return domain.RecordingStatus{}, "", err
	}
	if entry.recorder == nil {
		return domain.RecordingStatus{}, domain.RecorderStopped, nil
	}
	return entry.recorder.Status(), entry.recorder.State(), nil
}

func (s *channelService) OnStatusChange(fn func(domain.ChannelID, domain.RecordingStatus)) func() {
	return s.listeners.add(fn)
}

// Shutdown closes every channel and waits for their recordings to be saved.
func (s *channelService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*channelEntry, 0, len(s.channels))
	for id, entry := range s.channels {
		entries = append(entries, entry)
		delete(s.channels, id)
	}
	s.mu.Unlock()

	var errs error
	for _, entry := range entries {
		if err := s.close(ctx, entry); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, entry := range entries {
		if entry.recorder == nil {
			continue
		}
		if err := entry.recorder.AwaitSaves(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *channelService) withRecorder(ctx context.Context, id domain.ChannelID, op func(*Recorder, context.Context) bool) (bool, error) {
	entry, err := s.entry(id)
	if err != nil {
		return false, err
	}
	if entry.recorder == nil {
		return false, domain.ErrRecordingDisabled
	}
	return op(entry.recorder, ctx), nil
}

func (s *channelService) statusChanged(id domain.ChannelID, status domain.RecordingStatus) {
	s.mu.RLock()
	entry, ok := s.channels[id]
	s.mu.RUnlock()

	if ok {
		s.persist(context.Background(), entry)
	}
	for _, fn := range s.listeners.snapshot() {
		fn(id, status)
	}
}

func (s *channelService) persist(ctx context.Context, entry *channelEntry) {
	if err := s.repo.Save(ctx, s.info(entry)); err != nil {
		s.logger.Warnw("failed to save channel", "channel_id", entry.channel.ID(), "error", err)
	}
}

func (s *channelService) entry(id domain.ChannelID) (*channelEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.channels[id]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return entry, nil
}

func (s *channelService) info(entry *channelEntry) *domain.ChannelInfo {
	channel := entry.channel
	info := &domain.ChannelInfo{
		ID:           channel.ID(),
		Name:         channel.Name(),
		WorkerID:     channel.WorkerID(),
		Participants: channel.Size(),
		CreatedAt:    channel.CreatedAt(),
		State:        domain.RecorderStopped,
	}
	if entry.recorder != nil {
		info.Recording = entry.recorder.Status()
		info.State = entry.recorder.State()
	}
	return info
}
