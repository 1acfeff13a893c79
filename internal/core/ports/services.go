package ports

import (
	"context"
	"time"

	"rillrec/internal/core/domain"
)

// RecordingPublisher hands sealed recordings over to downstream consumers.
type RecordingPublisher interface {
	PublishSealed(ctx context.Context, rec domain.SealedRecording) error
}

type RecordingMetrics interface {
	RecordRecorderState(channelID domain.ChannelID, state domain.RecorderState)
	RecordPipelineOpened(kind domain.StreamKind)
	RecordPipelineClosed(kind domain.StreamKind)
	RecordEncoderStarted(codec string)
	RecordEncoderStopped(codec string)
	RecordRecordingSealed(duration time.Duration)
	RecordRecordingDiscarded()
	RecordWorkerDied()
	RecordWorkerReplaced(ok bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRecorderState(domain.ChannelID, domain.RecorderState) {}
func (NopMetrics) RecordPipelineOpened(domain.StreamKind)                     {}
func (NopMetrics) RecordPipelineClosed(domain.StreamKind)                     {}
func (NopMetrics) RecordEncoderStarted(string)                                {}
func (NopMetrics) RecordEncoderStopped(string)                                {}
func (NopMetrics) RecordRecordingSealed(time.Duration)                        {}
func (NopMetrics) RecordRecordingDiscarded()                                  {}
func (NopMetrics) RecordWorkerDied()                                          {}
func (NopMetrics) RecordWorkerReplaced(bool)                                  {}

// ChannelService is the control surface used by the HTTP and websocket
// handlers.
type ChannelService interface {
	CreateChannel(ctx context.Context, name string) (*domain.ChannelInfo, error)
	GetChannel(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error)
	ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error)
	CloseChannel(ctx context.Context, id domain.ChannelID) error

	Join(ctx context.Context, channelID domain.ChannelID, name string) (*domain.ParticipantInfo, error)
	Leave(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID) error
	Publish(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, offerSDP string) (string, error)
	SetProducerPaused(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, kind domain.StreamKind, paused bool) error

	StartRecording(ctx context.Context, id domain.ChannelID) (bool, error)
	StopRecording(ctx context.Context, id domain.ChannelID) (bool, error)
	StartTranscription(ctx context.Context, id domain.ChannelID) (bool, error)
	StopTranscription(ctx context.Context, id domain.ChannelID) (bool, error)
	RecordingStatus(ctx context.Context, id domain.ChannelID) (domain.RecordingStatus, domain.RecorderState, error)

	// OnStatusChange registers fn for recording status changes of any
	// channel and returns a function removing it.
	OnStatusChange(fn func(id domain.ChannelID, status domain.RecordingStatus)) func()
	Shutdown(ctx context.Context) error
}
