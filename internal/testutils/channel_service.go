package testutils

import (
	"context"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// MockChannelService is a testify mock of ports.ChannelService. Status
// listeners are kept for real so tests can push changes with EmitStatus.
type MockChannelService struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]func(domain.ChannelID, domain.RecordingStatus)
	nextID    int
}

var _ ports.ChannelService = (*MockChannelService)(nil)

func (m *MockChannelService) CreateChannel(ctx context.Context, name string) (*domain.ChannelInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChannelInfo), args.Error(1)
}

func (m *MockChannelService) GetChannel(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChannelInfo), args.Error(1)
}

func (m *MockChannelService) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChannelInfo), args.Error(1)
}

func (m *MockChannelService) CloseChannel(ctx context.Context, id domain.ChannelID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockChannelService) Join(ctx context.Context, channelID domain.ChannelID, name string) (*domain.ParticipantInfo, error) {
	args := m.Called(ctx, channelID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ParticipantInfo), args.Error(1)
}

func (m *MockChannelService) Leave(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID) error {
	args := m.Called(ctx, channelID, participantID)
	return args.Error(0)
}

func (m *MockChannelService) Publish(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, offerSDP string) (string, error) {
	args := m.Called(ctx, channelID, participantID, offerSDP)
	return args.String(0), args.Error(1)
}

func (m *MockChannelService) SetProducerPaused(ctx context.Context, channelID domain.ChannelID, participantID domain.ParticipantID, kind domain.StreamKind, paused bool) error {
	args := m.Called(ctx, channelID, participantID, kind, paused)
	return args.Error(0)
}

func (m *MockChannelService) StartRecording(ctx context.Context, id domain.ChannelID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockChannelService) StopRecording(ctx context.Context, id domain.ChannelID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockChannelService) StartTranscription(ctx context.Context, id domain.ChannelID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockChannelService) StopTranscription(ctx context.Context, id domain.ChannelID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockChannelService) RecordingStatus(ctx context.Context, id domain.ChannelID) (domain.RecordingStatus, domain.RecorderState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.RecordingStatus), args.Get(1).(domain.RecorderState), args.Error(2)
}

func (m *MockChannelService) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockChannelService) OnStatusChange(fn func(id domain.ChannelID, status domain.RecordingStatus)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]func(domain.ChannelID, domain.RecordingStatus))
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *MockChannelService) EmitStatus(id domain.ChannelID, status domain.RecordingStatus) {
	m.mu.Lock()
	fns := make([]func(domain.ChannelID, domain.RecordingStatus), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(id, status)
	}
}

func (m *MockChannelService) StatusListeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}
