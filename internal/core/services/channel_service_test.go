package services

import (
	"context"
	"sync"
	"testing"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/internal/infrastructure/repositories/memory"
	"rillrec/internal/infrastructure/resources"
	"rillrec/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	*recordingFixture
	workers *testutils.FakeWorkerFactory
	pool    *resources.WorkerPool
	service ports.ChannelService
}

func newServiceFixture(t *testing.T, recording bool) *serviceFixture {
	t.Helper()
	fx := newRecordingFixture(t)

	workers := &testutils.FakeWorkerFactory{}
	pool := resources.NewWorkerPool(workers, fx.logger, nil)
	require.NoError(t, pool.Start(context.Background(), 1))
	t.Cleanup(func() { _ = pool.Close() })

	service := NewChannelService(
		ChannelServiceConfig{RecordingEnabled: recording, ForwardAddress: "10.0.0.5:7000"},
		pool,
		memory.NewMemoryChannelRepository(),
		fx.folders,
		fx.pipelines,
		nil,
		nil,
		fx.logger,
	)
	return &serviceFixture{recordingFixture: fx, workers: workers, pool: pool, service: service}
}

// router returns the fake router backing the most recent channel.
func (sf *serviceFixture) router(t *testing.T) *testutils.FakeRouter {
	t.Helper()
	created := sf.workers.Created()
	require.NotEmpty(t, created)
	routers := created[0].Routers()
	require.NotEmpty(t, routers)
	return routers[len(routers)-1]
}

func TestChannelService_CreateAndGet(t *testing.T) {
	sf := newServiceFixture(t, true)
	ctx := context.Background()

	info, err := sf.service.CreateChannel(ctx, "  weekly sync\x00 ")
	require.NoError(t, err)
	assert.Equal(t, "weekly sync", info.Name)
	assert.Equal(t, sf.workers.Created()[0].ID(), info.WorkerID)
	assert.Equal(t, domain.RecorderStopped, info.State)

	got, err := sf.service.GetChannel(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	list, err := sf.service.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = sf.service.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestChannelService_CreateValidation(t *testing.T) {
	sf := newServiceFixture(t, true)

	_, err := sf.service.CreateChannel(context.Background(), " \t ")
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestChannelService_CreateWithoutWorkers(t *testing.T) {
	sf := newServiceFixture(t, true)
	require.NoError(t, sf.pool.Close())

	_, err := sf.service.CreateChannel(context.Background(), "standup")
	assert.ErrorIs(t, err, domain.ErrNoWorkersAvailable)
}

func TestChannelService_ParticipantsAndProducers(t *testing.T) {
	sf := newServiceFixture(t, true)
	ctx := context.Background()

	channel, err := sf.service.CreateChannel(ctx, "standup")
	require.NoError(t, err)

	alice, err := sf.service.Join(ctx, channel.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.Name)

	answer, err := sf.service.Publish(ctx, channel.ID, alice.ID, "offer")
	require.NoError(t, err)
	assert.Equal(t, "answer:offer", answer)

	producer, err := sf.router(t).Produce(alice.ID, domain.StreamAudio)
	require.NoError(t, err)

	require.NoError(t, sf.service.SetProducerPaused(ctx, channel.ID, alice.ID, domain.StreamAudio, true))
	assert.True(t, producer.Paused())
	require.NoError(t, sf.service.SetProducerPaused(ctx, channel.ID, alice.ID, domain.StreamAudio, false))
	assert.False(t, producer.Paused())

	assert.ErrorIs(t, sf.service.SetProducerPaused(ctx, channel.ID, alice.ID, domain.StreamScreen, true), domain.ErrProducerNotFound)
	assert.ErrorIs(t, sf.service.SetProducerPaused(ctx, channel.ID, alice.ID, "hologram", true), domain.ErrInvalidStreamKind)
	assert.ErrorIs(t, sf.service.SetProducerPaused(ctx, channel.ID, "p_nobody", domain.StreamAudio, true), domain.ErrParticipantNotFound)

	info, err := sf.service.GetChannel(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Participants)

	require.NoError(t, sf.service.Leave(ctx, channel.ID, alice.ID))
	assert.ErrorIs(t, sf.service.Leave(ctx, channel.ID, alice.ID), domain.ErrParticipantNotFound)

	_, err = sf.service.Publish(ctx, channel.ID, alice.ID, "offer")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestChannelService_RecordingLifecycle(t *testing.T) {
	sf := newServiceFixture(t, true)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		changes []domain.RecordingStatus
	)
	sf.service.OnStatusChange(func(id domain.ChannelID, status domain.RecordingStatus) {
		mu.Lock()
		changes = append(changes, status)
		mu.Unlock()
	})

	channel, err := sf.service.CreateChannel(ctx, "standup")
	require.NoError(t, err)
	alice, err := sf.service.Join(ctx, channel.ID, "alice")
	require.NoError(t, err)
	_, err = sf.service.Publish(ctx, channel.ID, alice.ID, "offer")
	require.NoError(t, err)
	_, err = sf.router(t).Produce(alice.ID, domain.StreamAudio)
	require.NoError(t, err)

	recording, err := sf.service.StartRecording(ctx, channel.ID)
	require.NoError(t, err)
	assert.True(t, recording)

	transcribing, err := sf.service.StartTranscription(ctx, channel.ID)
	require.NoError(t, err)
	assert.True(t, transcribing)

	status, state, err := sf.service.RecordingStatus(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingStatus{IsRecording: true, IsTranscribing: true}, status)
	assert.Equal(t, domain.RecorderStarted, state)

	info, err := sf.service.GetChannel(ctx, channel.ID)
	require.NoError(t, err)
	assert.True(t, info.Recording.IsRecording)

	require.Eventually(t, func() bool { return sf.launcher.Running() == 1 }, waitFor, tick)

	recording, err = sf.service.StopRecording(ctx, channel.ID)
	require.NoError(t, err)
	assert.False(t, recording)

	transcribing, err = sf.service.StopTranscription(ctx, channel.ID)
	require.NoError(t, err)
	assert.False(t, transcribing)

	require.Eventually(t, func() bool { return len(sf.sealed(t)) == 1 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.RecordingStatus{
		{IsRecording: true},
		{IsRecording: true, IsTranscribing: true},
		{IsTranscribing: true},
		{},
	}, changes)
}

func TestChannelService_RecordingDisabled(t *testing.T) {
	sf := newServiceFixture(t, false)
	ctx := context.Background()

	channel, err := sf.service.CreateChannel(ctx, "standup")
	require.NoError(t, err)

	ok, err := sf.service.StartRecording(ctx, channel.ID)
	assert.ErrorIs(t, err, domain.ErrRecordingDisabled)
	assert.False(t, ok)

	status, state, err := sf.service.RecordingStatus(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingStatus{}, status)
	assert.Equal(t, domain.RecorderStopped, state)

	_, err = sf.service.StartRecording(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestChannelService_CloseChannelSavesRecording(t *testing.T) {
	sf := newServiceFixture(t, true)
	ctx := context.Background()

	channel, err := sf.service.CreateChannel(ctx, "standup")
	require.NoError(t, err)
	_, err = sf.service.Join(ctx, channel.ID, "alice")
	require.NoError(t, err)
	router := sf.router(t)

	_, err = sf.service.StartRecording(ctx, channel.ID)
	require.NoError(t, err)

	require.NoError(t, sf.service.CloseChannel(ctx, channel.ID))
	assert.True(t, router.Closed())

	require.Eventually(t, func() bool { return len(sf.sealed(t)) == 1 }, waitFor, tick)

	_, err = sf.service.GetChannel(ctx, channel.ID)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
	assert.ErrorIs(t, sf.service.CloseChannel(ctx, channel.ID), domain.ErrChannelNotFound)
}

func TestChannelService_ShutdownAwaitsSaves(t *testing.T) {
	sf := newServiceFixture(t, true)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		channel, err := sf.service.CreateChannel(ctx, name)
		require.NoError(t, err)
		_, err = sf.service.StartTranscription(ctx, channel.ID)
		require.NoError(t, err)
	}

	require.NoError(t, sf.service.Shutdown(ctx))

	assert.Len(t, sf.sealed(t), 2)
	assert.Empty(t, sf.staged(t))

	list, err := sf.service.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
