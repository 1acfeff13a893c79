package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/internal/infrastructure/media"
	"rillrec/internal/infrastructure/resources"
	"rillrec/internal/testutils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// recordingFixture wires a channel to real pools and folders, with the
// routing engine and the encoder replaced by fakes.
type recordingFixture struct {
	router    *testutils.FakeRouter
	launcher  *testutils.FakeEncoderLauncher
	ports     *resources.PortAllocator
	folders   *resources.FolderManager
	pipelines *media.Factory
	staging   string
	recording string
	logger    *zap.SugaredLogger
}

func newRecordingFixture(t *testing.T) *recordingFixture {
	t.Helper()

	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	recording := filepath.Join(root, "recordings")
	logger := zap.NewNop().Sugar()

	folders, err := resources.NewFolderManager(staging, recording, logger)
	require.NoError(t, err)
	portPool, err := resources.NewPortAllocator(41000, 41099)
	require.NoError(t, err)

	launcher := &testutils.FakeEncoderLauncher{}
	return &recordingFixture{
		router:    testutils.NewFakeRouter(),
		launcher:  launcher,
		ports:     portPool,
		folders:   folders,
		pipelines: media.NewFactory(media.Config{BindIP: "127.0.0.1", RoutingIP: "127.0.0.1"}, portPool, launcher, logger, nil),
		staging:   staging,
		recording: recording,
		logger:    logger,
	}
}

// useLauncher rebuilds the pipeline factory around another encoder launcher.
func (fx *recordingFixture) useLauncher(launcher ports.EncoderLauncher) {
	fx.pipelines = media.NewFactory(media.Config{BindIP: "127.0.0.1", RoutingIP: "127.0.0.1"}, fx.ports, launcher, fx.logger, nil)
}

func (fx *recordingFixture) channel(name string) *Channel {
	return NewChannel(domain.ChannelID("ch_"+name), name, fx.router, "worker-1")
}

func (fx *recordingFixture) recorder(channel *Channel, publisher ports.RecordingPublisher) *Recorder {
	return NewRecorder(RecorderOptions{
		Channel:        channel,
		Folders:        fx.folders,
		Pipelines:      fx.pipelines,
		Publisher:      publisher,
		Logger:         fx.logger,
		ForwardAddress: "10.0.0.5:7000",
	})
}

// join adds a participant that already publishes the given kinds.
func (fx *recordingFixture) join(channel *Channel, id string, kinds ...domain.StreamKind) (*Participant, map[domain.StreamKind]*testutils.FakeProducer) {
	participant := NewParticipant(domain.ParticipantID(id), id)
	producers := make(map[domain.StreamKind]*testutils.FakeProducer)
	for _, kind := range kinds {
		producer := fx.router.AddProducer(kind)
		participant.ProducerAdded(producer)
		producers[kind] = producer
	}
	channel.Join(participant)
	return participant, producers
}

func (fx *recordingFixture) sealed(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.recording)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func (fx *recordingFixture) staged(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.staging)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func waitPipelineState(t *testing.T, task *RecordingTask, kind domain.StreamKind, state domain.PipelineState) ports.Pipeline {
	t.Helper()
	var pipeline ports.Pipeline
	require.Eventually(t, func() bool {
		pipeline = task.Pipeline(kind)
		return pipeline != nil && pipeline.State() == state
	}, waitFor, tick, "%s pipeline never reached %s", kind, state)
	return pipeline
}

func awaitSaves(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, r.AwaitSaves(ctx))
}
