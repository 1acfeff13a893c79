package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/internal/infrastructure/encoder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSealed(ctx context.Context, rec domain.SealedRecording) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type failingFolderStore struct{}

func (failingFolderStore) Create(ctx context.Context) (ports.Folder, error) {
	return nil, errors.New("disk full")
}

func readMetadata(t *testing.T, dir string) domain.Metadata {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	var meta domain.Metadata
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func tags(timeline []domain.TimelineEvent) []domain.TimeTag {
	var out []domain.TimeTag
	for _, e := range timeline {
		out = append(out, e.Tag)
	}
	return out
}

func TestRecorder_StateFollowsIntents(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	assert.Equal(t, domain.RecorderStopped, r.State())

	assert.True(t, r.Start(ctx))
	assert.Equal(t, domain.RecorderStarted, r.State())

	assert.True(t, r.StartTranscription(ctx))
	assert.False(t, r.Stop(ctx))
	assert.Equal(t, domain.RecorderStarted, r.State())
	assert.Equal(t, domain.RecordingStatus{IsTranscribing: true}, r.Status())

	assert.False(t, r.StopTranscription(ctx))
	assert.Equal(t, domain.RecorderStopped, r.State())
	assert.Equal(t, domain.RecordingStatus{}, r.Status())
	awaitSaves(t, r)
}

func TestRecorder_RepeatedToggleIsNoop(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	assert.False(t, r.Stop(ctx))
	assert.True(t, r.Start(ctx))
	path := r.Path()
	assert.True(t, r.Start(ctx))

	assert.Equal(t, path, r.Path())
	assert.Equal(t, []domain.TimeTag{domain.TagRecordingStarted}, tags(r.Timeline()))
	assert.Len(t, fx.staged(t), 1)

	r.Terminate(ctx, false)
	awaitSaves(t, r)
}

func TestRecorder_StopRecordingWhileTranscribingKeepsTasks(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	fx.join(ch, "p_alice", domain.StreamAudio, domain.StreamCamera)
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	require.True(t, r.Start(ctx))
	require.True(t, r.StartTranscription(ctx))

	task, ok := r.Task("p_alice")
	require.True(t, ok)
	audio := waitPipelineState(t, task, domain.StreamAudio, domain.PipelineActive)
	waitPipelineState(t, task, domain.StreamCamera, domain.PipelineActive)

	assert.False(t, r.Stop(ctx))

	same, ok := r.Task("p_alice")
	require.True(t, ok)
	assert.Same(t, task, same)
	assert.Same(t, audio, task.Pipeline(domain.StreamAudio))
	assert.Nil(t, task.Pipeline(domain.StreamCamera))
	assert.True(t, task.Desired(domain.StreamAudio))
	assert.False(t, task.Desired(domain.StreamCamera))

	r.Terminate(ctx, false)
	awaitSaves(t, r)
}

func TestRecorder_TwoParticipantsSealMetadata(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("Team Sync")
	fx.join(ch, "p_alice", domain.StreamAudio, domain.StreamCamera)
	fx.join(ch, "p_bob", domain.StreamAudio)

	publisher := &MockPublisher{}
	publisher.On("PublishSealed", mock.Anything, mock.Anything).Return(nil)

	r := fx.recorder(ch, publisher)
	ctx := context.Background()

	require.True(t, r.Start(ctx))
	require.True(t, r.StartTranscription(ctx))
	assert.Equal(t, 2, r.TaskCount())

	for _, id := range []domain.ParticipantID{"p_alice", "p_bob"} {
		task, ok := r.Task(id)
		require.True(t, ok)
		waitPipelineState(t, task, domain.StreamAudio, domain.PipelineActive)
	}
	alice, _ := r.Task("p_alice")
	waitPipelineState(t, alice, domain.StreamCamera, domain.PipelineActive)

	assert.False(t, r.Stop(ctx))
	assert.False(t, r.StopTranscription(ctx))
	awaitSaves(t, r)

	sealed := fx.sealed(t)
	require.Len(t, sealed, 1)
	assert.Regexp(t, regexp.MustCompile(`^Team-Sync_\d+$`), sealed[0])
	assert.Empty(t, fx.staged(t))
	assert.Zero(t, fx.folders.Registered())

	meta := readMetadata(t, filepath.Join(fx.recording, sealed[0]))
	assert.Equal(t, "10.0.0.5:7000", meta.ForwardAddress)
	assert.Contains(t, tags(meta.Timeline), domain.TagRecordingStarted)
	assert.Contains(t, tags(meta.Timeline), domain.TagTranscriptionStarted)
	assert.Contains(t, tags(meta.Timeline), domain.TagRecordingStopped)
	assert.Contains(t, tags(meta.Timeline), domain.TagFileStateChanged)

	var files []string
	for _, e := range meta.Timeline {
		if e.Tag == domain.TagFileStateChanged && e.Detail.Active {
			files = append(files, filepath.Base(e.Detail.Filename))
		}
	}
	assert.Len(t, files, 3)
	for _, f := range files {
		assert.True(t, strings.HasPrefix(f, "p_alice-") || strings.HasPrefix(f, "p_bob-"), f)
	}

	publisher.AssertNumberOfCalls(t, "PublishSealed", 1)
	rec := publisher.Calls[0].Arguments.Get(1).(domain.SealedRecording)
	assert.Equal(t, domain.ChannelID("ch_Team Sync"), rec.ChannelID)
	assert.Equal(t, filepath.Join(fx.recording, sealed[0]), rec.Path)

	// All resources came back.
	assert.Equal(t, fx.ports.Capacity(), fx.ports.Available())
	assert.Equal(t, 0, fx.launcher.Running())
}

// TestHelperEncoderProcess stands in for the encoder binary. It drains the
// session description and exits once interrupted.
func TestHelperEncoderProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_ENCODER") != "1" {
		return
	}
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)
	_, _ = io.ReadAll(os.Stdin)

	select {
	case <-interrupted:
		os.Exit(0)
	case <-time.After(10 * time.Second):
		os.Exit(3)
	}
}

// commandRecorder captures every encoder command line and runs the helper
// process in its place.
type commandRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (c *commandRecorder) command(name string, args ...string) *exec.Cmd {
	c.mu.Lock()
	c.lines = append(c.lines, strings.Join(append([]string{name}, args...), " "))
	c.mu.Unlock()

	cmd := exec.Command(os.Args[0], "-test.run=TestHelperEncoderProcess")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_ENCODER=1")
	return cmd
}

func (c *commandRecorder) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestRecorder_CameraPauseKeepsTask(t *testing.T) {
	fx := newRecordingFixture(t)
	commands := &commandRecorder{}
	fx.useLauncher(encoder.NewLauncher(encoder.Config{
		Binary:   "ffmpeg",
		ListenIP: "127.0.0.1",
		Command:  commands.command,
	}, fx.logger, nil))

	ch := fx.channel("standup")
	_, producers := fx.join(ch, "p_alice", domain.StreamCamera)
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	require.True(t, r.Start(ctx))

	task, ok := r.Task("p_alice")
	require.True(t, ok)
	pipeline := waitPipelineState(t, task, domain.StreamCamera, domain.PipelineActive)

	lines := commands.Lines()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "ffmpeg "), lines[0])
	assert.Contains(t, lines[0], "-map 0:v:0 -c:v copy")
	assert.NotContains(t, lines[0], "0:a:0")
	assert.Regexp(t, regexp.MustCompile(`-y `+regexp.QuoteMeta(filepath.Join(r.Path(), "p_alice-camera-"))+`\d+\.webm$`), lines[0])

	require.NoError(t, producers[domain.StreamCamera].Pause())

	waitPipelineState(t, task, domain.StreamCamera, domain.PipelinePaused)
	assert.Same(t, pipeline, task.Pipeline(domain.StreamCamera))
	assert.Equal(t, 1, r.TaskCount())
	assert.Equal(t, domain.RecorderStarted, r.State())
	assert.Len(t, commands.Lines(), 1)

	r.Terminate(ctx, false)
	awaitSaves(t, r)
}

func TestRecorder_CancelledStopStillSeals(t *testing.T) {
	fx := newRecordingFixture(t)
	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)
	fx.launcher.SetCloseGate(gate)

	ch := fx.channel("standup")
	fx.join(ch, "p_alice", domain.StreamAudio)
	r := fx.recorder(ch, nil)

	require.True(t, r.Start(context.Background()))
	task, ok := r.Task("p_alice")
	require.True(t, ok)
	waitPipelineState(t, task, domain.StreamAudio, domain.PipelineActive)

	// The caller goes away while the encoder is still finishing.
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan bool, 1)
	go func() { stopped <- r.Stop(ctx) }()

	require.Eventually(t, func() bool { return r.State() == domain.RecorderStopping }, waitFor, tick)
	cancel()
	assert.Never(t, func() bool { return len(stopped) > 0 }, 100*time.Millisecond, tick)

	release()
	select {
	case isRecording := <-stopped:
		assert.False(t, isRecording)
	case <-time.After(waitFor):
		t.Fatal("stop did not return after the encoder closed")
	}
	awaitSaves(t, r)

	assert.Empty(t, fx.staged(t))
	sealed := fx.sealed(t)
	require.Len(t, sealed, 1)
	meta := readMetadata(t, filepath.Join(fx.recording, sealed[0]))
	assert.Contains(t, tags(meta.Timeline), domain.TagRecordingStopped)
}

func TestRecorder_CancelledUpdateKeepsRecording(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	fx.join(ch, "p_alice", domain.StreamAudio, domain.StreamCamera)
	r := fx.recorder(ch, nil)

	require.True(t, r.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, r.StartTranscription(ctx))
	assert.Equal(t, domain.RecorderStarted, r.State())
	assert.Equal(t, domain.RecordingStatus{IsRecording: true, IsTranscribing: true}, r.Status())

	r.Terminate(context.Background(), true)
	awaitSaves(t, r)
	assert.Len(t, fx.sealed(t), 1)
}

func TestRecorder_InitFailureClearsIntents(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := NewRecorder(RecorderOptions{Channel: ch, Folders: failingFolderStore{}, Pipelines: fx.pipelines})

	var updates []domain.RecordingStatus
	r.OnUpdate(func(s domain.RecordingStatus) { updates = append(updates, s) })

	assert.False(t, r.Start(context.Background()))
	assert.Equal(t, domain.RecorderStopped, r.State())
	assert.Equal(t, domain.RecordingStatus{}, r.Status())
	assert.Empty(t, r.Timeline())
	assert.Equal(t, []domain.RecordingStatus{{}}, updates)
}

func TestRecorder_JoinAndLeaveWhileActive(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	require.True(t, r.StartTranscription(ctx))
	assert.Equal(t, 0, r.TaskCount())

	fx.join(ch, "p_carol", domain.StreamAudio, domain.StreamScreen)

	task, ok := r.Task("p_carol")
	require.True(t, ok)
	waitPipelineState(t, task, domain.StreamAudio, domain.PipelineActive)
	assert.Nil(t, task.Pipeline(domain.StreamScreen))

	_, err := ch.Leave("p_carol")
	require.NoError(t, err)

	_, ok = r.Task("p_carol")
	assert.False(t, ok)
	require.Eventually(t, func() bool { return fx.launcher.Running() == 0 }, waitFor, tick)

	r.Terminate(ctx, false)
	awaitSaves(t, r)
}

func TestRecorder_TerminateWithoutSaveDeletes(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	fx.join(ch, "p_alice", domain.StreamAudio)

	publisher := &MockPublisher{}
	r := fx.recorder(ch, publisher)
	ctx := context.Background()

	require.True(t, r.Start(ctx))
	require.Len(t, fx.staged(t), 1)

	r.Terminate(ctx, false)
	r.Terminate(ctx, false)
	awaitSaves(t, r)

	assert.Equal(t, domain.RecorderStopped, r.State())
	assert.Equal(t, domain.RecordingStatus{}, r.Status())
	assert.Empty(t, fx.staged(t))
	assert.Empty(t, fx.sealed(t))
	publisher.AssertNotCalled(t, "PublishSealed", mock.Anything, mock.Anything)
}

func TestRecorder_RestartUsesFreshTimeline(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	require.True(t, r.Start(ctx))
	require.False(t, r.Stop(ctx))
	require.True(t, r.Start(ctx))

	assert.Equal(t, []domain.TimeTag{domain.TagRecordingStarted}, tags(r.Timeline()))

	r.Terminate(ctx, false)
	awaitSaves(t, r)
	assert.Len(t, fx.sealed(t), 1)
}

func TestRecorder_NotifiesListeners(t *testing.T) {
	fx := newRecordingFixture(t)
	ch := fx.channel("standup")
	r := fx.recorder(ch, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		updates []domain.RecordingStatus
	)
	unsubscribe := r.OnUpdate(func(s domain.RecordingStatus) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	})

	r.Start(ctx)
	r.StartTranscription(ctx)
	r.Start(ctx)
	unsubscribe()
	r.Stop(ctx)
	r.StopTranscription(ctx)
	awaitSaves(t, r)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.RecordingStatus{
		{IsRecording: true},
		{IsRecording: true, IsTranscribing: true},
	}, updates)
}
