package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/retry"
	"rillrec/pkg/tracing"
	"rillrec/pkg/utils"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	metadataFile   = "metadata.json"
	publishTimeout = 30 * time.Second
)

type RecorderOptions struct {
	Channel        ports.Channel
	Folders        ports.FolderStore
	Pipelines      ports.PipelineFactory
	Publisher      ports.RecordingPublisher
	Metrics        ports.RecordingMetrics
	Logger         *zap.SugaredLogger
	ForwardAddress string
	PublishRetry   retry.Config
}

// Recorder drives the recording of a single channel. It owns the staging
// folder and one RecordingTask per participant while any capture intent is
// set.
type Recorder struct {
	channel        ports.Channel
	folders        ports.FolderStore
	pipelines      ports.PipelineFactory
	publisher      ports.RecordingPublisher
	metrics        ports.RecordingMetrics
	logger         *zap.SugaredLogger
	forwardAddress string
	publishRetry   retry.Config
	clock          func() int64

	// opMu serializes intent transitions and terminate.
	opMu sync.Mutex

	mu             sync.Mutex
	isRecording    bool
	isTranscribing bool
	state          domain.RecorderState
	folder         ports.Folder
	tasks          map[domain.ParticipantID]*RecordingTask
	unsubscribe    func()
	startedAt      time.Time

	timelineMu sync.Mutex
	timeline   []domain.TimelineEvent
	generation uint64

	listeners registry[func(domain.RecordingStatus)]
	saves     sync.WaitGroup
}

func NewRecorder(opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	return &Recorder{
		channel:        opts.Channel,
		folders:        opts.Folders,
		pipelines:      opts.Pipelines,
		publisher:      opts.Publisher,
		metrics:        metrics,
		logger:         logger.With("channel_id", opts.Channel.ID()),
		forwardAddress: opts.ForwardAddress,
		publishRetry:   opts.PublishRetry,
		clock:          utils.MonotonicMillis,
		state:          domain.RecorderStopped,
	}
}

func (r *Recorder) Start(ctx context.Context) bool {
	return r.toggle(ctx, "recording.start", func(s *domain.RecordingStatus) *bool { return &s.IsRecording }, true, domain.TagRecordingStarted)
}

func (r *Recorder) Stop(ctx context.Context) bool {
	return r.toggle(ctx, "recording.stop", func(s *domain.RecordingStatus) *bool { return &s.IsRecording }, false, domain.TagRecordingStopped)
}

func (r *Recorder) StartTranscription(ctx context.Context) bool {
	return r.toggle(ctx, "transcription.start", func(s *domain.RecordingStatus) *bool { return &s.IsTranscribing }, true, domain.TagTranscriptionStarted)
}

func (r *Recorder) StopTranscription(ctx context.Context) bool {
	return r.toggle(ctx, "transcription.stop", func(s *domain.RecordingStatus) *bool { return &s.IsTranscribing }, false, domain.TagTranscriptionStopped)
}

func (r *Recorder) Status() domain.RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Recorder) State() domain.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Path returns the staging folder path of the running recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.folder == nil {
		return ""
	}
	return r.folder.Path()
}

func (r *Recorder) Task(id domain.ParticipantID) (*RecordingTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	return task, ok
}

func (r *Recorder) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Timeline returns a copy of the events collected for the running recording.
func (r *Recorder) Timeline() []domain.TimelineEvent {
	r.timelineMu.Lock()
	defer r.timelineMu.Unlock()

	out := make([]domain.TimelineEvent, len(r.timeline))
	copy(out, r.timeline)
	return out
}

// OnUpdate registers fn for status changes and returns a function removing it.
func (r *Recorder) OnUpdate(fn func(domain.RecordingStatus)) func() {
	return r.listeners.add(fn)
}

// Terminate stops a running recording, sealing it when save is set.
func (r *Recorder) Terminate(ctx context.Context, save bool) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "terminate", string(r.channel.ID()))
	defer span.End()
	span.SetAttributes(attribute.Bool("recording.save", save))

	if r.terminate(ctx, save) {
		r.notify()
	}
}

// AwaitSaves blocks until every scheduled save has finished or ctx ends.
func (r *Recorder) AwaitSaves(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.saves.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to await recording saves: %w", ctx.Err())
	}
}

func (r *Recorder) toggle(ctx context.Context, op string, field func(*domain.RecordingStatus) *bool, value bool, tag domain.TimeTag) bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, op, string(r.channel.ID()))
	defer span.End()

	r.mu.Lock()
	status := r.statusLocked()
	if *field(&status) == value {
		r.mu.Unlock()
		return value
	}
	*field(&status) = value
	r.isRecording, r.isTranscribing = status.IsRecording, status.IsTranscribing
	r.mu.Unlock()

	r.mark(tag)
	r.reconcile(ctx)

	r.mu.Lock()
	status = r.statusLocked()
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("recording.is_recording", status.IsRecording),
		attribute.Bool("recording.is_transcribing", status.IsTranscribing),
	)
	return *field(&status)
}

// reconcile must be called with opMu held.
func (r *Recorder) reconcile(ctx context.Context) {
	r.mu.Lock()
	status := r.statusLocked()
	active := r.state == domain.RecorderStarted
	r.mu.Unlock()

	if status.IsRecording || status.IsTranscribing {
		if active {
			r.update(status)
		} else if err := r.init(ctx, status); err != nil {
			r.logger.Errorw("failed to apply recording state", "error", err,
				"is_recording", status.IsRecording, "is_transcribing", status.IsTranscribing)
			tracing.RecordError(ctx, err)
			if !r.terminate(ctx, false) {
				// Nothing was started, only the intents need clearing.
				r.mu.Lock()
				r.isRecording, r.isTranscribing = false, false
				r.mu.Unlock()
				r.takeTimeline()
			}
		}
	} else {
		r.terminate(ctx, true)
	}

	r.notify()
}

func (r *Recorder) init(ctx context.Context, status domain.RecordingStatus) error {
	folder, err := r.folders.Create(ctx)
	if err != nil {
		return fmt.Errorf("failed to create recording folder: %w", err)
	}

	r.mu.Lock()
	r.state = domain.RecorderStarted
	r.folder = folder
	r.tasks = make(map[domain.ParticipantID]*RecordingTask)
	r.startedAt = time.Now()
	r.mu.Unlock()

	// Subscribe before listing so nobody joining in between is missed.
	unsubscribe := r.channel.SubscribeMembership(r.onMembership)

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	desired := domain.DesiredFor(status)
	for _, participant := range r.channel.Participants() {
		if _, exists := r.tasks[participant.ID()]; !exists {
			r.tasks[participant.ID()] = r.newTask(participant, folder, desired)
		}
	}
	count := len(r.tasks)
	r.mu.Unlock()

	r.metrics.RecordRecorderState(r.channel.ID(), domain.RecorderStarted)
	r.logger.Infow("recording started", "folder", folder.Path(), "participants", count)
	return nil
}

func (r *Recorder) update(status domain.RecordingStatus) {
	desired := domain.DesiredFor(status)
	for _, task := range r.snapshotTasks() {
		task.Apply(desired)
	}
}

// terminate must be called with opMu held. It reports whether a running
// recording was stopped. Tasks are always awaited to completion, ctx only
// carries the trace.
func (r *Recorder) terminate(ctx context.Context, save bool) bool {
	r.mu.Lock()
	if r.state != domain.RecorderStarted {
		r.mu.Unlock()
		return false
	}
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.isRecording, r.isTranscribing = false, false
	r.state = domain.RecorderStopping
	tasks := r.tasks
	r.tasks = nil
	folder := r.folder
	r.folder = nil
	startedAt := r.startedAt
	r.mu.Unlock()

	r.metrics.RecordRecorderState(r.channel.ID(), domain.RecorderStopping)
	if unsubscribe != nil {
		unsubscribe()
	}

	failures := r.stopTasks(context.WithoutCancel(ctx), tasks)
	timeline := r.takeTimeline()

	r.saves.Add(1)
	go r.save(folder, timeline, save && failures == 0, startedAt)

	r.mu.Lock()
	r.state = domain.RecorderStopped
	r.mu.Unlock()

	r.metrics.RecordRecorderState(r.channel.ID(), domain.RecorderStopped)
	r.logger.Infow("recording stopped", "save", save, "task_failures", failures)
	return true
}

func (r *Recorder) stopTasks(ctx context.Context, tasks map[domain.ParticipantID]*RecordingTask) int {
	var (
		wg       sync.WaitGroup
		failures int32
	)
	for id, task := range tasks {
		wg.Add(1)
		go func(id domain.ParticipantID, task *RecordingTask) {
			defer wg.Done()
			if err := task.Stop(ctx); err != nil {
				atomic.AddInt32(&failures, 1)
				r.logger.Errorw("failed to stop recording task", "participant_id", id, "error", err)
			}
		}(id, task)
	}
	wg.Wait()
	return int(atomic.LoadInt32(&failures))
}

func (r *Recorder) save(folder ports.Folder, timeline []domain.TimelineEvent, keep bool, startedAt time.Time) {
	defer r.saves.Done()

	if folder == nil {
		return
	}
	if !keep {
		r.discard(folder)
		return
	}

	data, err := json.MarshalIndent(domain.Metadata{
		ForwardAddress: r.forwardAddress,
		Timeline:       timeline,
	}, "", "  ")
	if err != nil {
		r.logger.Errorw("failed to encode recording metadata", "folder", folder.Path(), "error", err)
		r.discard(folder)
		return
	}
	if err := folder.Add(metadataFile, data); err != nil {
		r.logger.Errorw("failed to write recording metadata", "folder", folder.Path(), "error", err)
		r.discard(folder)
		return
	}

	name := fmt.Sprintf("%s_%d", utils.SanitizeFileName(r.channel.Name()), r.clock())
	path, err := folder.Seal(name)
	if err != nil {
		r.logger.Errorw("failed to seal recording", "folder", folder.Path(), "name", name, "error", err)
		return
	}

	r.metrics.RecordRecordingSealed(time.Since(startedAt))
	r.logger.Infow("recording sealed", "path", path, "events", len(timeline))

	if r.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	sealed := domain.SealedRecording{
		ChannelID:   r.channel.ID(),
		ChannelName: r.channel.Name(),
		Path:        path,
		SealedAt:    time.Now(),
	}
	err = retry.Retry(ctx, r.publishRetry, func() error {
		return r.publisher.PublishSealed(ctx, sealed)
	})
	if err != nil {
		r.logger.Errorw("failed to publish sealed recording", "path", path, "error", err)
	}
}

func (r *Recorder) discard(folder ports.Folder) {
	if err := folder.Delete(); err != nil {
		r.logger.Errorw("failed to delete recording folder", "folder", folder.Path(), "error", err)
		return
	}
	r.metrics.RecordRecordingDiscarded()
	r.logger.Infow("recording discarded", "folder", folder.Path())
}

func (r *Recorder) onMembership(event domain.MembershipEvent) {
	switch event.Type {
	case domain.MembershipJoin:
		participant, ok := r.channel.Participant(event.ParticipantID)
		if !ok {
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.state != domain.RecorderStarted || r.folder == nil {
			return
		}
		if _, exists := r.tasks[event.ParticipantID]; exists {
			return
		}
		r.tasks[event.ParticipantID] = r.newTask(participant, r.folder, domain.DesiredFor(r.statusLocked()))
		r.logger.Infow("participant added to recording", "participant_id", event.ParticipantID)

	case domain.MembershipLeave:
		r.mu.Lock()
		task, ok := r.tasks[event.ParticipantID]
		delete(r.tasks, event.ParticipantID)
		r.mu.Unlock()

		if !ok {
			return
		}
		go func() {
			if err := task.Stop(context.Background()); err != nil {
				r.logger.Warnw("failed to stop recording task", "participant_id", event.ParticipantID, "error", err)
			}
		}()
	}
}

// newTask must be called with r.mu held.
func (r *Recorder) newTask(participant ports.Participant, folder ports.Folder, desired domain.DesiredStates) *RecordingTask {
	r.timelineMu.Lock()
	generation := r.generation
	r.timelineMu.Unlock()

	return NewRecordingTask(TaskOptions{
		Participant: participant,
		Router:      r.channel.Router(),
		Pipelines:   r.pipelines,
		Directory:   folder.Path(),
		OnFileState: func(state domain.FileState) { r.markFileState(generation, state) },
		Logger:      r.logger,
	}, desired)
}

func (r *Recorder) snapshotTasks() []*RecordingTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*RecordingTask, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

func (r *Recorder) statusLocked() domain.RecordingStatus {
	return domain.RecordingStatus{IsRecording: r.isRecording, IsTranscribing: r.isTranscribing}
}

func (r *Recorder) mark(tag domain.TimeTag) {
	r.timelineMu.Lock()
	defer r.timelineMu.Unlock()

	r.timeline = append(r.timeline, domain.TimelineEvent{Tag: tag, Timestamp: r.clock()})
}

// markFileState drops events of tasks belonging to an earlier recording.
func (r *Recorder) markFileState(generation uint64, state domain.FileState) {
	r.timelineMu.Lock()
	defer r.timelineMu.Unlock()

	if generation != r.generation {
		return
	}
	r.timeline = append(r.timeline, domain.TimelineEvent{
		Tag:       domain.TagFileStateChanged,
		Timestamp: r.clock(),
		Detail:    &state,
	})
}

func (r *Recorder) takeTimeline() []domain.TimelineEvent {
	r.timelineMu.Lock()
	defer r.timelineMu.Unlock()

	timeline := r.timeline
	if timeline == nil {
		timeline = []domain.TimelineEvent{}
	}
	r.timeline = nil
	r.generation++
	return timeline
}

func (r *Recorder) notify() {
	status := r.Status()
	for _, fn := range r.listeners.snapshot() {
		fn(status)
	}
}
