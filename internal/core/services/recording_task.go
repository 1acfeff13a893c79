package services

import (
	"context"
	"fmt"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type TaskOptions struct {
	Participant ports.Participant
	Router      ports.Router
	Pipelines   ports.PipelineFactory
	Directory   string
	OnFileState func(domain.FileState)
	Logger      *zap.SugaredLogger
}

type slot struct {
	desired  bool
	pipeline ports.Pipeline
	gen      uint64
}

// RecordingTask keeps one pipeline per stream kind of a participant in line
// with the desired states and the producers the participant currently has.
type RecordingTask struct {
	participant ports.Participant
	router      ports.Router
	pipelines   ports.PipelineFactory
	directory   string
	onFileState func(domain.FileState)
	logger      *zap.SugaredLogger

	mu          sync.Mutex
	slots       map[domain.StreamKind]*slot
	stopped     bool
	unsubscribe func()

	// closing counts pipelines taken out of a slot whose Close has not
	// returned yet. Add only happens under mu before stopped is set.
	closing sync.WaitGroup
}

func NewRecordingTask(opts TaskOptions, desired domain.DesiredStates) *RecordingTask {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := &RecordingTask{
		participant: opts.Participant,
		router:      opts.Router,
		pipelines:   opts.Pipelines,
		directory:   opts.Directory,
		onFileState: opts.OnFileState,
		logger:      logger.With("participant_id", opts.Participant.ID()),
		slots:       make(map[domain.StreamKind]*slot, len(domain.StreamKinds)),
	}
	for _, kind := range domain.StreamKinds {
		t.slots[kind] = &slot{}
	}

	unsubscribe := opts.Participant.SubscribeProducers(t.onProducer)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	t.Apply(desired)
	return t
}

func (t *RecordingTask) ParticipantID() domain.ParticipantID {
	return t.participant.ID()
}

func (t *RecordingTask) SetAudio(active bool)  { t.set(domain.StreamAudio, active) }
func (t *RecordingTask) SetCamera(active bool) { t.set(domain.StreamCamera, active) }
func (t *RecordingTask) SetScreen(active bool) { t.set(domain.StreamScreen, active) }

func (t *RecordingTask) Apply(desired domain.DesiredStates) {
	t.SetAudio(desired.Audio)
	t.SetCamera(desired.Camera)
	t.SetScreen(desired.Screen)
}

// Desired reports the wanted state of a kind.
func (t *RecordingTask) Desired(kind domain.StreamKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[kind]
	return ok && s.desired
}

// Pipeline returns the pipeline currently serving kind, if any.
func (t *RecordingTask) Pipeline(kind domain.StreamKind) ports.Pipeline {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[kind]
	if !ok || s.pipeline == nil {
		return nil
	}
	return s.pipeline
}

func (t *RecordingTask) set(kind domain.StreamKind, active bool) {
	t.mu.Lock()
	s := t.slots[kind]
	if t.stopped || s.desired == active {
		t.mu.Unlock()
		return
	}
	s.desired = active

	var stale ports.Pipeline
	if active {
		if s.pipeline == nil {
			if producer := t.participant.Producer(kind); producer != nil {
				s.pipeline = t.open(kind, producer)
			}
		}
	} else {
		stale = t.detach(s)
	}
	t.mu.Unlock()

	t.closePipeline(kind, stale)
}

func (t *RecordingTask) onProducer(kind domain.StreamKind, producer ports.Producer) {
	t.mu.Lock()
	s, ok := t.slots[kind]
	if !ok || t.stopped || !s.desired {
		t.mu.Unlock()
		return
	}
	stale := t.detach(s)
	gen := s.gen
	t.mu.Unlock()

	t.closePipeline(kind, stale)
	if producer == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// A newer event or a desired change superseded this one.
	if t.stopped || !s.desired || s.gen != gen || s.pipeline != nil {
		return
	}
	s.pipeline = t.open(kind, producer)
}

// detach empties a slot and registers its pipeline as closing. It must be
// called with t.mu held and the result handed to closePipeline.
func (t *RecordingTask) detach(s *slot) ports.Pipeline {
	stale := s.pipeline
	s.pipeline = nil
	s.gen++
	if stale != nil {
		t.closing.Add(1)
	}
	return stale
}

// open must be called with t.mu held.
func (t *RecordingTask) open(kind domain.StreamKind, producer ports.Producer) ports.Pipeline {
	pipeline := t.pipelines.Open(ports.PipelineOptions{
		Router:        t.router,
		Producer:      producer,
		ParticipantID: t.participant.ID(),
		Label:         string(t.participant.ID()),
		Kind:          kind,
		Directory:     t.directory,
		OnFileState:   t.onFileState,
	})
	t.logger.Infow("pipeline opened", "kind", kind, "producer_id", producer.ID())

	go t.watch(kind, pipeline)
	return pipeline
}

// watch clears the slot when a pipeline ends on its own.
func (t *RecordingTask) watch(kind domain.StreamKind, pipeline ports.Pipeline) {
	<-pipeline.Done()

	t.mu.Lock()
	defer t.mu.Unlock()

	if s := t.slots[kind]; s.pipeline == pipeline {
		s.pipeline = nil
		t.logger.Warnw("pipeline ended", "kind", kind)
	}
}

func (t *RecordingTask) closePipeline(kind domain.StreamKind, pipeline ports.Pipeline) {
	if pipeline == nil {
		return
	}
	defer t.closing.Done()
	if err := pipeline.Close(); err != nil {
		t.logger.Warnw("failed to close pipeline", "kind", kind, "error", err)
	}
}

// Stop tears down every slot and waits for the pipelines to finish,
// including ones still closing after a producer replacement.
func (t *RecordingTask) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	unsubscribe := t.unsubscribe

	open := make(map[domain.StreamKind]ports.Pipeline)
	for kind, s := range t.slots {
		if s.pipeline != nil {
			open[kind] = s.pipeline
		}
		s.desired = false
		s.pipeline = nil
		s.gen++
	}
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for kind, pipeline := range open {
		wg.Add(1)
		go func(kind domain.StreamKind, pipeline ports.Pipeline) {
			defer wg.Done()
			if err := pipeline.Close(); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s pipeline: %w", kind, err))
				mu.Unlock()
			}
		}(kind, pipeline)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		t.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop recording task: %w", ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	return errs
}
