package testutils

import (
	"context"
	"path/filepath"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
)

// FakeEncoderLauncher records launches instead of spawning processes.
type FakeEncoderLauncher struct {
	mu       sync.Mutex
	launched []*FakeEncoder
	Err      error

	// CloseGate, when set, holds Close of encoders launched afterwards until
	// it is closed.
	CloseGate chan struct{}
}

func (l *FakeEncoderLauncher) Launch(ctx context.Context, params domain.CodecParameters, dir, baseName string) (ports.Encoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	enc := &FakeEncoder{
		Params:   params,
		BaseName: baseName,
		filename: filepath.Join(dir, baseName+".out"),
		exited:   make(chan struct{}),
		gate:     l.CloseGate,
	}
	l.launched = append(l.launched, enc)
	return enc, nil
}

func (l *FakeEncoderLauncher) SetCloseGate(gate chan struct{}) {
	l.mu.Lock()
	l.CloseGate = gate
	l.mu.Unlock()
}

func (l *FakeEncoderLauncher) SetErr(err error) {
	l.mu.Lock()
	l.Err = err
	l.mu.Unlock()
}

func (l *FakeEncoderLauncher) Launched() []*FakeEncoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeEncoder(nil), l.launched...)
}

// Running counts launched encoders that were not closed.
func (l *FakeEncoderLauncher) Running() int {
	n := 0
	for _, e := range l.Launched() {
		if !e.Closed() {
			n++
		}
	}
	return n
}

type FakeEncoder struct {
	Params   domain.CodecParameters
	BaseName string
	filename string
	exited   chan struct{}
	exitOnce sync.Once
	gate     chan struct{}

	mu      sync.Mutex
	closing bool
	closed  bool
}

func (e *FakeEncoder) Filename() string        { return e.filename }
func (e *FakeEncoder) Exited() <-chan struct{} { return e.exited }

func (e *FakeEncoder) Close() error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	if e.gate != nil {
		<-e.gate
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.Crash()
	return nil
}

// Crash simulates the process exiting on its own.
func (e *FakeEncoder) Crash() {
	e.exitOnce.Do(func() { close(e.exited) })
}

// Closing reports whether Close was called, even if it has not returned.
func (e *FakeEncoder) Closing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closing
}

func (e *FakeEncoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// FileStateRecorder collects file state notifications.
type FileStateRecorder struct {
	mu     sync.Mutex
	states []domain.FileState
}

func (r *FileStateRecorder) Record(s domain.FileState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *FileStateRecorder) States() []domain.FileState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.FileState(nil), r.states...)
}
