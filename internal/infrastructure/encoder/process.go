package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	Binary   string
	ListenIP string
	// Command builds the child process. exec.Command is used when nil.
	Command func(name string, args ...string) *exec.Cmd
}

// Process supervises one encoder subprocess writing a single stream to disk.
type Process struct {
	params   domain.CodecParameters
	filename string
	logger   *zap.SugaredLogger
	metrics  ports.RecordingMetrics

	mu      sync.Mutex
	cmd     *exec.Cmd
	logFile *os.File
	closed  bool
	exited  chan struct{}
	waitErr error
}

// Args returns the encoder arguments for receiving params over an SDP piped
// into stdin and copying the stream into output.
func Args(params domain.CodecParameters, output string) []string {
	args := []string{
		"-loglevel", "debug",
		"-protocol_whitelist", "pipe,udp,rtp",
		"-fflags", "+genpts",
		"-f", "sdp",
		"-i", "pipe:0",
	}
	if params.Kind == domain.MediaAudio {
		args = append(args, "-map", "0:a:0", "-c:a", "copy")
	} else {
		args = append(args, "-map", "0:v:0", "-c:v", "copy")
	}
	return append(args, "-y", output)
}

// Start spawns the encoder. Output goes to {dir}/{baseName}.{ext} and the
// process output to {dir}/{baseName}.log.
func Start(ctx context.Context, cfg Config, params domain.CodecParameters, dir, baseName string, logger *zap.SugaredLogger, metrics ports.RecordingMetrics) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	ext, known := ContainerFor(params.Codec)
	if !known {
		logger.Warnw("unknown codec, falling back to default container",
			"codec", params.Codec,
			"container", ext,
		)
	}

	p := &Process{
		params:   params,
		filename: filepath.Join(dir, baseName+"."+ext),
		logger:   logger,
		metrics:  metrics,
		exited:   make(chan struct{}),
	}

	desc, err := SessionDescription(params, cfg.ListenIP)
	if err != nil {
		close(p.exited)
		return nil, err
	}

	logFile, err := os.Create(filepath.Join(dir, baseName+".log"))
	if err != nil {
		close(p.exited)
		return nil, fmt.Errorf("failed to create encoder log: %w", err)
	}

	command := cfg.Command
	if command == nil {
		command = exec.Command
	}
	cmd := command(cfg.Binary, Args(params, p.filename)...)
	cmd.Stdin = bytes.NewReader(desc)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	p.mu.Lock()
	p.cmd = cmd
	p.logFile = logFile
	p.mu.Unlock()

	if err := cmd.Start(); err != nil {
		close(p.exited)
		_ = p.Close()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	go p.wait()

	metrics.RecordEncoderStarted(params.Codec)
	logger.Infow("encoder started",
		"pid", cmd.Process.Pid,
		"file", p.filename,
		"codec", params.Codec,
		"port", params.Port,
	)
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *Process) Filename() string { return p.filename }

// Exited is closed when the subprocess is gone.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitErr is the result of waiting on the subprocess, valid after Exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Close releases the log file, then interrupts the subprocess and waits for
// it to exit. There is no shutdown deadline.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	logFile := p.logFile
	p.logFile = nil
	cmd := p.cmd
	p.mu.Unlock()

	var errs error
	if logFile != nil {
		errs = multierr.Append(errs, logFile.Close())
	}
	if cmd == nil || cmd.Process == nil {
		return errs
	}

	select {
	case <-p.exited:
	default:
		if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, fmt.Errorf("failed to interrupt encoder: %w", err))
		}
		<-p.exited
	}

	p.metrics.RecordEncoderStopped(p.params.Codec)
	p.logger.Infow("encoder stopped", "file", p.filename)
	return errs
}

// Launcher starts encoder processes for media pipelines.
type Launcher struct {
	cfg     Config
	logger  *zap.SugaredLogger
	metrics ports.RecordingMetrics
}

func NewLauncher(cfg Config, logger *zap.SugaredLogger, metrics ports.RecordingMetrics) *Launcher {
	return &Launcher{cfg: cfg, logger: logger, metrics: metrics}
}

func (l *Launcher) Launch(ctx context.Context, params domain.CodecParameters, dir, baseName string) (ports.Encoder, error) {
	p, err := Start(ctx, l.cfg, params, dir, baseName, l.logger, l.metrics)
	if err != nil {
		return nil, err
	}
	return p, nil
}
