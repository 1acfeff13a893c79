package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/utils"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	// BindIP is the local address plain transports listen on.
	BindIP string
	// RoutingIP is where plain transports send packets, the encoder listens there.
	RoutingIP string
}

// Factory opens media pipelines sharing one port pool and encoder launcher.
type Factory struct {
	cfg      Config
	ports    ports.PortPool
	launcher ports.EncoderLauncher
	logger   *zap.SugaredLogger
	metrics  ports.RecordingMetrics
	clock    func() int64
}

func NewFactory(cfg Config, portPool ports.PortPool, launcher ports.EncoderLauncher, logger *zap.SugaredLogger, metrics ports.RecordingMetrics) *Factory {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Factory{
		cfg:      cfg,
		ports:    portPool,
		launcher: launcher,
		logger:   logger,
		metrics:  metrics,
		clock:    utils.MonotonicMillis,
	}
}

// Open starts building a pipeline for opts.Producer in the background and
// returns immediately.
func (f *Factory) Open(opts ports.PipelineOptions) ports.Pipeline {
	return open(f, opts)
}

// Pipeline bridges one producer to an encoder through a plain transport.
// It is bound to that producer for its whole life.
type Pipeline struct {
	factory *Factory
	opts    ports.PipelineOptions
	logger  *zap.SugaredLogger

	ctx       context.Context
	cancel    context.CancelFunc
	setupDone chan struct{}
	done      chan struct{}

	// refreshMu serializes encoder start/stop against teardown.
	refreshMu sync.Mutex

	mu          sync.Mutex
	state       domain.PipelineState
	port        int
	transport   ports.Transport
	consumer    ports.Consumer
	unsubscribe func()
	params      domain.CodecParameters
	hasParams   bool
	encoder     ports.Encoder

	teardownOnce sync.Once
	teardownErr  error
}

func open(f *Factory, opts ports.PipelineOptions) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		factory: f,
		opts:    opts,
		logger: f.logger.With(
			"participant_id", opts.ParticipantID,
			"kind", opts.Kind,
			"producer_id", opts.Producer.ID(),
		),
		ctx:       ctx,
		cancel:    cancel,
		setupDone: make(chan struct{}),
		done:      make(chan struct{}),
		state:     domain.PipelineUninitialized,
	}
	f.metrics.RecordPipelineOpened(opts.Kind)
	go p.run()
	return p
}

func (p *Pipeline) run() {
	err := p.setup()
	if err == nil {
		err = p.refresh()
	}
	close(p.setupDone)

	if err != nil {
		if !errors.Is(err, domain.ErrPipelineClosed) {
			p.logger.Warnw("media pipeline setup failed", "error", err)
		}
		_ = p.Close()
	}
}

func (p *Pipeline) isClosed() bool {
	return p.ctx.Err() != nil
}

// setup acquires the port, transport and paused consumer. Everything
// acquired is stored before the closed check so teardown releases it.
func (p *Pipeline) setup() error {
	port, err := p.factory.ports.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire port: %w", err)
	}
	p.mu.Lock()
	p.port = port
	p.mu.Unlock()
	if p.isClosed() {
		return domain.ErrPipelineClosed
	}

	transport, err := p.opts.Router.CreatePlainTransport(p.ctx, p.factory.cfg.BindIP)
	if err != nil {
		return fmt.Errorf("failed to create plain transport: %w", err)
	}
	p.mu.Lock()
	p.transport = transport
	p.mu.Unlock()
	if p.isClosed() {
		return domain.ErrPipelineClosed
	}

	if err := transport.Connect(p.ctx, p.factory.cfg.RoutingIP, port); err != nil {
		return fmt.Errorf("failed to connect plain transport: %w", err)
	}
	if p.isClosed() {
		return domain.ErrPipelineClosed
	}

	consumer, err := transport.Consume(p.ctx, ports.ConsumeOptions{
		ProducerID: p.opts.Producer.ID(),
		Paused:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to consume producer: %w", err)
	}
	p.mu.Lock()
	p.consumer = consumer
	p.mu.Unlock()
	if p.isClosed() {
		return domain.ErrPipelineClosed
	}

	codecs := consumer.Codecs()
	if len(codecs) == 0 {
		return domain.ErrNoCodec
	}
	params := DeriveParameters(codecs[0], p.opts.Kind.MediaKind(), port)

	unsubscribe := consumer.OnProducerStateChange(func(bool) {
		if err := p.refresh(); err != nil {
			p.logger.Errorw("media pipeline refresh failed", "error", err)
			go p.Close()
		}
	})

	p.mu.Lock()
	p.params = params
	p.hasParams = true
	p.unsubscribe = unsubscribe
	p.state = domain.PipelineReady
	p.mu.Unlock()

	p.logger.Debugw("media pipeline ready",
		"port", port,
		"codec", params.Codec,
		"payload_type", params.PayloadType,
	)
	return nil
}

// DeriveParameters reads the encoder parameters from a negotiated codec.
// Channels are only kept for audio.
func DeriveParameters(codec domain.RTPCodec, kind domain.MediaKind, port int) domain.CodecParameters {
	name := codec.MimeType
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	params := domain.CodecParameters{
		PayloadType: codec.PayloadType,
		ClockRate:   codec.ClockRate,
		Codec:       strings.ToLower(name),
		Kind:        kind,
		Port:        port,
	}
	if kind == domain.MediaAudio {
		params.Channels = codec.Channels
	}
	return params
}

// refresh follows the producer: paused stops the encoder, active makes sure
// one is running and the consumer flows.
func (p *Pipeline) refresh() error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	if p.isClosed() {
		return nil
	}
	p.mu.Lock()
	consumer := p.consumer
	encoder := p.encoder
	params := p.params
	ready := p.hasParams
	p.mu.Unlock()
	if consumer == nil || !ready {
		return nil
	}

	if consumer.ProducerPaused() {
		if err := consumer.Pause(p.ctx); err != nil {
			p.logger.Warnw("failed to pause consumer", "error", err)
		}
		if encoder != nil {
			p.emit(false, encoder.Filename())
			p.mu.Lock()
			p.encoder = nil
			p.mu.Unlock()
			if err := encoder.Close(); err != nil {
				p.logger.Warnw("failed to stop encoder", "error", err)
			}
		}
		p.setState(domain.PipelinePaused)
		return nil
	}

	if encoder == nil {
		base := fmt.Sprintf("%s-%s-%d", p.opts.Label, p.opts.Kind, p.factory.clock())
		enc, err := p.factory.launcher.Launch(p.ctx, params, p.opts.Directory, base)
		if err != nil {
			return fmt.Errorf("failed to start encoder: %w", err)
		}
		if p.isClosed() {
			_ = enc.Close()
			return domain.ErrPipelineClosed
		}
		p.mu.Lock()
		p.encoder = enc
		p.mu.Unlock()
		encoder = enc
		go p.watchEncoder(enc)
		p.logger.Infow("recording stream", "file", enc.Filename())
	}

	if err := consumer.Resume(p.ctx); err != nil {
		return fmt.Errorf("failed to resume consumer: %w", err)
	}
	p.setState(domain.PipelineActive)
	p.emit(true, encoder.Filename())
	return nil
}

// watchEncoder collapses the pipeline when the encoder it is still using
// exits without being asked to.
func (p *Pipeline) watchEncoder(enc ports.Encoder) {
	select {
	case <-enc.Exited():
	case <-p.ctx.Done():
		return
	}

	p.mu.Lock()
	current := p.encoder == enc
	p.mu.Unlock()
	if !current || p.isClosed() {
		return
	}
	p.logger.Errorw("encoder exited unexpectedly", "file", enc.Filename())
	_ = p.Close()
}

func (p *Pipeline) emit(active bool, filename string) {
	if p.opts.OnFileState == nil {
		return
	}
	p.opts.OnFileState(domain.FileState{
		Active:        active,
		Filename:      filename,
		Kind:          p.opts.Kind,
		ParticipantID: p.opts.ParticipantID,
	})
}

func (p *Pipeline) setState(state domain.PipelineState) {
	p.mu.Lock()
	if p.state != domain.PipelineClosed {
		p.state = state
	}
	p.mu.Unlock()
}

func (p *Pipeline) State() domain.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Params() (domain.CodecParameters, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params, p.hasParams
}

// Port returns the acquired port, 0 before setup got one.
func (p *Pipeline) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Close latches the pipeline closed, waits for any setup in flight and
// releases everything in order: encoder, consumer, transport, port. Later
// steps run even when earlier ones fail.
func (p *Pipeline) Close() error {
	p.cancel()

	<-p.setupDone
	p.teardownOnce.Do(p.teardown)
	return p.teardownErr
}

func (p *Pipeline) teardown() {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	p.state = domain.PipelineClosed
	encoder := p.encoder
	consumer := p.consumer
	transport := p.transport
	port := p.port
	unsubscribe := p.unsubscribe
	p.encoder = nil
	p.consumer = nil
	p.transport = nil
	p.port = 0
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	var errs error
	if encoder != nil {
		p.emit(false, encoder.Filename())
		errs = multierr.Append(errs, encoder.Close())
	}
	if consumer != nil {
		errs = multierr.Append(errs, consumer.Close())
	}
	if transport != nil {
		errs = multierr.Append(errs, transport.Close())
	}
	if port != 0 {
		p.factory.ports.Release(port)
	}

	p.teardownErr = errs
	p.factory.metrics.RecordPipelineClosed(p.opts.Kind)
	if errs != nil {
		p.logger.Warnw("media pipeline closed with errors", "error", errs)
	} else {
		p.logger.Debugw("media pipeline closed")
	}
	close(p.done)
}
