package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/google/uuid"
)

var ErrFakeClosed = errors.New("fake: closed")

// FakeWorker is an in-memory routing engine worker.
type FakeWorker struct {
	id   string
	died chan error

	mu       sync.Mutex
	usage    uint64
	usageErr error
	closed   bool
	routers  []*FakeRouter
}

func NewFakeWorker(usage uint64) *FakeWorker {
	return &FakeWorker{
		id:    uuid.NewString(),
		usage: usage,
		died:  make(chan error, 1),
	}
}

func (w *FakeWorker) ID() string { return w.id }

func (w *FakeWorker) ResourceUsage(ctx context.Context) (domain.ResourceUsage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.usageErr != nil {
		return domain.ResourceUsage{}, w.usageErr
	}
	return domain.ResourceUsage{ResidentBytes: w.usage, SampledAt: time.Now()}, nil
}

func (w *FakeWorker) SetUsage(usage uint64, err error) {
	w.mu.Lock()
	w.usage = usage
	w.usageErr = err
	w.mu.Unlock()
}

func (w *FakeWorker) CreateRouter(ctx context.Context) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrFakeClosed
	}
	r := NewFakeRouter()
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *FakeWorker) Routers() []*FakeRouter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*FakeRouter(nil), w.routers...)
}

func (w *FakeWorker) Died() <-chan error { return w.died }

// Kill simulates an unexpected worker exit.
func (w *FakeWorker) Kill(cause error) {
	w.died <- cause
}

func (w *FakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for _, r := range w.routers {
		_ = r.Close()
	}
	return nil
}

func (w *FakeWorker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// FakeWorkerFactory records every worker it creates. Usage assigns the
// resident bytes of the n-th worker when set.
type FakeWorkerFactory struct {
	mu      sync.Mutex
	created []*FakeWorker
	Err     error
	Usage   func(n int) uint64
}

func (f *FakeWorkerFactory) CreateWorker(ctx context.Context) (ports.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var usage uint64
	if f.Usage != nil {
		usage = f.Usage(len(f.created))
	}
	w := NewFakeWorker(usage)
	f.created = append(f.created, w)
	return w, nil
}

func (f *FakeWorkerFactory) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

func (f *FakeWorkerFactory) Created() []*FakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeWorker(nil), f.created...)
}

// FakeRouter hands out fake plain transports. ConsumeGate, when set, blocks
// every Consume call until it is closed.
type FakeRouter struct {
	id string

	mu           sync.Mutex
	producers    map[string]*FakeProducer
	transports   []*FakeTransport
	codecs       map[domain.MediaKind]domain.RTPCodec
	published    map[domain.ParticipantID]ports.ProducerSink
	closed       bool
	TransportErr error
	ConnectErr   error
	ConsumeErr   error
	ConsumeGate  chan struct{}
}

func NewFakeRouter() *FakeRouter {
	return &FakeRouter{
		id:        uuid.NewString(),
		producers: make(map[string]*FakeProducer),
		published: make(map[domain.ParticipantID]ports.ProducerSink),
		codecs: map[domain.MediaKind]domain.RTPCodec{
			domain.MediaAudio: {MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
			domain.MediaVideo: {MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
		},
	}
}

func (r *FakeRouter) ID() string { return r.id }

func (r *FakeRouter) SetCodec(kind domain.MediaKind, codec domain.RTPCodec) {
	r.mu.Lock()
	r.codecs[kind] = codec
	r.mu.Unlock()
}

// AddProducer registers a producer that transports of this router can consume.
func (r *FakeRouter) AddProducer(kind domain.StreamKind) *FakeProducer {
	p := NewFakeProducer(kind)
	r.mu.Lock()
	r.producers[p.ID()] = p
	r.mu.Unlock()
	return p
}

func (r *FakeRouter) CreatePlainTransport(ctx context.Context, bindIP string) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	if r.closed {
		return nil, ErrFakeClosed
	}
	t := &FakeTransport{id: uuid.NewString(), router: r, BindIP: bindIP}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *FakeRouter) Publish(ctx context.Context, participantID domain.ParticipantID, offerSDP string, sink ports.ProducerSink) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[participantID] = sink
	return "answer:" + offerSDP, nil
}

// Produce registers a producer and reports it to the sink the participant
// published with.
func (r *FakeRouter) Produce(participantID domain.ParticipantID, kind domain.StreamKind) (*FakeProducer, error) {
	r.mu.Lock()
	sink, ok := r.published[participantID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake: %s has not published", participantID)
	}

	p := r.AddProducer(kind)
	sink.ProducerAdded(p)
	return p, nil
}

func (r *FakeRouter) Unpublish(participantID domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.published, participantID)
	return nil
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *FakeRouter) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *FakeRouter) Transports() []*FakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeTransport(nil), r.transports...)
}

// OpenTransports counts transports that were not closed yet.
func (r *FakeRouter) OpenTransports() int {
	n := 0
	for _, t := range r.Transports() {
		if !t.Closed() {
			n++
		}
	}
	return n
}

type FakeTransport struct {
	id     string
	router *FakeRouter
	BindIP string

	mu        sync.Mutex
	ip        string
	port      int
	closed    bool
	consumers []*FakeConsumer
}

func (t *FakeTransport) ID() string { return t.id }

func (t *FakeTransport) Connect(ctx context.Context, ip string, port int) error {
	t.router.mu.Lock()
	err := t.router.ConnectErr
	t.router.mu.Unlock()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ip, t.port = ip, port
	t.mu.Unlock()
	return nil
}

func (t *FakeTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	t.router.mu.Lock()
	gate := t.router.ConsumeGate
	consumeErr := t.router.ConsumeErr
	producer, ok := t.router.producers[opts.ProducerID]
	t.router.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if consumeErr != nil {
		return nil, consumeErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, opts.ProducerID)
	}

	t.router.mu.Lock()
	codec := t.router.codecs[producer.Kind().MediaKind()]
	t.router.mu.Unlock()

	c := &FakeConsumer{
		id:       uuid.NewString(),
		producer: producer,
		codecs:   []domain.RTPCodec{codec},
		paused:   opts.Paused,
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *FakeTransport) Target() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ip, t.port
}

func (t *FakeTransport) Consumers() []*FakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeConsumer(nil), t.consumers...)
}

type FakeConsumer struct {
	id       string
	producer *FakeProducer
	codecs   []domain.RTPCodec

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *FakeConsumer) ID() string                { return c.id }
func (c *FakeConsumer) ProducerID() string        { return c.producer.ID() }
func (c *FakeConsumer) Codecs() []domain.RTPCodec { return c.codecs }
func (c *FakeConsumer) ProducerPaused() bool      { return c.producer.Paused() }

func (c *FakeConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *FakeConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *FakeConsumer) OnProducerStateChange(fn func(paused bool)) func() {
	return c.producer.subscribe(fn)
}

func (c *FakeConsumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *FakeConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *FakeConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type FakeProducer struct {
	id   string
	kind domain.StreamKind

	mu        sync.Mutex
	paused    bool
	listeners map[int]func(bool)
	nextID    int
}

func NewFakeProducer(kind domain.StreamKind) *FakeProducer {
	return &FakeProducer{
		id:        uuid.NewString(),
		kind:      kind,
		listeners: make(map[int]func(bool)),
	}
}

func (p *FakeProducer) ID() string              { return p.id }
func (p *FakeProducer) Kind() domain.StreamKind { return p.kind }

func (p *FakeProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *FakeProducer) Pause() error  { p.setPaused(true); return nil }
func (p *FakeProducer) Resume() error { p.setPaused(false); return nil }

func (p *FakeProducer) setPaused(paused bool) {
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return
	}
	p.paused = paused
	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(paused)
	}
}

func (p *FakeProducer) subscribe(fn func(bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *FakeProducer) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}
