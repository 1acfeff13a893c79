package webrtc

import (
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/pion/rtp"
)

// Producer is one inbound track of a publisher.
type Producer struct {
	id              string
	kind            domain.StreamKind
	codec           domain.RTPCodec
	requestKeyFrame func() error

	mu        sync.Mutex
	paused    bool
	closed    bool
	consumers map[string]*Consumer
	listeners map[int]func(paused bool)
	nextID    int
}

var _ ports.Producer = (*Producer)(nil)

func newProducer(id string, kind domain.StreamKind, codec domain.RTPCodec, requestKeyFrame func() error) *Producer {
	return &Producer{
		id:              id,
		kind:            kind,
		codec:           codec,
		requestKeyFrame: requestKeyFrame,
		consumers:       make(map[string]*Consumer),
		listeners:       make(map[int]func(bool)),
	}
}

func (p *Producer) ID() string              { return p.id }
func (p *Producer) Kind() domain.StreamKind { return p.kind }
func (p *Producer) Codec() domain.RTPCodec  { return p.codec }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause() error  { return p.setPaused(true) }
func (p *Producer) Resume() error { return p.setPaused(false) }

func (p *Producer) setPaused(paused bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrProducerNotFound
	}
	if p.paused == paused {
		p.mu.Unlock()
		return nil
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
	return nil
}

func (p *Producer) subscribe(fn func(paused bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// dispatch forwards one packet to every consumer while the producer is
// not paused.
func (p *Producer) dispatch(pkt *rtp.Packet) {
	p.mu.Lock()
	if p.paused || p.closed {
		p.mu.Unlock()
		return
	}
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		c.write(pkt)
	}
}

func (p *Producer) keyFrame() error {
	if p.kind.MediaKind() != domain.MediaVideo || p.requestKeyFrame == nil {
		return nil
	}
	return p.requestKeyFrame()
}

func (p *Producer) close() {
	p.mu.Lock()
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
}
