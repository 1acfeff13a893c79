package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/utils"

	"github.com/pion/rtp"
	"go.uber.org/multierr"
)

var ErrTransportClosed = errors.New("transport closed")

// PlainTransport sends the packets of its consumers as plain RTP over UDP
// to the address given to Connect.
type PlainTransport struct {
	id     string
	router *Router
	conn   *net.UDPConn

	mu        sync.Mutex
	remote    *net.UDPAddr
	consumers map[string]*Consumer
	closed    bool
}

var _ ports.Transport = (*PlainTransport)(nil)

func newPlainTransport(id string, r *Router, conn *net.UDPConn) *PlainTransport {
	return &PlainTransport{
		id:        id,
		router:    r,
		conn:      conn,
		consumers: make(map[string]*Consumer),
	}
}

func (t *PlainTransport) ID() string { return t.id }

func (t *PlainTransport) Connect(ctx context.Context, ip string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return fmt.Errorf("invalid remote address %q", ip)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid remote port %d", port)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.remote = &net.UDPAddr{IP: addr, Port: port}
	return nil
}

func (t *PlainTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	producer, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, opts.ProducerID)
	}

	c := &Consumer{
		id:        utils.GenerateID("consumer"),
		producer:  producer,
		transport: t,
		paused:    opts.Paused,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	if !producer.attach(c) {
		t.removeConsumer(c.id)
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, opts.ProducerID)
	}
	return c, nil
}

func (t *PlainTransport) send(data []byte) error {
	t.mu.Lock()
	remote := t.remote
	closed := t.closed
	t.mu.Unlock()
	if closed || remote == nil {
		return nil
	}
	_, err := t.conn.WriteToUDP(data, remote)
	return err
}

func (t *PlainTransport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *PlainTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	var err error
	for _, c := range consumers {
		err = multierr.Append(err, c.Close())
	}
	err = multierr.Append(err, t.conn.Close())
	t.router.removeTransport(t.id)
	return err
}

// Consumer relays one producer onto a plain transport.
type Consumer struct {
	id        string
	producer  *Producer
	transport *PlainTransport

	mu     sync.Mutex
	paused bool
	closed bool
}

var _ ports.Consumer = (*Consumer)(nil)

func (c *Consumer) ID() string           { return c.id }
func (c *Consumer) ProducerID() string   { return c.producer.id }
func (c *Consumer) ProducerPaused() bool { return c.producer.Paused() }

func (c *Consumer) Codecs() []domain.RTPCodec {
	return []domain.RTPCodec{c.producer.codec}
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTransportClosed
	}
	c.paused = true
	return nil
}

// Resume restarts forwarding and asks the publisher for a key frame so a
// video receiver can start decoding right away.
func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTransportClosed
	}
	wasPaused := c.paused
	c.paused = false
	c.mu.Unlock()

	if wasPaused {
		if err := c.producer.keyFrame(); err != nil {
			c.transport.router.logger.Warnw("failed to request key frame",
				"consumer_id", c.id,
				"producer_id", c.producer.id,
				"error", err,
			)
		}
	}
	return nil
}

func (c *Consumer) OnProducerStateChange(fn func(paused bool)) func() {
	return c.producer.subscribe(fn)
}

func (c *Consumer) write(pkt *rtp.Packet) {
	c.mu.Lock()
	skip := c.paused || c.closed
	c.mu.Unlock()
	if skip {
		return
	}

	data, err := pkt.Marshal()
	if err != nil {
		return
	}
	if err := c.transport.send(data); err != nil {
		c.transport.router.logger.Debugw("failed to send rtp packet", "consumer_id", c.id, "error", err)
	}
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.detach(c.id)
	c.transport.removeConsumer(c.id)
	return nil
}
