package ports

import (
	"context"

	"rillrec/internal/core/domain"
)

// Producer is a live inbound stream published by a participant.
type Producer interface {
	ID() string
	Kind() domain.StreamKind
	Paused() bool
	Pause() error
	Resume() error
}

// ProducerSink receives producers as a publisher's tracks come and go.
type ProducerSink interface {
	ProducerAdded(p Producer)
	ProducerRemoved(p Producer)
}

type ConsumeOptions struct {
	ProducerID string
	Paused     bool
}

// Consumer is a local read-side attachment to a producer's packets.
type Consumer interface {
	ID() string
	ProducerID() string
	Codecs() []domain.RTPCodec
	ProducerPaused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// OnProducerStateChange registers fn for producer pause/resume and
	// returns a function removing it.
	OnProducerStateChange(fn func(paused bool)) func()
	Close() error
}

// Transport exposes consumed packets as a plain RTP stream sent to ip:port.
type Transport interface {
	ID() string
	Connect(ctx context.Context, ip string, port int) error
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close() error
}

type Router interface {
	ID() string
	CreatePlainTransport(ctx context.Context, bindIP string) (Transport, error)
	// Publish negotiates an inbound peer connection for a participant and
	// returns the answer SDP. Producers are reported to sink.
	Publish(ctx context.Context, participantID domain.ParticipantID, offerSDP string, sink ProducerSink) (string, error)
	Unpublish(participantID domain.ParticipantID) error
	Close() error
}

type Worker interface {
	ID() string
	ResourceUsage(ctx context.Context) (domain.ResourceUsage, error)
	CreateRouter(ctx context.Context) (Router, error)
	// Died delivers one error if the worker stops unexpectedly.
	Died() <-chan error
	Close() error
}

type WorkerFactory interface {
	CreateWorker(ctx context.Context) (Worker, error)
}

type WorkerProvider interface {
	GetWorker(ctx context.Context) (Worker, error)
}
