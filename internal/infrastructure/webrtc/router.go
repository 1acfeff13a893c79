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

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrRouterClosed = errors.New("router closed")

// Router hosts the publishers of one channel and the plain transports
// reading from their producers.
type Router struct {
	id     string
	worker *worker
	logger *zap.SugaredLogger

	mu         sync.Mutex
	publishers map[domain.ParticipantID]*publisher
	producers  map[string]*Producer
	transports map[string]*PlainTransport
	closed     bool
}

// publisher is one participant's inbound peer connection.
type publisher struct {
	participantID domain.ParticipantID
	pc            *webrtc.PeerConnection
	sink          ports.ProducerSink
	producers     map[string]*Producer
}

var _ ports.Router = (*Router)(nil)

func newRouter(id string, w *worker) *Router {
	return &Router{
		id:         id,
		worker:     w,
		logger:     w.logger.With("router_id", id),
		publishers: make(map[domain.ParticipantID]*publisher),
		producers:  make(map[string]*Producer),
		transports: make(map[string]*PlainTransport),
	}
}

func (r *Router) ID() string { return r.id }

func (r *Router) CreatePlainTransport(ctx context.Context, bindIP string) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}
	ip := net.ParseIP(bindIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", bindIP)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("failed to bind plain transport: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		conn.Close()
		return nil, ErrRouterClosed
	}

	t := newPlainTransport(utils.GenerateID("transport"), r, conn)
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) producerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// Publish answers a participant's offer. Every track the participant sends
// becomes a Producer reported to sink. Publishing again replaces the
// previous connection.
func (r *Router) Publish(ctx context.Context, participantID domain.ParticipantID, offerSDP string, sink ports.ProducerSink) (string, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", ErrRouterClosed
	}

	if err := r.Unpublish(participantID); err != nil {
		r.logger.Warnw("failed to close previous publisher", "participant_id", participantID, "error", err)
	}

	pc, err := r.worker.api.NewPeerConnection(r.worker.pcConfig)
	if err != nil {
		return "", fmt.Errorf("failed to create peer connection: %w", err)
	}

	pub := &publisher{
		participantID: participantID,
		pc:            pc,
		sink:          sink,
		producers:     make(map[string]*Producer),
	}
	pc.OnTrack(r.handleTrack(pub))
	pc.OnConnectionStateChange(r.handleConnectionState(pub))

	answer, err := negotiate(ctx, pc, offerSDP)
	if err != nil {
		pc.Close()
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pc.Close()
		return "", ErrRouterClosed
	}
	r.publishers[participantID] = pub
	r.mu.Unlock()

	r.logger.Infow("publisher connected", "participant_id", participantID)
	return answer, nil
}

func negotiate(ctx context.Context, pc *webrtc.PeerConnection, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func (r *Router) handleTrack(pub *publisher) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind, ok := streamKind(track.Kind(), track.ID(), track.StreamID())
		if !ok {
			return
		}

		ssrc := uint32(track.SSRC())
		requestKeyFrame := func() error {
			return pub.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
		}
		p := newProducer(utils.GenerateID("producer"), kind, rtpCodec(track.Codec()), requestKeyFrame)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.producers[p.id] = p
		pub.producers[p.id] = p
		r.mu.Unlock()

		r.logger.Infow("producer added",
			"participant_id", pub.participantID,
			"producer_id", p.id,
			"kind", kind,
			"codec", track.Codec().MimeType,
		)
		pub.sink.ProducerAdded(p)

		go r.drainRTCP(receiver)
		go r.forward(pub, track, p)
	}
}

// forward reads the track until it ends and hands every packet to the
// producer's consumers.
func (r *Router) forward(pub *publisher, track *webrtc.TrackRemote, p *Producer) {
	defer r.worker.guard()
	defer r.removeProducer(pub, p)

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			r.logger.Debugw("track ended", "producer_id", p.id, "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.logger.Warnw("failed to unmarshal rtp packet", "producer_id", p.id, "error", err)
			continue
		}
		p.dispatch(pkt)
	}
}

func (r *Router) drainRTCP(receiver *webrtc.RTPReceiver) {
	defer r.worker.guard()
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (r *Router) removeProducer(pub *publisher, p *Producer) {
	r.mu.Lock()
	_, ok := r.producers[p.id]
	delete(r.producers, p.id)
	delete(pub.producers, p.id)
	r.mu.Unlock()
	if !ok {
		return
	}

	p.close()
	pub.sink.ProducerRemoved(p)
	r.logger.Infow("producer removed", "participant_id", pub.participantID, "producer_id", p.id)
}

func (r *Router) handleConnectionState(pub *publisher) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		r.logger.Infow("publisher connection state changed",
			"participant_id", pub.participantID,
			"connection_state", state.String(),
		)
		if state == webrtc.PeerConnectionStateFailed {
			go r.dropPublisher(pub)
		}
	}
}

func (r *Router) Unpublish(participantID domain.ParticipantID) error {
	r.mu.Lock()
	pub, ok := r.publishers[participantID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.dropPublisher(pub)
}

func (r *Router) dropPublisher(pub *publisher) error {
	r.mu.Lock()
	if current, ok := r.publishers[pub.participantID]; ok && current == pub {
		delete(r.publishers, pub.participantID)
	}
	producers := make([]*Producer, 0, len(pub.producers))
	for _, p := range pub.producers {
		producers = append(producers, p)
	}
	r.mu.Unlock()

	for _, p := range producers {
		r.removeProducer(pub, p)
	}
	if err := pub.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	publishers := make([]*publisher, 0, len(r.publishers))
	for _, pub := range r.publishers {
		publishers = append(publishers, pub)
	}
	transports := make([]*PlainTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	var err error
	for _, t := range transports {
		err = multierr.Append(err, t.Close())
	}
	for _, pub := range publishers {
		err = multierr.Append(err, r.dropPublisher(pub))
	}
	r.worker.removeRouter(r.id)
	r.logger.Infow("router closed")
	return err
}
