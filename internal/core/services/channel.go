package services

import (
	"sort"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
)

// registry holds subscribed callbacks. Callers take a snapshot and invoke
// it without holding any lock.
type registry[F any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]F
}

func (r *registry[F]) add(fn F) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fns == nil {
		r.fns = make(map[int]F)
	}
	id := r.next
	r.next++
	r.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.fns, id)
			r.mu.Unlock()
		})
	}
}

func (r *registry[F]) snapshot() []F {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.fns))
	for id := range r.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]F, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.fns[id])
	}
	return fns
}

func (r *registry[F]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

// Participant is a channel member and the owner of its producers.
type Participant struct {
	id       domain.ParticipantID
	name     string
	joinedAt time.Time

	mu        sync.RWMutex
	producers map[domain.StreamKind]ports.Producer

	listeners registry[func(domain.StreamKind, ports.Producer)]
}

func NewParticipant(id domain.ParticipantID, name string) *Participant {
	return &Participant{
		id:        id,
		name:      name,
		joinedAt:  time.Now(),
		producers: make(map[domain.StreamKind]ports.Producer),
	}
}

func (p *Participant) ID() domain.ParticipantID { return p.id }
func (p *Participant) Name() string             { return p.name }

func (p *Participant) Producer(kind domain.StreamKind) ports.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	producer, ok := p.producers[kind]
	if !ok {
		return nil
	}
	return producer
}

func (p *Participant) SubscribeProducers(fn func(kind domain.StreamKind, producer ports.Producer)) func() {
	return p.listeners.add(fn)
}

// ProducerAdded replaces any producer of the same kind.
func (p *Participant) ProducerAdded(producer ports.Producer) {
	kind := producer.Kind()

	p.mu.Lock()
	p.producers[kind] = producer
	p.mu.Unlock()

	p.notify(kind, producer)
}

func (p *Participant) ProducerRemoved(producer ports.Producer) {
	kind := producer.Kind()

	p.mu.Lock()
	current, ok := p.producers[kind]
	if !ok || current.ID() != producer.ID() {
		p.mu.Unlock()
		return
	}
	delete(p.producers, kind)
	p.mu.Unlock()

	p.notify(kind, nil)
}

// removeAll drops every producer, reporting each kind as gone.
func (p *Participant) removeAll() {
	p.mu.Lock()
	kinds := make([]domain.StreamKind, 0, len(p.producers))
	for _, kind := range domain.StreamKinds {
		if _, ok := p.producers[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	p.producers = make(map[domain.StreamKind]ports.Producer)
	p.mu.Unlock()

	for _, kind := range kinds {
		p.notify(kind, nil)
	}
}

func (p *Participant) notify(kind domain.StreamKind, producer ports.Producer) {
	for _, fn := range p.listeners.snapshot() {
		fn(kind, producer)
	}
}

func (p *Participant) Info() domain.ParticipantInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	producers := make(map[domain.StreamKind]bool, len(p.producers))
	for kind, producer := range p.producers {
		producers[kind] = !producer.Paused()
	}

	return domain.ParticipantInfo{
		ID:        p.id,
		Name:      p.name,
		Producers: producers,
		JoinedAt:  p.joinedAt,
	}
}

// Channel groups participants routed through one router.
type Channel struct {
	id        domain.ChannelID
	name      string
	router    ports.Router
	workerID  string
	createdAt time.Time

	mu           sync.RWMutex
	participants map[domain.ParticipantID]*Participant
	order        []domain.ParticipantID

	listeners registry[func(domain.MembershipEvent)]
}

func NewChannel(id domain.ChannelID, name string, router ports.Router, workerID string) *Channel {
	return &Channel{
		id:           id,
		name:         name,
		router:       router,
		workerID:     workerID,
		createdAt:    time.Now(),
		participants: make(map[domain.ParticipantID]*Participant),
	}
}

func (c *Channel) ID() domain.ChannelID { return c.id }
func (c *Channel) Name() string         { return c.name }
func (c *Channel) Router() ports.Router { return c.router }
func (c *Channel) WorkerID() string     { return c.workerID }
func (c *Channel) CreatedAt() time.Time { return c.createdAt }

// Participants returns members in join order.
func (c *Channel) Participants() []ports.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]ports.Participant, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.participants[id])
	}
	return result
}

func (c *Channel) Participant(id domain.ParticipantID) (ports.Participant, bool) {
	member, ok := c.Member(id)
	if !ok {
		return nil, false
	}
	return member, true
}

func (c *Channel) Member(id domain.ParticipantID) (*Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	member, ok := c.participants[id]
	return member, ok
}

func (c *Channel) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Channel) SubscribeMembership(fn func(domain.MembershipEvent)) func() {
	return c.listeners.add(fn)
}

// Join adds a participant and announces it. Joining twice is a no-op.
func (c *Channel) Join(participant *Participant) {
	c.mu.Lock()
	if _, exists := c.participants[participant.ID()]; exists {
		c.mu.Unlock()
		return
	}
	c.participants[participant.ID()] = participant
	c.order = append(c.order, participant.ID())
	c.mu.Unlock()

	c.emit(domain.MembershipEvent{Type: domain.MembershipJoin, ParticipantID: participant.ID()})
}

// Leave removes a participant, announces it and drops its producers.
func (c *Channel) Leave(id domain.ParticipantID) (*Participant, error) {
	c.mu.Lock()
	participant, ok := c.participants[id]
	if !ok {
		c.mu.Unlock()
		return nil, domain.ErrParticipantNotFound
	}
	delete(c.participants, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.emit(domain.MembershipEvent{Type: domain.MembershipLeave, ParticipantID: id})
	participant.removeAll()
	return participant, nil
}

func (c *Channel) emit(event domain.MembershipEvent) {
	for _, fn := range c.listeners.snapshot() {
		fn(event)
	}
}
