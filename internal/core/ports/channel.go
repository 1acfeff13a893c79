package ports

import (
	"context"

	"rillrec/internal/core/domain"
)

type Participant interface {
	ID() domain.ParticipantID
	Name() string
	Producer(kind domain.StreamKind) Producer
	// SubscribeProducers reports producer changes, p is nil when the
	// producer of that kind went away.
	SubscribeProducers(fn func(kind domain.StreamKind, p Producer)) func()
}

type Channel interface {
	ID() domain.ChannelID
	Name() string
	Router() Router
	Participants() []Participant
	Participant(id domain.ParticipantID) (Participant, bool)
	SubscribeMembership(fn func(domain.MembershipEvent)) func()
}

// ChannelRepository stores channel descriptions. Live channel state stays
// in the channel service.
type ChannelRepository interface {
	Save(ctx context.Context, info *domain.ChannelInfo) error
	Get(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error)
	Delete(ctx context.Context, id domain.ChannelID) error
	List(ctx context.Context) ([]*domain.ChannelInfo, error)
}
