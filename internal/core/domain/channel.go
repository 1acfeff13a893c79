package domain

import "time"

type ChannelID string
type ParticipantID string

type ChannelInfo struct {
	ID           ChannelID       `json:"id"`
	Name         string          `json:"name"`
	WorkerID     string          `json:"worker_id"`
	Participants int             `json:"participants"`
	CreatedAt    time.Time       `json:"created_at"`
	Recording    RecordingStatus `json:"recording"`
	State        RecorderState   `json:"recorder_state"`
}

type ParticipantInfo struct {
	ID        ParticipantID       `json:"id"`
	Name      string              `json:"name"`
	Producers map[StreamKind]bool `json:"producers"`
	JoinedAt  time.Time           `json:"joined_at"`
}

type MembershipEventType string

const (
	MembershipJoin  MembershipEventType = "join"
	MembershipLeave MembershipEventType = "leave"
)

type MembershipEvent struct {
	Type          MembershipEventType
	ParticipantID ParticipantID
}
