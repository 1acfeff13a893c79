package domain

import "time"

type RecorderState string

const (
	RecorderStarted  RecorderState = "STARTED"
	RecorderStopping RecorderState = "STOPPING"
	RecorderStopped  RecorderState = "STOPPED"
)

type TimeTag string

const (
	TagRecordingStarted     TimeTag = "RECORDING_STARTED"
	TagRecordingStopped     TimeTag = "RECORDING_STOPPED"
	TagTranscriptionStarted TimeTag = "TRANSCRIPTION_STARTED"
	TagTranscriptionStopped TimeTag = "TRANSCRIPTION_STOPPED"
	TagFileStateChanged     TimeTag = "FILE_STATE_CHANGED"
)

type TimelineEvent struct {
	Tag       TimeTag    `json:"tag"`
	Timestamp int64      `json:"timestamp"`
	Detail    *FileState `json:"detail,omitempty"`
}

// FileState reports an encoder output file becoming active or inactive.
type FileState struct {
	Active        bool          `json:"active"`
	Filename      string        `json:"filename"`
	Kind          StreamKind    `json:"kind,omitempty"`
	ParticipantID ParticipantID `json:"participant_id,omitempty"`
}

// Metadata is written as metadata.json into every sealed recording.
type Metadata struct {
	ForwardAddress string          `json:"forward_address"`
	Timeline       []TimelineEvent `json:"timeline"`
}

type RecordingStatus struct {
	IsRecording    bool `json:"is_recording"`
	IsTranscribing bool `json:"is_transcribing"`
}

// DesiredStates is the per-stream capture intent pushed into recording tasks.
type DesiredStates struct {
	Audio  bool
	Camera bool
	Screen bool
}

// DesiredFor derives stream intents from the recorder flags.
// Transcription only ever needs audio.
func DesiredFor(status RecordingStatus) DesiredStates {
	return DesiredStates{
		Audio:  status.IsRecording || status.IsTranscribing,
		Camera: status.IsRecording,
		Screen: status.IsRecording,
	}
}

func (d DesiredStates) Get(kind StreamKind) bool {
	switch kind {
	case StreamAudio:
		return d.Audio
	case StreamCamera:
		return d.Camera
	case StreamScreen:
		return d.Screen
	}
	return false
}

// SealedRecording is the handoff record for a completed recording directory.
type SealedRecording struct {
	ChannelID   ChannelID `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Path        string    `json:"path"`
	SealedAt    time.Time `json:"sealed_at"`
}
