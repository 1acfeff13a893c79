package domain

import (
	"strings"
	"time"
)

// StreamKind identifies one of the three streams a participant can publish.
type StreamKind string

const (
	StreamAudio  StreamKind = "audio"
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)

var StreamKinds = []StreamKind{StreamAudio, StreamCamera, StreamScreen}

func ParseStreamKind(s string) (StreamKind, error) {
	k := StreamKind(strings.ToLower(s))
	if !k.Valid() {
		return "", ErrInvalidStreamKind
	}
	return k, nil
}

func (k StreamKind) Valid() bool {
	switch k {
	case StreamAudio, StreamCamera, StreamScreen:
		return true
	}
	return false
}

// MediaKind returns the RTP media type carrying this stream.
func (k StreamKind) MediaKind() MediaKind {
	if k == StreamAudio {
		return MediaAudio
	}
	return MediaVideo
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// RTPCodec is a codec negotiated on a consumer.
type RTPCodec struct {
	MimeType    string
	PayloadType uint8
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
}

// CodecParameters describe what an encoder needs to receive one stream.
type CodecParameters struct {
	PayloadType uint8     `json:"payload_type"`
	ClockRate   uint32    `json:"clock_rate"`
	Codec       string    `json:"codec"`
	Channels    uint16    `json:"channels,omitempty"`
	Kind        MediaKind `json:"kind"`
	Port        int       `json:"port"`
}

type ResourceUsage struct {
	ResidentBytes uint64
	SampledAt     time.Time
}

type PipelineState string

const (
	PipelineUninitialized PipelineState = "UNINITIALIZED"
	PipelineReady         PipelineState = "READY"
	PipelineActive        PipelineState = "ACTIVE"
	PipelinePaused        PipelineState = "PAUSED"
	PipelineClosed        PipelineState = "CLOSED"
)
