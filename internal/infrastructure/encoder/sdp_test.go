package encoder

import (
	"strings"
	"testing"

	"rillrec/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDescription_Audio(t *testing.T) {
	out, err := SessionDescription(domain.CodecParameters{
		PayloadType: 111,
		ClockRate:   48000,
		Codec:       "opus",
		Channels:    2,
		Kind:        domain.MediaAudio,
		Port:        40000,
	}, "127.0.0.1")
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "v=0\r\n"))
	assert.Contains(t, text, "o=- 0 0 IN IP4 127.0.0.1\r\n")
	assert.Contains(t, text, "s=FFmpeg\r\n")
	assert.Contains(t, text, "c=IN IP4 127.0.0.1\r\n")
	assert.Contains(t, text, "t=0 0\r\n")
	assert.Contains(t, text, "m=audio 40000 RTP/AVP 111\r\n")
	assert.Contains(t, text, "a=rtpmap:111 opus/48000/2\r\n")
}

func TestSessionDescription_VideoHasNoChannels(t *testing.T) {
	out, err := SessionDescription(domain.CodecParameters{
		PayloadType: 96,
		ClockRate:   90000,
		Codec:       "vp8",
		Channels:    2,
		Kind:        domain.MediaVideo,
		Port:        40002,
	}, "127.0.0.1")
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "m=video 40002 RTP/AVP 96\r\n")
	assert.Contains(t, text, "a=rtpmap:96 vp8/90000\r\n")
}

func TestSessionDescription_RejectsMissingPort(t *testing.T) {
	_, err := SessionDescription(domain.CodecParameters{Kind: domain.MediaAudio}, "127.0.0.1")
	assert.Error(t, err)
}
