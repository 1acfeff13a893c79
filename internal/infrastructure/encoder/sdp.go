package encoder

import (
	"fmt"

	"rillrec/internal/core/domain"

	"github.com/pion/sdp/v3"
)

// SessionDescription describes a single plain RTP stream arriving on
// listenIP:params.Port so the encoder can receive it.
func SessionDescription(params domain.CodecParameters, listenIP string) ([]byte, error) {
	if params.Port <= 0 {
		return nil, fmt.Errorf("invalid rtp port %d", params.Port)
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  string(params.Kind),
			Port:   sdp.RangedPort{Value: params.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	var channels uint16
	if params.Kind == domain.MediaAudio {
		channels = params.Channels
	}
	media = media.WithCodec(params.PayloadType, params.Codec, params.ClockRate, channels, "")
	media = media.WithPropertyAttribute("sendonly")

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: listenIP,
		},
		SessionName: "FFmpeg",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: listenIP},
		},
		TimeDescriptions:  []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	out, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session description: %w", err)
	}
	return out, nil
}
