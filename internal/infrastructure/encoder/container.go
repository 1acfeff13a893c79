package encoder

import "strings"

const fallbackContainer = "mkv"

var containers = map[string]string{
	"h264":   "mp4",
	"h265":   "mp4",
	"vp8":    "webm",
	"vp9":    "webm",
	"av1":    "webm",
	"opus":   "webm",
	"vorbis": "webm",
	"pcmu":   "wav",
	"pcma":   "wav",
}

// ContainerFor returns the file extension used for a codec. known is false
// when the codec is not in the table and the mkv fallback is used.
func ContainerFor(codec string) (ext string, known bool) {
	ext, known = containers[strings.ToLower(codec)]
	if !known {
		return fallbackContainer, false
	}
	return ext, true
}
