package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateChannelID generates a unique channel ID
func GenerateChannelID() string {
	return GenerateID("ch")
}

// GenerateParticipantID generates a unique participant ID
func GenerateParticipantID() string {
	return GenerateID("p")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	id := uuid.New()
	return prefix + "_" + hex.EncodeToString(id[:8])
}
