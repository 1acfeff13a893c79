package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength   = 100
	maxNameLength = 100
	// an offer for three tracks with full candidate lists stays well below this
	maxSDPLength = 64 << 10
)

// IDRegex matches channel and participant ids.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID validates a channel or participant id taken from a URL.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateName validates a channel or participant display name.
func ValidateName(name, fieldName string) error {
	if err := ValidateNonEmptyString(name, fieldName); err != nil {
		return err
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return ValidateStringLength(strings.TrimSpace(name), 1, maxNameLength, fieldName)
}

// ValidateOffer does a cheap sanity check of an SDP offer before it reaches
// the routing engine.
func ValidateOffer(sdp string) error {
	if err := ValidateNonEmptyString(sdp, "sdp"); err != nil {
		return err
	}
	if len(sdp) > maxSDPLength {
		return fmt.Errorf("sdp is too long (max %d bytes)", maxSDPLength)
	}
	if !strings.HasPrefix(strings.TrimSpace(sdp), "v=0") {
		return fmt.Errorf("sdp must start with a version line")
	}
	if !strings.Contains(sdp, "m=") {
		return fmt.Errorf("sdp has no media sections")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
