package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxClientIDLength = 64
	maxEntityLength   = 64
)

// ValidateKey checks that clientID and entity can be used as MQTT topic
// segments and storage keys.
func ValidateKey(clientID, entity string) error {
	if err := validateSegment("client id", clientID, maxClientIDLength); err != nil {
		return err
	}
	return validateSegment("entity", entity, maxEntityLength)
}

func validateSegment(field, value string, maxLen int) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidDevice, field)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidDevice, field, maxLen)
	}
	if strings.ContainsAny(value, "/+#") {
		return fmt.Errorf("%w: %s %q contains an MQTT topic separator or wildcard", ErrInvalidDevice, field, value)
	}
	return nil
}

// GenerateID returns a new device identifier.
func GenerateID() string {
	return uuid.NewString()
}
