package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxTopicLength bounds a pub/sub subject.
	MaxTopicLength = 256

	// MaxDeviceName bounds a device name, which becomes one topic level.
	MaxDeviceName = 64

	// MaxAttachMessage bounds the invite metadata attached to a dial.
	MaxAttachMessage = 1024

	// MaxShadowPayload bounds a single shadow document update.
	MaxShadowPayload = 16384

	// MaxProcessingBuffer is the absolute maximum for any inbound frame.
	// This prevents memory exhaustion from a misbehaving broker (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidTopicLevel indicates a name contains a reserved topic character
	ErrInvalidTopicLevel = errors.New("invalid topic level")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTopic validates a pub/sub subject length.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrMessageEmpty
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: topic length %d exceeds limit %d", ErrMessageTooLarge, len(topic), MaxTopicLength)
	}
	return nil
}

// ValidateDeviceName validates a name that will be embedded as a single
// topic level. Wildcards and separators are rejected.
func ValidateDeviceName(name string) error {
	if name == "" {
		return ErrMessageEmpty
	}
	if len(name) > MaxDeviceName {
		return fmt.Errorf("%w: device name length %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxDeviceName)
	}
	if strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopicLevel, name)
	}
	return nil
}

// ValidateAttachMessage validates dial metadata. Empty metadata is allowed.
func ValidateAttachMessage(attach string) error {
	if len(attach) > MaxAttachMessage {
		return fmt.Errorf("%w: attach size %d exceeds limit %d", ErrMessageTooLarge, len(attach), MaxAttachMessage)
	}
	return nil
}

// ValidateShadowPayload validates a shadow update document.
func ValidateShadowPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrMessageEmpty
	}
	if len(payload) > MaxShadowPayload {
		return fmt.Errorf("%w: shadow payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxShadowPayload)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum (MaxProcessingBuffer).
// This limit should be used for all untrusted input.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
