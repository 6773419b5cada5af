// Package limits provides centralized size constants and validation functions
// for everything shadowcall puts on the wire.
//
// # Size Hierarchy
//
//   - MaxTopicLength (256 bytes): pub/sub subjects, including the shadow
//     topics built from device names.
//   - MaxDeviceName (64 bytes): virtual and physical device names used as a
//     single topic level.
//   - MaxAttachMessage (1024 bytes): invite metadata carried by a dial.
//   - MaxShadowPayload (16384 bytes): a single shadow document update.
//   - MaxProcessingBuffer (1MB): the absolute maximum for any inbound frame.
//
// # Validation Functions
//
// Each validation function checks for empty input and size violations:
//
//	if err := limits.ValidateShadowPayload(payload); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// ValidateAttachMessage is the exception: an empty attach message is allowed.
package limits
