package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().
// State machine failures use the errmap sentinels (ErrWrongState,
// ErrPeerBusy, ErrPeerTimeout) so callers can classify them by kind.
var (
	// ErrNotLoggedIn indicates the own device name is unknown.
	ErrNotLoggedIn = errors.New("no device for the current account")

	// ErrCallSuperseded indicates the session an operation was working on
	// ended before the operation finished.
	ErrCallSuperseded = errors.New("call superseded by a newer transition")

	// ErrSelfCall indicates a dial to the own device.
	ErrSelfCall = errors.New("cannot dial own device")

	// ErrInvalidVolume indicates a volume outside 0..100.
	ErrInvalidVolume = errors.New("volume out of range")

	// ErrInvalidTimeout indicates a non-positive call timeout.
	ErrInvalidTimeout = errors.New("invalid call timeout")

	// ErrBadSignal indicates a signal payload that could not be decoded.
	ErrBadSignal = errors.New("bad call signal")
)
