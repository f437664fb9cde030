package engine

import "errors"

var (
	// ErrNotReady is returned by Play when no graph has been set up.
	ErrNotReady = errors.New("audio not ready")
	// ErrSetupFailed wraps any decode or wiring failure during Setup.
	ErrSetupFailed = errors.New("failed to initialize spatial audio")
	// ErrPlaybackRejected is returned when the runtime refuses to start playback.
	ErrPlaybackRejected = errors.New("playback rejected")
	// ErrStale is returned by a Setup that was superseded before it finished.
	// It is never surfaced as a user-facing error.
	ErrStale = errors.New("setup superseded")
	// ErrClosed is returned once the controller has released its audio context.
	ErrClosed = errors.New("audio engine closed")
)
