package streaming

import (
	"errors"
	"fmt"
)

// Playback delivery errors. Handlers map these onto HTTP statuses.
var (
	// ErrInputUnavailable indicates the source could not be opened or probed.
	ErrInputUnavailable = errors.New("input unavailable")

	// ErrUnsupportedCodec indicates no profile can be produced for the
	// source's streams.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrResourceExhausted indicates the worker pool rejected the job:
	// every slot is busy and the queue is full.
	ErrResourceExhausted = errors.New("transcoder resources exhausted")

	// ErrSegmentUnavailable indicates a requested segment does not exist
	// and will never be produced.
	ErrSegmentUnavailable = errors.New("segment unavailable")

	// ErrSessionNotFound indicates the session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPermissionDenied indicates the authorizer rejected the principal
	// for the requested media.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSessionExpired indicates the session idled past its timeout and
	// was reaped.
	ErrSessionExpired = errors.New("session expired")

	// ErrJobCancelled indicates the job was cancelled before finishing.
	ErrJobCancelled = errors.New("transcode job cancelled")

	// ErrStalled indicates the encoder produced no segment or heartbeat
	// within the stall timeout.
	ErrStalled = errors.New("encoder stalled")
)

// EncoderError wraps an encoder process failure with its exit code and the
// tail of its stderr output.
type EncoderError struct {
	ExitCode int
	Stderr   []string
}

// Error implements the error interface.
func (e *EncoderError) Error() string {
	if len(e.Stderr) > 0 {
		return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.Stderr[len(e.Stderr)-1])
	}
	return fmt.Sprintf("encoder exited with code %d", e.ExitCode)
}
