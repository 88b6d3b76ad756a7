package streaming

import (
	"context"
	"time"
)

// EncoderEventKind discriminates encoder event variants.
type EncoderEventKind int

const (
	// EventSegment reports a completed segment on disk.
	EventSegment EncoderEventKind = iota
	// EventHeartbeat reports encoding progress without a new segment.
	EventHeartbeat
	// EventExit reports process termination. It is the final event.
	EventExit
)

// EncoderEvent is one message from a running encoder. The event channel is
// unbuffered: a consumer that stops receiving blocks the encoder's output
// scanning, which in turn blocks the encoder process itself. That is the
// backpressure path that pauses production.
type EncoderEvent struct {
	Kind EncoderEventKind

	// SegmentPath is the on-disk path of the completed segment (EventSegment).
	SegmentPath string
	// SegmentDuration is the media duration of the segment (EventSegment).
	SegmentDuration time.Duration

	// Speed is the realtime multiplier parsed from progress output
	// (EventHeartbeat).
	Speed float64

	// ExitCode is the process exit code (EventExit).
	ExitCode int
	// Err is the failure, if any (EventExit). Nil on clean completion.
	Err error
}

// Encoder produces a stream of segments for one profile rendition.
// Implementations run an external process; the fake used in tests drives
// the same contract.
type Encoder interface {
	// Start launches the encoder and returns its event channel. The
	// channel is closed after the EventExit message.
	Start(ctx context.Context) (<-chan EncoderEvent, error)

	// Stop requests termination, escalating to a kill after the grace
	// period. Safe to call concurrently with channel consumption.
	Stop(grace time.Duration)
}

// EncoderFactory builds an encoder for one attempt of a job. startSegment
// is the index of the first segment the encoder must produce; non-zero
// after a mid-stream retry.
type EncoderFactory func(profile Profile, startSegment int) (Encoder, error)
