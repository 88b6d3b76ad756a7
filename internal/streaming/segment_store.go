package streaming

import (
	"context"
	"sync"
	"time"
)

// Segment is one completed output segment held by the store.
type Segment struct {
	// Index is the zero-based position in the output sequence.
	Index int `json:"index"`

	// Data is the segment payload.
	Data []byte `json:"-"`

	// Duration is the segment's media duration.
	Duration time.Duration `json:"duration"`

	// ProducedAt is when the encoder completed the segment.
	ProducedAt time.Time `json:"produced_at"`
}

// SegmentStore holds the contiguous run of segments produced for one
// transcode job, starting at index 0 with no gaps. Readers can block until
// an index appears; the producer appends in order and marks the stream
// complete or failed.
type SegmentStore struct {
	mu sync.Mutex

	segments map[int]*Segment
	next     int // index the next Append must carry

	// lastRequested is the highest index a client asked for, -1 initially.
	// The encode worker uses it to pace production.
	lastRequested int

	bytes    int64
	maxBytes int64

	// evicted is the lowest index still resident after byte-budget
	// eviction. Requests below it return ErrSegmentUnavailable.
	evicted int

	complete bool
	err      error

	// notify is closed and replaced on every state change, broadcasting to
	// all blocked waiters.
	notify chan struct{}
}

// NewSegmentStore creates a store bounded to maxBytes of resident segment
// data. Zero means unbounded.
func NewSegmentStore(maxBytes int64) *SegmentStore {
	return &SegmentStore{
		segments:      make(map[int]*Segment),
		lastRequested: -1,
		maxBytes:      maxBytes,
		notify:        make(chan struct{}),
	}
}

// Append adds the next segment in sequence. Out-of-order appends panic:
// the encoder contract is strictly sequential.
func (s *SegmentStore) Append(seg *Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.Index != s.next {
		panic("segment store: non-contiguous append")
	}

	s.segments[seg.Index] = seg
	s.next++
	s.bytes += int64(len(seg.Data))
	s.evict()
	s.broadcast()
}

// evict drops the oldest already-served segments until the byte budget is
// met. Segments at or beyond lastRequested stay resident so the client's
// current position is never evicted under it.
func (s *SegmentStore) evict() {
	if s.maxBytes <= 0 {
		return
	}
	for s.bytes > s.maxBytes && s.evicted < s.lastRequested {
		seg, ok := s.segments[s.evicted]
		if !ok {
			s.evicted++
			continue
		}
		s.bytes -= int64(len(seg.Data))
		delete(s.segments, s.evicted)
		s.evicted++
	}
}

// Complete marks the stream finished: every segment of the source has been
// appended.
func (s *SegmentStore) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
	s.broadcast()
}

// Fail marks the stream failed. Blocked waiters for unproduced segments
// receive the error.
func (s *SegmentStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	s.broadcast()
}

// broadcast wakes every blocked waiter. Callers must hold mu.
func (s *SegmentStore) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Count returns the number of segments appended so far.
func (s *SegmentStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Completed reports whether the stream finished cleanly.
func (s *SegmentStore) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Err returns the failure recorded by Fail, if any.
func (s *SegmentStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastRequested returns the highest index a client has asked for, -1
// before the first request.
func (s *SegmentStore) LastRequested() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequested
}

// Get returns the segment at index if resident. The second return is false
// while the segment has not been produced yet; ErrSegmentUnavailable means
// it never will be (evicted, or past the end of a complete stream).
func (s *SegmentStore) Get(index int) (*Segment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 {
		return nil, false, ErrSegmentUnavailable
	}
	if index < s.evicted {
		return nil, false, ErrSegmentUnavailable
	}
	if seg, ok := s.segments[index]; ok {
		return seg, true, nil
	}
	if s.complete && index >= s.next {
		return nil, false, ErrSegmentUnavailable
	}
	if s.err != nil {
		return nil, false, s.err
	}
	return nil, false, nil
}

// WaitSegment blocks until the segment at index exists, recording the
// request so the producer can pace itself. It returns ErrSegmentUnavailable
// for indexes that will never exist, the store error if the job failed, or
// the context error on cancellation/timeout.
func (s *SegmentStore) WaitSegment(ctx context.Context, index int) (*Segment, error) {
	s.mu.Lock()
	if index > s.lastRequested {
		s.lastRequested = index
		// A jump forward may unblock a paused producer.
		s.broadcast()
	}
	s.mu.Unlock()

	for {
		seg, ok, err := s.Get(index)
		if err != nil {
			return nil, err
		}
		if ok {
			return seg, nil
		}

		s.mu.Lock()
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// AwaitDemand blocks until the last requested index reaches at least
// target, the stream fails, or the context ends. The producer calls this
// to pause when it runs too far ahead of the client. It returns false when
// the store failed or the context ended.
func (s *SegmentStore) AwaitDemand(ctx context.Context, target int) bool {
	for {
		s.mu.Lock()
		if s.err != nil {
			s.mu.Unlock()
			return false
		}
		if s.lastRequested >= target {
			s.mu.Unlock()
			return true
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

// Snapshot returns the metadata of resident segments in index order,
// without payloads. Used by manifest generation.
func (s *SegmentStore) Snapshot() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Segment, 0, len(s.segments))
	for i := s.evicted; i < s.next; i++ {
		if seg, ok := s.segments[i]; ok {
			out = append(out, Segment{
				Index:      seg.Index,
				Duration:   seg.Duration,
				ProducedAt: seg.ProducedAt,
			})
		}
	}
	return out
}
