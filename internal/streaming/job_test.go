package streaming

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playout-media/playout/internal/models"
)

// fakeEncoder scripts an encoder attempt: it writes real segment files and
// emits events the way the ffmpeg encoder does, honoring the unbuffered
// channel contract.
type fakeEncoder struct {
	t        *testing.T
	dir      string
	segments int
	exitErr  error

	// heartbeat keeps emitting heartbeats after the segments instead of
	// exiting, until stopped.
	heartbeat bool
	// silent emits nothing at all until stopped.
	silent bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newFakeEncoder(t *testing.T, segments int) *fakeEncoder {
	return &fakeEncoder{
		t:        t,
		dir:      t.TempDir(),
		segments: segments,
		stopCh:   make(chan struct{}),
	}
}

func (f *fakeEncoder) Start(ctx context.Context) (<-chan EncoderEvent, error) {
	events := make(chan EncoderEvent)

	go func() {
		defer close(events)

		send := func(ev EncoderEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			case <-f.stopCh:
				return false
			}
		}

		if f.silent {
			<-f.stopCh
			return
		}

		for i := 0; i < f.segments; i++ {
			path := filepath.Join(f.dir, fmt.Sprintf("seg_%05d.ts", i))
			if err := os.WriteFile(path, []byte("segmentdata"), 0o644); err != nil {
				f.t.Errorf("writing fake segment: %v", err)
				return
			}
			if !send(EncoderEvent{Kind: EventSegment, SegmentPath: path, SegmentDuration: 6 * time.Second}) {
				return
			}
		}

		if f.heartbeat {
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if !send(EncoderEvent{Kind: EventHeartbeat, Speed: 1.5}) {
						return
					}
				case <-ctx.Done():
					return
				case <-f.stopCh:
					return
				}
			}
		}

		send(EncoderEvent{Kind: EventExit, Err: f.exitErr})
	}()

	return events, nil
}

func (f *fakeEncoder) Stop(grace time.Duration) {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func testJobConfig() JobConfig {
	return JobConfig{
		SegmentDuration: 6 * time.Second,
		AheadWindow:     100,
		StallTimeout:    time.Second,
		CancelGrace:     50 * time.Millisecond,
		MaxAttempts:     2,
	}
}

func newTestJob(t *testing.T, profile Profile, factory EncoderFactory, cfg JobConfig) *Job {
	t.Helper()
	return NewJob(models.NewULID(), "/media/movie.mkv", profile, NewSelector(DefaultLadder()), factory, cfg, nil)
}

func TestJobCompletesCleanly(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		return newFakeEncoder(t, 3), nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())
	job.Run(context.Background())

	assert.Equal(t, models.JobStateCompleted, job.State())
	assert.Equal(t, 3, job.Store().Count())
	assert.True(t, job.Store().Completed())
	assert.Equal(t, 1, job.Attempts())

	seg, ok, err := job.Store().Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("segmentdata"), seg.Data)
}

func TestJobDegradesProfileOnFailure(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")

	var mu sync.Mutex
	var calls []struct {
		profile string
		start   int
	}
	factory := func(p Profile, startSegment int) (Encoder, error) {
		mu.Lock()
		calls = append(calls, struct {
			profile string
			start   int
		}{p.Name, startSegment})
		attempt := len(calls)
		mu.Unlock()

		enc := newFakeEncoder(t, 2)
		if attempt == 1 {
			enc.exitErr = &EncoderError{ExitCode: 1, Stderr: []string{"Conversion failed!"}}
		}
		return enc, nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())
	job.Run(context.Background())

	assert.Equal(t, models.JobStateCompleted, job.State())
	assert.Equal(t, 2, job.Attempts())
	assert.Equal(t, "480p", job.Profile().Name)

	require.Len(t, calls, 2)
	assert.Equal(t, "720p", calls[0].profile)
	assert.Equal(t, 0, calls[0].start)
	assert.Equal(t, "480p", calls[1].profile)
	// The retry resumes where the failed attempt left off.
	assert.Equal(t, 2, calls[1].start)
	assert.Equal(t, 4, job.Store().Count())
}

func TestJobFailsAfterMaxAttempts(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		enc := newFakeEncoder(t, 0)
		enc.exitErr = &EncoderError{ExitCode: 1}
		return enc, nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())
	job.Run(context.Background())

	assert.Equal(t, models.JobStateFailed, job.State())
	assert.Equal(t, 2, job.Attempts())
	require.Error(t, job.Err())
	assert.Error(t, job.Store().Err())
}

func TestJobStallFails(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("360p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		enc := newFakeEncoder(t, 0)
		enc.silent = true
		return enc, nil
	}

	cfg := testJobConfig()
	cfg.StallTimeout = 30 * time.Millisecond
	cfg.MaxAttempts = 1

	job := newTestJob(t, profile, factory, cfg)
	job.Run(context.Background())

	assert.Equal(t, models.JobStateFailed, job.State())
	assert.ErrorIs(t, job.Err(), ErrStalled)
}

func TestJobCancelWhileQueued(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		t.Fatal("queued job must not launch an encoder")
		return nil, nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())
	job.Cancel()

	assert.Equal(t, models.JobStateCancelled, job.State())
	assert.ErrorIs(t, job.Store().Err(), ErrJobCancelled)

	select {
	case <-job.Done():
	default:
		t.Fatal("done channel not closed")
	}

	// Run after cancel is a no-op.
	job.Run(context.Background())
	assert.Equal(t, models.JobStateCancelled, job.State())
}

func TestJobCancelWhileRunning(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		enc := newFakeEncoder(t, 1)
		enc.heartbeat = true
		return enc, nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())

	go job.Run(context.Background())

	require.Eventually(t, func() bool {
		return job.State() == models.JobStateRunning
	}, time.Second, 5*time.Millisecond)

	job.Cancel()

	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish after cancel")
	}
	assert.Equal(t, models.JobStateCancelled, job.State())
	assert.ErrorIs(t, job.Store().Err(), ErrJobCancelled)
}

func TestJobBackpressurePausesProducer(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		return newFakeEncoder(t, 4), nil
	}

	cfg := testJobConfig()
	cfg.AheadWindow = 1

	job := newTestJob(t, profile, factory, cfg)
	go job.Run(context.Background())

	// One segment in, the producer is one ahead of a client that has
	// requested nothing, so it pauses.
	require.Eventually(t, func() bool {
		return job.Store().Count() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, job.Store().Count(), "producer ran ahead of demand")
	assert.Equal(t, models.JobStateRunning, job.State())

	// Consuming pulls production along.
	ctx := contextWithShortTimeout(t)
	for i := 0; i < 4; i++ {
		seg, err := job.Store().WaitSegment(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, i, seg.Index)
	}

	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete")
	}
	assert.Equal(t, models.JobStateCompleted, job.State())
}

func TestJobObserverSeesTransitions(t *testing.T) {
	profile, _ := NewSelector(DefaultLadder()).ByName("720p")
	factory := func(p Profile, startSegment int) (Encoder, error) {
		return newFakeEncoder(t, 1), nil
	}

	job := newTestJob(t, profile, factory, testJobConfig())

	var mu sync.Mutex
	var states []models.TranscodeJobState
	job.SetObserver(func(j *Job) {
		mu.Lock()
		states = append(states, j.State())
		mu.Unlock()
	})

	job.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.TranscodeJobState{
		models.JobStateStarting,
		models.JobStateRunning,
		models.JobStateCompleted,
	}, states)
}
