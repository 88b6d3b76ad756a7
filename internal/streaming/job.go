package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/playout-media/playout/internal/models"
)

// JobConfig carries the per-job tunables from the streaming configuration.
type JobConfig struct {
	// SegmentDuration is the target duration of produced segments.
	SegmentDuration time.Duration

	// AheadWindow caps how many segments may exist beyond the client's
	// last-requested index before production pauses.
	AheadWindow int

	// StallTimeout fails an attempt when no segment or heartbeat arrives
	// within it.
	StallTimeout time.Duration

	// CancelGrace is how long a stopped encoder gets before being killed.
	CancelGrace time.Duration

	// MaxAttempts bounds encoder launches, degrading the profile between
	// attempts.
	MaxAttempts int

	// MaxStoreBytes bounds resident segment data. Zero is unbounded.
	MaxStoreBytes int64
}

// JobObserver is notified on every job state transition. Used to mirror
// the in-memory state machine into persisted records.
type JobObserver func(job *Job)

// Job drives one transcode of a source into one rendition: it owns the
// segment store, launches encoder attempts, and walks the state machine
// Queued -> Starting -> Running -> Completed | Failed | Cancelled.
type Job struct {
	ID        models.ULID
	SessionID models.ULID
	MediaPath string

	selector *Selector
	factory  EncoderFactory
	store    *SegmentStore
	cfg      JobConfig
	logger   *slog.Logger
	observer JobObserver

	mu       sync.Mutex
	state    models.TranscodeJobState
	profile  Profile
	attempts int
	lastErr  error
	speed    float64

	cancel     context.CancelFunc
	doneCh     chan struct{}
	finishOnce sync.Once
}

// NewJob creates a job for the given media and starting profile.
func NewJob(sessionID models.ULID, mediaPath string, profile Profile, selector *Selector, factory EncoderFactory, cfg JobConfig, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	job := &Job{
		ID:        models.NewULID(),
		SessionID: sessionID,
		MediaPath: mediaPath,
		selector:  selector,
		factory:   factory,
		store:     NewSegmentStore(cfg.MaxStoreBytes),
		cfg:       cfg,
		state:     models.JobStateQueued,
		profile:   profile,
		doneCh:    make(chan struct{}),
	}
	job.logger = logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("profile", profile.Name),
	)
	return job
}

// SetObserver installs the state transition observer. Call before the job
// is admitted to the pool.
func (j *Job) SetObserver(obs JobObserver) {
	j.observer = obs
}

// Store returns the job's segment store.
func (j *Job) Store() *SegmentStore {
	return j.store
}

// State returns the current job state.
func (j *Job) State() models.TranscodeJobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Profile returns the current (possibly degraded) profile.
func (j *Job) Profile() Profile {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.profile
}

// Attempts returns the number of encoder launches made.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Speed returns the last reported encoding speed multiplier.
func (j *Job) Speed() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.speed
}

// Err returns the terminal error for failed jobs.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Done returns a channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.doneCh
}

// Cancel requests cancellation. Queued jobs transition immediately;
// running jobs stop their encoder first.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	queued := j.state == models.JobStateQueued
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	} else if queued {
		j.transition(models.JobStateCancelled)
		j.store.Fail(ErrJobCancelled)
		j.finish()
	}
}

// Run executes the job until a terminal state. The worker pool calls it on
// a granted slot.
func (j *Job) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	j.mu.Lock()
	if j.state.Terminal() {
		// Cancelled while queued.
		j.mu.Unlock()
		cancel()
		return
	}
	j.cancel = cancel
	j.mu.Unlock()
	defer cancel()
	defer j.finish()

	for {
		j.transition(models.JobStateStarting)

		err := j.runAttempt(ctx)
		if err == nil {
			j.store.Complete()
			j.transition(models.JobStateCompleted)
			return
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, ErrJobCancelled) {
			j.store.Fail(ErrJobCancelled)
			j.transition(models.JobStateCancelled)
			return
		}

		j.mu.Lock()
		attempts := j.attempts
		current := j.profile
		j.lastErr = err
		j.mu.Unlock()

		if attempts < j.cfg.MaxAttempts {
			if lower, ok := j.selector.NextLower(current.Name); ok {
				j.logger.Warn("encoder attempt failed, degrading profile",
					slog.String("error", err.Error()),
					slog.String("from", current.Name),
					slog.String("to", lower.Name),
					slog.Int("attempt", attempts),
				)
				j.mu.Lock()
				j.profile = lower
				j.mu.Unlock()
				continue
			}
		}

		j.logger.Error("transcode job failed",
			slog.String("error", err.Error()),
			slog.Int("attempts", attempts),
		)
		j.store.Fail(err)
		j.transition(models.JobStateFailed)
		return
	}
}

// runAttempt launches one encoder and consumes it to completion. A nil
// return means the source was fully encoded.
func (j *Job) runAttempt(ctx context.Context) error {
	j.mu.Lock()
	j.attempts++
	profile := j.profile
	j.mu.Unlock()

	enc, err := j.factory(profile, j.store.Count())
	if err != nil {
		return err
	}

	events, err := enc.Start(ctx)
	if err != nil {
		return err
	}

	w := &encodeWorker{job: j, enc: enc, events: events}
	return w.run(ctx)
}

// transition moves the state machine and notifies the observer.
func (j *Job) transition(state models.TranscodeJobState) {
	j.mu.Lock()
	if j.state == state || j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	// Re-entering Starting on a retry attempt is a no-op transition for
	// observers already past Running.
	j.state = state
	j.mu.Unlock()

	if j.observer != nil {
		j.observer(j)
	}
}

// markRunning records the first sign of encoder output.
func (j *Job) markRunning() {
	j.mu.Lock()
	running := j.state == models.JobStateRunning
	j.mu.Unlock()
	if !running {
		j.transition(models.JobStateRunning)
	}
}

// recordSpeed stores the latest heartbeat speed.
func (j *Job) recordSpeed(speed float64) {
	j.mu.Lock()
	j.speed = speed
	j.mu.Unlock()
}

// finish closes the done channel exactly once.
func (j *Job) finish() {
	j.finishOnce.Do(func() { close(j.doneCh) })
}
