package streaming

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/repository"
)

// recordQueueDepth bounds pending record writes. The delivery path never
// blocks on the database: writes past the queue are dropped with a warning.
const recordQueueDepth = 256

// DBRecordSink persists session and job state transitions through the
// repositories on a single background writer.
type DBRecordSink struct {
	sessions repository.SessionRepository
	jobs     repository.TranscodeJobRepository
	logger   *slog.Logger
	queue    chan func(ctx context.Context)
	done     chan struct{}
}

// NewDBRecordSink creates a sink writing through the given repositories.
func NewDBRecordSink(sessions repository.SessionRepository, jobs repository.TranscodeJobRepository, logger *slog.Logger) *DBRecordSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBRecordSink{
		sessions: sessions,
		jobs:     jobs,
		logger:   logger.With(slog.String("component", "record_sink")),
		queue:    make(chan func(ctx context.Context), recordQueueDepth),
		done:     make(chan struct{}),
	}
}

// Run drains the write queue until the context is cancelled, then flushes
// what is already queued.
func (s *DBRecordSink) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case write := <-s.queue:
			write(ctx)
		}
	}
}

// flush applies queued writes with a short independent deadline.
func (s *DBRecordSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case write := <-s.queue:
			write(ctx)
		default:
			return
		}
	}
}

// Wait blocks until Run has returned.
func (s *DBRecordSink) Wait() {
	<-s.done
}

// enqueue offers a write to the background writer, dropping on overflow.
func (s *DBRecordSink) enqueue(write func(ctx context.Context)) {
	select {
	case s.queue <- write:
	default:
		s.logger.Warn("record write queue full, dropping write")
	}
}

// SessionOpened implements RecordSink.
func (s *DBRecordSink) SessionOpened(sess *Session) {
	rec := &models.SessionRecord{
		BaseModel:  models.BaseModel{ID: sess.ID},
		MediaPath:  sess.MediaPath,
		Protocol:   sess.Protocol,
		State:      models.SessionStateActive,
		ClientAddr: sess.ClientAddr,
		UserAgent:  sess.UserAgent,
	}
	if !sess.DirectPlay() {
		rec.Profile = sess.Decision.Profile.Name
	}

	s.enqueue(func(ctx context.Context) {
		if err := s.sessions.Create(ctx, rec); err != nil {
			s.logger.Error("persisting session open",
				slog.String("session_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	})

	if sess.Job != nil {
		jobRec := &models.TranscodeJobRecord{
			BaseModel:   models.BaseModel{ID: sess.Job.ID},
			SessionID:   sess.ID,
			MediaPath:   sess.MediaPath,
			Profile:     sess.Job.Profile().Name,
			State:       models.JobStateQueued,
			MaxAttempts: sess.Job.cfg.MaxAttempts,
		}
		s.enqueue(func(ctx context.Context) {
			if err := s.jobs.Create(ctx, jobRec); err != nil {
				s.logger.Error("persisting job creation",
					slog.String("job_id", jobRec.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

// SessionTouched implements RecordSink.
func (s *DBRecordSink) SessionTouched(sess *Session) {
	id := sess.ID
	last := sess.LastAccess()
	s.enqueue(func(ctx context.Context) {
		rec, err := s.sessions.GetByID(ctx, id)
		if err != nil || rec == nil {
			return
		}
		rec.LastAccessAt = last
		if err := s.sessions.Update(ctx, rec); err != nil {
			s.logger.Error("persisting session touch",
				slog.String("session_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	})
}

// SessionClosed implements RecordSink.
func (s *DBRecordSink) SessionClosed(sess *Session, state models.SessionState) {
	id := sess.ID
	s.enqueue(func(ctx context.Context) {
		rec, err := s.sessions.GetByID(ctx, id)
		if err != nil || rec == nil {
			return
		}
		switch state {
		case models.SessionStateExpired:
			rec.MarkExpired()
		default:
			rec.MarkClosed()
		}
		if err := s.sessions.Update(ctx, rec); err != nil {
			s.logger.Error("persisting session close",
				slog.String("session_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	})
}

// JobChanged implements RecordSink. Called on every job state transition.
func (s *DBRecordSink) JobChanged(job *Job) {
	id := job.ID
	state := job.State()
	profile := job.Profile().Name
	attempts := job.Attempts()
	segments := job.Store().Count()
	jobErr := job.Err()

	s.enqueue(func(ctx context.Context) {
		rec, err := s.jobs.GetByID(ctx, id)
		if err != nil || rec == nil {
			return
		}

		rec.Profile = profile
		rec.AttemptCount = attempts
		rec.SegmentsProduced = segments

		switch state {
		case models.JobStateStarting:
			rec.MarkStarting()
			// MarkStarting counts its own attempt; the in-memory job is
			// authoritative.
			rec.AttemptCount = attempts
		case models.JobStateRunning:
			rec.MarkRunning()
		case models.JobStateCompleted:
			rec.MarkCompleted()
		case models.JobStateFailed:
			rec.MarkFailed(jobErr)
			var encErr *EncoderError
			if errors.As(jobErr, &encErr) {
				code := encErr.ExitCode
				rec.ExitCode = &code
			}
		case models.JobStateCancelled:
			rec.MarkCancelled()
		}

		if err := s.jobs.Update(ctx, rec); err != nil {
			s.logger.Error("persisting job transition",
				slog.String("job_id", id.String()),
				slog.String("state", string(state)),
				slog.String("error", err.Error()),
			)
		}
	})
}
