package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playout-media/playout/internal/ffmpeg"
	"github.com/playout-media/playout/internal/models"
)

// SourceProber probes a media source for its streams and container.
type SourceProber interface {
	ProbeSource(ctx context.Context, input string) (*ffmpeg.SourceInfo, error)
}

// Authorizer gates session opens. Implementations are supplied by the
// auth layer; the principal is opaque here.
type Authorizer interface {
	Authorize(ctx context.Context, principal, mediaPath string) error
}

// RecordSink mirrors in-memory session and job state into persisted records.
type RecordSink interface {
	SessionOpened(sess *Session)
	SessionTouched(sess *Session)
	SessionClosed(sess *Session, state models.SessionState)
	JobChanged(job *Job)
}

// OpenRequest describes a playback session to open.
type OpenRequest struct {
	MediaPath    string
	Protocol     models.DeliveryProtocol
	Capabilities ClientCapabilities
	Principal    string
	ClientAddr   string
	UserAgent    string
}

// Session is one client's playback of one source: a delivery decision and,
// for transcoded delivery, the job producing its segments.
type Session struct {
	ID         models.ULID
	MediaPath  string
	Protocol   models.DeliveryProtocol
	Principal  string
	ClientAddr string
	UserAgent  string
	Source     *ffmpeg.SourceInfo
	Decision   Decision
	Job        *Job
	CreatedAt  time.Time

	mu         sync.Mutex
	lastAccess time.Time
	position   time.Duration
	closed     bool
}

// DirectPlay reports whether the session serves the source file unchanged.
func (s *Session) DirectPlay() bool {
	return s.Job == nil
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// LastAccess returns the time of the most recent client activity.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// SetPosition records the client's reported playback position.
func (s *Session) SetPosition(pos time.Duration) {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
}

// Position returns the client's last reported playback position.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// markClosed flips the session closed. Returns false if already closed.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// EncoderBuilder produces the encoder factory for one transcode job.
// Swappable for tests.
type EncoderBuilder func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) EncoderFactory

// ManagerConfig carries the session manager's tunables.
type ManagerConfig struct {
	SegmentDuration     time.Duration
	AheadWindow         int
	LiveWindowSegments  int
	SegmentFetchTimeout time.Duration
	StallTimeout        time.Duration
	CancelGrace         time.Duration
	SessionIdleTimeout  time.Duration
	ReaperInterval      time.Duration
	MaxAttempts         int
	MaxStoreBytes       int64

	// TempDir is where encoder work directories are created.
	TempDir string
}

// SessionManager owns the session registry: it opens sessions (probe,
// delivery decision, job admission), tracks client activity, and reaps
// idle sessions.
type SessionManager struct {
	cfg      ManagerConfig
	prober   SourceProber
	selector *Selector
	pool     *WorkerPool
	builder  EncoderBuilder
	sink     RecordSink
	auth     Authorizer
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[models.ULID]*Session

	// tombstones remembers recently ended sessions so late requests get
	// an expired error instead of not-found. Pruned by the reaper.
	tombstones map[models.ULID]time.Time
}

// NewSessionManager creates a session manager. sink may be nil.
func NewSessionManager(cfg ManagerConfig, prober SourceProber, selector *Selector, pool *WorkerPool, builder EncoderBuilder, sink RecordSink, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		cfg:        cfg,
		prober:     prober,
		selector:   selector,
		pool:       pool,
		builder:    builder,
		sink:       sink,
		logger:     logger.With(slog.String("component", "session_manager")),
		sessions:   make(map[models.ULID]*Session),
		tombstones: make(map[models.ULID]time.Time),
	}
}

// WithAuthorizer installs the permission check gating Open. A nil
// authorizer allows everything.
func (m *SessionManager) WithAuthorizer(auth Authorizer) *SessionManager {
	m.auth = auth
	return m
}

// NewFFmpegEncoderBuilder returns the production encoder builder, launching
// the given ffmpeg binary.
func NewFFmpegEncoderBuilder(binaryPath string, logger *slog.Logger) EncoderBuilder {
	return func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) EncoderFactory {
		return func(profile Profile, startSegment int) (Encoder, error) {
			params := ffmpeg.EncodeParams{
				Input:           mediaPath,
				OutputPattern:   "seg_%05d.ts",
				SegmentDuration: segmentDuration,
				Format:          format,
				VideoCodec:      profile.VideoCodec,
				VideoBitrate:    profile.VideoBitrate,
				MaxHeight:       profile.MaxHeight,
				Preset:          profile.Preset,
				AudioCodec:      profile.AudioCodec,
				AudioBitrate:    profile.AudioBitrate,
				AudioChannels:   2,
			}
			if format == ffmpeg.SegmentFormatFMP4 {
				params.OutputPattern = "seg_%05d.m4s"
			}
			// Retries resume where the store left off. Live sources cannot
			// seek, they rejoin at the head.
			if startSegment > 0 && !live {
				params.StartAt = time.Duration(startSegment) * segmentDuration
			}

			// Segment numbering restarts each attempt, so attempts get
			// their own directory.
			attemptDir := filepath.Join(workDir, fmt.Sprintf("from_%d", startSegment))
			return NewFFmpegEncoder(binaryPath, params, attemptDir, logger), nil
		}
	}
}

// Open probes the source, decides delivery, and for transcoded delivery
// creates and admits the job.
func (m *SessionManager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if !req.Protocol.Valid() {
		return nil, models.ErrInvalidProtocol
	}

	if m.auth != nil {
		if err := m.auth.Authorize(ctx, req.Principal, req.MediaPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, err)
		}
	}

	source, err := m.prober.ProbeSource(ctx, req.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputUnavailable, err)
	}

	decision, err := m.selector.Decide(source, req.Capabilities)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:         models.NewULID(),
		MediaPath:  req.MediaPath,
		Protocol:   req.Protocol,
		Principal:  req.Principal,
		ClientAddr: req.ClientAddr,
		UserAgent:  req.UserAgent,
		Source:     source,
		Decision:   decision,
		CreatedAt:  time.Now(),
		lastAccess: time.Now(),
	}

	// The direct protocol forces direct play regardless of the decision;
	// segmented protocols transcode unless the decision allows direct play.
	directPlay := req.Protocol == models.ProtocolDirect || decision.DirectPlay
	if req.Protocol == models.ProtocolDirect && !decision.DirectPlay {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, decision.Reason)
	}

	if !directPlay {
		job, err := m.startJob(sess, decision.Profile)
		if err != nil {
			return nil, err
		}
		sess.Job = job
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session opened",
		slog.String("session_id", sess.ID.String()),
		slog.String("media", req.MediaPath),
		slog.String("protocol", string(req.Protocol)),
		slog.Bool("direct_play", directPlay),
		slog.String("reason", decision.Reason),
	)

	if m.sink != nil {
		m.sink.SessionOpened(sess)
	}
	return sess, nil
}

// startJob builds and admits the transcode job for a session.
func (m *SessionManager) startJob(sess *Session, profile Profile) (*Job, error) {
	format := ffmpeg.SegmentFormatMPEGTS
	if sess.Protocol == models.ProtocolDASH {
		format = ffmpeg.SegmentFormatFMP4
	}

	jobCfg := JobConfig{
		SegmentDuration: m.cfg.SegmentDuration,
		AheadWindow:     m.cfg.AheadWindow,
		StallTimeout:    m.cfg.StallTimeout,
		CancelGrace:     m.cfg.CancelGrace,
		MaxAttempts:     m.cfg.MaxAttempts,
		MaxStoreBytes:   m.cfg.MaxStoreBytes,
	}

	job := NewJob(sess.ID, sess.MediaPath, profile, m.selector, nil, jobCfg, m.logger)
	workDir := filepath.Join(m.cfg.TempDir, "job-"+job.ID.String())
	job.factory = m.builder(sess.MediaPath, format, workDir, m.cfg.SegmentDuration, sess.Source.Live)
	if m.sink != nil {
		job.SetObserver(m.sink.JobChanged)
	}

	result, err := m.pool.Admit(job)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("transcode job admitted",
		slog.String("job_id", job.ID.String()),
		slog.String("result", result.String()),
	)
	return job, nil
}

// Get returns a session by ID. A session that was closed or reaped
// recently reports expired rather than not-found.
func (m *SessionManager) Get(id models.ULID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}
	if _, ok := m.tombstones[id]; ok {
		return nil, ErrSessionExpired
	}
	return nil, ErrSessionNotFound
}

// List returns all open sessions.
func (m *SessionManager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Touch records client activity on a session.
func (m *SessionManager) Touch(id models.ULID) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Touch()
	if m.sink != nil {
		m.sink.SessionTouched(sess)
	}
	return nil
}

// Heartbeat refreshes a session's activity and records the client's
// reported playback position.
func (m *SessionManager) Heartbeat(id models.ULID, position time.Duration) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Touch()
	sess.SetPosition(position)
	if m.sink != nil {
		m.sink.SessionTouched(sess)
	}
	return nil
}

// GetSegment returns the indexed segment for a session, blocking until it
// is produced, the fetch timeout expires, or the job fails. Fetching a
// segment of a queued job bumps it to the head of the admission queue.
func (m *SessionManager) GetSegment(ctx context.Context, id models.ULID, index int) (*Segment, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.DirectPlay() {
		return nil, ErrSegmentUnavailable
	}
	sess.Touch()

	if sess.Job.State() == models.JobStateQueued {
		m.pool.Bump(sess.Job.ID)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.SegmentFetchTimeout)
	defer cancel()
	seg, err := sess.Job.Store().WaitSegment(fetchCtx, index)
	// The fetch timeout elapsing means the segment is unavailable; the
	// caller's own cancellation passes through untranslated.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: timed out waiting for segment %d", ErrSegmentUnavailable, index)
	}
	return seg, err
}

// Close ends a session, cancelling its job if one is running.
func (m *SessionManager) Close(id models.ULID) error {
	return m.close(id, models.SessionStateClosed)
}

func (m *SessionManager) close(id models.ULID, state models.SessionState) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.tombstones[id] = time.Now()
	}
	tombstoned := false
	if !ok {
		_, tombstoned = m.tombstones[id]
	}
	m.mu.Unlock()
	if !ok {
		if tombstoned {
			return ErrSessionExpired
		}
		return ErrSessionNotFound
	}
	if !sess.markClosed() {
		return nil
	}

	if sess.Job != nil {
		sess.Job.Cancel()
	}

	m.logger.Info("session closed",
		slog.String("session_id", sess.ID.String()),
		slog.String("state", string(state)),
	)
	if m.sink != nil {
		m.sink.SessionClosed(sess, state)
	}

	// Encoder work directories are per-job and safe to drop once the job
	// is cancelled.
	if sess.Job != nil {
		workDir := filepath.Join(m.cfg.TempDir, "job-"+sess.Job.ID.String())
		go func() {
			<-sess.Job.Done()
			if err := os.RemoveAll(workDir); err != nil {
				m.logger.Warn("removing job work dir",
					slog.String("path", workDir),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return nil
}

// RunReaper expires idle sessions until the context is cancelled.
func (m *SessionManager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle expires every session idle past the timeout and drops
// tombstones past their retention.
func (m *SessionManager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.SessionIdleTimeout)

	m.mu.Lock()
	var idle []models.ULID
	for id, sess := range m.sessions {
		if sess.LastAccess().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	for id, ended := range m.tombstones {
		if ended.Before(cutoff) {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.logger.Info("reaping idle session", slog.String("session_id", id.String()))
		_ = m.close(id, models.SessionStateExpired)
	}
}

// LiveJobDirs returns the work directory names owned by in-flight jobs.
// The cleanup sweeper skips these.
func (m *SessionManager) LiveJobDirs() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := make(map[string]struct{})
	for _, sess := range m.sessions {
		if sess.Job != nil {
			dirs["job-"+sess.Job.ID.String()] = struct{}{}
		}
	}
	return dirs
}

// CloseAll ends every session. Called on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	ids := make([]models.ULID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.close(id, models.SessionStateClosed)
	}
}
