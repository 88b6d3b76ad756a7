package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playout-media/playout/internal/ffmpeg"
	"github.com/playout-media/playout/internal/models"
)

type fakeProber struct {
	source *ffmpeg.SourceInfo
	err    error
}

func (p *fakeProber) ProbeSource(ctx context.Context, input string) (*ffmpeg.SourceInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.source, nil
}

// captureSink records sink callbacks for assertions.
type captureSink struct {
	mu        sync.Mutex
	opened    []models.ULID
	closed    map[models.ULID]models.SessionState
	jobStates []models.TranscodeJobState
}

func newCaptureSink() *captureSink {
	return &captureSink{closed: make(map[models.ULID]models.SessionState)}
}

func (s *captureSink) SessionOpened(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, sess.ID)
}

func (s *captureSink) SessionTouched(sess *Session) {}

func (s *captureSink) SessionClosed(sess *Session, state models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[sess.ID] = state
}

func (s *captureSink) JobChanged(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStates = append(s.jobStates, job.State())
}

func (s *captureSink) closedState(id models.ULID) (models.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.closed[id]
	return state, ok
}

func testManagerConfig(t *testing.T) ManagerConfig {
	return ManagerConfig{
		SegmentDuration:     6 * time.Second,
		AheadWindow:         100,
		LiveWindowSegments:  5,
		SegmentFetchTimeout: 2 * time.Second,
		StallTimeout:        time.Second,
		CancelGrace:         50 * time.Millisecond,
		SessionIdleTimeout:  time.Minute,
		ReaperInterval:      10 * time.Millisecond,
		MaxAttempts:         2,
		TempDir:             t.TempDir(),
	}
}

func fakeBuilder(t *testing.T, segments int) EncoderBuilder {
	return func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) EncoderFactory {
		return func(profile Profile, startSegment int) (Encoder, error) {
			return newFakeEncoder(t, segments), nil
		}
	}
}

func newTestManager(t *testing.T, prober SourceProber, builder EncoderBuilder, sink RecordSink) (*SessionManager, *WorkerPool) {
	t.Helper()
	pool := NewWorkerPool(2, 4, nil)
	pool.Start(context.Background())
	t.Cleanup(func() { shutdownPool(t, pool) })

	mgr := NewSessionManager(testManagerConfig(t), prober, NewSelector(DefaultLadder()), pool, builder, sink, nil)
	return mgr, pool
}

func TestManagerOpenTranscodeSession(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	sink := newCaptureSink()
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 2), sink)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)
	require.NotNil(t, sess.Job)
	assert.False(t, sess.DirectPlay())
	assert.Equal(t, "1080p", sess.Decision.Profile.Name)

	got, err := mgr.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Len(t, mgr.List(), 1)

	seg, err := mgr.GetSegment(context.Background(), sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.Index)

	sink.mu.Lock()
	assert.Equal(t, []models.ULID{sess.ID}, sink.opened)
	sink.mu.Unlock()
}

func TestManagerOpenDirectPlaySession(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mp4",
		Protocol:  models.ProtocolHLS,
		Capabilities: ClientCapabilities{
			AllowDirectPlay: true,
			VideoCodecs:     []string{"h264"},
			AudioCodecs:     []string{"aac"},
			Containers:      []string{"matroska"},
		},
	})
	require.NoError(t, err)
	assert.True(t, sess.DirectPlay())
	assert.Nil(t, sess.Job)

	_, err = mgr.GetSegment(context.Background(), sess.ID, 0)
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
}

func TestManagerOpenDirectProtocolRequiresDirectPlayable(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, true)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	_, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath:    "/media/stream.ts",
		Protocol:     models.ProtocolDirect,
		Capabilities: ClientCapabilities{AllowDirectPlay: true},
	})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestManagerOpenValidation(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	_, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  "smoke-signals",
	})
	assert.ErrorIs(t, err, models.ErrInvalidProtocol)
}

func TestManagerOpenProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("no such file")}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	_, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/missing.mkv",
		Protocol:  models.ProtocolHLS,
	})
	assert.ErrorIs(t, err, ErrInputUnavailable)
}

func TestManagerCloseCancelsJob(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	sink := newCaptureSink()

	builder := func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) EncoderFactory {
		return func(profile Profile, startSegment int) (Encoder, error) {
			enc := newFakeEncoder(t, 1)
			enc.heartbeat = true
			return enc, nil
		}
	}
	mgr, _ := newTestManager(t, prober, builder, sink)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Close(sess.ID))

	select {
	case <-sess.Job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after session close")
	}
	assert.Equal(t, models.JobStateCancelled, sess.Job.State())

	_, err = mgr.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, mgr.Close(sess.ID), ErrSessionExpired)
	_, err = mgr.Get(models.NewULID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	state, ok := sink.closedState(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateClosed, state)
}

func TestManagerReaperExpiresIdleSessions(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	sink := newCaptureSink()
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), sink)
	mgr.cfg.SessionIdleTimeout = 20 * time.Millisecond

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RunReaper(ctx)

	// The tombstone itself ages out on the same timeout, so accept
	// either post-reap error.
	require.Eventually(t, func() bool {
		_, err := mgr.Get(sess.ID)
		return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	state, ok := sink.closedState(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateExpired, state)
}

func TestManagerTouchKeepsSessionAlive(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	before := sess.LastAccess()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.Touch(sess.ID))
	assert.True(t, sess.LastAccess().After(before))

	assert.ErrorIs(t, mgr.Touch(models.NewULID()), ErrSessionNotFound)
}

func TestManagerGetSegmentTimeoutIsUnavailable(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	builder := func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) EncoderFactory {
		return func(profile Profile, startSegment int) (Encoder, error) {
			enc := newFakeEncoder(t, 1)
			enc.heartbeat = true
			return enc, nil
		}
	}
	mgr, _ := newTestManager(t, prober, builder, nil)
	mgr.cfg.SegmentFetchTimeout = 50 * time.Millisecond

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	seg, err := mgr.GetSegment(context.Background(), sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, seg.Index)

	// The encoder heartbeats but never produces this far ahead; the
	// fetch timeout surfaces as an unavailable segment.
	_, err = mgr.GetSegment(context.Background(), sess.ID, 50)
	assert.ErrorIs(t, err, ErrSegmentUnavailable)

	// A caller that gives up keeps its own cancellation error.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.GetSegment(cancelled, sess.ID, 50)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerHeartbeat(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	before := sess.LastAccess()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.Heartbeat(sess.ID, 42*time.Second))
	assert.Equal(t, 42*time.Second, sess.Position())
	assert.True(t, sess.LastAccess().After(before))

	assert.ErrorIs(t, mgr.Heartbeat(models.NewULID(), 0), ErrSessionNotFound)
}

type denyAuthorizer struct {
	allowed map[string]bool
}

func (a *denyAuthorizer) Authorize(ctx context.Context, principal, mediaPath string) error {
	if a.allowed[principal] {
		return nil
	}
	return errors.New("not entitled")
}

func TestManagerAuthorizer(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)
	mgr.WithAuthorizer(&denyAuthorizer{allowed: map[string]bool{"alice": true}})

	_, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
		Principal: "mallory",
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
		Principal: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Principal)
}

func TestManagerLiveJobDirs(t *testing.T) {
	prober := &fakeProber{source: testSource(1080, 6_000_000, false)}
	mgr, _ := newTestManager(t, prober, fakeBuilder(t, 1), nil)

	sess, err := mgr.Open(context.Background(), OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})
	require.NoError(t, err)

	dirs := mgr.LiveJobDirs()
	_, ok := dirs["job-"+sess.Job.ID.String()]
	assert.True(t, ok)

	require.NoError(t, mgr.Close(sess.ID))
	assert.Empty(t, mgr.LiveJobDirs())
}
