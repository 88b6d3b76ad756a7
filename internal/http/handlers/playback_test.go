package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playout-media/playout/internal/ffmpeg"
	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/streaming"
)

// scriptEncoder writes the requested number of segment files and exits
// cleanly, standing in for a real encoder process.
type scriptEncoder struct {
	t        *testing.T
	dir      string
	segments int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newScriptEncoder(t *testing.T, segments int) *scriptEncoder {
	return &scriptEncoder{
		t:        t,
		dir:      t.TempDir(),
		segments: segments,
		stopCh:   make(chan struct{}),
	}
}

func (f *scriptEncoder) Start(ctx context.Context) (<-chan streaming.EncoderEvent, error) {
	events := make(chan streaming.EncoderEvent)

	go func() {
		defer close(events)

		send := func(ev streaming.EncoderEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			case <-f.stopCh:
				return false
			}
		}

		for i := 0; i < f.segments; i++ {
			path := filepath.Join(f.dir, fmt.Sprintf("seg_%05d.ts", i))
			if err := os.WriteFile(path, []byte("segmentdata"), 0o644); err != nil {
				f.t.Errorf("writing segment: %v", err)
				return
			}
			if !send(streaming.EncoderEvent{Kind: streaming.EventSegment, SegmentPath: path, SegmentDuration: 6 * time.Second}) {
				return
			}
		}

		send(streaming.EncoderEvent{Kind: streaming.EventExit})
	}()

	return events, nil
}

func (f *scriptEncoder) Stop(grace time.Duration) {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

type staticProber struct {
	source *ffmpeg.SourceInfo
}

func (p *staticProber) ProbeSource(ctx context.Context, input string) (*ffmpeg.SourceInfo, error) {
	return p.source, nil
}

func transcodableSource() *ffmpeg.SourceInfo {
	return &ffmpeg.SourceInfo{
		Container: "matroska,webm",
		Duration:  30 * time.Second,
		Bitrate:   6_000_000,
		Video: &ffmpeg.VideoInfo{
			Codec:  "h264",
			Width:  1920,
			Height: 1080,
		},
		Audio: &ffmpeg.AudioInfo{
			Codec:    "aac",
			Channels: 2,
		},
	}
}

func directPlayCaps() streaming.ClientCapabilities {
	return streaming.ClientCapabilities{
		AllowDirectPlay: true,
		VideoCodecs:     []string{"h264"},
		AudioCodecs:     []string{"aac"},
		Containers:      []string{"matroska"},
	}
}

func testManifestConfig() streaming.ManifestConfig {
	return streaming.ManifestConfig{
		SegmentDuration:    6 * time.Second,
		LiveWindowSegments: 5,
	}
}

// newTestStack wires a session manager with scripted encoders behind the
// playback routes.
func newTestStack(t *testing.T, source *ffmpeg.SourceInfo, segments int) (*streaming.SessionManager, *chi.Mux) {
	t.Helper()

	pool := streaming.NewWorkerPool(2, 4, nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	builder := func(mediaPath string, format ffmpeg.SegmentFormat, workDir string, segmentDuration time.Duration, live bool) streaming.EncoderFactory {
		return func(profile streaming.Profile, startSegment int) (streaming.Encoder, error) {
			return newScriptEncoder(t, segments), nil
		}
	}

	cfg := streaming.ManagerConfig{
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

	mgr := streaming.NewSessionManager(cfg, &staticProber{source: source}, streaming.NewSelector(streaming.DefaultLadder()), pool, builder, nil, nil)
	t.Cleanup(mgr.CloseAll)

	router := chi.NewRouter()
	NewPlaybackHandler(mgr, testManifestConfig(), nil).RegisterChiRoutes(router)
	return mgr, router
}

func get(router *chi.Mux, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func openSession(t *testing.T, mgr *streaming.SessionManager, req streaming.OpenRequest) *streaming.Session {
	t.Helper()
	sess, err := mgr.Open(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func TestPlaybackMasterPlaylist(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 2)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})

	rec := get(router, "/stream/"+sess.ID.String()+"/index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "#EXT-X-STREAM-INF")
	assert.Contains(t, body, `NAME="1080p"`)
	assert.Contains(t, body, "media.m3u8")
}

func TestPlaybackMediaPlaylist(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 2)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})

	require.Eventually(t, func() bool {
		return sess.Job.Store().Completed()
	}, 2*time.Second, 10*time.Millisecond)

	rec := get(router, "/stream/"+sess.ID.String()+"/media.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, body, "segment0.ts")
	assert.Contains(t, body, "segment1.ts")
	assert.Contains(t, body, "#EXT-X-ENDLIST")
}

func TestPlaybackSegment(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 2)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})

	rec := get(router, "/stream/"+sess.ID.String()+"/segment1.ts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "segmentdata", rec.Body.String())
}

func TestPlaybackSegmentErrors(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 1)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})

	rec := get(router, "/stream/"+sess.ID.String()+"/segmentnope.ts")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(router, "/stream/"+models.NewULID().String()+"/segment0.ts")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(router, "/stream/not-a-ulid/segment0.ts")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Index past the end of a finished encode.
	require.Eventually(t, func() bool {
		return sess.Job.Store().Completed()
	}, 2*time.Second, 10*time.Millisecond)
	rec = get(router, "/stream/"+sess.ID.String()+"/segment5.ts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaybackDASHManifest(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 1)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolDASH,
	})

	rec := get(router, "/stream/"+sess.ID.String()+"/manifest.mpd")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dash+xml", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `type="static"`)
	assert.Contains(t, body, "segment$Number$.m4s")
	assert.Contains(t, body, `id="1080p"`)
}

func TestPlaybackDirectPlay(t *testing.T) {
	mediaPath := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(mediaPath, []byte("full file contents"), 0o644))

	mgr, router := newTestStack(t, transcodableSource(), 1)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath:    mediaPath,
		Protocol:     models.ProtocolDirect,
		Capabilities: directPlayCaps(),
	})
	require.True(t, sess.DirectPlay())

	rec := get(router, "/stream/"+sess.ID.String()+"/media")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full file contents", rec.Body.String())

	// Players seek with Range requests.
	req := httptest.NewRequest(http.MethodGet, "/stream/"+sess.ID.String()+"/media", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "full", rec.Body.String())

	// Playlists have nothing to serve for direct play.
	rec = get(router, "/stream/"+sess.ID.String()+"/index.m3u8")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaybackDirectRouteRejectsTranscodeSession(t *testing.T) {
	mgr, router := newTestStack(t, transcodableSource(), 1)
	sess := openSession(t, mgr, streaming.OpenRequest{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
	})

	rec := get(router, "/stream/"+sess.ID.String()+"/media")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
