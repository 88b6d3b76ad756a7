package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/streaming"
)

// PlaybackHandler serves manifests, segments, and direct-play media. These
// are raw Chi handlers, players speak plain HTTP, not the JSON API.
type PlaybackHandler struct {
	manager     *streaming.SessionManager
	manifestCfg streaming.ManifestConfig
	logger      *slog.Logger
}

// NewPlaybackHandler creates a new playback handler.
func NewPlaybackHandler(manager *streaming.SessionManager, manifestCfg streaming.ManifestConfig, logger *slog.Logger) *PlaybackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackHandler{
		manager:     manager,
		manifestCfg: manifestCfg,
		logger:      logger.With(slog.String("component", "playback_handler")),
	}
}

// RegisterChiRoutes registers the playback routes.
func (h *PlaybackHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{sessionID}/index.m3u8", h.handleMasterPlaylist)
	router.Get("/stream/{sessionID}/media.m3u8", h.handleMediaPlaylist)
	router.Get("/stream/{sessionID}/manifest.mpd", h.handleDASHManifest)
	router.Get("/stream/{sessionID}/segment{index}.ts", h.handleSegment)
	router.Get("/stream/{sessionID}/segment{index}.m4s", h.handleSegment)
	router.Get("/stream/{sessionID}/media", h.handleDirectPlay)
}

// session resolves the session from the URL, touching it on success.
func (h *PlaybackHandler) session(w http.ResponseWriter, r *http.Request) *streaming.Session {
	id, err := models.ParseULID(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return nil
	}

	sess, err := h.manager.Get(id)
	if errors.Is(err, streaming.ErrSessionExpired) {
		http.Error(w, "session expired", http.StatusGone)
		return nil
	}
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil
	}

	sess.Touch()
	return sess
}

// transcodeSession resolves the session and rejects direct-play sessions,
// which have no segments or playlists to serve.
func (h *PlaybackHandler) transcodeSession(w http.ResponseWriter, r *http.Request) *streaming.Session {
	sess := h.session(w, r)
	if sess == nil {
		return nil
	}
	if sess.DirectPlay() {
		http.Error(w, "session is direct play", http.StatusNotFound)
		return nil
	}
	return sess
}

func writePlaylist(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(data)
}

// handleMasterPlaylist serves the multivariant playlist. It advertises the
// single rendition the session's delivery decision selected.
func (h *PlaybackHandler) handleMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	sess := h.transcodeSession(w, r)
	if sess == nil {
		return
	}

	data := streaming.HLSMasterPlaylist(
		[]streaming.Profile{sess.Job.Profile()},
		func(string) string { return "media.m3u8" },
	)
	writePlaylist(w, data)
}

// handleMediaPlaylist serves the media playlist listing produced segments.
func (h *PlaybackHandler) handleMediaPlaylist(w http.ResponseWriter, r *http.Request) {
	sess := h.transcodeSession(w, r)
	if sess == nil {
		return
	}

	data := streaming.HLSMediaPlaylist(h.manifestCfg, sess.Job.Store(), sess.Source.Live)
	writePlaylist(w, data)
}

// handleDASHManifest serves the MPD for the session's rendition.
func (h *PlaybackHandler) handleDASHManifest(w http.ResponseWriter, r *http.Request) {
	sess := h.transcodeSession(w, r)
	if sess == nil {
		return
	}

	totalDuration := sess.Source.Duration
	if sess.Source.Live {
		totalDuration = 0
	}

	data, err := streaming.DASHManifest(h.manifestCfg, sess.Job.Profile(), totalDuration, "segment$Number$.m4s")
	if err != nil {
		h.logger.Error("rendering MPD", slog.String("error", err.Error()))
		http.Error(w, "manifest generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dash+xml")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(data)
}

// handleSegment serves one segment, blocking until the encoder produces it
// or the fetch timeout expires.
func (h *PlaybackHandler) handleSegment(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid segment index", http.StatusBadRequest)
		return
	}

	seg, err := h.manager.GetSegment(r.Context(), id, index)
	if err != nil {
		h.writeSegmentError(w, id, index, err)
		return
	}

	contentType := "video/mp2t"
	if sess, err := h.manager.Get(id); err == nil && sess.Protocol == models.ProtocolDASH {
		contentType = "video/iso.segment"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000") // Segments are immutable
	w.Header().Set("Content-Length", strconv.Itoa(len(seg.Data)))
	w.Write(seg.Data)
}

func (h *PlaybackHandler) writeSegmentError(w http.ResponseWriter, id models.ULID, index int, err error) {
	switch {
	case errors.Is(err, streaming.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, streaming.ErrSessionExpired):
		http.Error(w, "session expired", http.StatusGone)
	case errors.Is(err, streaming.ErrSegmentUnavailable):
		http.Error(w, "segment unavailable", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Client went away or the fetch timed out waiting on the encoder.
		http.Error(w, "segment not ready", http.StatusGatewayTimeout)
	default:
		h.logger.Error("fetching segment",
			slog.String("session_id", id.String()),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		http.Error(w, "transcode failed", http.StatusInternalServerError)
	}
}

// handleDirectPlay serves the source file unchanged. ServeFile handles
// Range requests, players seek with them.
func (h *PlaybackHandler) handleDirectPlay(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	if !sess.DirectPlay() {
		http.Error(w, "session is transcoded", http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, sess.MediaPath)
}
