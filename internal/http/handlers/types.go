// Package handlers provides the HTTP API handlers for playout.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/streaming"
)

// SessionResponse represents a playback session in API responses.
type SessionResponse struct {
	ID              models.ULID             `json:"id"`
	MediaPath       string                  `json:"media_path"`
	Protocol        models.DeliveryProtocol `json:"protocol"`
	Principal       string                  `json:"principal,omitempty"`
	DirectPlay      bool                    `json:"direct_play"`
	Reason          string                  `json:"reason"`
	PositionSeconds float64                 `json:"position_seconds,omitempty"`
	Profile         string                  `json:"profile,omitempty"`
	JobState        string                  `json:"job_state,omitempty"`
	Attempts        int                     `json:"attempts,omitempty"`
	Speed           float64                 `json:"speed,omitempty"`
	Segments        int                     `json:"segments,omitempty"`
	ManifestURL     string                  `json:"manifest_url,omitempty"`
	MediaURL        string                  `json:"media_url,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	LastAccessAt    time.Time               `json:"last_access_at"`
}

// SessionFromModel converts a live session to a response.
func SessionFromModel(sess *streaming.Session) SessionResponse {
	resp := SessionResponse{
		ID:              sess.ID,
		MediaPath:       sess.MediaPath,
		Protocol:        sess.Protocol,
		Principal:       sess.Principal,
		DirectPlay:      sess.DirectPlay(),
		Reason:          sess.Decision.Reason,
		PositionSeconds: sess.Position().Seconds(),
		CreatedAt:       sess.CreatedAt,
		LastAccessAt:    sess.LastAccess(),
	}

	if sess.DirectPlay() {
		resp.MediaURL = "/stream/" + sess.ID.String() + "/media"
		return resp
	}

	resp.Profile = sess.Job.Profile().Name
	resp.JobState = string(sess.Job.State())
	resp.Attempts = sess.Job.Attempts()
	resp.Speed = sess.Job.Speed()
	resp.Segments = sess.Job.Store().Count()

	switch sess.Protocol {
	case models.ProtocolDASH:
		resp.ManifestURL = "/stream/" + sess.ID.String() + "/manifest.mpd"
	default:
		resp.ManifestURL = "/stream/" + sess.ID.String() + "/index.m3u8"
	}
	return resp
}

// OpenSessionRequest is the request body for opening a playback session.
type OpenSessionRequest struct {
	MediaPath    string                       `json:"media_path" doc:"Path or URL of the source media" minLength:"1" maxLength:"2048"`
	Protocol     models.DeliveryProtocol      `json:"protocol" doc:"Delivery protocol" enum:"direct,hls,dash"`
	Principal    string                       `json:"principal,omitempty" doc:"Opaque principal identifier from the auth layer" maxLength:"256"`
	Capabilities streaming.ClientCapabilities `json:"capabilities,omitempty" doc:"Client playback capabilities"`
}

// HeartbeatRequest is the request body for a session heartbeat.
type HeartbeatRequest struct {
	PositionSeconds float64 `json:"position_seconds" doc:"Current playback position in seconds" minimum:"0"`
}

// mapStreamingError converts delivery errors to HTTP status errors.
func mapStreamingError(err error) error {
	switch {
	case errors.Is(err, streaming.ErrSessionNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, streaming.ErrSessionExpired):
		return huma.Error410Gone("session expired")
	case errors.Is(err, streaming.ErrPermissionDenied):
		return huma.Error403Forbidden("access denied", err)
	case errors.Is(err, streaming.ErrSegmentUnavailable):
		return huma.Error404NotFound("segment unavailable")
	case errors.Is(err, streaming.ErrResourceExhausted):
		return huma.Error503ServiceUnavailable("transcoder at capacity", err)
	case errors.Is(err, streaming.ErrUnsupportedCodec):
		return huma.Error422UnprocessableEntity("source cannot be delivered", err)
	case errors.Is(err, streaming.ErrInputUnavailable):
		return huma.Error422UnprocessableEntity("source unavailable", err)
	case errors.Is(err, models.ErrInvalidProtocol):
		return huma.Error400BadRequest("invalid protocol", err)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
