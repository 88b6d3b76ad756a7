package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/playout-media/playout/internal/http/middleware"
	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/streaming"
)

// SessionHandler handles playback session endpoints.
type SessionHandler struct {
	manager *streaming.SessionManager
	logger  *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *streaming.SessionManager, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		manager: manager,
		logger:  logger.With(slog.String("component", "session_handler")),
	}
}

// OpenSessionInput is the input for opening a session.
type OpenSessionInput struct {
	UserAgent string `header:"User-Agent"`
	Body      OpenSessionRequest
}

// SessionOutput wraps a single session response.
type SessionOutput struct {
	Body SessionResponse
}

// SessionListOutput wraps a session list response.
type SessionListOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
		Total    int               `json:"total"`
	}
}

// GetSessionInput is the input for operations addressing one session.
type GetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// CloseSessionOutput is the output for closing a session.
type CloseSessionOutput struct {
	Status int
}

// HeartbeatInput is the input for a session heartbeat.
type HeartbeatInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body HeartbeatRequest
}

// HeartbeatOutput is the output for a session heartbeat.
type HeartbeatOutput struct {
	Status int
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "openSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions",
		Summary:     "Open a playback session",
		Description: "Probes the source, decides between direct play and transcoding, and starts the transcode when needed",
		Tags:        []string{"Sessions"},
	}, h.OpenSession)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"Sessions"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID:   "sessionHeartbeat",
		Method:        http.MethodPut,
		Path:          "/api/v1/sessions/{id}/heartbeat",
		Summary:       "Report playback progress",
		Description:   "Refreshes the session's activity and records the client's playback position",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Heartbeat)

	huma.Register(api, huma.Operation{
		OperationID:   "closeSession",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Close a session",
		Description:   "Stops the session's transcode and releases its resources",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.CloseSession)
}

// OpenSession opens a playback session.
func (h *SessionHandler) OpenSession(ctx context.Context, input *OpenSessionInput) (*SessionOutput, error) {
	sess, err := h.manager.Open(ctx, streaming.OpenRequest{
		MediaPath:    input.Body.MediaPath,
		Protocol:     input.Body.Protocol,
		Capabilities: input.Body.Capabilities,
		Principal:    input.Body.Principal,
		ClientAddr:   middleware.GetClientAddr(ctx),
		UserAgent:    input.UserAgent,
	})
	if err != nil {
		return nil, mapStreamingError(err)
	}

	h.logger.Info("session opened",
		slog.String("session_id", sess.ID.String()),
		slog.String("media_path", sess.MediaPath),
		slog.Bool("direct_play", sess.DirectPlay()),
		slog.String("reason", sess.Decision.Reason),
	)

	return &SessionOutput{Body: SessionFromModel(sess)}, nil
}

// ListSessions lists active sessions.
func (h *SessionHandler) ListSessions(ctx context.Context, input *struct{}) (*SessionListOutput, error) {
	sessions := h.manager.List()

	resp := &SessionListOutput{}
	resp.Body.Sessions = make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp.Body.Sessions = append(resp.Body.Sessions, SessionFromModel(sess))
	}
	resp.Body.Total = len(resp.Body.Sessions)
	return resp, nil
}

// GetSession returns a single session.
func (h *SessionHandler) GetSession(ctx context.Context, input *GetSessionInput) (*SessionOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID", err)
	}

	sess, err := h.manager.Get(id)
	if err != nil {
		return nil, mapStreamingError(err)
	}
	return &SessionOutput{Body: SessionFromModel(sess)}, nil
}

// Heartbeat refreshes a session's activity with the client's position.
func (h *SessionHandler) Heartbeat(ctx context.Context, input *HeartbeatInput) (*HeartbeatOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID", err)
	}

	position := time.Duration(input.Body.PositionSeconds * float64(time.Second))
	if err := h.manager.Heartbeat(id, position); err != nil {
		return nil, mapStreamingError(err)
	}
	return &HeartbeatOutput{Status: http.StatusNoContent}, nil
}

// CloseSession closes a session.
func (h *SessionHandler) CloseSession(ctx context.Context, input *GetSessionInput) (*CloseSessionOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID", err)
	}

	if err := h.manager.Close(id); err != nil {
		return nil, mapStreamingError(err)
	}

	h.logger.Info("session closed", slog.String("session_id", id.String()))
	return &CloseSessionOutput{Status: http.StatusNoContent}, nil
}
