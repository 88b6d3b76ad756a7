// Package repository provides data access layers for playout records.
package repository

import (
	"context"

	"github.com/playout-media/playout/internal/models"
)

// SessionRepository manages persisted playback session records.
type SessionRepository interface {
	Create(ctx context.Context, session *models.SessionRecord) error
	GetByID(ctx context.Context, id models.ULID) (*models.SessionRecord, error)
	GetAll(ctx context.Context) ([]*models.SessionRecord, error)
	GetActive(ctx context.Context) ([]*models.SessionRecord, error)
	Update(ctx context.Context, session *models.SessionRecord) error
	Delete(ctx context.Context, id models.ULID) error
	// CloseStale marks active sessions without access since the cutoff as
	// expired. Startup reconciliation passes the current time to sweep
	// records orphaned by an unclean shutdown.
	CloseStale(ctx context.Context, cutoff models.Time) (int64, error)
}

// TranscodeJobRepository manages persisted transcode job records.
type TranscodeJobRepository interface {
	Create(ctx context.Context, job *models.TranscodeJobRecord) error
	GetByID(ctx context.Context, id models.ULID) (*models.TranscodeJobRecord, error)
	GetBySessionID(ctx context.Context, sessionID models.ULID) ([]*models.TranscodeJobRecord, error)
	GetUnfinished(ctx context.Context) ([]*models.TranscodeJobRecord, error)
	Update(ctx context.Context, job *models.TranscodeJobRecord) error
	Delete(ctx context.Context, id models.ULID) error
	// FailUnfinished marks every non-terminal job as failed. Used at startup
	// alongside SessionRepository.CloseStale.
	FailUnfinished(ctx context.Context, reason string) (int64, error)
	// DeleteFinishedBefore removes terminal job records older than the cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff models.Time) (int64, error)
}
