package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/playout-media/playout/internal/models"
)

// transcodeJobRepo implements TranscodeJobRepository using GORM.
type transcodeJobRepo struct {
	db *gorm.DB
}

// NewTranscodeJobRepository creates a new TranscodeJobRepository.
func NewTranscodeJobRepository(db *gorm.DB) TranscodeJobRepository {
	return &transcodeJobRepo{db: db}
}

// nonTerminalStates lists the job states that are still in flight.
var nonTerminalStates = []models.TranscodeJobState{
	models.JobStateQueued,
	models.JobStateStarting,
	models.JobStateRunning,
}

// terminalStates lists the job states a job never leaves.
var terminalStates = []models.TranscodeJobState{
	models.JobStateCompleted,
	models.JobStateFailed,
	models.JobStateCancelled,
}

// Create creates a new transcode job record.
func (r *transcodeJobRepo) Create(ctx context.Context, job *models.TranscodeJobRecord) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating transcode job record: %w", err)
	}
	return nil
}

// GetByID retrieves a job record by ID. Returns nil when not found.
func (r *transcodeJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.TranscodeJobRecord, error) {
	var job models.TranscodeJobRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting transcode job record by ID: %w", err)
	}
	return &job, nil
}

// GetBySessionID retrieves job records for a session, newest first.
func (r *transcodeJobRepo) GetBySessionID(ctx context.Context, sessionID models.ULID) ([]*models.TranscodeJobRecord, error) {
	var jobs []*models.TranscodeJobRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting transcode job records by session ID: %w", err)
	}
	return jobs, nil
}

// GetUnfinished retrieves job records that have not reached a terminal state.
func (r *transcodeJobRepo) GetUnfinished(ctx context.Context) ([]*models.TranscodeJobRecord, error) {
	var jobs []*models.TranscodeJobRecord
	if err := r.db.WithContext(ctx).
		Where("state IN ?", nonTerminalStates).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting unfinished transcode job records: %w", err)
	}
	return jobs, nil
}

// Update updates an existing job record.
func (r *transcodeJobRepo) Update(ctx context.Context, job *models.TranscodeJobRecord) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating transcode job record: %w", err)
	}
	return nil
}

// Delete deletes a job record by ID.
func (r *transcodeJobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.TranscodeJobRecord{}).Error; err != nil {
		return fmt.Errorf("deleting transcode job record: %w", err)
	}
	return nil
}

// FailUnfinished marks every non-terminal job as failed.
func (r *transcodeJobRepo) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	now := models.Now()
	result := r.db.WithContext(ctx).
		Model(&models.TranscodeJobRecord{}).
		Where("state IN ?", nonTerminalStates).
		Updates(map[string]any{
			"state":       models.JobStateFailed,
			"finished_at": now,
			"last_error":  reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failing unfinished transcode job records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteFinishedBefore removes terminal job records older than the cutoff.
func (r *transcodeJobRepo) DeleteFinishedBefore(ctx context.Context, cutoff models.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN ?", terminalStates).
		Where("finished_at < ?", cutoff).
		Delete(&models.TranscodeJobRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished transcode job records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
