package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/playout-media/playout/internal/models"
)

// sessionRepo implements SessionRepository using GORM.
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

// Create creates a new session record.
func (r *sessionRepo) Create(ctx context.Context, session *models.SessionRecord) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

// GetByID retrieves a session record by ID. Returns nil when not found.
func (r *sessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.SessionRecord, error) {
	var session models.SessionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session record by ID: %w", err)
	}
	return &session, nil
}

// GetAll retrieves all session records, newest first.
func (r *sessionRepo) GetAll(ctx context.Context) ([]*models.SessionRecord, error) {
	var sessions []*models.SessionRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("getting all session records: %w", err)
	}
	return sessions, nil
}

// GetActive retrieves session records in the active state.
func (r *sessionRepo) GetActive(ctx context.Context) ([]*models.SessionRecord, error) {
	var sessions []*models.SessionRecord
	if err := r.db.WithContext(ctx).
		Where("state = ?", models.SessionStateActive).
		Order("last_access_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("getting active session records: %w", err)
	}
	return sessions, nil
}

// Update updates an existing session record.
func (r *sessionRepo) Update(ctx context.Context, session *models.SessionRecord) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}
	return nil
}

// Delete deletes a session record by ID.
func (r *sessionRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SessionRecord{}).Error; err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}
	return nil
}

// CloseStale marks every active session as expired.
func (r *sessionRepo) CloseStale(ctx context.Context, cutoff models.Time) (int64, error) {
	now := models.Now()
	result := r.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("state = ?", models.SessionStateActive).
		Where("last_access_at < ?", cutoff).
		Updates(map[string]any{
			"state":     models.SessionStateExpired,
			"closed_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("closing stale session records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
