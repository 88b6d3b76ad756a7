package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/playout-media/playout/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SessionRecord{}, &models.TranscodeJobRecord{}))
	return db
}

func newSession(mediaPath string) *models.SessionRecord {
	return &models.SessionRecord{
		MediaPath: mediaPath,
		Protocol:  models.ProtocolHLS,
		Profile:   "720p",
		State:     models.SessionStateActive,
	}
}

func TestSessionRepoCreateAndGet(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	session := newSession("/media/movie.mkv")
	require.NoError(t, repo.Create(ctx, session))
	require.False(t, session.ID.IsZero())

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.MediaPath, got.MediaPath)
	assert.Equal(t, models.ProtocolHLS, got.Protocol)
}

func TestSessionRepoGetByIDNotFound(t *testing.T) {
	repo := NewSessionRepository(testDB(t))

	got, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepoGetActive(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	active := newSession("/media/a.mkv")
	require.NoError(t, repo.Create(ctx, active))

	closed := newSession("/media/b.mkv")
	require.NoError(t, repo.Create(ctx, closed))
	closed.MarkClosed()
	require.NoError(t, repo.Update(ctx, closed))

	got, err := repo.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSessionRepoUpdate(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	session := newSession("/media/movie.mkv")
	require.NoError(t, repo.Create(ctx, session))

	session.MarkExpired()
	require.NoError(t, repo.Update(ctx, session))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateExpired, got.State)
	assert.NotNil(t, got.ClosedAt)
}

func TestSessionRepoDelete(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	session := newSession("/media/movie.mkv")
	require.NoError(t, repo.Create(ctx, session))
	require.NoError(t, repo.Delete(ctx, session.ID))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepoCloseStale(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	for _, path := range []string{"/media/a.mkv", "/media/b.mkv"} {
		require.NoError(t, repo.Create(ctx, newSession(path)))
	}

	// Cutoff in the past: every session is still fresh.
	n, err := repo.CloseStale(ctx, models.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.CloseStale(ctx, models.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
