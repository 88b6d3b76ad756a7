package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/playout-media/playout/internal/models"
	"github.com/playout-media/playout/internal/repository"
)

func testRepos(t *testing.T) (repository.SessionRepository, repository.TranscodeJobRepository) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "janitor.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SessionRecord{}, &models.TranscodeJobRecord{}))
	return repository.NewSessionRepository(db), repository.NewTranscodeJobRepository(db)
}

func finishedJob(t *testing.T, jobs repository.TranscodeJobRepository, finishedAt time.Time) *models.TranscodeJobRecord {
	t.Helper()
	rec := &models.TranscodeJobRecord{
		SessionID: models.NewULID(),
		MediaPath: "/media/movie.mkv",
		Profile:   "720p",
		State:     models.JobStateCompleted,
	}
	require.NoError(t, jobs.Create(context.Background(), rec))
	rec.FinishedAt = &finishedAt
	require.NoError(t, jobs.Update(context.Background(), rec))
	return rec
}

func TestJanitorPrunesOldJobRecords(t *testing.T) {
	sessions, jobs := testRepos(t)
	ctx := context.Background()

	old := finishedJob(t, jobs, time.Now().Add(-48*time.Hour))
	fresh := finishedJob(t, jobs, time.Now())

	janitor := NewJanitor(sessions, jobs, nil).WithConfig(JanitorConfig{
		RecordRetention: 24 * time.Hour,
	})
	janitor.RunOnce(ctx)

	got, err := jobs.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "old finished record survived pruning")

	got, err = jobs.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestJanitorClosesStaleSessionRecords(t *testing.T) {
	sessions, jobs := testRepos(t)
	ctx := context.Background()

	stale := &models.SessionRecord{
		MediaPath: "/media/a.mkv",
		Protocol:  models.ProtocolHLS,
		State:     models.SessionStateActive,
	}
	require.NoError(t, sessions.Create(ctx, stale))
	stale.LastAccessAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, sessions.Update(ctx, stale))

	janitor := NewJanitor(sessions, jobs, nil).WithConfig(JanitorConfig{
		SessionStaleAfter: time.Hour,
	})
	janitor.RunOnce(ctx)

	got, err := sessions.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SessionStateExpired, got.State)
}

func TestJanitorSweepsOrphanedWorkDirs(t *testing.T) {
	sessions, jobs := testRepos(t)
	tempDir := t.TempDir()

	orphan := filepath.Join(tempDir, "job-01JXXXXXXXXXXXXXXXXXXXXXX0")
	live := filepath.Join(tempDir, "job-01JXXXXXXXXXXXXXXXXXXXXXX1")
	unrelated := filepath.Join(tempDir, "uploads")
	for _, dir := range []string{orphan, live, unrelated} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	janitor := NewJanitor(sessions, jobs, func() map[string]struct{} {
		return map[string]struct{}{filepath.Base(live): {}}
	}).WithConfig(JanitorConfig{TempDir: tempDir})

	janitor.RunOnce(context.Background())

	assert.NoDirExists(t, orphan)
	assert.DirExists(t, live)
	assert.DirExists(t, unrelated)
}

func TestJanitorStartStop(t *testing.T) {
	sessions, jobs := testRepos(t)

	janitor := NewJanitor(sessions, jobs, nil).WithConfig(JanitorConfig{
		SyncInterval: 10 * time.Millisecond,
	})
	require.NoError(t, janitor.Start(context.Background()))
	assert.Error(t, janitor.Start(context.Background()), "double start must fail")
	janitor.Stop()

	// Restartable after stop.
	require.NoError(t, janitor.Start(context.Background()))
	janitor.Stop()
}

func TestJanitorRejectsInvalidSchedule(t *testing.T) {
	sessions, jobs := testRepos(t)

	janitor := NewJanitor(sessions, jobs, nil).WithConfig(JanitorConfig{
		Schedule: "not a cron expression",
	})
	assert.Error(t, janitor.Start(context.Background()))
}
