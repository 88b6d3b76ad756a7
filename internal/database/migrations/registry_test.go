package migrations

import (
	"context"
	"path/filepath"
	"testing"

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
	return db
}

func TestUpAppliesAllMigrations(t *testing.T) {
	db := testDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(All())

	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable(&models.SessionRecord{}))
	assert.True(t, db.Migrator().HasTable(&models.TranscodeJobRecord{}))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpIsIdempotent(t *testing.T) {
	db := testDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(All())

	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(All())), count)
}

func TestDownRollsBackLastMigration(t *testing.T) {
	db := testDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(All())

	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002", pending[0].Version)
}

func TestDownWithNoMigrations(t *testing.T) {
	db := testDB(t)
	m := NewMigrator(db, nil)

	assert.NoError(t, m.Down(context.Background()))
}

func TestMigratedSchemaAcceptsRecords(t *testing.T) {
	db := testDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(All())
	require.NoError(t, m.Up(context.Background()))

	session := &models.SessionRecord{
		MediaPath: "/media/movie.mkv",
		Protocol:  models.ProtocolHLS,
		Profile:   "720p",
		State:     models.SessionStateActive,
	}
	require.NoError(t, db.Create(session).Error)
	assert.False(t, session.ID.IsZero())

	job := &models.TranscodeJobRecord{
		SessionID: session.ID,
		MediaPath: session.MediaPath,
		Profile:   "720p",
		State:     models.JobStateQueued,
	}
	require.NoError(t, db.Create(job).Error)
	assert.False(t, job.ID.IsZero())
}
