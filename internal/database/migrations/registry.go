package migrations

import (
	"gorm.io/gorm"

	"github.com/playout-media/playout/internal/models"
)

// All returns every registered migration in no particular order; the
// migrator sorts by version before applying.
func All() []Migration {
	return []Migration{
		migration001InitialSchema(),
		migration002JobExitCode(),
	}
}

// migration001InitialSchema creates the session and transcode job tables.
func migration001InitialSchema() Migration {
	return Migration{
		Version:     "001",
		Description: "create sessions and transcode_jobs tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.SessionRecord{},
				&models.TranscodeJobRecord{},
			)
		},
		Down: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&models.TranscodeJobRecord{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&models.SessionRecord{})
		},
	}
}

// migration002JobExitCode adds the encoder exit code column to job records.
// AutoMigrate is additive, so re-running against an up-to-date schema is a
// no-op.
func migration002JobExitCode() Migration {
	return Migration{
		Version:     "002",
		Description: "add exit_code to transcode_jobs",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.TranscodeJobRecord{})
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&models.TranscodeJobRecord{}, "exit_code") {
				return tx.Migrator().DropColumn(&models.TranscodeJobRecord{}, "exit_code")
			}
			return nil
		},
	}
}
