package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDedupeGlobalStreak     = "2026-02-10_dedupe_global_streak"
	migrationDefaultChannelLanguage = "2026-02-18_default_channel_language"
	fallbackChannelLanguage         = "fr"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDedupeGlobalStreak, apply: dedupeGlobalStreak},
		{name: migrationDefaultChannelLanguage, apply: defaultChannelLanguage},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dedupeGlobalStreak collapses stray rows in the service-wide streak
// table down to the singleton, keeping the most recent one.
func dedupeGlobalStreak(db *gorm.DB) error {
	deleteExtras := `
		DELETE FROM global_streak WHERE id NOT IN (
			SELECT id FROM global_streak
			ORDER BY last_success_date DESC, id DESC
			LIMIT 1
		)`
	if err := db.Exec(deleteExtras).Error; err != nil {
		return err
	}
	return db.Exec("UPDATE global_streak SET id = 1").Error
}

// defaultChannelLanguage backfills channels registered before the
// language column carried a value.
func defaultChannelLanguage(db *gorm.DB) error {
	return db.Model(&roster.Channel{}).
		Where("lang IS NULL OR lang = ''").
		Update("lang", fallbackChannelLanguage).Error
}
