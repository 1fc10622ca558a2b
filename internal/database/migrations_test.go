package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openMigrationDB(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&roster.Channel{}, &streak.GlobalStreak{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsDedupesGlobalStreak(testContext *testing.T) {
	database := openMigrationDB(testContext)

	rows := []streak.GlobalStreak{
		{ID: 3, CurrentStreak: 2, MaxStreak: 4, LastSuccessDay: "2026-01-10"},
		{ID: 7, CurrentStreak: 5, MaxStreak: 9, LastSuccessDay: "2026-02-01"},
	}
	for index := range rows {
		if err := database.Create(&rows[index]).Error; err != nil {
			testContext.Fatalf("failed to insert global row: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var remaining []streak.GlobalStreak
	if err := database.Find(&remaining).Error; err != nil {
		testContext.Fatalf("failed to reload global rows: %v", err)
	}
	if len(remaining) != 1 {
		testContext.Fatalf("expected a single global row, got %d", len(remaining))
	}
	if remaining[0].ID != 1 {
		testContext.Fatalf("expected the survivor to be pinned to id 1, got %d", remaining[0].ID)
	}
	if remaining[0].LastSuccessDay != "2026-02-01" {
		testContext.Fatalf("expected the newest row to survive, got %q", remaining[0].LastSuccessDay)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDedupeGlobalStreak).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsBackfillsChannelLanguage(testContext *testing.T) {
	database := openMigrationDB(testContext)

	channels := []roster.Channel{
		{ExternalID: "chan-legacy", Timezone: "Europe/Paris", Language: ""},
		{ExternalID: "chan-tagged", Timezone: "Europe/Paris", Language: "en"},
	}
	for index := range channels {
		if err := database.Create(&channels[index]).Error; err != nil {
			testContext.Fatalf("failed to insert channel: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var legacy roster.Channel
	if err := database.Where("external_id = ?", "chan-legacy").Take(&legacy).Error; err != nil {
		testContext.Fatalf("failed to reload channel: %v", err)
	}
	if legacy.Language != fallbackChannelLanguage {
		testContext.Fatalf("expected language %q, got %q", fallbackChannelLanguage, legacy.Language)
	}

	var tagged roster.Channel
	if err := database.Where("external_id = ?", "chan-tagged").Take(&tagged).Error; err != nil {
		testContext.Fatalf("failed to reload channel: %v", err)
	}
	if tagged.Language != "en" {
		testContext.Fatalf("existing language must be untouched, got %q", tagged.Language)
	}
}

func TestApplyMigrationsAreRecordedOnce(testContext *testing.T) {
	database := openMigrationDB(testContext)

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("rerun must be a no-op: %v", err)
	}

	var total int64
	if err := database.Model(&migrationRecord{}).Count(&total).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if total != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", total)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}
