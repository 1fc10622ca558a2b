package attendance

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testChannelExternalID = "chan-main"

type testHarness struct {
	db       *gorm.DB
	roster   *roster.Service
	streaks  *streak.Engine
	recorder *Recorder
	queries  *Queries
	channel  roster.Channel
}

// testDatabaseSequence keeps shared-cache in-memory databases apart
// when one test opens several harnesses.
var testDatabaseSequence atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", t.Name(), testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&roster.Channel{}, &roster.User{}, &roster.Admin{}, &roster.UntrackedUser{},
		&Event{}, &Reaction{},
		&streak.UserStreak{}, &streak.ChannelStreak{}, &streak.GlobalStreak{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := openTestDB(t)

	rosterService, err := roster.NewService(roster.ServiceConfig{
		Database:        db,
		DefaultTimezone: "UTC",
		DefaultLanguage: "en",
		OwnerUserID:     "owner-1",
	})
	if err != nil {
		t.Fatalf("failed to build roster service: %v", err)
	}
	engine, err := streak.NewEngine(streak.EngineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build streak engine: %v", err)
	}
	recorder, err := NewRecorder(RecorderConfig{
		Database: db,
		Roster:   rosterService,
		Streaks:  engine,
	})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}
	queries, err := NewQueries(db)
	if err != nil {
		t.Fatalf("failed to build query layer: %v", err)
	}

	channel, err := rosterService.RegisterChannel(context.Background(), testChannelExternalID, "UTC", "en", "")
	if err != nil {
		t.Fatalf("failed to register channel: %v", err)
	}
	return &testHarness{
		db:       db,
		roster:   rosterService,
		streaks:  engine,
		recorder: recorder,
		queries:  queries,
		channel:  channel,
	}
}

func utcTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("invalid test time %q: %v", value, err)
	}
	return parsed.UTC()
}

func mustRecord(t *testing.T, h *testHarness, eventID, userID, at string) RecordResult {
	t.Helper()
	result, err := h.recorder.Record(context.Background(), RecordRequest{
		ChannelExternalID: testChannelExternalID,
		UserExternalID:    userID,
		EventExternalID:   eventID,
		OccurredAt:        utcTime(t, at),
	})
	if err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}
	return result
}

func countEvents(t *testing.T, h *testHarness) int64 {
	t.Helper()
	var total int64
	if err := h.db.Model(&Event{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	return total
}
