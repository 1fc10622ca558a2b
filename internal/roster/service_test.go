package roster

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Channel{}, &User{}, &Admin{}, &UntrackedUser{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:        openTestDB(t),
		DefaultTimezone: "Europe/Paris",
		DefaultLanguage: "fr",
		OwnerUserID:     "owner-1",
	})
	if err != nil {
		t.Fatalf("failed to build roster service: %v", err)
	}
	return service
}

func TestRegisterChannelAppliesDefaults(t *testing.T) {
	service := newTestService(t)

	channel, err := service.RegisterChannel(context.Background(), "chan-1", "", "", "role-9")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if channel.Timezone != "Europe/Paris" {
		t.Fatalf("expected default timezone, got %q", channel.Timezone)
	}
	if channel.Language != "fr" {
		t.Fatalf("expected default language, got %q", channel.Language)
	}
	if channel.RoleExternalID != "role-9" {
		t.Fatalf("unexpected role %q", channel.RoleExternalID)
	}
}

func TestRegisterChannelRejectsDuplicatesAndBadInput(t *testing.T) {
	service := newTestService(t)

	if _, err := service.RegisterChannel(context.Background(), "chan-1", "", "", ""); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := service.RegisterChannel(context.Background(), "chan-1", "", "", ""); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
	if _, err := service.RegisterChannel(context.Background(), "", "", "", ""); !errors.Is(err, ErrMissingExternalID) {
		t.Fatalf("expected ErrMissingExternalID, got %v", err)
	}
	if _, err := service.RegisterChannel(context.Background(), "chan-2", "Mars/Olympus", "", ""); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
	if _, err := service.RegisterChannel(context.Background(), "chan-2", "", "!!", ""); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
}

func TestUpdateChannelColumns(t *testing.T) {
	service := newTestService(t)
	if _, err := service.RegisterChannel(context.Background(), "chan-1", "", "", ""); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if err := service.UpdateChannelTimezone(context.Background(), "chan-1", "America/New_York"); err != nil {
		t.Fatalf("unexpected timezone update error: %v", err)
	}
	if err := service.UpdateChannelLanguage(context.Background(), "chan-1", "en"); err != nil {
		t.Fatalf("unexpected language update error: %v", err)
	}
	if err := service.UpdateChannelRole(context.Background(), "chan-1", "role-2"); err != nil {
		t.Fatalf("unexpected role update error: %v", err)
	}

	channel, err := service.ChannelByExternalID(context.Background(), "chan-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if channel.Timezone != "America/New_York" || channel.Language != "en" || channel.RoleExternalID != "role-2" {
		t.Fatalf("unexpected channel %+v", channel)
	}

	if err := service.UpdateChannelTimezone(context.Background(), "chan-missing", "UTC"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	service := newTestService(t)

	first, err := service.EnsureUser(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	second, err := service.EnsureUser(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same row, got %d and %d", first.ID, second.ID)
	}
}

func TestSetUserTimezone(t *testing.T) {
	service := newTestService(t)

	user, err := service.SetUserTimezone(context.Background(), "user-a", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("unexpected timezone error: %v", err)
	}
	if user.Timezone != "Asia/Tokyo" {
		t.Fatalf("unexpected timezone %q", user.Timezone)
	}
	if _, err := service.SetUserTimezone(context.Background(), "user-a", "Nowhere/Atoll"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}

	location, err := service.UserLocation(context.Background(), "user-a")
	if err != nil || location.String() != "Asia/Tokyo" {
		t.Fatalf("expected Asia/Tokyo, got %v err=%v", location, err)
	}
	location, err = service.UserLocation(context.Background(), "user-unknown")
	if err != nil || location.String() != "UTC" {
		t.Fatalf("expected UTC for unknown user, got %v err=%v", location, err)
	}
}

func TestAdminAuthorization(t *testing.T) {
	service := newTestService(t)

	if !service.IsOwner("owner-1") {
		t.Fatalf("configured owner must be recognized")
	}
	if service.IsOwner("user-a") {
		t.Fatalf("regular user must not be owner")
	}

	authorized, err := service.IsAuthorized(context.Background(), "user-a")
	if err != nil || authorized {
		t.Fatalf("expected unauthorized, got %v err=%v", authorized, err)
	}

	added, err := service.AddAdmin(context.Background(), "user-a")
	if err != nil || !added {
		t.Fatalf("expected admin to be added, got %v err=%v", added, err)
	}
	again, err := service.AddAdmin(context.Background(), "user-a")
	if err != nil || again {
		t.Fatalf("re-adding an admin must report false, got %v err=%v", again, err)
	}

	authorized, err = service.IsAuthorized(context.Background(), "user-a")
	if err != nil || !authorized {
		t.Fatalf("expected authorized after allowlisting, got %v err=%v", authorized, err)
	}
}

func TestUntrackUserPurgesHistory(t *testing.T) {
	service := newTestService(t)

	// The purge statements touch the event tables; create them bare.
	for _, ddl := range []string{
		"CREATE TABLE events (id INTEGER PRIMARY KEY, user_id INTEGER)",
		"CREATE TABLE reactions (id INTEGER PRIMARY KEY, user_id INTEGER)",
		"CREATE TABLE user_streaks (user_id INTEGER PRIMARY KEY)",
	} {
		if err := service.db.Exec(ddl).Error; err != nil {
			t.Fatalf("failed to create table: %v", err)
		}
	}

	user, err := service.EnsureUser(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	for _, seed := range []string{
		fmt.Sprintf("INSERT INTO events (user_id) VALUES (%d)", user.ID),
		fmt.Sprintf("INSERT INTO reactions (user_id) VALUES (%d)", user.ID),
		fmt.Sprintf("INSERT INTO user_streaks (user_id) VALUES (%d)", user.ID),
	} {
		if err := service.db.Exec(seed).Error; err != nil {
			t.Fatalf("failed to seed row: %v", err)
		}
	}

	if err := service.UntrackUser(context.Background(), "user-a"); err != nil {
		t.Fatalf("unexpected untrack error: %v", err)
	}

	untracked, err := service.IsUntracked(context.Background(), "user-a")
	if err != nil || !untracked {
		t.Fatalf("expected suppression entry, got %v err=%v", untracked, err)
	}
	for _, table := range []string{"events", "reactions", "user_streaks"} {
		var total int64
		if err := service.db.Table(table).Count(&total).Error; err != nil {
			t.Fatalf("failed to count %s: %v", table, err)
		}
		if total != 0 {
			t.Fatalf("expected %s to be purged, got %d rows", table, total)
		}
	}

	// Untracking an unknown user only records the suppression entry.
	if err := service.UntrackUser(context.Background(), "user-ghost"); err != nil {
		t.Fatalf("unexpected untrack error: %v", err)
	}
}
