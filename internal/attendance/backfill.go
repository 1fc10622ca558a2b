package attendance

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BackfillConfig describes the dependencies of the history ingester.
type BackfillConfig struct {
	Database    *gorm.DB
	Roster      *roster.Service
	Streaks     *streak.Engine
	TriggerWord string
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Backfill replays a channel's message history through the recording
// policy. Rows are inserted one at a time without touching the streak
// tables; the derived state for every affected scope is rebuilt from
// scratch at the end, so a re-run over the same history is a no-op.
type Backfill struct {
	db          *gorm.DB
	roster      *roster.Service
	streaks     *streak.Engine
	triggerWord string
	clock       func() time.Time
	logger      *zap.Logger
}

// NewBackfill constructs the history ingester.
func NewBackfill(cfg BackfillConfig) (*Backfill, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opBackfillNew, "missing_database", errMissingDatabase)
	}
	if cfg.Roster == nil {
		return nil, newServiceError(opBackfillNew, "missing_roster", errMissingRoster)
	}
	if cfg.Streaks == nil {
		return nil, newServiceError(opBackfillNew, "missing_streaks", errMissingStreaks)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Backfill{
		db:          cfg.Database,
		roster:      cfg.Roster,
		streaks:     cfg.Streaks,
		triggerWord: cfg.TriggerWord,
		clock:       clock,
		logger:      logger,
	}, nil
}

// HistoryEntry is one historical message offered for replay.
type HistoryEntry struct {
	EventExternalID string
	UserExternalID  string
	OccurredAt      time.Time
	Content         string
}

// HistoryRequest names the channel and carries its history. Entries
// older than From are skipped; a zero From takes everything.
type HistoryRequest struct {
	ChannelExternalID string
	Entries           []HistoryEntry
	From              time.Time
}

// BackfillSummary reports what a replay did.
type BackfillSummary struct {
	Scanned       int
	Stored        int
	Skipped       int
	ByCategory    map[Category]int
	AffectedUsers int
	ChannelState  streak.State
	GlobalState   streak.State
}

// IngestHistory replays the request's entries: each row passes the
// trigger filter, the window classifier, untracked suppression and the
// per-day precedence rules before an idempotent insert. Inserts commit
// row by row so a long replay that is interrupted keeps its progress;
// rerunning it finishes the job. Context cancellation stops the scan
// between rows.
func (b *Backfill) IngestHistory(ctx context.Context, req HistoryRequest) (BackfillSummary, error) {
	channel, err := b.roster.ChannelByExternalID(ctx, req.ChannelExternalID)
	if err != nil {
		return BackfillSummary{}, newServiceError(opIngestHistory, "channel_lookup_failed", err)
	}
	location := channel.Location()

	summary := BackfillSummary{ByCategory: make(map[Category]int)}
	untrackedByID := make(map[string]bool)
	usersByID := make(map[string]roster.User)
	affected := make(map[uint]bool)

	for _, entry := range req.Entries {
		if err := ctx.Err(); err != nil {
			return summary, newServiceError(opIngestHistory, "cancelled", err)
		}
		summary.Scanned++

		if !req.From.IsZero() && entry.OccurredAt.Before(req.From) {
			summary.Skipped++
			continue
		}
		if !HasTrigger(entry.Content, b.triggerWord) {
			summary.Skipped++
			continue
		}

		localTime := entry.OccurredAt.In(location)
		category := Classify(localTime)
		if category == CategoryNone {
			summary.Skipped++
			continue
		}

		untracked, cached := untrackedByID[entry.UserExternalID]
		if !cached {
			untracked, err = b.roster.IsUntracked(ctx, entry.UserExternalID)
			if err != nil {
				return summary, newServiceError(opIngestHistory, "untracked_lookup_failed", err)
			}
			untrackedByID[entry.UserExternalID] = untracked
		}
		if untracked {
			summary.Skipped++
			continue
		}

		user, known := usersByID[entry.UserExternalID]
		if !known {
			user, err = b.roster.EnsureUser(ctx, entry.UserExternalID)
			if err != nil {
				return summary, newServiceError(opIngestHistory, "user_ensure_failed", err)
			}
			usersByID[entry.UserExternalID] = user
		}

		day := streak.DayOf(localTime)
		blocked, err := dayPrecedenceBlocks(b.db.WithContext(ctx), user.ID, channel.ID, day, category)
		if err != nil {
			return summary, newServiceError(opIngestHistory, "precedence_check_failed", err)
		}
		if blocked {
			summary.Skipped++
			continue
		}

		insert := b.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Create(&Event{
			ExternalID: entry.EventExternalID,
			ChannelID:  channel.ID,
			UserID:     user.ID,
			Timestamp:  localTime.Format(time.RFC3339Nano),
			Day:        day.String(),
			Category:   category,
		})
		if insert.Error != nil {
			return summary, newServiceError(opIngestHistory, "event_insert_failed", insert.Error)
		}
		if insert.RowsAffected == 0 {
			summary.Skipped++
			continue
		}

		summary.Stored++
		summary.ByCategory[category]++
		if category == CategorySuccess {
			affected[user.ID] = true
		}
	}

	channelState, globalState, err := b.rebuildStreaks(ctx, channel, affected)
	if err != nil {
		return summary, err
	}
	summary.AffectedUsers = len(affected)
	summary.ChannelState = channelState
	summary.GlobalState = globalState

	b.logger.Info("history backfilled",
		zap.String("channel_external_id", req.ChannelExternalID),
		zap.Int("scanned", summary.Scanned),
		zap.Int("stored", summary.Stored),
		zap.Int("affected_users", summary.AffectedUsers))
	return summary, nil
}

// rebuildStreaks recomputes every affected user scope plus the channel
// and global scopes from the stored events.
func (b *Backfill) rebuildStreaks(ctx context.Context, channel roster.Channel, affected map[uint]bool) (streak.State, streak.State, error) {
	queries, err := NewQueries(b.db)
	if err != nil {
		return streak.State{}, streak.State{}, err
	}
	now := b.clock().In(channel.Location())

	for userID := range affected {
		days, err := queries.DistinctSuccessDays(ctx, Filter{UserID: userID})
		if err != nil {
			return streak.State{}, streak.State{}, err
		}
		if _, err := b.streaks.Recompute(ctx, streak.UserScope(userID), days, now); err != nil {
			return streak.State{}, streak.State{}, newServiceError(opIngestHistory, "user_recompute_failed", err)
		}
	}

	channelDays, err := queries.DistinctSuccessDays(ctx, Filter{ChannelID: channel.ID})
	if err != nil {
		return streak.State{}, streak.State{}, err
	}
	channelState, err := b.streaks.Recompute(ctx, streak.ChannelScope(channel.ID), channelDays, now)
	if err != nil {
		return streak.State{}, streak.State{}, newServiceError(opIngestHistory, "channel_recompute_failed", err)
	}

	globalDays, err := queries.DistinctSuccessDays(ctx, Filter{})
	if err != nil {
		return streak.State{}, streak.State{}, err
	}
	globalState, err := b.streaks.Recompute(ctx, streak.GlobalScope(), globalDays, now)
	if err != nil {
		return streak.State{}, streak.State{}, newServiceError(opIngestHistory, "global_recompute_failed", err)
	}
	return channelState, globalState, nil
}

// ReactionEntry is one historical acknowledgment for batch replay.
type ReactionEntry struct {
	EventExternalID string
	UserExternalID  string
}

// ApplyReactionBatch replays historical acknowledgments through the
// same silent-discard rules as live reactions. Returns how many rows
// were newly stored.
func (b *Backfill) ApplyReactionBatch(ctx context.Context, channelExternalID string, entries []ReactionEntry) (int, error) {
	recorder, err := NewRecorder(RecorderConfig{
		Database: b.db,
		Roster:   b.roster,
		Streaks:  b.streaks,
		Clock:    b.clock,
		Logger:   b.logger,
	})
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stored, newServiceError(opIngestHistory, "cancelled", err)
		}
		added, err := recorder.AddReaction(ctx, channelExternalID, entry.EventExternalID, entry.UserExternalID)
		if err != nil {
			return stored, err
		}
		if added {
			stored++
		}
	}
	return stored, nil
}
