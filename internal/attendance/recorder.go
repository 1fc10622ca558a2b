package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("attendance: database handle is required")
	errMissingRoster   = errors.New("attendance: roster service is required")
	errMissingStreaks  = errors.New("attendance: streak engine is required")

	noOpLogger = zap.NewNop()
)

// RecorderConfig describes the dependencies of the event recorder.
type RecorderConfig struct {
	Database *gorm.DB
	Roster   *roster.Service
	Streaks  *streak.Engine
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Recorder turns candidate events into at most one persisted Event per
// user, channel and local calendar day, and keeps the derived streak
// rows in step inside the same transaction.
type Recorder struct {
	db      *gorm.DB
	roster  *roster.Service
	streaks *streak.Engine
	clock   func() time.Time
	logger  *zap.Logger
}

// NewRecorder constructs the recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRecorderNew, "missing_database", errMissingDatabase)
	}
	if cfg.Roster == nil {
		return nil, newServiceError(opRecorderNew, "missing_roster", errMissingRoster)
	}
	if cfg.Streaks == nil {
		return nil, newServiceError(opRecorderNew, "missing_streaks", errMissingStreaks)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{
		db:      cfg.Database,
		roster:  cfg.Roster,
		streaks: cfg.Streaks,
		clock:   clock,
		logger:  logger,
	}, nil
}

// RecordRequest is one candidate event from the connector. OccurredAt
// is the delivery timestamp in UTC; localization to the channel's zone
// happens here.
type RecordRequest struct {
	ChannelExternalID string
	UserExternalID    string
	EventExternalID   string
	OccurredAt        time.Time
}

// RecordResult reports whether the event was newly persisted, and when
// it was, the rows involved so callers can run milestone checks and
// side effects without re-querying.
type RecordResult struct {
	Recorded bool
	EventID  uint
	Category Category
	Day      streak.Day
	Channel  roster.Channel
	User     roster.User
}

// Record applies the full recording policy: untracked suppression,
// window classification, per-day precedence, idempotent insert keyed on
// the external event id, and, for a success, the user, channel and
// global streak upserts. The event insert and the streak updates form
// one transaction; on any storage failure the whole unit rolls back and
// the event is reported as not recorded.
//
// Policy rejections are not errors: they return a zero-valued result
// with Recorded false.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	channel, err := r.roster.ChannelByExternalID(ctx, req.ChannelExternalID)
	if errors.Is(err, roster.ErrChannelNotFound) {
		return RecordResult{}, nil
	}
	if err != nil {
		r.logError(opRecordEvent, "channel_lookup_failed", err,
			zap.String("channel_external_id", req.ChannelExternalID))
		return RecordResult{}, newServiceError(opRecordEvent, "channel_lookup_failed", err)
	}

	untracked, err := r.roster.IsUntracked(ctx, req.UserExternalID)
	if err != nil {
		r.logError(opRecordEvent, "untracked_lookup_failed", err,
			zap.String("user_external_id", req.UserExternalID))
		return RecordResult{}, newServiceError(opRecordEvent, "untracked_lookup_failed", err)
	}
	if untracked {
		return RecordResult{}, nil
	}

	localTime := req.OccurredAt.In(channel.Location())
	category := Classify(localTime)
	if category == CategoryNone {
		return RecordResult{}, nil
	}

	user, err := r.roster.EnsureUser(ctx, req.UserExternalID)
	if err != nil {
		r.logError(opRecordEvent, "user_ensure_failed", err,
			zap.String("user_external_id", req.UserExternalID))
		return RecordResult{}, newServiceError(opRecordEvent, "user_ensure_failed", err)
	}

	day := streak.DayOf(localTime)
	event := Event{
		ExternalID: req.EventExternalID,
		ChannelID:  channel.ID,
		UserID:     user.ID,
		Timestamp:  localTime.Format(time.RFC3339Nano),
		Day:        day.String(),
		Category:   category,
	}

	recorded := false
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blocked, err := dayPrecedenceBlocks(tx, user.ID, channel.ID, day, category)
		if err != nil {
			return newServiceError(opRecordEvent, "precedence_check_failed", err)
		}
		if blocked {
			return nil
		}

		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Create(&event)
		if insert.Error != nil {
			return newServiceError(opRecordEvent, "event_insert_failed", insert.Error)
		}
		if insert.RowsAffected == 0 {
			// Duplicate delivery of the same external id.
			return nil
		}

		if category == CategorySuccess {
			for _, scope := range []streak.Scope{
				streak.UserScope(user.ID),
				streak.ChannelScope(channel.ID),
				streak.GlobalScope(),
			} {
				if err := r.streaks.ApplyTx(tx, scope, day); err != nil {
					return newServiceError(opRecordEvent, "streak_update_failed", err)
				}
			}
		}

		recorded = true
		return nil
	})
	if txErr != nil {
		r.logError(opRecordEvent, "transaction_failed", txErr,
			zap.String("event_external_id", req.EventExternalID),
			zap.String("channel_external_id", req.ChannelExternalID),
			zap.String("user_external_id", req.UserExternalID))
		return RecordResult{}, txErr
	}
	if !recorded {
		return RecordResult{}, nil
	}

	r.logger.Debug("event recorded",
		zap.Uint("event_id", event.ID),
		zap.String("category", string(category)),
		zap.String("day", day.String()))
	return RecordResult{
		Recorded: true,
		EventID:  event.ID,
		Category: category,
		Day:      day,
		Channel:  channel,
		User:     user,
	}, nil
}

// dayPrecedenceBlocks decides whether an already-recorded outcome for
// the same user, channel and day blocks the incoming category:
// a duplicate category is a no-op, a fail never lands once a success or
// choke exists, a success never overrides a choke, and a choke never
// overrides a success. The asymmetry is deliberate: a choke is a
// terminal negative outcome for the day.
func dayPrecedenceBlocks(tx *gorm.DB, userID, channelID uint, day streak.Day, incoming Category) (bool, error) {
	var categories []Category
	err := tx.Model(&Event{}).
		Where("user_id = ? AND channel_id = ? AND day = ?", userID, channelID, day.String()).
		Pluck("category", &categories).
		Error
	if err != nil {
		return false, err
	}

	existing := make(map[Category]bool, len(categories))
	for _, category := range categories {
		existing[category] = true
	}

	if existing[incoming] {
		return true, nil
	}
	switch incoming {
	case CategoryFail:
		return existing[CategorySuccess] || existing[CategoryChoke], nil
	case CategorySuccess:
		return existing[CategoryChoke], nil
	case CategoryChoke:
		return existing[CategorySuccess], nil
	default:
		return true, nil
	}
}

func (r *Recorder) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("attendance recorder error", attrs...)
}
