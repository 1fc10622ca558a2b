package attendance

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddReaction records a peer acknowledgment on a recorded success
// event. Reactions on unknown channels, unrecorded or non-success
// events, or from untracked users are discarded silently; re-adding an
// existing reaction is a no-op. Returns whether a row was newly added.
func (r *Recorder) AddReaction(ctx context.Context, channelExternalID, eventExternalID, userExternalID string) (bool, error) {
	event, ok, err := r.successEvent(ctx, channelExternalID, eventExternalID)
	if err != nil || !ok {
		return false, err
	}

	untracked, err := r.roster.IsUntracked(ctx, userExternalID)
	if err != nil {
		return false, newServiceError(opReactionAdd, "untracked_lookup_failed", err)
	}
	if untracked {
		return false, nil
	}

	user, err := r.roster.EnsureUser(ctx, userExternalID)
	if err != nil {
		return false, newServiceError(opReactionAdd, "user_ensure_failed", err)
	}

	insert := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(&Reaction{UserID: user.ID, EventID: event.ID})
	if insert.Error != nil {
		r.logError(opReactionAdd, "reaction_insert_failed", insert.Error,
			zap.String("event_external_id", eventExternalID))
		return false, newServiceError(opReactionAdd, "reaction_insert_failed", insert.Error)
	}
	return insert.RowsAffected > 0, nil
}

// RemoveReaction deletes the (user, event) acknowledgment pair if it
// exists. Returns whether a row was removed.
func (r *Recorder) RemoveReaction(ctx context.Context, channelExternalID, eventExternalID, userExternalID string) (bool, error) {
	event, ok, err := r.successEvent(ctx, channelExternalID, eventExternalID)
	if err != nil || !ok {
		return false, err
	}

	user, found, err := r.roster.UserByExternalID(ctx, userExternalID)
	if err != nil {
		return false, newServiceError(opReactionRemove, "user_lookup_failed", err)
	}
	if !found {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ?", user.ID, event.ID).
		Delete(&Reaction{})
	if result.Error != nil {
		r.logError(opReactionRemove, "reaction_delete_failed", result.Error,
			zap.String("event_external_id", eventExternalID))
		return false, newServiceError(opReactionRemove, "reaction_delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// successEvent resolves a recorded success event in the given channel;
// ok is false for anything that should be silently ignored.
func (r *Recorder) successEvent(ctx context.Context, channelExternalID, eventExternalID string) (Event, bool, error) {
	channel, err := r.roster.ChannelByExternalID(ctx, channelExternalID)
	if errors.Is(err, roster.ErrChannelNotFound) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, newServiceError(opReactionAdd, "channel_lookup_failed", err)
	}

	var event Event
	err = r.db.WithContext(ctx).
		Where("external_id = ? AND channel_id = ?", eventExternalID, channel.ID).
		Take(&event).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, newServiceError(opReactionAdd, "event_lookup_failed", err)
	}
	if event.Category != CategorySuccess {
		return Event{}, false, nil
	}
	return event, true, nil
}
