package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"gorm.io/gorm"
)

// PageSize is the fixed page length for ranked listings.
const PageSize = 10

// Filter narrows a query to a channel, a user, both, or neither. Zero
// values mean unscoped.
type Filter struct {
	ChannelID uint
	UserID    uint
}

// Queries answers leaderboard and statistics questions against the
// persisted event, reaction and streak tables. All operations are
// stateless reads.
type Queries struct {
	db *gorm.DB
}

// NewQueries constructs the query layer.
func NewQueries(db *gorm.DB) (*Queries, error) {
	if db == nil {
		return nil, newServiceError(opQuery, "missing_database", errMissingDatabase)
	}
	return &Queries{db: db}, nil
}

func (q *Queries) scopedEvents(ctx context.Context, f Filter) *gorm.DB {
	db := q.db.WithContext(ctx).Model(&Event{})
	if f.ChannelID != 0 {
		db = db.Where("events.channel_id = ?", f.ChannelID)
	}
	if f.UserID != 0 {
		db = db.Where("events.user_id = ?", f.UserID)
	}
	return db
}

// CategoryCounts tallies events per category within the scope.
func (q *Queries) CategoryCounts(ctx context.Context, f Filter) (map[Category]int64, error) {
	var rows []struct {
		Category Category
		Total    int64
	}
	err := q.scopedEvents(ctx, f).
		Select("category, COUNT(*) AS total").
		Group("category").
		Scan(&rows).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "category_counts_failed", err)
	}

	counts := make(map[Category]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Total
	}
	return counts, nil
}

// SuccessCount is the number of success events within the scope.
func (q *Queries) SuccessCount(ctx context.Context, f Filter) (int64, error) {
	var total int64
	err := q.scopedEvents(ctx, f).
		Where("events.category = ?", CategorySuccess).
		Count(&total).
		Error
	if err != nil {
		return 0, newServiceError(opQuery, "success_count_failed", err)
	}
	return total, nil
}

// DistinctSuccessUsers counts users with at least one success within
// the scope.
func (q *Queries) DistinctSuccessUsers(ctx context.Context, f Filter) (int64, error) {
	var total int64
	err := q.scopedEvents(ctx, f).
		Where("events.category = ?", CategorySuccess).
		Select("COUNT(DISTINCT events.user_id)").
		Scan(&total).
		Error
	if err != nil {
		return 0, newServiceError(opQuery, "distinct_users_failed", err)
	}
	return total, nil
}

// ReactionTotals reports acknowledgments received within the scope and,
// when the filter names a user, how many that user has given.
func (q *Queries) ReactionTotals(ctx context.Context, f Filter) (received int64, given int64, err error) {
	db := q.db.WithContext(ctx).Model(&Reaction{}).
		Joins("JOIN events ON events.id = reactions.event_id")
	if f.ChannelID != 0 {
		db = db.Where("events.channel_id = ?", f.ChannelID)
	}
	if f.UserID != 0 {
		db = db.Where("events.user_id = ?", f.UserID)
	}
	if err := db.Count(&received).Error; err != nil {
		return 0, 0, newServiceError(opQuery, "reactions_received_failed", err)
	}

	if f.UserID != 0 {
		err := q.db.WithContext(ctx).Model(&Reaction{}).
			Where("user_id = ?", f.UserID).
			Count(&given).
			Error
		if err != nil {
			return 0, 0, newServiceError(opQuery, "reactions_given_failed", err)
		}
	}
	return received, given, nil
}

// CountRow is one leaderboard entry keyed by the user's external id.
type CountRow struct {
	UserExternalID string `gorm:"column:external_id"`
	Total          int64  `gorm:"column:total"`
}

// SuccessLeaderboard ranks users by success-event count, descending,
// ties in insertion order. A zero channelID ranks globally.
func (q *Queries) SuccessLeaderboard(ctx context.Context, channelID uint) ([]CountRow, error) {
	db := q.db.WithContext(ctx).Model(&Event{}).
		Select("users.external_id AS external_id, COUNT(*) AS total").
		Joins("JOIN users ON users.id = events.user_id").
		Where("events.category = ?", CategorySuccess)
	if channelID != 0 {
		db = db.Where("events.channel_id = ?", channelID)
	}

	var rows []CountRow
	err := db.Group("users.id, users.external_id").
		Order("total DESC, users.id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "success_leaderboard_failed", err)
	}
	return rows, nil
}

// ReactionLeaderboard ranks users by acknowledgments given, descending.
func (q *Queries) ReactionLeaderboard(ctx context.Context, channelID uint) ([]CountRow, error) {
	db := q.db.WithContext(ctx).Model(&Reaction{}).
		Select("users.external_id AS external_id, COUNT(*) AS total").
		Joins("JOIN users ON users.id = reactions.user_id")
	if channelID != 0 {
		db = db.Joins("JOIN events ON events.id = reactions.event_id").
			Where("events.channel_id = ?", channelID)
	}

	var rows []CountRow
	err := db.Group("users.id, users.external_id").
		Order("total DESC, users.id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "reaction_leaderboard_failed", err)
	}
	return rows, nil
}

// DelayStats aggregates the sub-minute offsets of success events within
// the scope: minimum, average, maximum and the most recent.
type DelayStats struct {
	Min     float64
	Avg     float64
	Max     float64
	Last    float64
	Samples int
}

// successDelays lists the scope's success delays in recording order.
func (q *Queries) successDelays(ctx context.Context, f Filter) ([]float64, error) {
	var values []string
	err := q.scopedEvents(ctx, f).
		Where("events.category = ?", CategorySuccess).
		Order("events.id ASC").
		Pluck("events.timestamp", &values).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "success_delays_failed", err)
	}

	delays := make([]float64, 0, len(values))
	for _, value := range values {
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, newServiceError(opQuery, "timestamp_parse_failed", err)
		}
		delays = append(delays, delaySeconds(parsed))
	}
	return delays, nil
}

// DelayStatsFor computes delay statistics over the scope's success
// events in recording order.
func (q *Queries) DelayStatsFor(ctx context.Context, f Filter) (DelayStats, error) {
	delays, err := q.successDelays(ctx, f)
	if err != nil {
		return DelayStats{}, err
	}
	if len(delays) == 0 {
		return DelayStats{}, nil
	}

	stats := DelayStats{
		Min:     delays[0],
		Max:     delays[0],
		Last:    delays[len(delays)-1],
		Samples: len(delays),
	}
	sum := 0.0
	for _, delay := range delays {
		sum += delay
		if delay < stats.Min {
			stats.Min = delay
		}
		if delay > stats.Max {
			stats.Max = delay
		}
	}
	stats.Avg = sum / float64(len(delays))
	return stats, nil
}

// DelayMode selects the delay leaderboard metric.
type DelayMode string

const (
	// DelayBest ranks by each user's fastest success, ascending.
	DelayBest DelayMode = "best"
	// DelayWorst ranks by each user's slowest success, descending.
	DelayWorst DelayMode = "worst"
	// DelayAverage ranks by each user's mean delay, ascending.
	DelayAverage DelayMode = "avg"
)

// DelayRow is one delay leaderboard entry.
type DelayRow struct {
	UserExternalID string
	Seconds        float64
	Samples        int
}

// DelayLeaderboard ranks users by their success delays under the given
// mode. A zero channelID ranks globally.
func (q *Queries) DelayLeaderboard(ctx context.Context, channelID uint, mode DelayMode) ([]DelayRow, error) {
	db := q.db.WithContext(ctx).Model(&Event{}).
		Select("users.external_id AS external_id, events.timestamp AS timestamp").
		Joins("JOIN users ON users.id = events.user_id").
		Where("events.category = ?", CategorySuccess)
	if channelID != 0 {
		db = db.Where("events.channel_id = ?", channelID)
	}

	var rows []struct {
		ExternalID string
		Timestamp  string
	}
	if err := db.Order("users.id ASC, events.id ASC").Scan(&rows).Error; err != nil {
		return nil, newServiceError(opQuery, "delay_leaderboard_failed", err)
	}

	order := make([]string, 0)
	delaysPerUser := make(map[string][]float64)
	for _, row := range rows {
		parsed, err := time.Parse(time.RFC3339Nano, row.Timestamp)
		if err != nil {
			return nil, newServiceError(opQuery, "timestamp_parse_failed", err)
		}
		if _, seen := delaysPerUser[row.ExternalID]; !seen {
			order = append(order, row.ExternalID)
		}
		delaysPerUser[row.ExternalID] = append(delaysPerUser[row.ExternalID], delaySeconds(parsed))
	}

	entries := make([]DelayRow, 0, len(order))
	for _, externalID := range order {
		delays := delaysPerUser[externalID]
		value := delays[0]
		switch mode {
		case DelayWorst:
			for _, delay := range delays {
				if delay > value {
					value = delay
				}
			}
		case DelayAverage:
			sum := 0.0
			for _, delay := range delays {
				sum += delay
			}
			value = sum / float64(len(delays))
		default:
			for _, delay := range delays {
				if delay < value {
					value = delay
				}
			}
		}
		entries = append(entries, DelayRow{
			UserExternalID: externalID,
			Seconds:        value,
			Samples:        len(delays),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if mode == DelayWorst {
			return entries[i].Seconds > entries[j].Seconds
		}
		return entries[i].Seconds < entries[j].Seconds
	})
	return entries, nil
}

// DayCount is one best-day ranking entry.
type DayCount struct {
	Day   string `gorm:"column:day"`
	Users int64  `gorm:"column:total"`
}

// TopDays ranks calendar days by distinct users with a success event,
// descending, limited to the given count.
func (q *Queries) TopDays(ctx context.Context, channelID uint, limit int) ([]DayCount, error) {
	if limit <= 0 {
		limit = PageSize
	}
	db := q.db.WithContext(ctx).Model(&Event{}).
		Select("day, COUNT(DISTINCT user_id) AS total").
		Where("category = ?", CategorySuccess)
	if channelID != 0 {
		db = db.Where("channel_id = ?", channelID)
	}

	var rows []DayCount
	err := db.Group("day").
		Order("total DESC, day ASC").
		Limit(limit).
		Scan(&rows).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "top_days_failed", err)
	}
	return rows, nil
}

// StreakRow is one streak leaderboard entry. AtRecord flags a user
// currently sitting on their all-time best.
type StreakRow struct {
	UserExternalID string
	Current        int
	Max            int
	AtRecord       bool
}

// StreakLeaderboard ranks users by best streak, or by current streak
// when current is true. A zero channelID ranks every tracked user; a
// channel id restricts to users with a success event in that channel.
func (q *Queries) StreakLeaderboard(ctx context.Context, channelID uint, current bool) ([]StreakRow, error) {
	var rows []struct {
		ExternalID    string
		CurrentStreak int
		MaxStreak     int
	}
	var err error
	if channelID != 0 {
		err = q.db.WithContext(ctx).Raw(`
			SELECT u.external_id AS external_id,
			       COALESCE(us.current_streak, 0) AS current_streak,
			       COALESCE(us.max_streak, 0) AS max_streak
			FROM events e
			JOIN users u ON u.id = e.user_id
			LEFT JOIN user_streaks us ON us.user_id = u.id
			WHERE e.category = ? AND e.channel_id = ?
			GROUP BY u.id, u.external_id
			ORDER BY u.id ASC`, CategorySuccess, channelID).
			Scan(&rows).
			Error
	} else {
		err = q.db.WithContext(ctx).Raw(`
			SELECT u.external_id AS external_id,
			       us.current_streak AS current_streak,
			       us.max_streak AS max_streak
			FROM user_streaks us
			JOIN users u ON u.id = us.user_id
			ORDER BY u.id ASC`).
			Scan(&rows).
			Error
	}
	if err != nil {
		return nil, newServiceError(opQuery, "streak_leaderboard_failed", err)
	}

	entries := make([]StreakRow, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, StreakRow{
			UserExternalID: row.ExternalID,
			Current:        row.CurrentStreak,
			Max:            row.MaxStreak,
			AtRecord:       row.MaxStreak > 0 && row.CurrentStreak >= row.MaxStreak,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if current {
			return entries[i].Current > entries[j].Current
		}
		return entries[i].Max > entries[j].Max
	})
	return entries, nil
}

// DistinctSuccessDays lists the scope's qualifying calendar days in
// ascending order, the input to a streak recompute.
func (q *Queries) DistinctSuccessDays(ctx context.Context, f Filter) ([]streak.Day, error) {
	var values []string
	err := q.scopedEvents(ctx, f).
		Where("events.category = ?", CategorySuccess).
		Distinct("events.day").
		Order("events.day ASC").
		Pluck("events.day", &values).
		Error
	if err != nil {
		return nil, newServiceError(opQuery, "distinct_days_failed", err)
	}

	days := make([]streak.Day, 0, len(values))
	for _, value := range values {
		day, err := streak.ParseDay(value)
		if err != nil {
			return nil, newServiceError(opQuery, "day_parse_failed", err)
		}
		days = append(days, day)
	}
	return days, nil
}

// Paginate slices ranked entries into fixed-size pages, 1-based.
func Paginate[T any](entries []T, page int) []T {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * PageSize
	if start >= len(entries) {
		return nil
	}
	end := start + PageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
