package milestone

import (
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"go.uber.org/zap"
)

// notableValues are celebrated regardless of round-number rules.
var notableValues = map[int64]bool{
	10:  true,
	25:  true,
	42:  true,
	50:  true,
	69:  true,
	365: true,
	420: true,
}

// IsMilestone reports whether a total is worth announcing: one of the
// notable values, or any positive multiple of 100 or 365.
func IsMilestone(value int64) bool {
	if value <= 0 {
		return false
	}
	if notableValues[value] {
		return true
	}
	return value%100 == 0 || value%365 == 0
}

// messages carries the celebration lines for the notable values; other
// milestones get the generic fallback.
var messages = map[int64]string{
	10:  "double digits! %d and counting",
	25:  "a quarter century: %d",
	42:  "%d. the answer to everything",
	50:  "halfway to a hundred: %d",
	69:  "nice. %d",
	365: "a full year's worth: %d",
	420: "%d. blaze on",
}

func messageFor(value int64) string {
	if line, ok := messages[value]; ok {
		return fmt.Sprintf(line, value)
	}
	return fmt.Sprintf("milestone reached: %d", value)
}

// IDProvider issues identifiers for outgoing notifications.
type IDProvider interface {
	NewID() (string, error)
}

// DetectorConfig describes the dependencies of the milestone detector.
type DetectorConfig struct {
	IDs    IDProvider
	Logger *zap.Logger
}

// Detector decides whether a freshly recorded success crosses a
// milestone and which scope gets the announcement. At most one
// announcement leaves per scope per local calendar day; stale
// suppression entries age out as newer days arrive.
type Detector struct {
	ids    IDProvider
	logger *zap.Logger

	mu        sync.Mutex
	announced map[announceKey]bool
}

type announceKey struct {
	kind streak.ScopeKind
	id   uint
	day  streak.Day
}

// NewDetector constructs the detector.
func NewDetector(cfg DetectorConfig) *Detector {
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		ids:       ids,
		logger:    logger,
		announced: make(map[announceKey]bool),
	}
}

// ScopeTotals carries one scope's standing after the success landed.
type ScopeTotals struct {
	ID           uint
	ExternalID   string
	SuccessCount int64
	Streak       int
}

// CheckInput is everything the detector needs for one recorded success.
// BroadcastChannelExternalIDs lists every registered channel, the fanout
// targets for a global announcement.
type CheckInput struct {
	Day                         streak.Day
	User                        ScopeTotals
	Channel                     ScopeTotals
	Global                      ScopeTotals
	BroadcastChannelExternalIDs []string
}

// Notification is one milestone announcement ready for delivery.
type Notification struct {
	ID                 string
	Scope              streak.ScopeKind
	SubjectExternalID  string
	CountReached       int64
	StreakReached      int
	Message            string
	Broadcast          bool
	ChannelExternalIDs []string
}

// Check inspects the scopes in priority order: the user's personal
// totals outrank the channel's, which outrank the global tally. The
// first scope sitting on a milestone wins the announcement; if that
// scope already announced today nothing goes out for this event.
func (d *Detector) Check(input CheckInput) (*Notification, error) {
	type candidate struct {
		kind      streak.ScopeKind
		totals    ScopeTotals
		broadcast bool
	}
	candidates := []candidate{
		{kind: streak.ScopeKindUser, totals: input.User},
		{kind: streak.ScopeKindChannel, totals: input.Channel},
		{kind: streak.ScopeKindGlobal, totals: input.Global, broadcast: true},
	}

	for _, scope := range candidates {
		count := scope.totals.SuccessCount
		streakValue := int64(scope.totals.Streak)
		if !IsMilestone(count) && !IsMilestone(streakValue) {
			continue
		}

		if !d.claim(scope.kind, scope.totals.ID, input.Day) {
			return nil, nil
		}

		value := count
		if !IsMilestone(count) {
			value = streakValue
		}
		id, err := d.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("milestone: notification id: %w", err)
		}

		notification := &Notification{
			ID:                id,
			Scope:             scope.kind,
			SubjectExternalID: scope.totals.ExternalID,
			CountReached:      count,
			StreakReached:     scope.totals.Streak,
			Message:           messageFor(value),
			Broadcast:         scope.broadcast,
		}
		if scope.broadcast {
			notification.ChannelExternalIDs = input.BroadcastChannelExternalIDs
		} else if input.Channel.ExternalID != "" {
			notification.ChannelExternalIDs = []string{input.Channel.ExternalID}
		}

		d.logger.Info("milestone detected",
			zap.String("scope", string(scope.kind)),
			zap.Int64("count", count),
			zap.Int("streak", scope.totals.Streak),
			zap.String("day", input.Day.String()))
		return notification, nil
	}
	return nil, nil
}

// claim marks the scope as announced for its local day; false means the
// day's slot was already taken. Channels in different zones legitimately
// sit on adjacent local days, so only entries beyond that spread are
// evicted.
func (d *Detector) claim(kind streak.ScopeKind, id uint, day streak.Day) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	horizon := day.AddDays(-2)
	for key := range d.announced {
		if key.day.Before(horizon) {
			delete(d.announced, key)
		}
	}
	key := announceKey{kind: kind, id: id, day: day}
	if d.announced[key] {
		return false
	}
	d.announced[key] = true
	return true
}
