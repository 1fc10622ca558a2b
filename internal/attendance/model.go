package attendance

// Category is the classified outcome of an event.
type Category string

const (
	// CategoryFail marks an event inside the early-miss window.
	CategoryFail Category = "fail"
	// CategorySuccess marks an event inside the qualifying window.
	CategorySuccess Category = "success"
	// CategoryChoke marks an event inside the late-miss window.
	CategoryChoke Category = "choke"
	// CategoryNone marks an event outside every window; it is never
	// persisted.
	CategoryNone Category = ""
)

// Event is one categorized attendance record. The timestamp is stored
// in the owning channel's local zone with its offset; the day column
// carries the derived local calendar date so per-day constraints and
// aggregates never re-localize.
type Event struct {
	ID         uint     `gorm:"column:id;primaryKey"`
	ExternalID string   `gorm:"column:external_id;size:64;not null;uniqueIndex"`
	ChannelID  uint     `gorm:"column:channel_id;not null;index:idx_events_channel_day,priority:1"`
	UserID     uint     `gorm:"column:user_id;not null;index:idx_events_user_day,priority:1"`
	Timestamp  string   `gorm:"column:timestamp;size:40;not null"`
	Day        string   `gorm:"column:day;size:10;not null;index:idx_events_channel_day,priority:2;index:idx_events_user_day,priority:2"`
	Category   Category `gorm:"column:category;size:10;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// Reaction is a peer acknowledgment on a success event, unique per
// (user, event) pair.
type Reaction struct {
	ID      uint `gorm:"column:id;primaryKey"`
	UserID  uint `gorm:"column:user_id;not null;uniqueIndex:idx_reactions_pair,priority:1"`
	EventID uint `gorm:"column:event_id;not null;uniqueIndex:idx_reactions_pair,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}
