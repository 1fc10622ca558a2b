package streak

// State is the derived streak accounting for one scope. Rows are
// materialized views over the event log and can always be rebuilt from
// it; they exist for O(1) reads.
type State struct {
	CurrentStreak  int
	MaxStreak      int
	LastSuccessDay Day
}

// UserStreak persists per-user streak state.
type UserStreak struct {
	UserID         uint   `gorm:"column:user_id;primaryKey"`
	CurrentStreak  int    `gorm:"column:current_streak;not null;default:0"`
	MaxStreak      int    `gorm:"column:max_streak;not null;default:0"`
	LastSuccessDay string `gorm:"column:last_success_date;size:10;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserStreak) TableName() string {
	return "user_streaks"
}

// ChannelStreak persists per-channel streak state.
type ChannelStreak struct {
	ChannelID      uint   `gorm:"column:channel_id;primaryKey"`
	CurrentStreak  int    `gorm:"column:current_streak;not null;default:0"`
	MaxStreak      int    `gorm:"column:max_streak;not null;default:0"`
	LastSuccessDay string `gorm:"column:last_success_date;size:10;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChannelStreak) TableName() string {
	return "channel_streaks"
}

// GlobalStreak persists the service-wide singleton streak row (id = 1).
type GlobalStreak struct {
	ID             uint   `gorm:"column:id;primaryKey"`
	CurrentStreak  int    `gorm:"column:current_streak;not null;default:0"`
	MaxStreak      int    `gorm:"column:max_streak;not null;default:0"`
	LastSuccessDay string `gorm:"column:last_success_date;size:10;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GlobalStreak) TableName() string {
	return "global_streak"
}
