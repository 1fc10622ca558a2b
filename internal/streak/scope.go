package streak

// ScopeKind discriminates the granularity a streak row is tracked at.
type ScopeKind string

const (
	// ScopeKindUser tracks one row per user.
	ScopeKindUser ScopeKind = "user"
	// ScopeKindChannel tracks one row per channel.
	ScopeKindChannel ScopeKind = "channel"
	// ScopeKindGlobal tracks a single service-wide row.
	ScopeKindGlobal ScopeKind = "global"
)

// globalRowID pins the global table to its singleton row.
const globalRowID uint = 1

// Scope identifies one streak row: a user, a channel, or the global
// singleton. The zero value is not a valid scope.
type Scope struct {
	Kind ScopeKind
	ID   uint
}

// UserScope returns the scope for a user's streak row.
func UserScope(userID uint) Scope {
	return Scope{Kind: ScopeKindUser, ID: userID}
}

// ChannelScope returns the scope for a channel's streak row.
func ChannelScope(channelID uint) Scope {
	return Scope{Kind: ScopeKindChannel, ID: channelID}
}

// GlobalScope returns the service-wide singleton scope.
func GlobalScope() Scope {
	return Scope{Kind: ScopeKindGlobal, ID: globalRowID}
}

// table maps the scope onto its backing table and conflict key column.
func (s Scope) table() (name string, keyColumn string) {
	switch s.Kind {
	case ScopeKindChannel:
		return "channel_streaks", "channel_id"
	case ScopeKindGlobal:
		return "global_streak", "id"
	default:
		return "user_streaks", "user_id"
	}
}
