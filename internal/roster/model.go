package roster

import "time"

// Channel is a registered chat channel. Its timezone governs the local
// day boundary for every event recorded in it; the language tag and
// role identifier are carried for the connector's benefit.
type Channel struct {
	ID             uint   `gorm:"column:id;primaryKey"`
	ExternalID     string `gorm:"column:external_id;size:64;not null;uniqueIndex"`
	RoleExternalID string `gorm:"column:role_external_id;size:64"`
	Timezone       string `gorm:"column:timezone;size:64;not null"`
	Language       string `gorm:"column:lang;size:35;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "channels"
}

// Location resolves the channel's IANA zone, falling back to UTC when
// the stored name no longer loads.
func (c Channel) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// User is created lazily on the first qualifying event or an explicit
// timezone action. The timezone override is empty until the user sets
// one.
type User struct {
	ID         uint   `gorm:"column:id;primaryKey"`
	ExternalID string `gorm:"column:external_id;size:64;not null;uniqueIndex"`
	Timezone   string `gorm:"column:timezone;size:64"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Location resolves the user's configured zone, or UTC when unset.
func (u User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Admin is an allowlisted administrator, distinct from the configured
// owner identifier.
type Admin struct {
	ID         uint   `gorm:"column:id;primaryKey"`
	ExternalID string `gorm:"column:external_id;size:64;not null;uniqueIndex"`
}

// TableName provides the explicit table binding for GORM.
func (Admin) TableName() string {
	return "admins"
}

// UntrackedUser is a suppression entry: once present, the user's prior
// events and reactions are purged and future events are ignored.
type UntrackedUser struct {
	ID         uint   `gorm:"column:id;primaryKey"`
	ExternalID string `gorm:"column:external_id;size:64;not null;uniqueIndex"`
}

// TableName provides the explicit table binding for GORM.
func (UntrackedUser) TableName() string {
	return "untracked_users"
}
