package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var (
	// ErrChannelExists indicates a registration attempt for a channel
	// that is already tracked.
	ErrChannelExists = errors.New("roster: channel already registered")
	// ErrChannelNotFound indicates the external channel id is unknown.
	ErrChannelNotFound = errors.New("roster: channel not found")
	// ErrInvalidTimezone indicates a timezone name that does not load.
	ErrInvalidTimezone = errors.New("roster: invalid timezone")
	// ErrInvalidLanguage indicates a language tag that does not parse.
	ErrInvalidLanguage = errors.New("roster: invalid language tag")
	// ErrMissingExternalID indicates an empty external identifier.
	ErrMissingExternalID = errors.New("roster: external identifier is required")

	errMissingRosterDatabase = errors.New("roster: database handle is required")
)

// ServiceConfig describes the dependencies of the roster service.
type ServiceConfig struct {
	Database        *gorm.DB
	DefaultTimezone string
	DefaultLanguage string
	OwnerUserID     string
	Logger          *zap.Logger
}

// Service manages channel registration, lazy user creation, the admin
// allowlist and the untracked suppression list.
type Service struct {
	db              *gorm.DB
	defaultTimezone string
	defaultLanguage string
	ownerUserID     string
	logger          *zap.Logger
}

// NewService constructs the roster service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingRosterDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultTimezone := cfg.DefaultTimezone
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	defaultLanguage := cfg.DefaultLanguage
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &Service{
		db:              cfg.Database,
		defaultTimezone: defaultTimezone,
		defaultLanguage: defaultLanguage,
		ownerUserID:     strings.TrimSpace(cfg.OwnerUserID),
		logger:          logger,
	}, nil
}

// RegisterChannel adds a channel to tracking. Empty timezone and
// language fall back to the configured defaults; both are validated
// before anything is written.
func (s *Service) RegisterChannel(ctx context.Context, externalID, timezoneName, languageTag, roleExternalID string) (Channel, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Channel{}, ErrMissingExternalID
	}

	if timezoneName == "" {
		timezoneName = s.defaultTimezone
	}
	if _, err := time.LoadLocation(timezoneName); err != nil {
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezoneName)
	}

	if languageTag == "" {
		languageTag = s.defaultLanguage
	}
	if _, err := language.Parse(languageTag); err != nil {
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidLanguage, languageTag)
	}

	var existing Channel
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&existing).Error
	if err == nil {
		return Channel{}, ErrChannelExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, err
	}

	channel := Channel{
		ExternalID:     externalID,
		RoleExternalID: strings.TrimSpace(roleExternalID),
		Timezone:       timezoneName,
		Language:       languageTag,
	}
	if err := s.db.WithContext(ctx).Create(&channel).Error; err != nil {
		return Channel{}, err
	}

	s.logger.Info("channel registered",
		zap.String("channel_external_id", externalID),
		zap.String("timezone", timezoneName),
		zap.String("language", languageTag))
	return channel, nil
}

// ChannelByExternalID looks a channel up by its connector-side id.
func (s *Service) ChannelByExternalID(ctx context.Context, externalID string) (Channel, error) {
	var channel Channel
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	return channel, nil
}

// ListChannels returns every registered channel in insertion order.
func (s *Service) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&channels).Error; err != nil {
		return nil, err
	}
	return channels, nil
}

// UpdateChannelTimezone changes the zone used for day boundaries.
func (s *Service) UpdateChannelTimezone(ctx context.Context, externalID, timezoneName string) error {
	if _, err := time.LoadLocation(timezoneName); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, timezoneName)
	}
	return s.updateChannelColumn(ctx, externalID, "timezone", timezoneName)
}

// UpdateChannelLanguage changes the channel's language tag.
func (s *Service) UpdateChannelLanguage(ctx context.Context, externalID, languageTag string) error {
	if _, err := language.Parse(languageTag); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, languageTag)
	}
	return s.updateChannelColumn(ctx, externalID, "lang", languageTag)
}

// UpdateChannelRole changes the role granted on success events.
func (s *Service) UpdateChannelRole(ctx context.Context, externalID, roleExternalID string) error {
	return s.updateChannelColumn(ctx, externalID, "role_external_id", strings.TrimSpace(roleExternalID))
}

func (s *Service) updateChannelColumn(ctx context.Context, externalID, column string, value string) error {
	result := s.db.WithContext(ctx).
		Model(&Channel{}).
		Where("external_id = ?", externalID).
		Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// EnsureUser returns the user row for the external id, creating it on
// first touch.
func (s *Service) EnsureUser(ctx context.Context, externalID string) (User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return User{}, ErrMissingExternalID
	}

	var user User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	user = User{ExternalID: externalID}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// UserByExternalID looks a user up without creating one.
func (s *Service) UserByExternalID(ctx context.Context, externalID string) (User, bool, error) {
	var user User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// UserLocation resolves the user's configured zone, UTC when the user
// is unknown or has no override.
func (s *Service) UserLocation(ctx context.Context, externalID string) (*time.Location, error) {
	user, found, err := s.UserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return time.UTC, nil
	}
	return user.Location(), nil
}

// SetUserTimezone stores a personal zone override, creating the user
// row when absent.
func (s *Service) SetUserTimezone(ctx context.Context, externalID, timezoneName string) (User, error) {
	if _, err := time.LoadLocation(timezoneName); err != nil {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezoneName)
	}

	user, err := s.EnsureUser(ctx, externalID)
	if err != nil {
		return User{}, err
	}
	err = s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", user.ID).
		Update("timezone", timezoneName).
		Error
	if err != nil {
		return User{}, err
	}
	user.Timezone = timezoneName
	return user, nil
}

// AddAdmin puts an external user id on the admin allowlist. Adding an
// existing admin reports false with no error.
func (s *Service) AddAdmin(ctx context.Context, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, ErrMissingExternalID
	}

	var existing Admin
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := s.db.WithContext(ctx).Create(&Admin{ExternalID: externalID}).Error; err != nil {
		return false, err
	}
	return true, nil
}

// IsOwner reports whether the external id matches the configured owner.
func (s *Service) IsOwner(externalID string) bool {
	return s.ownerUserID != "" && externalID == s.ownerUserID
}

// IsAuthorized reports whether the external id may perform admin
// actions: the configured owner or any allowlisted admin.
func (s *Service) IsAuthorized(ctx context.Context, externalID string) (bool, error) {
	if s.IsOwner(externalID) {
		return true, nil
	}
	var admin Admin
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsUntracked reports whether the external user id is suppressed.
func (s *Service) IsUntracked(ctx context.Context, externalID string) (bool, error) {
	var entry UntrackedUser
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UntrackUser adds the suppression entry and purges the user's prior
// events, reactions and streak row in one transaction. Untracking an
// unknown user only records the suppression entry.
func (s *Service) UntrackUser(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrMissingExternalID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry UntrackedUser
		err := tx.Where("external_id = ?", externalID).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&UntrackedUser{ExternalID: externalID}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		var user User
		err = tx.Where("external_id = ?", externalID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Exec("DELETE FROM reactions WHERE user_id = ?", user.ID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM events WHERE user_id = ?", user.ID).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM user_streaks WHERE user_id = ?", user.ID).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("user untracked", zap.String("user_external_id", externalID))
	return nil
}
