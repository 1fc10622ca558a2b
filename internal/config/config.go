package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CADENCE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "cadence.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
	defaultTriggerWord     = "cath"
	defaultTimezone        = "Europe/Paris"
	defaultLanguage        = "fr"
)

// AppConfig captures runtime configuration for the accounting service.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	OwnerUserID     string
	TriggerWord     string
	DefaultTimezone string
	DefaultLanguage string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("trigger.word", defaultTriggerWord)
	configViper.SetDefault("channel.default_timezone", defaultTimezone)
	configViper.SetDefault("channel.default_language", defaultLanguage)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		OwnerUserID:     configViper.GetString("owner.user_id"),
		TriggerWord:     configViper.GetString("trigger.word"),
		DefaultTimezone: configViper.GetString("channel.default_timezone"),
		DefaultLanguage: configViper.GetString("channel.default_language"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.OwnerUserID) == "" {
		return fmt.Errorf("owner.user_id is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TriggerWord) == "" {
		return fmt.Errorf("trigger.word is required")
	}
	return nil
}
