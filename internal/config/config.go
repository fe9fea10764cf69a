// Package config handles application configuration loading and validation using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlaceholderMarker marks a credential value that was never filled in
const PlaceholderMarker = "your_"

// Config represents the application configuration
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Profile       ProfileConfig      `mapstructure:"profile"`
	Features      FeaturesConfig     `mapstructure:"features"`
	Session       SessionConfig      `mapstructure:"session"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig groups the two profile backends. Only one is used per process
type StorageConfig struct {
	Remote RemoteConfig `mapstructure:"remote"`
	Local  LocalConfig  `mapstructure:"local"`
}

// RemoteConfig configures the document store backend
type RemoteConfig struct {
	Credentials  Credentials `mapstructure:"credentials"`
	DialTimeout  int         `mapstructure:"dial_timeout"`  // seconds
	WriteTimeout int         `mapstructure:"write_timeout"` // seconds
}

// Credentials are the named values the document store client needs
type Credentials struct {
	APIKey            string `mapstructure:"api_key"`
	AuthDomain        string `mapstructure:"auth_domain"`
	ProjectID         string `mapstructure:"project_id"`
	StorageBucket     string `mapstructure:"storage_bucket"`
	MessagingSenderID string `mapstructure:"messaging_sender_id"`
	AppID             string `mapstructure:"app_id"`
}

// LocalConfig configures the local key-value profile store
type LocalConfig struct {
	Driver    string `mapstructure:"driver"` // sqlite or postgres
	DSN       string `mapstructure:"dsn"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProfileConfig holds profile seeding defaults
type ProfileConfig struct {
	StartingPoints int `mapstructure:"starting_points"`
}

// FeaturesConfig toggles optional workflows
type FeaturesConfig struct {
	ReviewWorkflowEnabled bool `mapstructure:"review_workflow_enabled"`
}

// SessionConfig controls the session registry
type SessionConfig struct {
	IdleTimeout   int    `mapstructure:"idle_timeout"` // minutes
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// NotificationConfig contains parent notification settings
type NotificationConfig struct {
	Mattermost MattermostConfig `mapstructure:"mattermost"`
}

// MattermostConfig contains Mattermost webhook notification settings
type MattermostConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Enabled    bool   `mapstructure:"enabled"`
}

// MetricsConfig contains Prometheus exporter settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from an optional file and environment variables.
// A missing config file is not an error; defaults and env values apply
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/homeschool-missions/")
	}

	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("storage.remote.credentials.api_key", "YOUR_API_KEY")
	v.SetDefault("storage.remote.credentials.auth_domain", "YOUR_AUTH_DOMAIN")
	v.SetDefault("storage.remote.credentials.project_id", "YOUR_PROJECT_ID")
	v.SetDefault("storage.remote.credentials.storage_bucket", "YOUR_STORAGE_BUCKET")
	v.SetDefault("storage.remote.credentials.messaging_sender_id", "YOUR_SENDER_ID")
	v.SetDefault("storage.remote.credentials.app_id", "YOUR_APP_ID")
	v.SetDefault("storage.remote.dial_timeout", 5)
	v.SetDefault("storage.remote.write_timeout", 10)

	v.SetDefault("storage.local.driver", "sqlite")
	v.SetDefault("storage.local.dsn", "homeschool.db")
	v.SetDefault("storage.local.key_prefix", "homeschool-profile-")

	v.SetDefault("profile.starting_points", 220)
	v.SetDefault("features.review_workflow_enabled", true)

	v.SetDefault("session.idle_timeout", 30)
	v.SetDefault("session.sweep_schedule", "@every 5m")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func bindEnv(v *viper.Viper) {
	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	// Document store credentials
	_ = v.BindEnv("storage.remote.credentials.api_key", "DOCSTORE_API_KEY")
	_ = v.BindEnv("storage.remote.credentials.auth_domain", "DOCSTORE_AUTH_DOMAIN")
	_ = v.BindEnv("storage.remote.credentials.project_id", "DOCSTORE_PROJECT_ID")
	_ = v.BindEnv("storage.remote.credentials.storage_bucket", "DOCSTORE_STORAGE_BUCKET")
	_ = v.BindEnv("storage.remote.credentials.messaging_sender_id", "DOCSTORE_SENDER_ID")
	_ = v.BindEnv("storage.remote.credentials.app_id", "DOCSTORE_APP_ID")

	// Local store
	_ = v.BindEnv("storage.local.driver", "LOCAL_STORE_DRIVER")
	_ = v.BindEnv("storage.local.dsn", "LOCAL_STORE_DSN")

	// Profile and features
	_ = v.BindEnv("profile.starting_points", "PROFILE_STARTING_POINTS")
	_ = v.BindEnv("features.review_workflow_enabled", "REVIEW_WORKFLOW_ENABLED")

	// Mattermost configuration
	_ = v.BindEnv("notifications.mattermost.webhook_url", "MATTERMOST_WEBHOOK_URL")
	_ = v.BindEnv("notifications.mattermost.channel", "MATTERMOST_CHANNEL")
	_ = v.BindEnv("notifications.mattermost.enabled", "MATTERMOST_ENABLED")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Storage.Local.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.local.driver %q is not supported (sqlite, postgres)", c.Storage.Local.Driver)
	}
	if c.Storage.Local.DSN == "" {
		return fmt.Errorf("storage.local.dsn is required")
	}
	if c.Profile.StartingPoints < 0 {
		return fmt.Errorf("profile.starting_points must not be negative")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.SweepSchedule == "" {
		return fmt.Errorf("session.sweep_schedule is required")
	}
	if c.Notifications.Mattermost.Enabled && c.Notifications.Mattermost.WebhookURL == "" {
		return fmt.Errorf("notifications.mattermost.webhook_url is required when enabled")
	}
	return nil
}

// Valid reports whether every credential is set and none is a placeholder
func (c Credentials) Valid() bool {
	for _, value := range c.values() {
		if value == "" {
			return false
		}
		if strings.Contains(strings.ToLower(value), PlaceholderMarker) {
			return false
		}
	}
	return true
}

func (c Credentials) values() []string {
	return []string{c.APIKey, c.AuthDomain, c.ProjectID, c.StorageBucket, c.MessagingSenderID, c.AppID}
}

// Database returns the logical database index encoded in the storage bucket, or 0
func (c Credentials) Database() int {
	db, err := strconv.Atoi(c.StorageBucket)
	if err != nil || db < 0 {
		return 0
	}
	return db
}

// IdleTimeoutDuration returns the session idle timeout
func (c *SessionConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Minute
}
