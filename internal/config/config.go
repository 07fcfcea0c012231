package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	SendGrid   SendGridConfig   `yaml:"sendgrid"`
	Membership MembershipConfig `yaml:"membership"`
	Rates      RatesConfig      `yaml:"rates"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SendGridConfig maps notification template keys to SendGrid dynamic templates
type SendGridConfig struct {
	APIKey    string            `yaml:"api_key"`
	FromEmail string            `yaml:"from_email"`
	FromName  string            `yaml:"from_name"`
	Templates map[string]string `yaml:"templates"`
}

// MembershipConfig holds lifecycle settings
type MembershipConfig struct {
	HomeCountry          string `yaml:"home_country"`
	StaleApplicationDays int    `yaml:"stale_application_days"`
	SyncConcurrency      int    `yaml:"sync_concurrency"`
}

// RatesConfig points at the versioned fee tables
type RatesConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	SweepStaleApplications string `yaml:"sweep_stale_applications"`
	PromoteApplications    string `yaml:"promote_applications"`
	SyncMemberships        string `yaml:"sync_memberships"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.SendGrid.APIKey = val
	}
	if val := os.Getenv("RATES_PATH"); val != "" {
		c.Rates.Path = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Rates.Path == "" {
		return fmt.Errorf("rates path is required")
	}

	if c.SendGrid.APIKey != "" && c.SendGrid.FromEmail == "" {
		return fmt.Errorf("sendgrid from_email is required when an api key is set")
	}

	if c.Membership.HomeCountry == "" {
		c.Membership.HomeCountry = "CH"
	}
	if c.Membership.StaleApplicationDays < 0 {
		return fmt.Errorf("invalid stale_application_days: %d", c.Membership.StaleApplicationDays)
	}
	if c.Membership.StaleApplicationDays == 0 {
		c.Membership.StaleApplicationDays = 90
	}
	if c.Membership.SyncConcurrency <= 0 {
		c.Membership.SyncConcurrency = 4
	}

	if c.Scheduler.SweepStaleApplications == "" {
		c.Scheduler.SweepStaleApplications = "0 0 1 * * *" // 1 AM UTC
	}
	if c.Scheduler.PromoteApplications == "" {
		c.Scheduler.PromoteApplications = "0 30 1 * * *" // 1:30 AM UTC
	}
	if c.Scheduler.SyncMemberships == "" {
		c.Scheduler.SyncMemberships = "0 0 3 * * *" // 3 AM UTC, idempotent
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
