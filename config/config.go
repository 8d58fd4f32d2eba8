package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Database DatabaseConfig `yaml:"database"`
	Push     PushConfig     `yaml:"push"`
	Presence PresenceConfig `yaml:"presence"`
	Voice    VoiceConfig    `yaml:"voice"`
	Events   EventsConfig   `yaml:"events"`
}

// PushConfig holds the VAPID keys for web push notifications to astrologer clients.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// SweeperConfig holds the queue sweeper configuration.
type SweeperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Env             string        `yaml:"env"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	FreeWaitSeconds int           `yaml:"free_wait_seconds"`
	PaidWaitSeconds int           `yaml:"paid_wait_seconds"`
	EscalateSeconds int           `yaml:"escalate_seconds"`
	EscalateAfter   time.Duration `yaml:"-"`
	ReminderSeconds int           `yaml:"reminder_seconds"`
}

// PresenceConfig defines the HTTP request for the presence service.
type PresenceConfig struct {
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	CacheSeconds   int               `yaml:"cache_seconds"`
}

// VoiceConfig defines the telephony provider used for call reminders.
type VoiceConfig struct {
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	CallerID       string            `yaml:"caller_id"`
	DefaultRegion  string            `yaml:"default_region"` // country prefix applied to bare numbers
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	CallsPerMinute float64           `yaml:"calls_per_minute"`
}

// EventsConfig holds the RabbitMQ settings for lifecycle event publishing.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableReportingDDL     bool   `yaml:"enable_reporting_ddl"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Sweeper.Env == "" {
		cfg.Sweeper.Env = "DEVELOPMENT"
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second

	if cfg.Sweeper.FreeWaitSeconds <= 0 {
		cfg.Sweeper.FreeWaitSeconds = 60
	}
	if cfg.Sweeper.PaidWaitSeconds <= 0 {
		cfg.Sweeper.PaidWaitSeconds = 600
	}
	if cfg.Sweeper.EscalateSeconds <= 0 {
		cfg.Sweeper.EscalateSeconds = 35
	}
	cfg.Sweeper.EscalateAfter = time.Duration(cfg.Sweeper.EscalateSeconds) * time.Second
	if cfg.Sweeper.ReminderSeconds <= 0 {
		cfg.Sweeper.ReminderSeconds = 20
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Presence.TimeoutSeconds <= 0 {
		cfg.Presence.TimeoutSeconds = 10
	}
	if cfg.Presence.CacheSeconds <= 0 {
		cfg.Presence.CacheSeconds = 15
	}

	if cfg.Voice.TimeoutSeconds <= 0 {
		cfg.Voice.TimeoutSeconds = 10
	}
	if cfg.Voice.CallsPerMinute <= 0 {
		log.Printf("voice.calls_per_minute is not set or invalid; defaulting to 60")
		cfg.Voice.CallsPerMinute = 60
	}

	return &cfg, nil
}
