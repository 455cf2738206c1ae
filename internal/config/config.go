package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file read by Load when no path is given.
const EnvConfigPath = "ALARM_CONFIG"

// Config is the process configuration for alarm-engine.
type Config struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	Storage     string `yaml:"storage" validate:"oneof=memory postgres"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=Storage postgres"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	Lock          string        `yaml:"lock" validate:"oneof=memory redis"`
	LockTTL       time.Duration `yaml:"lock_ttl" validate:"gte=0"`

	RuleCacheTTL  time.Duration `yaml:"rule_cache_ttl" validate:"gte=0"`
	RuleCacheSize int           `yaml:"rule_cache_size" validate:"gte=0"`

	Events  EventsConfig  `yaml:"events"`
	Webhook WebhookConfig `yaml:"webhook"`

	JWTSecret string `yaml:"jwt_secret"`

	ApplyConcurrency int           `yaml:"apply_concurrency" validate:"gte=1,lte=256"`
	ApplyTimeout     time.Duration `yaml:"apply_timeout" validate:"gte=0"`
	BulkConcurrency  int           `yaml:"bulk_concurrency" validate:"gte=1,lte=256"`

	StatisticsWindowDays int    `yaml:"statistics_window_days" validate:"gte=1,lte=366"`
	Timezone             string `yaml:"timezone"`

	SweeperSpec string `yaml:"sweeper_spec"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`
}

// EventsConfig configures lifecycle event fan-out.
type EventsConfig struct {
	RedisChannel string        `yaml:"redis_channel"`
	MQTTBroker   string        `yaml:"mqtt_broker"`
	MQTTClientID string        `yaml:"mqtt_client_id"`
	MQTTUsername string        `yaml:"mqtt_username"`
	MQTTPassword string        `yaml:"mqtt_password"`
	MQTTTopic    string        `yaml:"mqtt_topic"`
	MQTTQoS      int           `yaml:"mqtt_qos" validate:"gte=0,lte=2"`
	MQTTTimeout  time.Duration `yaml:"mqtt_timeout" validate:"gte=0"`
	SSE          bool          `yaml:"sse"`

	Outbox            bool   `yaml:"outbox"`
	OutboxMaxAttempts int    `yaml:"outbox_max_attempts" validate:"gte=0"`
	OutboxSpec        string `yaml:"outbox_spec"`
}

// WebhookConfig configures outbound notifications.
type WebhookConfig struct {
	URL           string        `yaml:"url" validate:"omitempty,url"`
	Template      string        `yaml:"template"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	Cooldown      time.Duration `yaml:"cooldown" validate:"gte=0"`
	DedupeWindow  time.Duration `yaml:"dedupe_window" validate:"gte=0"`
	EscalateAfter time.Duration `yaml:"escalate_after" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:             ":8080",
		Storage:              "memory",
		Lock:                 "memory",
		LockTTL:              30 * time.Second,
		RuleCacheTTL:         time.Minute,
		RuleCacheSize:        1000,
		ApplyConcurrency:     8,
		ApplyTimeout:         30 * time.Second,
		BulkConcurrency:      8,
		StatisticsWindowDays: 30,
		Timezone:             "UTC",
		SweeperSpec:          "@every 1m",
		LogLevel:             "info",
		LogFormat:            "json",
		Events: EventsConfig{
			MQTTClientID: "alarm-engine",
			MQTTTopic:    "alarm-engine/events",
			MQTTQoS:      1,
			MQTTTimeout:  5 * time.Second,
			SSE:          true,

			OutboxMaxAttempts: 5,
			OutboxSpec:        "@every 10s",
		},
		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $ALARM_CONFIG), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Lock == "redis" && c.RedisAddr == "" {
		return errors.New("invalid config: lock=redis requires redis_addr")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone: %w", err)
	}
	return nil
}

// Location resolves the statistics timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Storage = getenvDefault("ALARM_STORAGE", cfg.Storage)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	if os.Getenv("ALARM_STORAGE") == "" && cfg.DatabaseURL != "" && cfg.Storage == "memory" {
		cfg.Storage = "postgres"
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenvDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getenvIntDefault("REDIS_DB", cfg.RedisDB)
	cfg.Lock = getenvDefault("ALARM_LOCK", cfg.Lock)
	cfg.LockTTL = getenvDuration("ALARM_LOCK_TTL", cfg.LockTTL)
	cfg.RuleCacheTTL = getenvDuration("ALARM_RULE_CACHE_TTL", cfg.RuleCacheTTL)
	cfg.RuleCacheSize = getenvIntDefault("ALARM_RULE_CACHE_SIZE", cfg.RuleCacheSize)

	cfg.Events.RedisChannel = getenvDefault("ALARM_REDIS_CHANNEL", cfg.Events.RedisChannel)
	cfg.Events.MQTTBroker = getenvDefault("MQTT_BROKER", cfg.Events.MQTTBroker)
	cfg.Events.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", cfg.Events.MQTTClientID)
	cfg.Events.MQTTUsername = getenvDefault("MQTT_USERNAME", cfg.Events.MQTTUsername)
	cfg.Events.MQTTPassword = getenvDefault("MQTT_PASSWORD", cfg.Events.MQTTPassword)
	cfg.Events.MQTTTopic = getenvDefault("MQTT_TOPIC", cfg.Events.MQTTTopic)
	cfg.Events.MQTTQoS = getenvIntDefault("MQTT_QOS", cfg.Events.MQTTQoS)
	cfg.Events.MQTTTimeout = getenvDuration("MQTT_TIMEOUT", cfg.Events.MQTTTimeout)
	cfg.Events.SSE = getenvBoolDefault("ALARM_SSE", cfg.Events.SSE)
	cfg.Events.Outbox = getenvBoolDefault("ALARM_OUTBOX", cfg.Events.Outbox)
	cfg.Events.OutboxMaxAttempts = getenvIntDefault("ALARM_OUTBOX_MAX_ATTEMPTS", cfg.Events.OutboxMaxAttempts)
	cfg.Events.OutboxSpec = getenvDefault("ALARM_OUTBOX_SPEC", cfg.Events.OutboxSpec)

	cfg.Webhook.URL = getenvDefault("ALARM_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Template = getenvDefault("ALARM_NOTIFY_TEMPLATE", cfg.Webhook.Template)
	cfg.Webhook.Timeout = getenvDuration("ALARM_NOTIFY_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.Cooldown = getenvDuration("ALARM_NOTIFY_COOLDOWN", cfg.Webhook.Cooldown)
	cfg.Webhook.DedupeWindow = getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", cfg.Webhook.DedupeWindow)
	cfg.Webhook.EscalateAfter = getenvDuration("ALARM_ESCALATION_AFTER", cfg.Webhook.EscalateAfter)

	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))

	cfg.ApplyConcurrency = getenvIntDefault("ALARM_APPLY_CONCURRENCY", cfg.ApplyConcurrency)
	cfg.ApplyTimeout = getenvDuration("ALARM_APPLY_TIMEOUT", cfg.ApplyTimeout)
	cfg.BulkConcurrency = getenvIntDefault("ALARM_BULK_CONCURRENCY", cfg.BulkConcurrency)
	cfg.StatisticsWindowDays = getenvIntDefault("ALARM_STATS_WINDOW_DAYS", cfg.StatisticsWindowDays)
	cfg.Timezone = getenvDefault("ALARM_TIMEZONE", cfg.Timezone)
	cfg.SweeperSpec = getenvDefault("ALARM_SWEEPER_SPEC", cfg.SweeperSpec)

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", cfg.LogFormat))
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
