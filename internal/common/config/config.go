// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Inbound   InboundConfig   `mapstructure:"inbound"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Dispatch Engine Config ---

// QueueConfig holds dispatch queue tuning.
type QueueConfig struct {
	PollInterval  int `mapstructure:"poll_interval"`  // milliseconds
	LeaseDuration int `mapstructure:"lease_duration"` // milliseconds
	DedupeTTL     int `mapstructure:"dedupe_ttl"`     // milliseconds
}

// DispatchConfig holds worker pool and retry policy settings.
type DispatchConfig struct {
	Workers        int     `mapstructure:"workers"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BackoffBase    int     `mapstructure:"backoff_base"` // milliseconds
	BackoffCap     int     `mapstructure:"backoff_cap"`  // milliseconds
	BackoffJitter  float64 `mapstructure:"backoff_jitter"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	SendTimeout    int     `mapstructure:"send_timeout"`    // milliseconds
	LeaseHeartbeat int     `mapstructure:"lease_heartbeat"` // milliseconds
}

// ProvidersConfig holds per-channel adapter settings.
type ProvidersConfig struct {
	Email EmailProviderConfig `mapstructure:"email"`
	SMS   SMSProviderConfig   `mapstructure:"sms"`
	Chat  ChatProviderConfig  `mapstructure:"chat"`
}

type EmailProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AWSRegion     string `mapstructure:"aws_region"`
	FromEmail     string `mapstructure:"from_email"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type SMSProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AWSRegion     string `mapstructure:"aws_region"`
	SenderID      string `mapstructure:"sender_id"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type ChatProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

// InboundConfig holds callback processing settings.
type InboundConfig struct {
	CallbackDedupeTTL int    `mapstructure:"callback_dedupe_ttl"` // milliseconds
	HelpTenant        string `mapstructure:"help_tenant"`
	HelpTemplate      string `mapstructure:"help_template"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// --- Duration helpers (config stores milliseconds, callers want durations) ---

func (q QueueConfig) PollIntervalDuration() time.Duration {
	return time.Duration(q.PollInterval) * time.Millisecond
}

func (q QueueConfig) LeaseDurationDuration() time.Duration {
	return time.Duration(q.LeaseDuration) * time.Millisecond
}

func (q QueueConfig) DedupeTTLDuration() time.Duration {
	return time.Duration(q.DedupeTTL) * time.Millisecond
}

func (d DispatchConfig) BackoffBaseDuration() time.Duration {
	return time.Duration(d.BackoffBase) * time.Millisecond
}

func (d DispatchConfig) BackoffCapDuration() time.Duration {
	return time.Duration(d.BackoffCap) * time.Millisecond
}

func (d DispatchConfig) SendTimeoutDuration() time.Duration {
	return time.Duration(d.SendTimeout) * time.Millisecond
}

func (d DispatchConfig) LeaseHeartbeatDuration() time.Duration {
	return time.Duration(d.LeaseHeartbeat) * time.Millisecond
}

func (i InboundConfig) CallbackDedupeTTLDuration() time.Duration {
	return time.Duration(i.CallbackDedupeTTL) * time.Millisecond
}
