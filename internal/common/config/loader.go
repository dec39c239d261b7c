// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_REDIS_ADDRESS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay (config.development.yaml etc), optional.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root so
// the binary and tests behave the same regardless of where they run.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notification-engine"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10000
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15000
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 15000
	}

	if cfg.Database.Postgres.Host == "" {
		cfg.Database.Postgres.Host = "localhost"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 20
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}

	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 500
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = 30000
	}
	if cfg.Queue.DedupeTTL == 0 {
		cfg.Queue.DedupeTTL = 86400000 // 24h
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 5
	}
	if cfg.Dispatch.BackoffBase == 0 {
		cfg.Dispatch.BackoffBase = 2000
	}
	if cfg.Dispatch.BackoffCap == 0 {
		cfg.Dispatch.BackoffCap = 300000 // 5m
	}
	if cfg.Dispatch.BackoffJitter == 0 {
		cfg.Dispatch.BackoffJitter = 0.2
	}
	if cfg.Dispatch.RateLimitRPS == 0 {
		cfg.Dispatch.RateLimitRPS = 10
	}
	if cfg.Dispatch.RateLimitBurst == 0 {
		cfg.Dispatch.RateLimitBurst = 20
	}
	if cfg.Dispatch.SendTimeout == 0 {
		cfg.Dispatch.SendTimeout = 15000
	}
	if cfg.Dispatch.LeaseHeartbeat == 0 {
		cfg.Dispatch.LeaseHeartbeat = 10000
	}

	if cfg.Providers.Chat.Timeout == 0 {
		cfg.Providers.Chat.Timeout = 10000
	}

	if cfg.Inbound.CallbackDedupeTTL == 0 {
		cfg.Inbound.CallbackDedupeTTL = 86400000 // 24h
	}
	if cfg.Inbound.HelpTenant == "" {
		cfg.Inbound.HelpTenant = "system"
	}
	if cfg.Inbound.HelpTemplate == "" {
		cfg.Inbound.HelpTemplate = "help-reply"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if cfg.Dispatch.BackoffJitter < 0 || cfg.Dispatch.BackoffJitter >= 1 {
		return fmt.Errorf("dispatch.backoff_jitter must be in [0, 1)")
	}
	if cfg.Queue.LeaseDuration < cfg.Dispatch.LeaseHeartbeat {
		return fmt.Errorf("queue.lease_duration must not be shorter than dispatch.lease_heartbeat")
	}
	if cfg.Providers.Chat.Enabled && cfg.Providers.Chat.BaseURL == "" {
		return fmt.Errorf("providers.chat.base_url is required when chat is enabled")
	}
	if cfg.Providers.Email.Enabled && cfg.Providers.Email.FromEmail == "" {
		return fmt.Errorf("providers.email.from_email is required when email is enabled")
	}
	return nil
}
