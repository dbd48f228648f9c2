// Package core contains the lock manager and the policies around it:
// configuration, caller resolution, and content identity resolution.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/happytimeshere/kirby/pkg/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigFileName is the base name of the klock configuration file. Viper
// accepts it with or without a .yaml extension.
const ConfigFileName = ".klockrc"

// ConfigurationManager defines the interface for loading and validating
// configuration from .klockrc, .env and KLOCK_* environment variables.
type ConfigurationManager interface {
	LoadConfig() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .klockrc resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *models.Config {
	return &models.Config{
		Locks: models.LockConfig{
			Duration:       int(DefaultLockDuration.Seconds()),
			FileName:       ".lock",
			AllowSelfBreak: false,
			RequireStale:   false,
			WriteRetries:   3,
		},
		Content:    models.ContentConfig{Root: "content"},
		Log:        models.LogConfig{Level: "info"},
		UsersFile:  "users.yaml",
		EventsFile: ".klock_events.jsonl",
	}
}

// LoadConfig reads .env and .klockrc from the base path. Precedence:
// environment > .klockrc > defaults. A missing .klockrc is not an error.
func (cm *viperConfigManager) LoadConfig() (*models.Config, error) {
	cfg := DefaultConfig()

	envPath := filepath.Join(cm.basePath, ".env")
	if _, err := os.Stat(envPath); err == nil {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("reading %s: %w", envPath, err)
		}
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("KLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("locks.duration", cfg.Locks.Duration)
	v.SetDefault("locks.file_name", cfg.Locks.FileName)
	v.SetDefault("locks.allow_self_break", cfg.Locks.AllowSelfBreak)
	v.SetDefault("locks.require_stale", cfg.Locks.RequireStale)
	v.SetDefault("locks.write_retries", cfg.Locks.WriteRetries)
	v.SetDefault("content.root", cfg.Content.Root)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("users.file", cfg.UsersFile)
	v.SetDefault("events.file", cfg.EventsFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg.Locks.Duration = v.GetInt("locks.duration")
	cfg.Locks.FileName = v.GetString("locks.file_name")
	cfg.Locks.AllowSelfBreak = v.GetBool("locks.allow_self_break")
	cfg.Locks.RequireStale = v.GetBool("locks.require_stale")
	cfg.Locks.WriteRetries = v.GetInt("locks.write_retries")
	cfg.Content.Root = v.GetString("content.root")
	cfg.Log.Level = v.GetString("log.level")
	cfg.UsersFile = v.GetString("users.file")
	cfg.EventsFile = v.GetString("events.file")

	return cfg, nil
}

// validLogLevels is the set of accepted log.level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks cfg for invalid values and reports all of them in
// one error.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Locks.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("locks.duration must be positive, got %d", cfg.Locks.Duration))
	}

	if cfg.Locks.FileName == "" {
		errs = append(errs, "locks.file_name must not be empty")
	} else if strings.ContainsAny(cfg.Locks.FileName, `/\`) {
		errs = append(errs, fmt.Sprintf("locks.file_name %q must be a plain file name", cfg.Locks.FileName))
	}

	if cfg.Locks.WriteRetries < 0 {
		errs = append(errs, fmt.Sprintf("locks.write_retries must be non-negative, got %d", cfg.Locks.WriteRetries))
	}

	if cfg.Content.Root == "" {
		errs = append(errs, "content.root must not be empty")
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf(
			"log.level %q is invalid, must be one of: debug, info, warn, error",
			cfg.Log.Level,
		))
	}

	if cfg.UsersFile == "" {
		errs = append(errs, "users.file must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
