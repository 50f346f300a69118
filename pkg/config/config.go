// Package config loads client and server settings from a YAML file, a .env
// file and BOARDSYNC_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/boardsync/pkg/collision"
)

const envPrefix = "BOARDSYNC_"

type Config struct {
	Server     string `yaml:"server" validate:"required,url"`
	User       string `yaml:"user" validate:"required"`
	Board      string `yaml:"board" validate:"required"`
	Passphrase string `yaml:"passphrase"`

	CollisionThreshold float64       `yaml:"collision_threshold" validate:"gte=0,lte=1"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gt=0"`
	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout" validate:"gt=0"`
	ReconnectInterval  time.Duration `yaml:"reconnect_interval" validate:"gte=0"`

	Journal        string        `yaml:"journal"`
	Archive        string        `yaml:"archive"`
	BackupInterval time.Duration `yaml:"backup_interval" validate:"required_with=Archive,gte=0"`

	Listen      string `yaml:"listen" validate:"required,hostname_port"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

func Default() Config {
	return Config{
		Server:             "http://127.0.0.1:8080",
		CollisionThreshold: collision.DefaultThreshold,
		RequestTimeout:     10 * time.Second,
		SnapshotTimeout:    10 * time.Second,
		BackupInterval:     5 * time.Second,
		Listen:             "127.0.0.1:8080",
		LogLevel:           "info",
	}
}

var validate = validator.New()

// Load builds the config. A missing file or .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER":       &cfg.Server,
		"USER":         &cfg.User,
		"BOARD":        &cfg.Board,
		"PASSPHRASE":   &cfg.Passphrase,
		"JOURNAL":      &cfg.Journal,
		"ARCHIVE":      &cfg.Archive,
		"LISTEN":       &cfg.Listen,
		"METRICS_ADDR": &cfg.MetricsAddr,
		"LOG_LEVEL":    &cfg.LogLevel,
	}
	for k, p := range strs {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			*p = v
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT":    &cfg.RequestTimeout,
		"SNAPSHOT_TIMEOUT":   &cfg.SnapshotTimeout,
		"RECONNECT_INTERVAL": &cfg.ReconnectInterval,
		"BACKUP_INTERVAL":    &cfg.BackupInterval,
	}
	for k, p := range durations {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, k, err)
			}
			*p = d
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "COLLISION_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sCOLLISION_THRESHOLD: %w", envPrefix, err)
		}
		cfg.CollisionThreshold = f
	}
	return nil
}

// clientOnly are the fields only a client run needs.
var clientOnly = []string{"User", "Board"}

// Validate checks the settings shared by every command.
func (c Config) Validate() error {
	return explain(validate.StructExcept(c, clientOnly...))
}

// ValidateClient additionally requires the fields a client run needs.
func (c Config) ValidateClient() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return explain(validate.StructPartial(c, clientOnly...))
}

// explain flattens validation errors so every invalid field is reported at once.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", f.Field(), f.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
	}
	return fmt.Errorf("invalid config: %w", err)
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
