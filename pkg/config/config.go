// Package config loads the pagedb YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/pagedb/core/storage_engine/disk"
	"github.com/sushant-115/pagedb/core/storage_engine/replacer"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

// StorageConfig describes the backing file and the buffer pool over it.
type StorageConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
	Replacer string `yaml:"replacer"`
	// PageLimit caps allocated pages below the layout maximum. Zero means no cap.
	PageLimit uint32 `yaml:"page_limit"`
}

type BackupConfig struct {
	// RateBytesPerSec throttles backup copies. Zero means unthrottled.
	RateBytesPerSec int64 `yaml:"rate_bytes_per_sec"`
}

// Config is the root of the configuration file.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Backup    BackupConfig     `yaml:"backup"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:     "data/pagedb.db",
			PoolSize: 64,
			Replacer: replacer.PolicyLRU,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "pagedb",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults, so keys missing from the file keep their
// default values, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path must be set"))
	}
	if c.Storage.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be positive, got %d", c.Storage.PoolSize))
	}
	switch strings.ToLower(c.Storage.Replacer) {
	case replacer.PolicyLRU, replacer.PolicyClock:
	default:
		errs = append(errs, fmt.Errorf("storage.replacer must be %q or %q, got %q",
			replacer.PolicyLRU, replacer.PolicyClock, c.Storage.Replacer))
	}
	if c.Storage.PageLimit > disk.MaxValidPageID {
		errs = append(errs, fmt.Errorf("storage.page_limit exceeds %d", disk.MaxValidPageID))
	}
	if c.Backup.RateBytesPerSec < 0 {
		errs = append(errs, errors.New("backup.rate_bytes_per_sec must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, fmt.Errorf("logger.level: %w", err))
	}
	if !logger.ValidFormat(c.Logger.Format) {
		errs = append(errs, fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format))
	}
	if c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535 {
		errs = append(errs, fmt.Errorf("telemetry.prometheus_port out of range: %d", c.Telemetry.PrometheusPort))
	}
	return errors.Join(errs...)
}
