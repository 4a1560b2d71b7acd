// Package config loads central settings from YAML.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/bond"
	"github.com/rigado/blecentral/cache"
	"github.com/rigado/blecentral/quirks"
)

// Config holds all central configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// GattCache is the profile cache file; empty keeps profiles in memory only.
	GattCache    string `yaml:"gatt_cache"`
	CacheEntries int    `yaml:"cache_entries"`

	BondFile   string `yaml:"bond_file"`
	QuirksFile string `yaml:"quirks_file"`
	// Quirks selects the built in table when no file is given: "default" or "none".
	Quirks string `yaml:"quirks"`

	L2CAPReadSize       int           `yaml:"l2cap_read_size"`
	RefreshDelay        time.Duration `yaml:"refresh_delay"`
	EmitSubscriptionAck bool          `yaml:"emit_subscription_ack"`

	Scan ScanConfig `yaml:"scan"`
}

// ScanConfig holds scan defaults.
type ScanConfig struct {
	Duration         time.Duration `yaml:"duration"`
	ReportDuplicates bool          `yaml:"report_duplicates"`
	ScanMode         string        `yaml:"scan_mode"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blecentral")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with the library defaults.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		CacheEntries:  cache.DefaultMemoryEntries,
		Quirks:        "default",
		L2CAPReadSize: 512,
		RefreshDelay:  300 * time.Millisecond,
		Scan: ScanConfig{
			ScanMode: "lowLatency",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in file paths is expanded to the home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	cfg.GattCache = expandTilde(cfg.GattCache)
	cfg.BondFile = expandTilde(cfg.BondFile)
	cfg.QuirksFile = expandTilde(cfg.QuirksFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.L2CAPReadSize <= 0 {
		return errors.New("l2cap_read_size must be > 0")
	}

	if c.RefreshDelay < 0 {
		return errors.New("refresh_delay must not be negative")
	}

	if c.CacheEntries < 0 {
		return errors.New("cache_entries must not be negative")
	}

	switch c.Quirks {
	case "default", "none":
	default:
		return errors.Errorf("quirks must be \"default\" or \"none\", got %q", c.Quirks)
	}

	if c.Scan.Duration < 0 {
		return errors.New("scan.duration must not be negative")
	}

	if err := c.ScanOptions().Validate(); err != nil {
		return errors.Wrap(err, "scan")
	}

	return nil
}

// ScanOptions returns the scan defaults as platform scan options.
func (c *Config) ScanOptions() blecentral.ScanOptions {
	o := blecentral.DefaultScanOptions()
	o.ScanMode = c.Scan.ScanMode
	o.ReportDuplicates = c.Scan.ReportDuplicates
	return o
}

// QuirkTable returns the configured quirk table.
func (c *Config) QuirkTable() (*quirks.Table, error) {
	if c.QuirksFile != "" {
		return quirks.Load(c.QuirksFile)
	}
	if c.Quirks == "none" {
		return quirks.None(), nil
	}
	return quirks.Default(), nil
}

// Options applies the log level and builds the central options the config
// describes.
func (c *Config) Options() ([]blecentral.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := blecentral.SetLogLevel(c.LogLevel); err != nil {
		blecentral.GetLogger().Warnf("config: %v", err)
	}

	var backing blecentral.GattCache
	if c.GattCache != "" {
		backing = cache.New(c.GattCache)
	}

	q, err := c.QuirkTable()
	if err != nil {
		return nil, err
	}

	opts := []blecentral.Option{
		blecentral.OptGattCache(cache.NewMemory(c.CacheEntries, backing)),
		blecentral.OptQuirks(q),
		blecentral.OptL2CAPReadSize(c.L2CAPReadSize),
		blecentral.OptRefreshDelay(c.RefreshDelay),
		blecentral.OptEmitSubscriptionAck(c.EmitSubscriptionAck),
	}
	if c.BondFile != "" {
		opts = append(opts, blecentral.OptBondStore(bond.NewBondManager(c.BondFile)))
	}

	return opts, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
