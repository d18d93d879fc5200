// Package config loads the memtrace.yaml configuration file.
//
// All values are optional and act as defaults for CLI flags; flags
// always override config values.
package config

import (
	"fmt"
	"time"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/passport"
	"github.com/justapithecus/memtrace/tracker"
	"github.com/justapithecus/memtrace/types"
)

// Config represents a memtrace.yaml configuration file.
type Config struct {
	Tracker  TrackerConfig  `yaml:"tracker"`
	Export   ExportConfig   `yaml:"export"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Passport PassportConfig `yaml:"passport"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TrackerConfig holds dispatcher defaults from the config file.
type TrackerConfig struct {
	Strategy         string  `yaml:"strategy"`
	SampleRate       float64 `yaml:"sample_rate"`
	MaxOverheadBytes uint64  `yaml:"max_overhead_bytes"`
	LogDir           string  `yaml:"log_dir"`
	FlushBatch       int     `yaml:"flush_batch"`
	Shards           int     `yaml:"shards"`
}

// ExportConfig holds export writer defaults from the config file.
type ExportConfig struct {
	Preset           string `yaml:"preset"` // default, fast, compact, selective
	CompressionLevel int    `yaml:"compression_level"`
	Format           string `yaml:"format"`
	BatchSize        int    `yaml:"batch_size"`
	IncludeIndex     *bool  `yaml:"include_index,omitempty"`
}

// DedupConfig holds interning store defaults from the config file.
type DedupConfig struct {
	MaxCacheSize         int     `yaml:"max_cache_size"`
	CleanupThreshold     float64 `yaml:"cleanup_threshold"`
	CompressionThreshold int     `yaml:"compression_threshold"`
	StrictRetention      *bool   `yaml:"strict_retention,omitempty"`
}

// PassportConfig holds passport tracker defaults from the config file.
type PassportConfig struct {
	MaxPassports         int   `yaml:"max_passports"`
	MaxEventsPerPassport int   `yaml:"max_events_per_passport"`
	DetailedLogging      bool  `yaml:"detailed_logging"`
	CaptureStacks        *bool `yaml:"capture_stacks,omitempty"`
}

// WebhookConfig holds leak-report webhook defaults from the config
// file.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s",
// "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// TrackerConfig converts file values into a tracker.Config, filling
// unset fields from the defaults.
func (c *Config) TrackerConfig() tracker.Config {
	out := tracker.DefaultConfig()
	if c.Tracker.Strategy != "" {
		out.Strategy = types.StrategyKind(c.Tracker.Strategy)
	}
	if c.Tracker.SampleRate > 0 {
		out.SampleRate = c.Tracker.SampleRate
	}
	if c.Tracker.MaxOverheadBytes > 0 {
		out.MaxOverheadBytes = c.Tracker.MaxOverheadBytes
	}
	if c.Tracker.LogDir != "" {
		out.LogDir = c.Tracker.LogDir
	}
	if c.Tracker.FlushBatch > 0 {
		out.FlushBatch = c.Tracker.FlushBatch
	}
	if c.Tracker.Shards > 0 {
		out.Shards = c.Tracker.Shards
	}
	return out
}

// DedupConfig converts file values into a dedup.Config.
func (c *Config) DedupConfig() dedup.Config {
	out := dedup.DefaultConfig()
	if c.Dedup.MaxCacheSize > 0 {
		out.MaxCacheSize = c.Dedup.MaxCacheSize
	}
	if c.Dedup.CleanupThreshold > 0 {
		out.CleanupThreshold = c.Dedup.CleanupThreshold
	}
	if c.Dedup.CompressionThreshold > 0 {
		out.StringCompressionThreshold = c.Dedup.CompressionThreshold
		out.StructCompressionThreshold = c.Dedup.CompressionThreshold
	}
	if c.Dedup.StrictRetention != nil {
		out.StrictRetention = *c.Dedup.StrictRetention
	}
	return out
}

// PassportConfig converts file values into a passport.Config.
func (c *Config) PassportConfig() passport.Config {
	out := passport.DefaultConfig()
	if c.Passport.MaxPassports > 0 {
		out.MaxPassports = c.Passport.MaxPassports
	}
	if c.Passport.MaxEventsPerPassport > 0 {
		out.MaxEventsPerPassport = c.Passport.MaxEventsPerPassport
	}
	out.DetailedLogging = c.Passport.DetailedLogging
	if c.Passport.CaptureStacks != nil {
		out.CaptureStacks = *c.Passport.CaptureStacks
	}
	return out
}
