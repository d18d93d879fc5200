package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/memtrace/export"
)

// DefaultFileName is the config file looked up in the working
// directory when no --config flag is given.
const DefaultFileName = "memtrace.yaml"

// Load reads and parses a config file. A missing file at the default
// path is not an error: an empty Config is returned so flags and
// defaults apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := ExpandEnv(string(raw))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ExportOptions converts file values into export.Options, starting
// from the named preset.
func (c *Config) ExportOptions() (export.Options, error) {
	var out export.Options
	switch c.Export.Preset {
	case "", "default":
		out = export.DefaultOptions()
	case "fast":
		out = export.FastOptions()
	case "compact":
		out = export.CompactOptions()
	case "selective":
		out = export.SelectiveOptions()
	default:
		return out, fmt.Errorf("unknown export preset %q", c.Export.Preset)
	}
	if c.Export.CompressionLevel > 0 {
		out.CompressionLevel = c.Export.CompressionLevel
	}
	if c.Export.Format != "" {
		out.Format = c.Export.Format
	}
	if c.Export.BatchSize > 0 {
		out.BatchSize = c.Export.BatchSize
	}
	if c.Export.IncludeIndex != nil {
		out.IncludeIndex = *c.Export.IncludeIndex
	}
	return out, nil
}
