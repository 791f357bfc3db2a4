// Package config loads controller configuration from YAML, TOML or JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/gstate"
)

// ErrUnsupportedExtension is returned for config files that are not
// .yaml, .yml, .toml or .json.
var ErrUnsupportedExtension = errors.New("config: unsupported extension")

// File is the on-disk configuration. Zero values mean "unspecified" and
// keep the gstate.DefaultConfig value.
type File struct {
	Mode            string `json:"mode" yaml:"mode" toml:"mode"`
	Directory       string `json:"directory" yaml:"directory" toml:"directory"`
	FileName        string `json:"file_name" yaml:"file_name" toml:"file_name"`
	LogVariantCount *bool  `json:"log_variant_count" yaml:"log_variant_count" toml:"log_variant_count"`
	ReportInterval  string `json:"report_interval" yaml:"report_interval" toml:"report_interval"`
	Workers         int    `json:"workers" yaml:"workers" toml:"workers"`
	BatchSize       int    `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	BatchInterval   string `json:"batch_interval" yaml:"batch_interval" toml:"batch_interval"`
}

// Load reads a configuration file based on its extension and applies it
// over gstate.DefaultConfig.
func Load(path string) (gstate.Config, error) {
	if path == "" {
		return gstate.Config{}, fmt.Errorf("config: empty path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return gstate.Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(b, filepath.Ext(path))
}

// Parse decodes data in the format named by ext (".yaml", ".toml", ...).
func Parse(data []byte, ext string) (gstate.Config, error) {
	var f File
	switch ext = strings.ToLower(ext); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return gstate.Config{}, fmt.Errorf("config: yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return gstate.Config{}, fmt.Errorf("config: json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return gstate.Config{}, fmt.Errorf("config: toml: %w", err)
		}
	default:
		return gstate.Config{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return f.Config()
}

// Config converts f to a controller configuration.
func (f *File) Config() (gstate.Config, error) {
	cfg := gstate.DefaultConfig()

	if f.Mode != "" {
		m, err := gstate.ParseMode(f.Mode)
		if err != nil {
			return gstate.Config{}, fmt.Errorf("config: mode: %w", err)
		}
		cfg.Mode = m
	}
	if f.Directory != "" {
		cfg.Directory = f.Directory
	}
	if f.FileName != "" {
		cfg.FileName = f.FileName
	}
	if f.LogVariantCount != nil {
		cfg.LogVariantCount = *f.LogVariantCount
	}
	if f.Workers < 0 || f.BatchSize < 0 {
		return gstate.Config{}, fmt.Errorf("config: workers and batch_size must not be negative")
	}
	cfg.Workers = f.Workers
	cfg.BatchSize = f.BatchSize

	var err error
	if cfg.ReportInterval, err = duration("report_interval", f.ReportInterval, cfg.ReportInterval); err != nil {
		return gstate.Config{}, err
	}
	if cfg.BatchInterval, err = duration("batch_interval", f.BatchInterval, cfg.BatchInterval); err != nil {
		return gstate.Config{}, err
	}
	return cfg, nil
}

func duration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}
