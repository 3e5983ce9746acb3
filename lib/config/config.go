// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Timeline window bounds. Values outside are rejected by Validate.
const (
	MinTimelineWindow = 1
	MaxTimelineWindow = 5000
)

// Platform values accepted in the platform field.
const (
	PlatformAuto    = "auto"
	PlatformWide    = "wide"
	PlatformCompact = "compact"
)

// Config is the parley configuration file.
type Config struct {
	// Homeserver pre-fills the login form.
	Homeserver string `yaml:"homeserver" json:"homeserver"`

	// Platform is auto, wide, or compact. Auto picks by terminal width.
	Platform string `yaml:"platform" json:"platform"`

	// Markdown sends an HTML formatted body with each message.
	Markdown bool `yaml:"markdown" json:"markdown"`

	Timeline TimelineConfig `yaml:"timeline" json:"timeline"`
	Typing   TypingConfig   `yaml:"typing" json:"typing"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// TimelineConfig bounds the active room's timeline.
type TimelineConfig struct {
	// Window is the number of events retained. Default: 300.
	Window int `yaml:"window" json:"window"`

	// InitialHistory is the per-room history requested on the
	// initial sync. Default: 20.
	InitialHistory int `yaml:"initial_history" json:"initial_history"`
}

// TypingConfig configures the typing line.
type TypingConfig struct {
	// DisplayLimit caps the names shown. Default: 3.
	DisplayLimit int `yaml:"display_limit" json:"display_limit"`
}

// SessionConfig locates the persisted session.
type SessionConfig struct {
	// File is the session record. Empty means the session store's
	// default location.
	File string `yaml:"file" json:"file"`

	// SealIdentityFile enables at-rest sealing of the session record
	// with the age identity stored there.
	SealIdentityFile string `yaml:"seal_identity_file" json:"seal_identity_file"`
}

// CacheConfig configures the sync snapshot cache.
type CacheConfig struct {
	Disabled bool `yaml:"disabled" json:"disabled"`

	// Directory holds cache files. Empty means the cache's default.
	Directory string `yaml:"directory" json:"directory"`

	// Compression is zstd, lz4, or none.
	Compression string `yaml:"compression" json:"compression"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`

	// Output, when set, receives JSON log records in addition to the
	// status line.
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Platform: PlatformAuto,
		Markdown: true,
		Timeline: TimelineConfig{
			Window:         300,
			InitialHistory: 20,
		},
		Typing: TypingConfig{
			DisplayLimit: 3,
		},
		Cache: CacheConfig{
			Compression: "zstd",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Load reads the file named by PARLEY_CONFIG. Without it the defaults
// are returned.
func Load() (*Config, error) {
	configPath := os.Getenv("PARLEY_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile reads a configuration file over the defaults. Files ending
// in .json or .jsonc are JSON with comments and trailing commas; all
// others are YAML. ${VAR} and ${VAR:-default} are expanded in path
// fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Session.File = expandVars(c.Session.File, vars)
	c.Session.SealIdentityFile = expandVars(c.Session.SealIdentityFile, vars)
	c.Cache.Directory = expandVars(c.Cache.Directory, vars)
	c.Log.Output = expandVars(c.Log.Output, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	platforms := []string{PlatformAuto, PlatformWide, PlatformCompact}
	if !slices.Contains(platforms, c.Platform) {
		errs = append(errs, fmt.Errorf("platform must be one of: %v", platforms))
	}

	if c.Timeline.Window < MinTimelineWindow || c.Timeline.Window > MaxTimelineWindow {
		errs = append(errs, fmt.Errorf("timeline.window must be within [%d, %d], got %d",
			MinTimelineWindow, MaxTimelineWindow, c.Timeline.Window))
	}
	if c.Timeline.InitialHistory < 1 {
		errs = append(errs, fmt.Errorf("timeline.initial_history must be positive"))
	}
	if c.Typing.DisplayLimit < 1 {
		errs = append(errs, fmt.Errorf("typing.display_limit must be positive"))
	}

	compressions := []string{"zstd", "lz4", "none"}
	if !slices.Contains(compressions, c.Cache.Compression) {
		errs = append(errs, fmt.Errorf("cache.compression must be one of: %v", compressions))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
