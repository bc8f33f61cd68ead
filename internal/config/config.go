// Package config provides configuration loading and management for taxflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Mode selects logging and error-handling defaults.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Config represents the complete taxflow configuration
type Config struct {
	Mode       Mode             `yaml:"mode"`
	Log        LogConfig        `yaml:"log"`
	Flow       FlowConfig       `yaml:"flow"`
	Signals    SignalsConfig    `yaml:"signals"`
	Features   map[string]bool  `yaml:"features"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Navigation NavigationConfig `yaml:"navigation"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is a zap level name (debug, info, warn, error)
	Level string `yaml:"level"`
}

// FlowConfig locates the flow declaration and its fact dictionary
type FlowConfig struct {
	// Globs match the flow chunks; ** is supported
	Globs []string `yaml:"globs"`
	// Dictionary is the fact dictionary file (YAML or JSON)
	Dictionary string `yaml:"dictionary"`
}

// SignalsConfig configures structural signal answers
type SignalsConfig struct {
	// File is an optional static signal profile
	File string `yaml:"file"`
}

// StoreConfig configures return persistence
type StoreConfig struct {
	// Path is the SQLite database file, or ":memory:"
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// NavigationConfig configures the navigator
type NavigationConfig struct {
	// ReturnToDataView sends the filer back to the subcategory's data view
	// instead of on to the next subcategory
	ReturnToDataView *bool `yaml:"returnToDataView"`
	// Strict fails on flow configuration errors instead of falling back to
	// the checklist. Defaults to true in development mode.
	Strict *bool `yaml:"strict"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeProduction,
		Log:  LogConfig{Level: "info"},
		Flow: FlowConfig{
			Globs:      []string{"flow/**/*.yaml"},
			Dictionary: "facts.yaml",
		},
		Store: StoreConfig{Path: filepath.Join(".taxflow", "returns.db")},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if len(c.Flow.Globs) == 0 {
		return fmt.Errorf("flow.globs is required")
	}
	if c.Flow.Dictionary == "" {
		return fmt.Errorf("flow.dictionary is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdownTimeout must not be negative")
	}
	return nil
}

// Strict reports whether flow configuration errors should fail.
func (c *Config) Strict() bool {
	if c.Navigation.Strict != nil {
		return *c.Navigation.Strict
	}
	return c.Mode == ModeDevelopment
}

// ReturnToDataView reports whether navigation returns to data views.
func (c *Config) ReturnToDataView() bool {
	return c.Navigation.ReturnToDataView != nil && *c.Navigation.ReturnToDataView
}

// LoadFromFile loads configuration from a YAML file. Unset fields stay zero
// so the result can be merged over another layer.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	config.resolvePaths(filepath.Dir(path))
	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// resolvePaths makes file settings relative to the directory of the file
// that declared them.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, g := range c.Flow.Globs {
		c.Flow.Globs[i] = abs(g)
	}
	c.Flow.Dictionary = abs(c.Flow.Dictionary)
	c.Signals.File = abs(c.Signals.File)
	c.Store.Path = abs(c.Store.Path)
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Mode != "" {
		c.Mode = other.Mode
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}

	// Flow
	if len(other.Flow.Globs) > 0 {
		c.Flow.Globs = append([]string(nil), other.Flow.Globs...)
	}
	if other.Flow.Dictionary != "" {
		c.Flow.Dictionary = other.Flow.Dictionary
	}

	if other.Signals.File != "" {
		c.Signals.File = other.Signals.File
	}

	// Features merge flag by flag
	if len(other.Features) > 0 {
		if c.Features == nil {
			c.Features = make(map[string]bool, len(other.Features))
		}
		for k, v := range other.Features {
			c.Features[k] = v
		}
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Navigation
	if other.Navigation.ReturnToDataView != nil {
		v := *other.Navigation.ReturnToDataView
		c.Navigation.ReturnToDataView = &v
	}
	if other.Navigation.Strict != nil {
		v := *other.Navigation.Strict
		c.Navigation.Strict = &v
	}
}
