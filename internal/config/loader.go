package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "taxflow.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/taxflow"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "TAXFLOW_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *zap.Logger
	file    string
	homeDir func() (string, error)
	workDir func() (string, error)
	lookup  func(string) (string, bool)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile uses path as the project config instead of searching for one.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithHomeDir overrides the home directory holding the user config.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = func() (string, error) { return dir, nil } }
}

// WithWorkDir overrides the directory the project config search starts from.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) { l.workDir = func() (string, error) { return dir, nil } }
}

// WithEnv replaces the process environment.
func WithEnv(env map[string]string) LoaderOption {
	return func(l *Loader) {
		l.lookup = func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
	}
}

// NewLoader creates a new configuration loader
func NewLoader(logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		logger:  logger,
		homeDir: os.UserHomeDir,
		workDir: os.Getwd,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/taxflow/config.yaml)
// 3. Project config (taxflow.yaml in current or parent directories)
// 4. TAXFLOW_* environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	// Relative defaults belong to the working directory
	if cwd, err := l.workDir(); err == nil {
		config.resolvePaths(cwd)
	}

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if userConfig, err := LoadFromFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", zap.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", zap.String("path", userConfigPath), zap.Error(err))
		}
	}

	if l.file != "" {
		// An explicit file must exist
		projectConfig, err := LoadFromFile(l.file)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", zap.String("path", l.file))
		config.Merge(projectConfig)
	} else if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		projectConfig, err := LoadFromFile(projectConfigPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded project config", zap.String("path", projectConfigPath))
		config.Merge(projectConfig)
	} else {
		l.logger.Debug("No project config found")
	}

	envConfig, err := l.fromEnv()
	if err != nil {
		return nil, err
	}
	config.Merge(envConfig)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := l.homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for taxflow.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := l.workDir()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// fromEnv reads the environment layer. Paths are taken as given.
func (l *Loader) fromEnv() (*Config, error) {
	c := &Config{}
	env := func(name string) (string, bool) {
		v, ok := l.lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := env("MODE"); ok {
		c.Mode = Mode(v)
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := env("FLOW_GLOBS"); ok {
		c.Flow.Globs = splitList(v)
	}
	if v, ok := env("FLOW_DICTIONARY"); ok {
		c.Flow.Dictionary = v
	}
	if v, ok := env("SIGNALS_FILE"); ok {
		c.Signals.File = v
	}
	if v, ok := env("STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := env("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := env("SERVER_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%sSERVER_SHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Server.ShutdownTimeout = d
	}
	if v, ok := env("FEATURES"); ok {
		features, err := parseFeatures(v)
		if err != nil {
			return nil, fmt.Errorf("%sFEATURES: %w", EnvPrefix, err)
		}
		c.Features = features
	}
	for name, dst := range map[string]**bool{
		"NAVIGATION_RETURN_TO_DATA_VIEW": &c.Navigation.ReturnToDataView,
		"NAVIGATION_STRICT":              &c.Navigation.Strict,
	} {
		if v, ok := env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = &b
		}
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFeatures reads "a,b=false" as {a: true, b: false}.
func parseFeatures(s string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, part := range splitList(s) {
		name, value, found := strings.Cut(part, "=")
		if !found {
			out[name] = true
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = b
	}
	return out, nil
}
