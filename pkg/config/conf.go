package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mchmarny/walletscore/pkg/logging"
	"github.com/mchmarny/walletscore/pkg/model"
	"github.com/mchmarny/walletscore/pkg/pipeline"
	"github.com/mchmarny/walletscore/pkg/score"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the default config file name.
	FileName = "walletscore.yaml"

	// DefaultSchedule runs the pipeline hourly in watch mode.
	DefaultSchedule = "@hourly"

	dirMode  = 0700
	fileMode = 0600
)

// Database configures the optional run history store.
type Database struct {
	// Path is a SQLite file path or a postgres:// URL. Empty uses the
	// default file in the user's home dir.
	Path string `yaml:"path"`
	// Disabled skips saving runs.
	Disabled bool `yaml:"disabled"`
	// Keep is the number of runs retained, 0 keeps all.
	Keep int `yaml:"keep"`
}

// Metrics configures the Prometheus textfile export.
type Metrics struct {
	File string `yaml:"file"`
}

// Logging configures the log output.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents app config object.
type Config struct {
	Input    string        `yaml:"input"`
	Output   string        `yaml:"output"`
	Database Database      `yaml:"database"`
	Metrics  Metrics       `yaml:"metrics"`
	Logging  Logging       `yaml:"logging"`
	Rules    score.Rules   `yaml:"rules"`
	Model    model.Params  `yaml:"model"`
	Scale    *model.Bounds `yaml:"scale,omitempty"`
	Schedule string        `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Input:  pipeline.DefaultInput,
		Output: pipeline.DefaultOutput,
		Logging: Logging{
			Level:  "info",
			Format: logging.FormatCLI,
		},
		Rules:    score.DefaultRules(),
		Model:    model.DefaultParams(),
		Schedule: DefaultSchedule,
	}
}

// Load reads the YAML file at path over the defaults. Environment variable
// references in the file are expanded. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("config file not found, using defaults", "path", path)
			return c, nil
		}
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if len(bytes.TrimSpace(b)) > 0 {
		expanded := os.ExpandEnv(string(b))
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	slog.Debug("config loaded", "path", path)
	return c, nil
}

// Save writes c to path, creating the parent directory if needed.
func Save(path string, c *Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	if c == nil {
		return errors.New("config required")
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return errors.New("input required")
	}
	if strings.TrimSpace(c.Output) == "" {
		return errors.New("output required")
	}
	if c.Database.Keep < 0 {
		return fmt.Errorf("database keep must not be negative: %d", c.Database.Keep)
	}
	if c.Logging.Format != "" && !slices.Contains(logging.Formats, c.Logging.Format) {
		return fmt.Errorf("unsupported log format %q, expected one of %v", c.Logging.Format, logging.Formats)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if c.Scale != nil {
		if err := c.Scale.Validate(); err != nil {
			return fmt.Errorf("scale: %w", err)
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
