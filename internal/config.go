package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mcodex/internal/build"
	"github.com/starford/mcodex/internal/pipeline"
)

// Log formats.
const (
	LogFormatAuto = "auto"
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	History HistoryConfig     `yaml:"history"`
	Tools   ToolsConfig       `yaml:"tools"`
	Watch   WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatAuto
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatAuto, LogFormatJSON, LogFormatText)),
	)
}

// HistoryConfig holds the build and snapshot ledger configuration.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// ToolsConfig names the external executables and bounds their run time.
type ToolsConfig struct {
	Pandoc  string        `yaml:"pandoc"`
	Vlna    string        `yaml:"vlna"`
	Latexmk string        `yaml:"latexmk"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the tools configuration.
func (c *ToolsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
	)
}

// Pipeline returns the engine's view of the tool names.
func (c *ToolsConfig) Pipeline() pipeline.Tools {
	return pipeline.Tools{Pandoc: c.Pandoc, Vlna: c.Vlna, Latexmk: c.Latexmk}
}

// WatchConfig holds the rebuild-on-save configuration.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Pipeline string        `yaml:"pipeline"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
		validation.Field(&c.Pipeline, validation.Required),
	)
}

// DefaultHistoryPath returns the ledger location under the user cache dir.
func DefaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mcodex", "history.db")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	tools := pipeline.DefaultTools()
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelWarn,
			LogFormat: LogFormatAuto,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    DefaultHistoryPath(),
		},
		Tools: ToolsConfig{
			Pandoc:  tools.Pandoc,
			Vlna:    tools.Vlna,
			Latexmk: tools.Latexmk,
			Timeout: pipeline.DefaultTimeout,
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
			Pipeline: build.DefaultPipeline,
		},
	}
}

// String renders the effective configuration for diagnostics.
func (c *Config) String() string {
	history := "disabled"
	if c.History.Enabled {
		history = c.History.Path
	}
	return fmt.Sprintf("log_level=%s log_format=%s history=%s tools=%s,%s,%s timeout=%s",
		c.App.LogLevel, c.App.LogFormat, history,
		c.Tools.Pandoc, c.Tools.Vlna, c.Tools.Latexmk, c.Tools.Timeout)
}
