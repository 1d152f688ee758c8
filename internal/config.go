package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vaultlog/internal/apperr"
)

// DefaultRotateBytes is the size at which the event log is rotated.
const DefaultRotateBytes = 10 << 20

var extRe = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)

// Config enumerates every recognised option. It is validated once at startup
// and never re-read during a run.
type Config struct {
	VaultPath     string        `yaml:"vault_path"`
	NoteExtension string        `yaml:"note_extension"`
	OutputFile    string        `yaml:"output_file"`
	RotateBytes   int64         `yaml:"rotate_bytes"`
	LabelFields   []string      `yaml:"label_fields"`
	StateFile     string        `yaml:"state_file"`
	IndexPath     string        `yaml:"index_path"`
	LogLevel      slog.Level    `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
	Metrics       MetricsConfig `yaml:",inline"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
}

// MetricsConfig holds the metrics exposition settings.
type MetricsConfig struct {
	Port        int    `yaml:"metrics_port"`
	StartServer bool   `yaml:"start_metrics_server"`
	File        string `yaml:"metrics_file"`
}

// Address returns the metrics listener address.
func (c *MetricsConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// Validate validates the configuration. Failures are configuration errors.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.VaultPath, validation.Required),
		validation.Field(&c.OutputFile, validation.Required),
		validation.Field(&c.NoteExtension, validation.Required, validation.Match(extRe)),
		validation.Field(&c.RotateBytes, validation.Min(int64(0))),
		validation.Field(&c.ScanInterval, validation.Required, validation.Min(time.Second)),
	)
	if err == nil {
		err = c.Metrics.Validate()
	}
	if err != nil {
		return apperr.Configuration("%v", err)
	}
	return nil
}

// WatermarkPath returns the state file, defaulting to one next to the output file.
func (c *Config) WatermarkPath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return c.OutputFile + ".watermark"
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		NoteExtension: ".md",
		OutputFile:    "/tmp/obsidian_logs.json",
		RotateBytes:   DefaultRotateBytes,
		LabelFields:   []string{"type"},
		LogLevel:      slog.LevelInfo,
		Metrics: MetricsConfig{
			Port: 9108,
		},
		ScanInterval: 5 * time.Minute,
	}
}
