package internal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/vaultlog/internal/apperr"
	pkgconfig "github.com/starford/vaultlog/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.VaultPath = "./vault"
	return cfg
}

func TestConfig_DefaultsNeedVault(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error for missing vault_path", err)
	}
}

func TestConfig_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfig_Invalid(t *testing.T) {
	cases := map[string]func(c *Config){
		"empty output":      func(c *Config) { c.OutputFile = "" },
		"bad extension":     func(c *Config) { c.NoteExtension = "md" },
		"negative rotation": func(c *Config) { c.RotateBytes = -1 },
		"port too high":     func(c *Config) { c.Metrics.Port = 70000 },
		"short interval":    func(c *Config) { c.ScanInterval = time.Millisecond },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, apperr.ErrConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
		})
	}
}

func TestConfig_WatermarkPath(t *testing.T) {
	cfg := validConfig()
	cfg.OutputFile = "/data/notes.json"
	if got := cfg.WatermarkPath(); got != "/data/notes.json.watermark" {
		t.Errorf("watermark path = %q", got)
	}
	cfg.StateFile = "/state/wm"
	if got := cfg.WatermarkPath(); got != "/state/wm" {
		t.Errorf("watermark path = %q", got)
	}
}

func TestConfig_YAMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("VAULTLOG_TEST_VAULT", "/notes")
	content := `vault_path: ${VAULTLOG_TEST_VAULT}
output_file: /var/log/notes.json
log_level: DEBUG
metrics_port: 9200
start_metrics_server: true
label_fields: [type, status]
scan_interval: 1m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Decode(path, cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.VaultPath != "/notes" {
		t.Errorf("vault_path = %q", cfg.VaultPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log_level = %v", cfg.LogLevel)
	}
	if cfg.Metrics.Port != 9200 || !cfg.Metrics.StartServer {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if len(cfg.LabelFields) != 2 || cfg.LabelFields[1] != "status" {
		t.Errorf("label_fields = %v", cfg.LabelFields)
	}
	if cfg.ScanInterval != time.Minute {
		t.Errorf("scan_interval = %v", cfg.ScanInterval)
	}
	if cfg.NoteExtension != ".md" {
		t.Errorf("defaults should survive: note_extension = %q", cfg.NoteExtension)
	}
}
