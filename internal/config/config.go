package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied to fields the config file leaves out.
const (
	DefaultRefreshTimeout     = 120 * time.Second
	DefaultValidationAttempts = 3
	DefaultValidationDelay    = 10 * time.Second
)

// CaptureSpec names one worksheet region to render. Range may be an
// explicit "A1:D20" rectangle or a bare anchor cell, in which case the
// capture expands to the current region around the anchor.
type CaptureSpec struct {
	SheetName string `mapstructure:"sheet_name"`
	Range     string `mapstructure:"range"`
	Name      string `mapstructure:"name"`
}

// Validation configures the freshness-indicator check that runs between
// refresh and capture.
type Validation struct {
	CheckRange     string        `mapstructure:"check_range"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	NotifyMessage  string        `mapstructure:"notify_message"`
	NotifyUsers    []string      `mapstructure:"notify_users"`
	WarningWebhook string        `mapstructure:"warning_webhook"`
}

// Attachment configures an optional file sent after the screenshots.
type Attachment struct {
	Path      string `mapstructure:"path"`
	UploadURL string `mapstructure:"upload_url"`
}

// Schedule holds the daily trigger times (HH:MM, local time) and the
// primary delivery webhook.
type Schedule struct {
	Times   []string `mapstructure:"times"`
	Webhook string   `mapstructure:"webhook"`
}

// Task is one report job: a source workbook, its triggers, the regions
// to capture and where to deliver them. Immutable after load.
type Task struct {
	Name           string        `mapstructure:"name"`
	SourcePath     string        `mapstructure:"source_path"`
	Schedule       Schedule      `mapstructure:"schedule"`
	Captures       []CaptureSpec `mapstructure:"captures"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	Validation     *Validation   `mapstructure:"validation"`
	Attachment     *Attachment   `mapstructure:"attachment"`
}

// WarningWebhook returns the endpoint for failure notifications,
// falling back to the primary webhook when none is configured.
func (t Task) WarningWebhook() string {
	if t.Validation != nil && t.Validation.WarningWebhook != "" {
		return t.Validation.WarningWebhook
	}
	return t.Schedule.Webhook
}

type Config struct {
	BridgeURL   string `mapstructure:"bridge_url"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Tasks       []Task `mapstructure:"tasks"`
}

// Load reads and validates the task configuration. Any validation error
// is fatal to startup: a task that cannot run must never be scheduled.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("bridge_url", "http://localhost:9090")
	v.SetDefault("metrics_addr", ":8082")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Tasks) == 0 {
		return Config{}, fmt.Errorf("config %s: no tasks defined", path)
	}

	for i := range cfg.Tasks {
		if err := validateTask(&cfg.Tasks[i]); err != nil {
			return Config{}, fmt.Errorf("task %d: %w", i, err)
		}
	}

	return cfg, nil
}

// validateTask checks required fields and fills defaults in place.
func validateTask(t *Task) error {
	if t.SourcePath == "" {
		return fmt.Errorf("missing source_path")
	}
	if _, err := os.Stat(t.SourcePath); err != nil {
		return fmt.Errorf("source_path: %w", err)
	}
	if len(t.Schedule.Times) == 0 {
		return fmt.Errorf("missing schedule.times")
	}
	for _, ts := range t.Schedule.Times {
		if _, err := time.Parse("15:04", ts); err != nil {
			return fmt.Errorf("schedule.times: bad time %q", ts)
		}
	}
	if t.Schedule.Webhook == "" {
		return fmt.Errorf("missing schedule.webhook")
	}
	if len(t.Captures) == 0 {
		return fmt.Errorf("missing captures")
	}
	for i, c := range t.Captures {
		if c.SheetName == "" || c.Range == "" || c.Name == "" {
			return fmt.Errorf("captures[%d]: sheet_name, range and name are required", i)
		}
	}

	if t.Name == "" {
		t.Name = filepath.Base(t.SourcePath)
	}
	if t.RefreshTimeout <= 0 {
		t.RefreshTimeout = DefaultRefreshTimeout
	}
	if v := t.Validation; v != nil {
		if v.CheckRange == "" {
			return fmt.Errorf("validation.check_range is required")
		}
		if v.MaxAttempts <= 0 {
			v.MaxAttempts = DefaultValidationAttempts
		}
		if v.RetryDelay <= 0 {
			v.RetryDelay = DefaultValidationDelay
		}
	}
	if a := t.Attachment; a != nil {
		if a.Path == "" || a.UploadURL == "" {
			return fmt.Errorf("attachment: path and upload_url are required")
		}
	}
	return nil
}
