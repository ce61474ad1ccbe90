package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml. It is loaded once and treated as immutable;
// the engine and scheduler receive it by injection so the escalation
// thresholds stay deterministic in tests.
type Config struct {
	Reference struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"reference"`

	Escalation struct {
		// Reminder window bounds, hours before deadline. The two-hour spread
		// absorbs jitter in when the hourly job actually runs.
		ReminderWindowStartHours int `yaml:"reminder_window_start_hours"`
		ReminderWindowEndHours   int `yaml:"reminder_window_end_hours"`
		// Hours overdue before each escalation tier fires.
		Tier1AfterHours int `yaml:"tier1_after_hours"`
		Tier2AfterHours int `yaml:"tier2_after_hours"`
	} `yaml:"escalation"`

	Attachments struct {
		MaxSizeMB         int      `yaml:"max_size_mb"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"attachments"`

	Scheduler struct {
		ReminderInterval string `yaml:"reminder_interval"`
		OverdueInterval  string `yaml:"overdue_interval"`
		DigestInterval   string `yaml:"digest_interval"`
	} `yaml:"scheduler"`

	Notifier struct {
		WebhookURL     string `yaml:"webhook_url"`
		RequestTimeout int    `yaml:"request_timeout_seconds"`
	} `yaml:"notifier"`
}

// ReminderWindow returns the window bounds as durations.
func (c *Config) ReminderWindow() (start, end time.Duration) {
	return time.Duration(c.Escalation.ReminderWindowStartHours) * time.Hour,
		time.Duration(c.Escalation.ReminderWindowEndHours) * time.Hour
}

func (c *Config) Tier1After() time.Duration {
	return time.Duration(c.Escalation.Tier1AfterHours) * time.Hour
}

func (c *Config) Tier2After() time.Duration {
	return time.Duration(c.Escalation.Tier2AfterHours) * time.Hour
}

func (c *Config) MaxAttachmentBytes() int64 {
	return int64(c.Attachments.MaxSizeMB) * 1024 * 1024
}

// ExtensionAllowed checks a filename extension (without dot) against the
// allow-list, case-insensitively.
func (c *Config) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.Attachments.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (c *Config) interval(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) ReminderInterval() time.Duration {
	return c.interval(c.Scheduler.ReminderInterval, time.Hour)
}

func (c *Config) OverdueInterval() time.Duration {
	return c.interval(c.Scheduler.OverdueInterval, 24*time.Hour)
}

func (c *Config) DigestInterval() time.Duration {
	return c.interval(c.Scheduler.DigestInterval, 24*time.Hour)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Reference.Prefix == "" {
		return fmt.Errorf("config.reference.prefix is required")
	}
	if strings.ContainsAny(c.Reference.Prefix, "-0123456789") {
		return fmt.Errorf("config.reference.prefix must not contain digits or dashes")
	}
	e := c.Escalation
	if e.ReminderWindowStartHours <= 0 || e.ReminderWindowEndHours <= e.ReminderWindowStartHours {
		return fmt.Errorf("config.escalation reminder window must be a positive range")
	}
	if e.Tier1AfterHours <= 0 {
		return fmt.Errorf("config.escalation.tier1_after_hours must be positive")
	}
	if e.Tier2AfterHours <= e.Tier1AfterHours {
		return fmt.Errorf("config.escalation.tier2_after_hours must exceed tier1_after_hours")
	}
	if c.Attachments.MaxSizeMB <= 0 {
		return fmt.Errorf("config.attachments.max_size_mb must be positive")
	}
	if len(c.Attachments.AllowedExtensions) == 0 {
		return fmt.Errorf("config.attachments.allowed_extensions is required")
	}
	for _, ext := range c.Attachments.AllowedExtensions {
		if ext == "" || strings.HasPrefix(ext, ".") {
			return fmt.Errorf("allowed extension %q must be bare (no dot)", ext)
		}
	}
	for _, raw := range []string{c.Scheduler.ReminderInterval, c.Scheduler.OverdueInterval, c.Scheduler.DigestInterval} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid scheduler interval %q: %w", raw, err)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields left out
// of the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the stock policy: 23-25h reminder window, 72h/120h
// escalation tiers, 2 MB attachments.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML for `tl config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `reference:
  prefix: TASK

escalation:
  reminder_window_start_hours: 23
  reminder_window_end_hours: 25
  tier1_after_hours: 72
  tier2_after_hours: 120

attachments:
  max_size_mb: 2
  allowed_extensions: [pdf, doc, docx, xls, xlsx, png, jpg, jpeg, txt]

scheduler:
  reminder_interval: 1h
  overdue_interval: 24h
  digest_interval: 24h

notifier:
  webhook_url: ""
  request_timeout_seconds: 10
`
