package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskline/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Reference.Prefix != "TASK" {
		t.Fatalf("prefix: %s", cfg.Reference.Prefix)
	}
	start, end := cfg.ReminderWindow()
	if start != 23*time.Hour || end != 25*time.Hour {
		t.Fatalf("reminder window: %v-%v", start, end)
	}
	if cfg.Tier1After() != 72*time.Hour || cfg.Tier2After() != 120*time.Hour {
		t.Fatalf("tiers: %v/%v", cfg.Tier1After(), cfg.Tier2After())
	}
	if cfg.MaxAttachmentBytes() != 2*1024*1024 {
		t.Fatalf("attachment cap: %d", cfg.MaxAttachmentBytes())
	}
	if !cfg.ExtensionAllowed("PDF") || !cfg.ExtensionAllowed(".docx") {
		t.Fatalf("extension matching should ignore case and a leading dot")
	}
	if cfg.ExtensionAllowed("exe") {
		t.Fatalf("exe must not be allowed by default")
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
reference:
  prefix: OPS
escalation:
  reminder_window_start_hours: 10
  reminder_window_end_hours: 12
  tier1_after_hours: 24
  tier2_after_hours: 48
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Reference.Prefix != "OPS" {
		t.Fatalf("prefix override lost: %s", cfg.Reference.Prefix)
	}
	if cfg.Tier1After() != 24*time.Hour {
		t.Fatalf("tier1 override lost")
	}
	// untouched sections keep their defaults
	if cfg.Attachments.MaxSizeMB != 2 {
		t.Fatalf("attachment default lost")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"digit in prefix", "reference:\n  prefix: TASK2\n"},
		{"inverted window", "escalation:\n  reminder_window_start_hours: 25\n  reminder_window_end_hours: 23\n"},
		{"tier2 below tier1", "escalation:\n  tier1_after_hours: 72\n  tier2_after_hours: 48\n"},
		{"dotted extension", "attachments:\n  allowed_extensions: ['.pdf']\n"},
		{"bad interval", "scheduler:\n  reminder_interval: often\n"},
	}
	for _, tc := range cases {
		if _, err := config.FromYAML([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Reference.Prefix != "TASK" {
		t.Fatalf("expected defaults, got %s", cfg.Reference.Prefix)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskline.yml")
	if err := os.WriteFile(path, []byte("reference:\n  prefix: OPS\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reference.Prefix != "OPS" {
		t.Fatalf("workspace file ignored")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template must parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated template must validate: %v", err)
	}
}
