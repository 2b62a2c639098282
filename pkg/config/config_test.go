package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.AutoImportThreshold != 80 {
		t.Fatalf("expected default threshold 80, got %d", cfg.Ingest.AutoImportThreshold)
	}
	if cfg.Ingest.MinExtractionConfidence != 30 {
		t.Fatalf("expected default extraction floor 30, got %d", cfg.Ingest.MinExtractionConfidence)
	}
	if cfg.Queue.Attempts != 3 || cfg.Queue.Backoff != 2*time.Second {
		t.Fatalf("unexpected queue retry defaults: %d attempts, %v backoff", cfg.Queue.Attempts, cfg.Queue.Backoff)
	}
	if cfg.Scheduler.RefreshWindow != time.Hour {
		t.Fatalf("expected 1h refresh window, got %v", cfg.Scheduler.RefreshWindow)
	}
	if cfg.Ingest.MessageTimeout != 5*time.Minute {
		t.Fatalf("expected 5m message timeout, got %v", cfg.Ingest.MessageTimeout)
	}
	if !cfg.Triage.Enabled || !cfg.Triage.AutoClassifyEnabled {
		t.Fatalf("triage should be enabled by default")
	}
}

func TestLoadFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret-key")
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: /tmp/inbox.db
ai:
  provider: gemini
  gemini_api_key: ${TEST_GEMINI_KEY}
  timeout: 15s
triage:
  enabled: true
  auto_classify_enabled: false
scheduler:
  poll_interval: 1m
queue:
  attempts: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.GeminiAPIKey != "secret-key" {
		t.Fatalf("expected expanded api key, got %q", cfg.AI.GeminiAPIKey)
	}
	if cfg.AI.Timeout != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %v", cfg.AI.Timeout)
	}
	if cfg.Triage.AutoClassifyEnabled {
		t.Fatalf("expected auto classification to be disabled")
	}
	if cfg.Scheduler.PollInterval != time.Minute {
		t.Fatalf("expected 1m poll interval, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Queue.Attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.Queue.Attempts)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad duration": "database:\n  driver: sqlite\n  dsn: x\nscheduler:\n  poll_interval: soon\n",
		"bad driver":   "database:\n  driver: mysql\n  dsn: x\n",
		"amqp no url":  "database:\n  driver: sqlite\n  dsn: x\nqueue:\n  backend: amqp\n",
		"threshold":    "database:\n  driver: sqlite\n  dsn: x\ningest:\n  auto_import_threshold: 120\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("AMQP_URL", "")
			t.Setenv("DATABASE_DRIVER", "")
			t.Setenv("DATABASE_URL", "")
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/inbox")
	t.Setenv("DATABASE_DRIVER", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(cfg.Database.DSN, "postgres://") || cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
}
