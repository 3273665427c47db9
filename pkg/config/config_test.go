package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  address: 0.0.0.0
  port: 9090
storage:
  db_path: /var/lib/courier/db
limits:
  page_size: 25
  max_body_len: 2000
features:
  audio_attachments: true
retention:
  enabled: true
  cron: "0 3 * * *"
  max_age_days: 14
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("Addr=%s", cfg.Addr())
	}
	if cfg.Limits.PageSize != 25 || cfg.Limits.MaxBodyLen != 2000 {
		t.Fatalf("limits: %+v", cfg.Limits)
	}
	if !cfg.Features.AudioAttachments || !cfg.Retention.Enabled || cfg.Retention.MaxAgeDays != 14 {
		t.Fatalf("features/retention: %+v %+v", cfg.Features, cfg.Retention)
	}

	t.Setenv("COURIER_DB_PATH", "/tmp/override-db")
	t.Setenv("COURIER_LOG_LEVEL", "warn")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load with env: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/override-db" {
		t.Fatalf("env override lost: %s", cfg.Storage.DBPath)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level: %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("default addr: %s", cfg.Addr())
	}
}
