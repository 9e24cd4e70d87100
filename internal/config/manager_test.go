package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  path: ./duewatch.db
  busy_timeout: 5s
mail:
  enabled: true
  host: smtp.example.com
  port: 587
  from: noreply@example.com
notify:
  lead_times: [30, 15, 7, 1]
  max_attempts: 5
  batch_pause: 2s
trigger:
  enabled: true
  timezone: America/Sao_Paulo
  sweep_every: 5m
  daily_at: ["08:00", "14:00", "20:00"]
  retention_at: "02:00"
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Mail.Host != "smtp.example.com" || cfg.Mail.Port != 587 {
		t.Errorf("mail = %+v", cfg.Mail)
	}
	if len(cfg.Notify.LeadTimes) != 4 || cfg.Notify.LeadTimes[0] != 30 {
		t.Errorf("lead_times = %v", cfg.Notify.LeadTimes)
	}
	if cfg.Notify.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Notify.MaxAttempts)
	}
	if cfg.Trigger.Timezone != "America/Sao_Paulo" || len(cfg.Trigger.DailyAt) != 3 {
		t.Errorf("trigger = %+v", cfg.Trigger)
	}
	if cfg.Telegram != nil {
		t.Errorf("telegram should be absent, got %+v", cfg.Telegram)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "storage": {"path": "./db.sqlite"},
  "mail": {"enabled": false, "host": "", "port": 0, "from": ""},
  "telegram": {"enabled": true, "token": "123:abc"},
  "notify": {},
  "logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}},
  "trigger": {"enabled": false}
}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram == nil || !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  path: ./db
  sync_mode: full
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage": {"path": "./db"}} {"extra": 1}`)
	_, err := NewManager(path).Parse()
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("want trailing-data error, got %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "2h30m"); err != nil || d != 2*time.Hour+30*time.Minute {
		t.Errorf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Error("bad duration must fail")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Errorf("empty must default, got %v, %v", d, err)
	}
}
