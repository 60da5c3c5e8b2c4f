package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realchat.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Store.Driver != DriverMemory || cfg.ConversationLimit != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9090"
allowed_origins: ["app.example.com", "*.example.org"]
store:
  driver: sqlite
  sqlite_path: /var/lib/realchat/chat.db
log:
  level: debug
  format: json
ws:
  max_conns: 500
  idle_timeout: 5m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.SQLitePath != "/var/lib/realchat/chat.db" {
		t.Errorf("unexpected store %+v", cfg.Store)
	}
	if cfg.WS.MaxConns != 500 || cfg.WS.IdleTimeout != 5*time.Minute {
		t.Errorf("unexpected ws %+v", cfg.WS)
	}
	// Untouched keys keep their defaults.
	if cfg.ShutdownTimeout != 10*time.Second || cfg.WS.JoinRateLimit != 30 {
		t.Errorf("expected defaults to survive, got %+v", cfg)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "listen_addr: \":9090\"\nstore:\n  driver: memory\n")
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ALLOWED_ORIGINS", "a.example.com,b.example.com")
	t.Setenv("WS_IDLE_TIMEOUT", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" || cfg.Store.Driver != DriverRedis || cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("env did not override: %+v", cfg)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "a.example.com|b.example.com" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.WS.IdleTimeout != 90*time.Second {
		t.Errorf("expected 90s idle timeout, got %v", cfg.WS.IdleTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown driver", "store:\n  driver: mongo\n", "Driver"},
		{"sqlite without path", "store:\n  driver: sqlite\n  sqlite_path: \"\"\n", "SQLitePath"},
		{"bad log level", "log:\n  level: chatty\n", "Level"},
		{"zero conversation limit", "conversation_limit: 0\n", "ConversationLimit"},
		{"negative max conns", "ws:\n  max_conns: -1\n", "MaxConns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected validation errors, got %v", err)
			}
			if verrs[0].Field() != tt.field {
				t.Errorf("expected failure on %s, got %s", tt.field, verrs[0].Field())
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	if _, err := Load(writeFile(t, "listen_adr: \":1\"\n")); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("WS_MAX_CONNS", "lots")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown", "conn", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above warn, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["msg"] != "shown" || rec["conn"] != "c1" {
		t.Errorf("unexpected record %v", rec)
	}

	if _, err := (LogConfig{Level: "loud", Format: "text"}).NewLogger(&buf); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := (LogConfig{Level: "info", Format: "xml"}).NewLogger(&buf); err == nil {
		t.Error("expected error for unknown format")
	}
}
