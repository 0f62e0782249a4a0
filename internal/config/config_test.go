package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coincross/exchange/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9000"
database:
  url: postgres://yaml/db
  ensure_schema: true
bank:
  endpoint: http://bank.local
  app_id: yaml-app
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")
	t.Setenv("BANK_APPID", "env-app")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("port = %q, env must win", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://yaml/db" || !cfg.Database.EnsureSchema {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Bank.Endpoint != "http://bank.local" {
		t.Errorf("bank endpoint = %q", cfg.Bank.Endpoint)
	}
	if cfg.Bank.AppID != "env-app" {
		t.Errorf("bank app id = %q, env must win", cfg.Bank.AppID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
