package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rpattn/modelvc/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.File != "" {
		t.Fatalf("expected no config file, got %q", cfg.File)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := writeConfig(t, `
database:
  host: db.internal
  port: 6543
  dbname: models
store:
  driver: Memory
log:
  level: debug
  development: true
permissions:
  allowed_actions: [View, Search]
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.File != filepath.Join(dir, "config.yaml") {
		t.Fatalf("unexpected config file %q", cfg.File)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 || cfg.Database.DBName != "models" {
		t.Fatalf("database section not applied: %+v", cfg.Database)
	}
	if cfg.Database.User != "postgres" {
		t.Fatalf("expected unset keys to keep defaults, got user %q", cfg.Database.User)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Fatalf("expected lower-cased driver, got %q", cfg.Store.Driver)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Development {
		t.Fatalf("log section not applied: %+v", cfg.Log)
	}
	want := []domain.EntityAction{domain.EntityActionView, domain.EntityActionSearch}
	if !reflect.DeepEqual(cfg.AllowedActions, want) {
		t.Fatalf("expected %v, got %v", want, cfg.AllowedActions)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "database:\n  host: from-file\n")
	t.Setenv("MODELVC_DATABASE_HOST", "from-env")
	t.Setenv("MODELVC_PERMISSIONS_ALLOWED_ACTIONS", "View,Create")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Host != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Database.Host)
	}
	want := []domain.EntityAction{domain.EntityActionView, domain.EntityActionCreate}
	if !reflect.DeepEqual(cfg.AllowedActions, want) {
		t.Fatalf("expected %v, got %v", want, cfg.AllowedActions)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver": "store:\n  driver: sqlite\n",
		"action": "permissions:\n  allowed_actions: [Export]\n",
		"syntax": "database: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}
