package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Runtime.BusCapacity != 256 {
		t.Errorf("expected bus capacity 256, got %d", cfg.Runtime.BusCapacity)
	}
	if cfg.Runtime.BudgetEnforcementEnabled {
		t.Error("expected budget enforcement disabled by default")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
port = 9090
bind_address = "127.0.0.1"

[runtime]
budget_enforcement_enabled = true
`), 0644)

	cfg := Load(path)
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.BindAddress != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1, got %s", cfg.Server.BindAddress)
	}
	if !cfg.Runtime.BudgetEnforcementEnabled {
		t.Error("expected budget enforcement enabled from TOML")
	}
	// Defaults preserved for anything the file didn't set.
	if cfg.Store.DBPath != "clawforge.db" {
		t.Errorf("default db_path should be preserved, got %s", cfg.Store.DBPath)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CLAWFORGE_PORT", "7000")
	t.Setenv("CLAWFORGE_OPENROUTER_API_KEY", "env-key")
	t.Setenv("CLAWFORGE_BUDGET_ENFORCEMENT_ENABLED", "true")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Server.Port != 7000 {
		t.Errorf("expected 7000, got %d", cfg.Server.Port)
	}
	if cfg.Provider.OpenRouterAPIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.Provider.OpenRouterAPIKey)
	}
	if !cfg.Runtime.BudgetEnforcementEnabled {
		t.Error("expected budget enforcement enabled from env")
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
port = 9090
`), 0644)
	t.Setenv("CLAWFORGE_PORT", "7000")

	cfg := Load(path)
	if cfg.Server.Port != 7000 {
		t.Errorf("expected env to win over TOML, got %d", cfg.Server.Port)
	}
}
