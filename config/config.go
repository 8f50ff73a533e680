// Package config loads ClawForge's startup configuration: compiled-in
// defaults, then an optional TOML file, then environment variables, which
// win over everything. This is the ambient process-configuration loader,
// not the agent-manifest system (that lives in agent.go/AgentSpec).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds every setting the cmd/clawforge binary needs to wire up the
// bus, the event store, the provider registry, and the HTTP API.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Provider ProviderConfig `toml:"provider"`
	Runtime  RuntimeConfig  `toml:"runtime"`
}

// ServerConfig is the HTTP API's bind configuration.
type ServerConfig struct {
	Port        int    `toml:"port"`
	BindAddress string `toml:"bind_address"`
}

// StoreConfig points at the embedded event store's database file.
type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

// LogConfig controls slog's minimum level.
type LogConfig struct {
	Level string `toml:"log_level"`
}

// ProviderConfig carries credentials for the built-in provider backends.
type ProviderConfig struct {
	OpenRouterAPIKey string `toml:"openrouter_api_key"`
	OllamaURL        string `toml:"ollama_url"`
}

// RuntimeConfig covers the bus and supervisor's extension knobs — settings
// the spec's external-interface table doesn't name but the EXPANDED
// components (bounded bus, hard budget enforcement) need at startup.
type RuntimeConfig struct {
	BusCapacity              int   `toml:"bus_capacity"`
	BudgetEnforcementEnabled bool  `toml:"budget_enforcement_enabled"`
	BudgetSoftLimitTokens    int64 `toml:"budget_soft_limit_tokens"`
}

// Default returns a Config with every field set to its compiled-in default.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 3000, BindAddress: "0.0.0.0"},
		Store:  StoreConfig{DBPath: "clawforge.db"},
		Log:    LogConfig{Level: "info"},
		Runtime: RuntimeConfig{
			BusCapacity:              256,
			BudgetEnforcementEnabled: false,
			BudgetSoftLimitTokens:    0,
		},
	}
}

// Load reads config in three layers: defaults, then path (if it exists and
// parses), then environment variables, which win over both. path defaults
// to "clawforge.toml" in the working directory when empty.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "clawforge.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("CLAWFORGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("CLAWFORGE_BIND_ADDRESS"); v != "" {
		cfg.Server.BindAddress = v
	}
	if v := os.Getenv("CLAWFORGE_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("CLAWFORGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CLAWFORGE_OPENROUTER_API_KEY"); v != "" {
		cfg.Provider.OpenRouterAPIKey = v
	}
	if v := os.Getenv("CLAWFORGE_OLLAMA_URL"); v != "" {
		cfg.Provider.OllamaURL = v
	}
	if v := os.Getenv("CLAWFORGE_BUS_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.BusCapacity = n
		}
	}
	if v := os.Getenv("CLAWFORGE_BUDGET_ENFORCEMENT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Runtime.BudgetEnforcementEnabled = b
		}
	}
	if v := os.Getenv("CLAWFORGE_BUDGET_SOFT_LIMIT_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Runtime.BudgetSoftLimitTokens = n
		}
	}

	return cfg
}
