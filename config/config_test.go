package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	if cfg.Storage.Backend != BackendLevelDB {
		t.Fatalf("unexpected backend %q", cfg.Storage.Backend)
	}
	if cfg.Sale.EscrowTag != "escrow" || cfg.Sale.HoldingTag != "escrow_token_account" {
		t.Fatalf("unexpected sale tags %+v", cfg.Sale)
	}
	if cfg.Runtime.LamportsPerByte != 10 {
		t.Fatalf("unexpected lamports per byte %d", cfg.Runtime.LamportsPerByte)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress || reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
	if err := reloaded.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/tokensale"
GenesisFile = "genesis.yaml"
Environment = "staging"

[storage]
Backend = "Bolt"

[sale]
EscrowTag = "sale"
HoldingTag = "sale_vault"

[runtime]
LamportsPerByte = 3

[rpc]
RateLimit = 5.5
Burst = 7
TrustedProxies = ["10.0.0.0/8", "127.0.0.1"]

[log]
Level = "debug"
File = "/var/log/tokensale.log"

[telemetry]
Traces = true
SampleRatio = 0.25

[indexer]
Enabled = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != BackendBolt {
		t.Fatalf("backend not normalised: %q", cfg.Storage.Backend)
	}
	if got := cfg.StoragePath(); got != filepath.Join("/var/lib/tokensale", "ledger.db") {
		t.Fatalf("unexpected storage path %q", got)
	}
	if got := cfg.IndexerPath(); got != filepath.Join("/var/lib/tokensale", "events.db") {
		t.Fatalf("unexpected indexer path %q", got)
	}
	if cfg.Sale.EscrowTag != "sale" || cfg.Sale.HoldingTag != "sale_vault" {
		t.Fatalf("unexpected tags %+v", cfg.Sale)
	}
	if cfg.Runtime.LamportsPerByte != 3 || cfg.RPC.RateLimit != 5.5 || cfg.RPC.Burst != 7 {
		t.Fatalf("unexpected runtime/rpc %+v %+v", cfg.Runtime, cfg.RPC)
	}
	if cfg.RPC.WriteTimeout != 15 {
		t.Fatalf("default write timeout not applied: %d", cfg.RPC.WriteTimeout)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
	if cfg.Environment != "staging" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected env/log %q %+v", cfg.Environment, cfg.Log)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestEnvOverridesJWTSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[rpc]\nJWTSecret = \"file-secret-0123456789\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvJWTSecret, "env-secret-0123456789")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.JWTSecret != "env-secret-0123456789" {
		t.Fatalf("env override not applied: %q", cfg.RPC.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":       func(c *Config) { c.Storage.Backend = "postgres" },
		"address":       func(c *Config) { c.RPCAddress = "no-port" },
		"empty tag":     func(c *Config) { c.Sale.EscrowTag = " " },
		"long tag":      func(c *Config) { c.Sale.HoldingTag = strings.Repeat("x", MaxSeedTagLength+1) },
		"same tags":     func(c *Config) { c.Sale.HoldingTag = c.Sale.EscrowTag },
		"short secret":  func(c *Config) { c.RPC.JWTSecret = "short" },
		"proxy":         func(c *Config) { c.RPC.TrustedProxies = []string{"not-an-ip"} },
		"sample ratio":  func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"negative rate": func(c *Config) { c.RPC.RateLimit = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
}
