// Copyright 2025 Certen Protocol
package vlconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const testYAML = `
environment: ${VERITAS_TEST_ENV:-staging}
store:
  backend: postgres
  postgres:
    url: ${VERITAS_TEST_PG_URL}
    max_open_conns: 10
    conn_max_lifetime: 45m
gate:
  immutability:
    enabled: true
    locked_states: [PUBLISHED]
    lock_after_seconds: 60
  rbac:
    APPROVE: [approver, admin]
snapshot:
  every_n_events: 500
  anchor: true
global_ledger:
  tenant_id: tenant-a
  require_signature: true
eth_anchor:
  enabled: false
`

func TestLoadSubstitutesEnvVarsAndDefaults(t *testing.T) {
	os.Setenv("VERITAS_TEST_PG_URL", "postgres://example/db")
	defer os.Unsetenv("VERITAS_TEST_PG_URL")
	os.Unsetenv("VERITAS_TEST_ENV")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging (default)", cfg.Environment)
	}
	if cfg.Store.Postgres.URL != "postgres://example/db" {
		t.Errorf("postgres url = %q, want substituted value", cfg.Store.Postgres.URL)
	}
	if cfg.Store.Postgres.ConnMaxLifetime.Duration() != 45*time.Minute {
		t.Errorf("conn_max_lifetime = %v, want 45m", cfg.Store.Postgres.ConnMaxLifetime.Duration())
	}
	if cfg.Store.Postgres.MaxIdleConns != 5 {
		t.Errorf("max_idle_conns default = %d, want 5", cfg.Store.Postgres.MaxIdleConns)
	}
	if !cfg.Gate.Immutability.Enabled || cfg.Gate.Immutability.LockAfterSeconds != 60 {
		t.Errorf("immutability settings not parsed: %+v", cfg.Gate.Immutability)
	}
	if got := cfg.Gate.RBAC["APPROVE"]; len(got) != 2 || got[0] != "approver" {
		t.Errorf("rbac.APPROVE = %v, want [approver admin]", got)
	}
	if cfg.Snapshot.EveryNEvents != 500 || !cfg.Snapshot.Anchor {
		t.Errorf("snapshot settings not parsed: %+v", cfg.Snapshot)
	}
	if cfg.GlobalLedger.TenantID != "tenant-a" || !cfg.GlobalLedger.RequireSignature {
		t.Errorf("global_ledger settings not parsed: %+v", cfg.GlobalLedger)
	}
	if cfg.Metrics.Addr != ":9090" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics defaults not applied: %+v", cfg.Metrics)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	os.Setenv("VERITAS_TEST_ENV", "production")
	defer os.Unsetenv("VERITAS_TEST_ENV")
	os.Setenv("VERITAS_TEST_PG_URL", "postgres://example/db")
	defer os.Unsetenv("VERITAS_TEST_PG_URL")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "production" {
		t.Errorf("environment = %q, want production (from env)", cfg.Environment)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Store: StoreSettings{Backend: "sqlite"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestValidateRequiresPostgresURL(t *testing.T) {
	cfg := &Config{Store: StoreSettings{Backend: "postgres"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing postgres url")
	}
}

func TestValidateRequiresEthAnchorFields(t *testing.T) {
	cfg := &Config{
		Store:     StoreSettings{Backend: "memory"},
		EthAnchor: EthAnchorSettings{Enabled: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for eth_anchor enabled without rpc_url/contract_address")
	}

	cfg.EthAnchor.RPCURL = "https://example.invalid"
	cfg.EthAnchor.ContractAddress = "0xabc"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var wrapper struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 10s\n"), &wrapper); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wrapper.D.Duration() != 10*time.Second {
		t.Fatalf("got %v, want 10s", wrapper.D.Duration())
	}

	out, err := yaml.Marshal(wrapper)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "d: 10s\n" {
		t.Fatalf("marshaled = %q, want %q", out, "d: 10s\n")
	}
}
