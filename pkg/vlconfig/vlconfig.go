// Copyright 2025 Certen Protocol
//
// Package vlconfig loads the typed configuration tree veritas-ledger is
// wired from: storage backend selection, gate policy, snapshot/anchor
// policy, signer directory, global-ledger signature requirements, and the
// optional Ethereum anchor target. Configuration is YAML with
// ${VAR_NAME} / ${VAR_NAME:-default} environment substitution, matching
// the teacher's anchor configuration loader.
package vlconfig

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML carries human-readable values
// ("30s", "5m") instead of raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration tree for a veritas-ledger process.
type Config struct {
	Environment string `yaml:"environment"`

	Store        StoreSettings        `yaml:"store"`
	Gate         GateSettings         `yaml:"gate"`
	Snapshot     SnapshotSettings     `yaml:"snapshot"`
	GlobalLedger GlobalLedgerSettings `yaml:"global_ledger"`
	Signer       SignerSettings       `yaml:"signer"`
	Federation   FederationSettings   `yaml:"federation"`
	EthAnchor    EthAnchorSettings    `yaml:"eth_anchor"`
	BLS          BLSSettings          `yaml:"bls"`
	Metrics      MetricsSettings      `yaml:"metrics"`
	Logging      LoggingSettings      `yaml:"logging"`
}

// StoreSettings picks and configures the kv.KV backend the event,
// snapshot, anchor, receipt, and global-ledger stores share.
type StoreSettings struct {
	// Backend is "memory", "cometbftdb", or "postgres".
	Backend string `yaml:"backend"`

	CometBFTDB CometBFTDBSettings `yaml:"cometbftdb"`
	Postgres   PostgresSettings   `yaml:"postgres"`
}

// CometBFTDBSettings configures the embedded KV backend.
type CometBFTDBSettings struct {
	Backend string `yaml:"backend"` // "goleveldb" or "badgerdb"
	Dir     string `yaml:"dir"`
	Name    string `yaml:"name"`
}

// PostgresSettings configures the SQL-backed repositories in pkg/pgstore.
type PostgresSettings struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// GateSettings configures pkg/gate.Config.
type GateSettings struct {
	Immutability           ImmutabilitySettings  `yaml:"immutability"`
	Approval               ApprovalSettings      `yaml:"approval"`
	RBAC                   map[string][]string   `yaml:"rbac"`
	TrustBoundary          TrustBoundarySettings `yaml:"trust_boundary"`
	RequireLiabilityShield bool                  `yaml:"require_liability_shield"`
}

// ImmutabilitySettings configures the locked-state immutability window.
type ImmutabilitySettings struct {
	Enabled          bool     `yaml:"enabled"`
	LockedStates     []string `yaml:"locked_states"`
	LockAfterSeconds int64    `yaml:"lock_after_seconds"`
	AllowEventTypes  []string `yaml:"allow_event_types"`
}

// ApprovalSettings configures the approve/reject gate.
type ApprovalSettings struct {
	RequireSimulatedState bool     `yaml:"require_simulated_state"`
	RequireArtifacts      bool     `yaml:"require_artifacts"`
	RiskThreshold         float64  `yaml:"risk_threshold"`
	ElevatedRole          string   `yaml:"elevated_role"`
	ApproveRoles          []string `yaml:"approve_roles"`
	RejectRoles           []string `yaml:"reject_roles"`
}

// TrustBoundarySettings configures cross-origin and evidence-trust
// requirements.
type TrustBoundarySettings struct {
	MinEvidenceTrust       float64  `yaml:"min_evidence_trust"`
	RequireAttestation     []string `yaml:"require_attestation"`
	RequireFederationProof bool     `yaml:"require_federation_proof"`
}

// SnapshotSettings configures pkg/apply.SnapshotPolicy.
type SnapshotSettings struct {
	EveryNEvents    uint64 `yaml:"every_n_events"`
	Anchor          bool   `yaml:"anchor"`
	RetainSnapshots int    `yaml:"retain_snapshots"`
}

// GlobalLedgerSettings configures the tenant lane and signature policy
// stage 10 of the apply pipeline writes under.
type GlobalLedgerSettings struct {
	TenantID               string            `yaml:"tenant_id"`
	RequireSignature       bool              `yaml:"require_signature"`
	RequireSignatureByType map[string]bool   `yaml:"require_signature_by_type"`
	SigAlg                 string            `yaml:"sig_alg"` // "", HMAC_SHA256, ED25519, BLS12_381
	HMACKeyID              string            `yaml:"hmac_key_id"`
	HMACSecretEnv          string            `yaml:"hmac_secret_env"`
}

// SignerSettings configures the PEM-backed signer directory for signer
// binding (Ed25519/RSA/ECDSA) plus the deterministic BLS key path.
type SignerSettings struct {
	Directory []SignerKeySettings `yaml:"directory"`
}

// SignerKeySettings registers one signer_id -> public key.
type SignerKeySettings struct {
	SignerID  string `yaml:"signer_id"`
	Algorithm string `yaml:"algorithm"` // ed25519, rsa, ecdsa, bls12-381
	PEMPath   string `yaml:"pem_path"`
	BLSHex    string `yaml:"bls_hex"`
}

// FederationSettings configures cross-tenant federation defaults.
type FederationSettings struct {
	DefaultTenantB string `yaml:"default_tenant_b"`
}

// EthAnchorSettings configures the optional external-chain anchor target.
type EthAnchorSettings struct {
	Enabled         bool   `yaml:"enabled"`
	RPCURL          string `yaml:"rpc_url"`
	ChainID         int64  `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	PrivateKeyEnv   string `yaml:"private_key_env"`
}

// BLSSettings configures the signer process's own BLS key material.
type BLSSettings struct {
	Enabled  bool   `yaml:"enabled"`
	SignerID string `yaml:"signer_id"`
	TenantID string `yaml:"tenant_id"`
	KeyPath  string `yaml:"key_path"`
}

// MetricsSettings configures the Prometheus exporter.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingSettings configures per-component logging.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads a YAML configuration file at path, substituting ${VAR_NAME}
// references against the process environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vlconfig: read %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("vlconfig: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.CometBFTDB.Backend == "" {
		cfg.Store.CometBFTDB.Backend = "goleveldb"
	}
	if cfg.Store.CometBFTDB.Name == "" {
		cfg.Store.CometBFTDB.Name = "veritas-ledger"
	}
	if cfg.Store.Postgres.MaxOpenConns == 0 {
		cfg.Store.Postgres.MaxOpenConns = 25
	}
	if cfg.Store.Postgres.MaxIdleConns == 0 {
		cfg.Store.Postgres.MaxIdleConns = 5
	}
	if cfg.Store.Postgres.ConnMaxLifetime == 0 {
		cfg.Store.Postgres.ConnMaxLifetime = Duration(time.Hour)
	}
	if cfg.GlobalLedger.TenantID == "" {
		cfg.GlobalLedger.TenantID = "default"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks the fields Load cannot default away: a store backend
// must be resolvable, and an enabled eth-anchor target needs an RPC URL
// and contract address.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "cometbftdb", "postgres":
	default:
		return fmt.Errorf("vlconfig: unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.URL == "" {
		return fmt.Errorf("vlconfig: store.postgres.url is required when store.backend is postgres")
	}
	if c.EthAnchor.Enabled {
		if c.EthAnchor.RPCURL == "" {
			return fmt.Errorf("vlconfig: eth_anchor.rpc_url is required when eth_anchor.enabled is true")
		}
		if c.EthAnchor.ContractAddress == "" {
			return fmt.Errorf("vlconfig: eth_anchor.contract_address is required when eth_anchor.enabled is true")
		}
	}
	return nil
}
