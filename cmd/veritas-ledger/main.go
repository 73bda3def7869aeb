// Copyright 2025 Certen Protocol
//
// veritas-ledger is the demonstration entrypoint: it loads configuration,
// opens the configured storage backend, constructs every store, builds the
// signer directory, registers metrics, and assembles apply.Deps so a
// caller can drive apply_event end to end. It is not an HTTP API surface;
// SPEC_FULL.md scopes that out beyond this thin wiring binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/veritas-ledger/pkg/anchorstore"
	"github.com/certen/veritas-ledger/pkg/apply"
	"github.com/certen/veritas-ledger/pkg/crypto/bls"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/ethanchor"
	"github.com/certen/veritas-ledger/pkg/eventstore"
	"github.com/certen/veritas-ledger/pkg/gate"
	"github.com/certen/veritas-ledger/pkg/globalledger"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/metrics"
	"github.com/certen/veritas-ledger/pkg/pgstore"
	"github.com/certen/veritas-ledger/pkg/receipt"
	"github.com/certen/veritas-ledger/pkg/signer"
	"github.com/certen/veritas-ledger/pkg/snapshotstore"
	"github.com/certen/veritas-ledger/pkg/vlconfig"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (required)")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("veritas-ledger: -config is required")
	}

	cfg, err := vlconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("veritas-ledger: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("veritas-ledger: invalid config: %v", err)
	}
	log.Printf("veritas-ledger: environment=%s store.backend=%s", cfg.Environment, cfg.Store.Backend)

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("veritas-ledger: open store: %v", err)
	}
	defer closeStore()

	events := eventstore.New(store)
	snapshots := snapshotstore.New(store)
	anchors := anchorstore.New(store)
	receipts := receipt.New(store)
	ledger := globalledger.New(store)

	signerDir, err := buildSignerDirectory(cfg.Signer, cfg.BLS)
	if err != nil {
		log.Fatalf("veritas-ledger: build signer directory: %v", err)
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Printf("veritas-ledger: metrics listening on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("veritas-ledger: metrics server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Printf("veritas-ledger: metrics server shutdown error: %v", err)
			}
		}()
	}

	var ethClient *ethanchor.Client
	if cfg.EthAnchor.Enabled {
		ethClient, err = ethanchor.Dial(cfg.EthAnchor.RPCURL, cfg.EthAnchor.ChainID)
		if err != nil {
			log.Fatalf("veritas-ledger: dial eth_anchor: %v", err)
		}
		log.Printf("veritas-ledger: eth_anchor enabled, chain_id=%d contract=%s", cfg.EthAnchor.ChainID, cfg.EthAnchor.ContractAddress)
	}
	_ = ethClient // wired for an anchorstore caller's Stage 11 anchor policy; not invoked by this demonstration binary directly

	deps := apply.Deps{
		KV:           store,
		Events:       events,
		Snapshots:    snapshots,
		Anchors:      anchors,
		Receipts:     receipts,
		GlobalLedger: ledger,
		Signers:      signerDir,

		GateConfig: buildGateConfig(cfg.Gate),
		SnapshotPolicy: apply.SnapshotPolicy{
			EveryNEvents:    cfg.Snapshot.EveryNEvents,
			Anchor:          cfg.Snapshot.Anchor,
			RetainSnapshots: cfg.Snapshot.RetainSnapshots,
		},
		GlobalLedgerTarget: apply.GlobalLedgerTarget{
			TenantID: cfg.GlobalLedger.TenantID,
			Policy: globalledger.Policy{
				RequireSignature:       cfg.GlobalLedger.RequireSignature,
				RequireSignatureByType: cfg.GlobalLedger.RequireSignatureByType,
			},
		},
		Metrics: metricsRegistry,
	}

	log.Printf("veritas-ledger: ready (events=%T snapshots=%T anchors=%T receipts=%T ledger=%T)",
		deps.Events, deps.Snapshots, deps.Anchors, deps.Receipts, deps.GlobalLedger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("veritas-ledger: shutting down")
}

// openStore opens the configured kv.Transactional backend and returns a
// close func that is always safe to defer.
func openStore(cfg vlconfig.StoreSettings) (kv.Transactional, func(), error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemory(), func() {}, nil

	case "cometbftdb":
		db, err := dbm.NewGoLevelDB(cfg.CometBFTDB.Name, cfg.CometBFTDB.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open cometbftdb: %w", err)
		}
		adapter := kv.NewCometBFTAdapter(db)
		return adapter, func() { db.Close() }, nil

	case "postgres":
		store, err := pgstore.Open(pgstore.Config{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime.Duration(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildSignerDirectory registers every configured PEM/BLS signer key.
func buildSignerDirectory(cfg vlconfig.SignerSettings, blsCfg vlconfig.BLSSettings) (*signer.Directory, error) {
	dir := signer.NewDirectory()
	for _, key := range cfg.Directory {
		switch key.Algorithm {
		case "ed25519":
			pem, err := os.ReadFile(key.PEMPath)
			if err != nil {
				return nil, fmt.Errorf("read ed25519 pem for %s: %w", key.SignerID, err)
			}
			if err := dir.RegisterEd25519PEM(key.SignerID, string(pem)); err != nil {
				return nil, fmt.Errorf("register ed25519 key for %s: %w", key.SignerID, err)
			}
		case "rsa":
			pem, err := os.ReadFile(key.PEMPath)
			if err != nil {
				return nil, fmt.Errorf("read rsa pem for %s: %w", key.SignerID, err)
			}
			if err := dir.RegisterRSAPEM(key.SignerID, string(pem)); err != nil {
				return nil, fmt.Errorf("register rsa key for %s: %w", key.SignerID, err)
			}
		case "ecdsa":
			pem, err := os.ReadFile(key.PEMPath)
			if err != nil {
				return nil, fmt.Errorf("read ecdsa pem for %s: %w", key.SignerID, err)
			}
			if err := dir.RegisterECDSAPEM(key.SignerID, string(pem)); err != nil {
				return nil, fmt.Errorf("register ecdsa key for %s: %w", key.SignerID, err)
			}
		default:
			return nil, fmt.Errorf("signer %s: unknown algorithm %q", key.SignerID, key.Algorithm)
		}
	}

	if blsCfg.Enabled {
		km, err := bls.InitializeSignerBLSKey(blsCfg.SignerID, blsCfg.TenantID, blsCfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("initialize bls key: %w", err)
		}
		dir.RegisterBLS(blsCfg.SignerID, km.GetPublicKey())
	}

	return dir, nil
}

// buildGateConfig translates the YAML gate settings into gate.Config,
// keying every event-type map by decision.EventType.
func buildGateConfig(cfg vlconfig.GateSettings) gate.Config {
	lockedStates := make([]decision.State, 0, len(cfg.Immutability.LockedStates))
	for _, s := range cfg.Immutability.LockedStates {
		lockedStates = append(lockedStates, decision.State(s))
	}
	allowEventTypes := make(map[decision.EventType]bool, len(cfg.Immutability.AllowEventTypes))
	for _, t := range cfg.Immutability.AllowEventTypes {
		allowEventTypes[decision.EventType(t)] = true
	}

	rbac := make(map[decision.EventType][]string, len(cfg.RBAC))
	for eventType, roles := range cfg.RBAC {
		rbac[decision.EventType(eventType)] = roles
	}

	requireAttestation := make(map[decision.EventType]bool, len(cfg.TrustBoundary.RequireAttestation))
	for _, t := range cfg.TrustBoundary.RequireAttestation {
		requireAttestation[decision.EventType(t)] = true
	}

	return gate.Config{
		Immutability: gate.ImmutabilityConfig{
			Enabled:          cfg.Immutability.Enabled,
			LockedStates:     lockedStates,
			LockAfterSeconds: cfg.Immutability.LockAfterSeconds,
			AllowEventTypes:  allowEventTypes,
		},
		Approval: gate.ApprovalConfig{
			RequireSimulatedState: cfg.Approval.RequireSimulatedState,
			RequireArtifacts:      cfg.Approval.RequireArtifacts,
			RiskThreshold:         cfg.Approval.RiskThreshold,
			ElevatedRole:          cfg.Approval.ElevatedRole,
			ApproveRoles:          cfg.Approval.ApproveRoles,
			RejectRoles:           cfg.Approval.RejectRoles,
		},
		RBAC: gate.RBACConfig{RequiredRoles: rbac},
		TrustBoundary: gate.TrustBoundaryConfig{
			MinEvidenceTrust:       cfg.TrustBoundary.MinEvidenceTrust,
			RequireAttestation:     requireAttestation,
			RequireFederationProof: cfg.TrustBoundary.RequireFederationProof,
		},
		RequireLiabilityShield: cfg.RequireLiabilityShield,
	}
}
