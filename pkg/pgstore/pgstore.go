// Copyright 2025 Certen Protocol
//
// Package pgstore is the Postgres-backed kv.KV implementation: the
// eventstore, snapshotstore, anchorstore, receipt, and globalledger
// packages are all keyed on a single ordered byte-string keyspace, so one
// Postgres-backed KV gives every one of them durable storage without a
// bespoke relational schema per store. Connection pooling and health
// checks follow the teacher's database.Client.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/certen/veritas-ledger/pkg/kv"
)

// Config configures the connection pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a Postgres-backed kv.KV / kv.Transactional implementation over
// a single key/value table.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres, applies the connection pool settings, and
// verifies connectivity with a ping. It does not create the backing
// table; call EnsureSchema for that.
func Open(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("pgstore: config URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	return &Store{db: db, logger: log.New(log.Writer(), "[PGStore] ", log.LstdFlags)}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS veritas_ledger_kv (
	key   BYTEA PRIMARY KEY,
	value BYTEA NOT NULL
)`

// EnsureSchema creates the backing table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM veritas_ledger_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get: %w", err)
	}
	return value, nil
}

func (s *Store) Set(key, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO veritas_ledger_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("pgstore: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(key []byte) error {
	if _, err := s.db.Exec(`DELETE FROM veritas_ledger_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

// Iterate calls fn for every key with the given prefix in ascending byte
// order, using Postgres's bytea comparison (ORDER BY key is already
// byte-lexicographic for BYTEA).
func (s *Store) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	rows, err := s.db.Query(`
		SELECT key, value FROM veritas_ledger_kv
		WHERE key >= $1 AND key < $2
		ORDER BY key`, prefix, prefixUpperBound(prefix))
	if err != nil {
		return fmt.Errorf("pgstore: iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("pgstore: iterate scan: %w", err)
		}
		if !fn(key, value) {
			break
		}
	}
	return rows.Err()
}

// RunInTransaction runs fn inside a single Postgres transaction; a non-nil
// return rolls back every write fn made.
func (s *Store) RunInTransaction(fn func(tx kv.KV) error) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("pgstore: begin transaction: %w", err)
	}
	txView := &txStore{tx: sqlTx}
	if err := fn(txView); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Printf("rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit transaction: %w", err)
	}
	return nil
}

// txStore mirrors Store's methods against an in-flight *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(`SELECT value FROM veritas_ledger_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: tx get: %w", err)
	}
	return value, nil
}

func (t *txStore) Set(key, value []byte) error {
	_, err := t.tx.Exec(`
		INSERT INTO veritas_ledger_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("pgstore: tx set: %w", err)
	}
	return nil
}

func (t *txStore) Delete(key []byte) error {
	if _, err := t.tx.Exec(`DELETE FROM veritas_ledger_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pgstore: tx delete: %w", err)
	}
	return nil
}

func (t *txStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	rows, err := t.tx.Query(`
		SELECT key, value FROM veritas_ledger_kv
		WHERE key >= $1 AND key < $2
		ORDER BY key`, prefix, prefixUpperBound(prefix))
	if err != nil {
		return fmt.Errorf("pgstore: tx iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("pgstore: tx iterate scan: %w", err)
		}
		if !fn(key, value) {
			break
		}
	}
	return rows.Err()
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, for use as an exclusive range bound.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
