// Package storage defines the backend-agnostic sink contract for the
// warehouse. Backends register themselves by kind from init() and are
// selected by config; the loader and pipeline never import a backend
// package directly.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to construct a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// PolicyKind selects how a table's Upsert treats identity-key conflicts.
type PolicyKind string

const (
	// InsertIgnore inserts a row only when no existing row shares the
	// identity key; conflicting incoming rows are silently discarded.
	InsertIgnore PolicyKind = "insert_ignore"
	// UpsertMerge inserts when absent; on conflict only the named update
	// columns are overwritten, everything else keeps its first-seen value.
	UpsertMerge PolicyKind = "upsert_merge"
	// Append inserts unconditionally (no identity key).
	Append PolicyKind = "append"
)

// ConflictPolicy is the per-table conflict rule applied by Upsert.
type ConflictPolicy struct {
	Kind PolicyKind `json:"kind"`
	// KeyColumns is the identity key. Required unless Kind is Append.
	KeyColumns []string `json:"key_columns,omitempty"`
	// UpdateColumns are the mutable columns overwritten on conflict.
	// Only meaningful for UpsertMerge.
	UpdateColumns []string `json:"update_columns,omitempty"`
}

// Repository is the tabular sink the pipeline loads into.
//
// IMPORTANT: the interface is intentionally minimal. Each backend implements
// the conflict semantics in its own idiomatic way (Postgres ON CONFLICT,
// SQLite OR IGNORE / upsert clause, SQL Server MERGE); callers must be able
// to re-run the whole pipeline over the same input without observing
// duplicate rows or mutated identity fields.
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureTables creates the tables and their backing constraints with
	// create-if-not-exists semantics; safe to call at every run start.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DropTables removes the tables if they exist. Used by recreate runs.
	DropTables(ctx context.Context, tables []TableSpec) error

	// Upsert writes rows into table under the given conflict policy and
	// returns the number of rows actually written (conflicting rows that
	// the policy discarded are not counted).
	Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy ConflictPolicy) (int64, error)

	// CountRows returns the current row count of a table. Used by run
	// summaries and verification, never by the transform stages.
	CountRows(ctx context.Context, table string) (int64, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering
// the same kind twice panics: failing fast beats ambiguous backend
// selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns (a connection
//     failure here is the pipeline's fatal sink-connection case).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
