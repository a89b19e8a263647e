// Package diagnostics persists the per-node numeric-issue counters that the
// metric-field pipeline absorbs instead of aborting construction:
// NumericSingularity (a Hessian-recovery normal matrix that could not be
// solved) and NonSPDRepair (an input tensor whose eigenvalues were silently
// replaced by their absolute values and clamped up to the SPD floor). It is
// grounded on the teacher's
// mat.DiskMatrix: a small SQLite-backed ledger opened against an in-memory
// database, written through a short-lived context per call.
package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const tableEvents = "events"

var storeSeq atomic.Uint64

// Kind identifies a counted diagnostic event.
type Kind string

const (
	// NumericSingularity marks a per-node Hessian normal-equation solve that
	// failed and was left as the zero Hessian.
	NumericSingularity Kind = "numeric_singularity"
	// NonSPDRepair marks a Constrain operand whose eigenvalues needed an
	// abs-and-clamp repair before combination.
	NonSPDRepair Kind = "non_spd_repair"
)

// Summary is a snapshot of the accumulated counters.
type Summary struct {
	NumericSingularities int
	NonSPDRepairs        int
}

// Store is a SQLite-backed counter ledger. The zero value is not usable;
// construct one with NewStore.
type Store struct {
	db *sql.DB
}

// NewStore opens an in-memory SQLite-backed ledger with its schema prepared.
func NewStore() (*Store, error) {
	// Each Store gets its own named in-memory database so that concurrent
	// Stores (e.g. one per test) never see each other's tables.
	id := storeSeq.Add(1)
	dsn := fmt.Sprintf("file:metricfield_diagnostics_%d?mode=memory", id)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	// A single persistent connection keeps the in-memory schema alive across
	// calls; the driver would otherwise open a fresh (empty) database on
	// every new connection it pools.
	db.SetMaxOpenConns(1)

	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Store{db: db}, nil
}

func prepareSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (kind TEXT PRIMARY KEY, count INTEGER NOT NULL DEFAULT 0)`, tableEvents)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record increments the counter for kind.
func (s *Store) Record(kind Kind) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (kind, count) VALUES (?, 1) ON CONFLICT(kind) DO UPDATE SET count = count + 1`, tableEvents)
	if _, err := s.db.ExecContext(ctx, sqlStr, string(kind)); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Summary reads back the accumulated counters.
func (s *Store) Summary() (Summary, error) {
	var out Summary
	if s == nil || s.db == nil {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT kind, count FROM %s`, tableEvents)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return out, errors.Wrap(err, "")
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return out, errors.Wrap(err, "")
		}
		switch Kind(kind) {
		case NumericSingularity:
			out.NumericSingularities = count
		case NonSPDRepair:
			out.NonSPDRepairs = count
		}
	}
	if err := rows.Err(); err != nil {
		return out, errors.Wrap(err, "")
	}
	return out, nil
}
