// Package store persists programs and run records in a SQL database.
// Programs are content-addressed by the SHA-256 of their code; runs are
// keyed by UUID and carry their full record as a CBOR payload.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/pkg/wire"
	"github.com/chazu/ijvm/vm"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// ErrNotFound indicates the requested program or run doesn't exist.
var ErrNotFound = errors.New("not found")

var log = commonlog.GetLogger("ijvm.store")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code BLOB NOT NULL,
		max_locals INTEGER NOT NULL,
		payload BLOB NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		program_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL,
		steps BIGINT NOT NULL,
		payload BLOB NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// Store is a program and run repository. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string

	// Decoded programs by hash. Entries never change once written.
	mu       sync.RWMutex
	programs map[string]*bytecode.Program
}

// Open opens (creating if needed) a store. For sqlite, path is a file name
// or ":memory:"; for duckdb an empty path is an in-memory database.
func Open(driver, path string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverDuckDB:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases coherent and
		// serializes writers.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating table: %w", err)
		}
	}

	log.Infof("opened %s store at %q", driver, path)
	return &Store{
		db:       db,
		driver:   driver,
		programs: make(map[string]*bytecode.Program),
	}, nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutProgram stores p and returns its content hash. Storing the same code
// again is a no-op.
func (s *Store) PutProgram(ctx context.Context, p *bytecode.Program) (string, error) {
	rec := wire.NewProgramRecord(p)
	payload, err := wire.MarshalProgram(rec)
	if err != nil {
		return "", fmt.Errorf("encoding program: %w", err)
	}

	hash := rec.HashString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (hash, name, code, max_locals, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (hash) DO NOTHING`,
		hash, p.Name, p.Code, p.MaxLocals, payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.programs[hash]; !ok {
		s.programs[hash] = p
	}
	s.mu.Unlock()

	log.Debugf("stored program %s (%q, %d bytes)", hash, p.Name, len(p.Code))
	return hash, nil
}

// GetProgram loads and decodes the program with the given hash.
func (s *Store) GetProgram(ctx context.Context, hash string) (*bytecode.Program, error) {
	s.mu.RLock()
	p, ok := s.programs[hash]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM programs WHERE hash = ?", hash,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("program %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}

	rec, err := wire.UnmarshalProgram(payload)
	if err != nil {
		return nil, err
	}
	// The record must be filed under its own hash and its code must
	// still hash to it.
	if rec.HashString() != hash {
		return nil, fmt.Errorf("stored program %s: %w", hash, wire.ErrHashMismatch)
	}
	p, err = rec.Program()
	if err != nil {
		return nil, fmt.Errorf("stored program %s: %w", hash, err)
	}

	s.mu.Lock()
	s.programs[hash] = p
	s.mu.Unlock()
	return p, nil
}

// ProgramInfo summarizes a stored program.
type ProgramInfo struct {
	Hash      string    `json:"hash"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	MaxLocals int       `json:"max_locals"`
	CreatedAt time.Time `json:"created_at"`
}

// ListPrograms returns every stored program, oldest first.
func (s *Store) ListPrograms(ctx context.Context) ([]ProgramInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash, name, code, max_locals, created_at FROM programs ORDER BY created_at, hash")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []ProgramInfo
	for rows.Next() {
		var info ProgramInfo
		var code []byte
		var created int64
		if err := rows.Scan(&info.Hash, &info.Name, &code, &info.MaxLocals, &created); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		info.Size = len(code)
		info.CreatedAt = time.UnixMilli(created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// RecordRun stores the outcome of a run of the program with the given hash
// and returns the record, with a freshly assigned ID.
func (s *Store) RecordRun(ctx context.Context, hash string, res *vm.Result, runErr error) (*wire.RunRecord, error) {
	rec := wire.NewRunRecord(uuid.NewString(), hash, res, runErr)
	payload, err := wire.MarshalRun(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding run: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, program_hash, status, error, steps, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, hash, rec.Status.String(), rec.Error, rec.Steps, payload, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	log.Debugf("recorded run %s of %s: %s", rec.ID, hash, rec.Status)
	return rec, nil
}

// GetRun loads a run record by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*wire.RunRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM runs WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return wire.UnmarshalRun(payload)
}

// RunFilter selects runs for ListRuns. Zero fields match everything.
type RunFilter struct {
	ProgramHash string
	Status      wire.RunStatus
}

// ListRuns returns the runs matching f, oldest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]*wire.RunRecord, error) {
	query := "SELECT payload FROM runs WHERE 1 = 1"
	var args []any
	if f.ProgramHash != "" {
		query += " AND program_hash = ?"
		args = append(args, f.ProgramHash)
	}
	if f.Status != 0 {
		query += " AND status = ?"
		args = append(args, f.Status.String())
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*wire.RunRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec, err := wire.UnmarshalRun(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ProgramStats aggregates the recorded runs of one program.
type ProgramStats struct {
	Hash     string  `json:"hash"`
	Runs     int64   `json:"runs"`
	Faults   int64   `json:"faults"`
	AvgSteps float64 `json:"avg_steps"`
}

// RunStats aggregates recorded runs per program.
func (s *Store) RunStats(ctx context.Context) ([]ProgramStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT program_hash,
		       CAST(COUNT(*) AS BIGINT),
		       CAST(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS BIGINT),
		       CAST(AVG(steps) AS DOUBLE)
		FROM runs
		GROUP BY program_hash
		ORDER BY program_hash`, wire.RunFaulted.String())
	if err != nil {
		return nil, fmt.Errorf("aggregating runs: %w", err)
	}
	defer rows.Close()

	var out []ProgramStats
	for rows.Next() {
		var st ProgramStats
		if err := rows.Scan(&st.Hash, &st.Runs, &st.Faults, &st.AvgSteps); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
