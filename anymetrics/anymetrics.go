// Package anymetrics records per-epoch training scalars.
package anymetrics

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/essentials"
	_ "modernc.org/sqlite"
)

// A Recorder consumes the scalars of an epoch.
type Recorder interface {
	Record(epoch int, scalars map[string]float64) error
}

// SQLite records scalars in a SQLite database, one row per
// scalar.
type SQLite struct {
	DB    *sql.DB
	RunID string
}

// OpenSQLite opens (or creates) the database at path and
// ensures its schema.
func OpenSQLite(path, runID string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, essentials.AddCtx("open metrics", err)
	}
	s := &SQLite{DB: db, RunID: runID}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, essentials.AddCtx("open metrics", err)
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scalars (
            run_id TEXT NOT NULL,
            epoch INTEGER NOT NULL,
            name TEXT NOT NULL,
            value REAL NOT NULL,
            recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (run_id, epoch, name)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_scalars_name ON scalars(name);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record writes all scalars of an epoch in one
// transaction, replacing values recorded earlier for the
// same run, epoch and name.
func (s *SQLite) Record(epoch int, scalars map[string]float64) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return essentials.AddCtx("record metrics", err)
	}
	for _, name := range sortedNames(scalars) {
		_, err := tx.Exec(`INSERT OR REPLACE INTO scalars (run_id, epoch, name, value) VALUES (?, ?, ?, ?);`,
			s.RunID, epoch, name, scalars[name])
		if err != nil {
			tx.Rollback()
			return essentials.AddCtx("record metrics", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return essentials.AddCtx("record metrics", err)
	}
	return nil
}

// Series reads the values of a scalar for the run, ordered
// by epoch.
func (s *SQLite) Series(name string) (epochs []int, values []float64, err error) {
	rows, err := s.DB.Query(`SELECT epoch, value FROM scalars WHERE run_id=? AND name=? ORDER BY epoch;`,
		s.RunID, name)
	if err != nil {
		return nil, nil, essentials.AddCtx("read metrics", err)
	}
	defer rows.Close()
	for rows.Next() {
		var epoch int
		var value float64
		if err := rows.Scan(&epoch, &value); err != nil {
			return nil, nil, essentials.AddCtx("read metrics", err)
		}
		epochs = append(epochs, epoch)
		values = append(values, value)
	}
	return epochs, values, rows.Err()
}

// Close closes the underlying DB.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// Memory keeps recorded scalars in memory.
type Memory struct {
	lock   sync.Mutex
	epochs []int
	values []map[string]float64
}

// Record stores a copy of the scalars.
func (m *Memory) Record(epoch int, scalars map[string]float64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	cp := make(map[string]float64, len(scalars))
	for k, v := range scalars {
		cp[k] = v
	}
	m.epochs = append(m.epochs, epoch)
	m.values = append(m.values, cp)
	return nil
}

// Epoch returns the scalars recorded for an epoch, or nil.
func (m *Memory) Epoch(epoch int) map[string]float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i, e := range m.epochs {
		if e == epoch {
			return m.values[i]
		}
	}
	return nil
}

// Epochs returns the recorded epochs in order.
func (m *Memory) Epochs() []int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]int{}, m.epochs...)
}

// Multi records to several recorders, stopping at the
// first error.
type Multi []Recorder

// Record records to every recorder.
func (m Multi) Record(epoch int, scalars map[string]float64) error {
	for i, r := range m {
		if err := r.Record(epoch, scalars); err != nil {
			return fmt.Errorf("recorder %d: %w", i, err)
		}
	}
	return nil
}

func sortedNames(scalars map[string]float64) []string {
	names := make([]string, 0, len(scalars))
	for name := range scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
