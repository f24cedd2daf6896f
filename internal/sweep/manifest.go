package sweep

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/zeebo/xxh3"
)

// ManifestFile is the ledger's file name inside the figs root.
const ManifestFile = "manifest.db"

const manifestSchema = `
CREATE TABLE IF NOT EXISTS sweeps (
	sweep_key     TEXT NOT NULL,
	task          TEXT NOT NULL,
	hparam        TEXT NOT NULL,
	hparam_values TEXT NOT NULL,
	repeats       INTEGER NOT NULL,
	fingerprint   TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	store_ext     TEXT NOT NULL,
	saved_at      TEXT NOT NULL,
	PRIMARY KEY (sweep_key, task)
);
`

// Entry describes one cached Result Matrix.
type Entry struct {
	SweepKey    string    `json:"sweep_key"`
	Task        Task      `json:"task"`
	HParam      string    `json:"hparam"`
	Values      []float64 `json:"values"`
	Repeats     int       `json:"repeats"`
	Fingerprint string    `json:"fingerprint"`
	RunID       string    `json:"run_id"`
	StoreExt    string    `json:"store_ext"`
	SavedAt     time.Time `json:"saved_at"`
}

// Manifest is a SQLite ledger of what each cached matrix was computed
// from. The cache files stay authoritative; the ledger only lets a later
// run notice that the sweep values changed underneath a file.
type Manifest struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// OpenManifest opens or creates the ledger at path. An empty path opens
// a private in-memory database.
func OpenManifest(path string) (*Manifest, error) {
	var dsn string
	if path == "" {
		dsn = "file::memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create manifest directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping manifest: %w", err)
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init manifest schema: %w", err)
	}

	return &Manifest{db: db, path: path}, nil
}

// Close closes the database.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// Path returns the database file, empty for in-memory ledgers.
func (m *Manifest) Path() string {
	return m.path
}

// Record inserts or replaces the entry for (SweepKey, Task).
func (m *Manifest) Record(ctx context.Context, e Entry) error {
	values, err := json.Marshal(e.Values)
	if err != nil {
		return fmt.Errorf("encode sweep values: %w", err)
	}
	if e.Fingerprint == "" {
		e.Fingerprint = Fingerprint(e.Values)
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO sweeps (sweep_key, task, hparam, hparam_values, repeats, fingerprint, run_id, store_ext, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sweep_key, task) DO UPDATE SET
			hparam = excluded.hparam,
			hparam_values = excluded.hparam_values,
			repeats = excluded.repeats,
			fingerprint = excluded.fingerprint,
			run_id = excluded.run_id,
			store_ext = excluded.store_ext,
			saved_at = excluded.saved_at`,
		e.SweepKey, string(e.Task), e.HParam, string(values), e.Repeats,
		e.Fingerprint, e.RunID, e.StoreExt, e.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}
	return nil
}

// Lookup returns the entry for (sweepKey, task), or nil if none exists.
func (m *Manifest) Lookup(ctx context.Context, sweepKey string, task Task) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.db.QueryRowContext(ctx, `
		SELECT sweep_key, task, hparam, hparam_values, repeats, fingerprint, run_id, store_ext, saved_at
		FROM sweeps WHERE sweep_key = ? AND task = ?`, sweepKey, string(task))

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sweep: %w", err)
	}
	return e, nil
}

// List returns every entry ordered by sweep key and task.
func (m *Manifest) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT sweep_key, task, hparam, hparam_values, repeats, fingerprint, run_id, store_ext, saved_at
		FROM sweeps ORDER BY sweep_key, task`)
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e       Entry
		task    string
		values  string
		savedAt string
	)
	if err := s.Scan(&e.SweepKey, &task, &e.HParam, &values, &e.Repeats,
		&e.Fingerprint, &e.RunID, &e.StoreExt, &savedAt); err != nil {
		return nil, err
	}
	e.Task = Task(task)
	if err := json.Unmarshal([]byte(values), &e.Values); err != nil {
		return nil, fmt.Errorf("decode sweep values: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, fmt.Errorf("decode saved_at: %w", err)
	}
	e.SavedAt = t
	return &e, nil
}

// Fingerprint hashes the exact bits of a sweep-value list, in order.
func Fingerprint(values []float64) string {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return strconv.FormatUint(xxh3.Hash(buf), 16)
}
