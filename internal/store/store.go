// Package store persists folded declarations, the dependency edges between
// them, and per-file extraction records in a local SQLite database. The
// provider uses it for warm starts, the watcher keeps it current, and the
// status command reads it back out.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
	"declnerd/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist. Call sites
// branch on it to distinguish a cache miss from a real failure.
var ErrNotFound = errors.New("store: not found")

// DeclStore is the SQLite-backed declaration cache. A single connection is
// used; cross-goroutine access is serialized by the mutex so that write
// transactions never interleave.
type DeclStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewDeclStore opens (or creates) the database at the given path.
func NewDeclStore(path string) (*DeclStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewDeclStore")
	defer timer.Stop()

	logging.Store("Opening declaration store at path: %s", path)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// WAL already provides crash recovery, so NORMAL is sufficient here.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &DeclStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Declaration store schema initialized")

	return store, nil
}

// initialize creates the required tables.
func (s *DeclStore) initialize() error {
	classTable := `
	CREATE TABLE IF NOT EXISTS decl_classes (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		file TEXT,
		hash TEXT NOT NULL,
		folded_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_classes_file ON decl_classes(file);
	`

	depTable := `
	CREATE TABLE IF NOT EXISTS decl_deps (
		dependent TEXT NOT NULL,
		dependency TEXT NOT NULL,
		kind TEXT NOT NULL,
		UNIQUE(dependent, dependency, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_dependent ON decl_deps(dependent);
	CREATE INDEX IF NOT EXISTS idx_deps_dependency ON decl_deps(dependency);
	`

	fileTable := `
	CREATE TABLE IF NOT EXISTS decl_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		size INTEGER DEFAULT 0,
		mod_time INTEGER DEFAULT 0,
		decls TEXT,
		scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	scanTable := `
	CREATE TABLE IF NOT EXISTS scan_runs (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		started_at INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		files_seen INTEGER DEFAULT 0,
		files_parsed INTEGER DEFAULT 0,
		classes_found INTEGER DEFAULT 0
	);
	`

	for _, schema := range []string{classTable, depTable, fileTable, scanTable} {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// SaveFolded upserts the folded form of one class. The stored hash covers
// the serialized JSON, so unchanged refolds can be detected cheaply.
func (s *DeclStore) SaveFolded(fc *decl.FoldedClass) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveFolded")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to encode folded class %s: %w", fc.Name, err)
	}
	sum := sha256.Sum256(blob)

	_, err = s.db.Exec(
		`INSERT INTO decl_classes (name, kind, file, hash, folded_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET
		 kind = excluded.kind,
		 file = excluded.file,
		 hash = excluded.hash,
		 folded_json = excluded.folded_json,
		 updated_at = CURRENT_TIMESTAMP`,
		string(fc.Name), string(fc.Kind), fc.Pos.File, hex.EncodeToString(sum[:]), string(blob),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save folded class %s: %v", fc.Name, err)
		return err
	}

	logging.StoreDebug("Saved folded class %s (%d bytes)", fc.Name, len(blob))
	return nil
}

// LoadFolded retrieves one folded class, or ErrNotFound.
func (s *DeclStore) LoadFolded(name decl.TypeName) (*decl.FoldedClass, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadFolded")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRow(
		"SELECT folded_json FROM decl_classes WHERE name = ?",
		string(name),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to load folded class %s: %v", name, err)
		return nil, err
	}

	var fc decl.FoldedClass
	if err := json.Unmarshal([]byte(blob), &fc); err != nil {
		return nil, fmt.Errorf("failed to decode folded class %s: %w", name, err)
	}
	return &fc, nil
}

// LoadAllFolded reads every folded class back into memory. The provider
// calls this once on warm start.
func (s *DeclStore) LoadAllFolded() (map[decl.TypeName]*decl.FoldedClass, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadAllFolded")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, folded_json FROM decl_classes")
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to load folded classes: %v", err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[decl.TypeName]*decl.FoldedClass)
	for rows.Next() {
		var name, blob string
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		var fc decl.FoldedClass
		if err := json.Unmarshal([]byte(blob), &fc); err != nil {
			return nil, fmt.Errorf("failed to decode folded class %s: %w", name, err)
		}
		out[decl.TypeName(name)] = &fc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.StoreDebug("Loaded %d folded classes from store", len(out))
	return out, nil
}

// DeleteFolded removes one class and its outgoing dependency edges.
func (s *DeclStore) DeleteFolded(name decl.TypeName) error {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteFolded")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM decl_classes WHERE name = ?", string(name)); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to delete folded class %s: %v", name, err)
		return err
	}
	if _, err := tx.Exec("DELETE FROM decl_deps WHERE dependent = ?", string(name)); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to delete deps of %s: %v", name, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logging.StoreDebug("Deleted folded class %s", name)
	return nil
}

// ListClasses returns every stored class name, sorted.
func (s *DeclStore) ListClasses() ([]decl.TypeName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name FROM decl_classes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []decl.TypeName
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, decl.TypeName(name))
	}
	return names, rows.Err()
}

// ReplaceDepsFor swaps the stored outgoing edges of one dependent for the
// given set, atomically.
func (s *DeclStore) ReplaceDepsFor(dependent decl.TypeName, deps []depgraph.DeclName) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceDepsFor")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM decl_deps WHERE dependent = ?", string(dependent)); err != nil {
		return err
	}
	for _, dep := range deps {
		_, err := tx.Exec(
			`INSERT INTO decl_deps (dependent, dependency, kind) VALUES (?, ?, ?)
			 ON CONFLICT(dependent, dependency, kind) DO NOTHING`,
			string(dependent), string(dep.Name), string(dep.Kind),
		)
		if err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to record dep %s -> %s: %v", dependent, dep.Name, err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logging.StoreDebug("Replaced deps of %s (%d edges)", dependent, len(deps))
	return nil
}

// DependentsOf returns every class with a direct edge onto the named one,
// sorted. Transitive reachability lives in the dependency graph, not here.
func (s *DeclStore) DependentsOf(dependency decl.TypeName) ([]decl.TypeName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT DISTINCT dependent FROM decl_deps WHERE dependency = ? ORDER BY dependent",
		string(dependency),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []decl.TypeName
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, decl.TypeName(name))
	}
	return names, rows.Err()
}

// AllDeps reads the whole edge table back, keyed by dependent. The
// provider replays it into a registrar on warm start.
func (s *DeclStore) AllDeps() (map[decl.TypeName][]depgraph.DeclName, error) {
	timer := logging.StartTimer(logging.CategoryStore, "AllDeps")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT dependent, dependency, kind FROM decl_deps ORDER BY dependent, dependency")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[decl.TypeName][]depgraph.DeclName)
	for rows.Next() {
		var dependent, dependency, kind string
		if err := rows.Scan(&dependent, &dependency, &kind); err != nil {
			return nil, err
		}
		out[decl.TypeName(dependent)] = append(out[decl.TypeName(dependent)], depgraph.DeclName{
			Kind: depgraph.DepKind(kind),
			Name: decl.TypeName(dependency),
		})
	}
	return out, rows.Err()
}

// Stats returns row counts per table.
func (s *DeclStore) Stats() (map[string]int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, table := range []string{"decl_classes", "decl_deps", "decl_files", "scan_runs"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// Path returns the database file path the store was opened with.
func (s *DeclStore) Path() string {
	return s.dbPath
}

// Close closes the underlying database.
func (s *DeclStore) Close() error {
	logging.Store("Closing declaration store at %s", s.dbPath)
	return s.db.Close()
}
