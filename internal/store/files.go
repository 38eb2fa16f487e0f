package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"declnerd/internal/logging"
)

// FileRecord is the extraction manifest entry for one source file: what the
// scanner hashed and which classes it declared. Mod times are kept at
// second precision.
type FileRecord struct {
	Path    string
	Hash    string
	Size    int64
	ModTime time.Time
	Decls   []string
}

// ScanRun summarizes one pass over a workspace root.
type ScanRun struct {
	ID           string
	Root         string
	StartedAt    time.Time
	Duration     time.Duration
	FilesSeen    int
	FilesParsed  int
	ClassesFound int
}

// SaveFile upserts one extraction record.
func (s *DeclStore) SaveFile(rec *FileRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveFile")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	declsJSON, err := json.Marshal(rec.Decls)
	if err != nil {
		return fmt.Errorf("failed to encode decls for %s: %w", rec.Path, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO decl_files (path, hash, size, mod_time, decls, scanned_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET
		 hash = excluded.hash,
		 size = excluded.size,
		 mod_time = excluded.mod_time,
		 decls = excluded.decls,
		 scanned_at = CURRENT_TIMESTAMP`,
		rec.Path, rec.Hash, rec.Size, rec.ModTime.Unix(), string(declsJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save file record %s: %v", rec.Path, err)
		return err
	}

	logging.StoreDebug("Saved file record %s (%d decls)", rec.Path, len(rec.Decls))
	return nil
}

// LoadFile retrieves one extraction record, or ErrNotFound.
func (s *DeclStore) LoadFile(path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec FileRecord
	var modUnix int64
	var declsJSON string
	err := s.db.QueryRow(
		"SELECT path, hash, size, mod_time, decls FROM decl_files WHERE path = ?",
		path,
	).Scan(&rec.Path, &rec.Hash, &rec.Size, &modUnix, &declsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to load file record %s: %v", path, err)
		return nil, err
	}

	rec.ModTime = time.Unix(modUnix, 0)
	if declsJSON != "" {
		if err := json.Unmarshal([]byte(declsJSON), &rec.Decls); err != nil {
			return nil, fmt.Errorf("failed to decode decls for %s: %w", path, err)
		}
	}
	return &rec, nil
}

// DeleteFile removes one extraction record.
func (s *DeclStore) DeleteFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM decl_files WHERE path = ?", path); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to delete file record %s: %v", path, err)
		return err
	}
	logging.StoreDebug("Deleted file record %s", path)
	return nil
}

// ListFiles returns every recorded file path, sorted.
func (s *DeclStore) ListFiles() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT path FROM decl_files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// RecordScan persists the summary of one workspace scan.
func (s *DeclStore) RecordScan(run *ScanRun) error {
	timer := logging.StartTimer(logging.CategoryStore, "RecordScan")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO scan_runs (id, root, started_at, duration_ms, files_seen, files_parsed, classes_found)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.StartedAt.Unix(), run.Duration.Milliseconds(),
		run.FilesSeen, run.FilesParsed, run.ClassesFound,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to record scan %s: %v", run.ID, err)
		return err
	}

	logging.StoreDebug("Recorded scan %s: %d files, %d classes", run.ID, run.FilesSeen, run.ClassesFound)
	return nil
}

// LastScan returns the most recent scan summary, or ErrNotFound when no
// scan has run yet.
func (s *DeclStore) LastScan() (*ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run ScanRun
	var startedUnix, durationMs int64
	err := s.db.QueryRow(
		`SELECT id, root, started_at, duration_ms, files_seen, files_parsed, classes_found
		 FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&run.ID, &run.Root, &startedUnix, &durationMs,
		&run.FilesSeen, &run.FilesParsed, &run.ClassesFound)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(startedUnix, 0)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return &run, nil
}
