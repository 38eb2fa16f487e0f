package config

import "runtime"

// WorldConfig controls workspace scanning and source parsing.
type WorldConfig struct {
	// ScanWorkers caps concurrent parse workers during a workspace scan.
	ScanWorkers int `yaml:"scan_workers"`
	// Extensions lists the source file extensions the scanner picks up.
	Extensions []string `yaml:"extensions"`
	// IgnorePatterns skips matching paths/dirs (relative to workspace).
	IgnorePatterns []string `yaml:"ignore_patterns"`
	// MaxFileBytes skips parsing for files larger than this.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// DefaultWorldConfig returns defaults for workspace scanning.
func DefaultWorldConfig() WorldConfig {
	workers := runtime.NumCPU()
	if workers > 20 {
		workers = 20
	}
	if workers < 4 {
		workers = 4
	}
	return WorldConfig{
		ScanWorkers: workers,
		Extensions:  []string{".php", ".decl.json"},
		IgnorePatterns: []string{
			".git",
			".declnerd",
			"node_modules",
			"vendor",
			"dist",
			"build",
			".cache",
		},
		MaxFileBytes: 2 * 1024 * 1024,
	}
}

// ShouldIgnore reports whether a directory name matches the ignore list.
func (w *WorldConfig) ShouldIgnore(name string) bool {
	for _, p := range w.IgnorePatterns {
		if name == p {
			return true
		}
	}
	return false
}

// MatchesExtension reports whether a filename carries a scanned extension.
func (w *WorldConfig) MatchesExtension(name string) bool {
	for _, ext := range w.Extensions {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return true
		}
	}
	return false
}
