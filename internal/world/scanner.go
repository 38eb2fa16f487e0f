package world

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"declnerd/internal/config"
	"declnerd/internal/decl"
	"declnerd/internal/logging"
)

// FileResult is what one scanned file produced: its fingerprint and the
// names it declares.
type FileResult struct {
	Path    string
	Hash    string
	Size    int64
	ModTime time.Time
	Decls   []decl.TypeName
}

// ScanResult aggregates one pass over a workspace root.
type ScanResult struct {
	Root         string
	Classes      map[decl.TypeName]*decl.ShallowClass
	Files        []FileResult
	FilesSeen    int
	FilesParsed  int
	SkippedLarge int
	ParseErrors  int
	Duration     time.Duration
}

// Scanner walks a workspace and extracts shallow declarations from every
// file a registered parser accepts. Files are parsed concurrently.
type Scanner struct {
	cfg      config.WorldConfig
	registry *ParserRegistry
	cache    *FileCache
}

// NewScanner builds a scanner. A nil registry gets the default parsers; a
// nil cache disables fingerprint caching.
func NewScanner(cfg config.WorldConfig, registry *ParserRegistry, cache *FileCache) *Scanner {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Scanner{cfg: cfg, registry: registry, cache: cache}
}

// Registry returns the parser registry the scanner routes through.
func (s *Scanner) Registry() *ParserRegistry {
	return s.registry
}

// Cache returns the fingerprint cache, or nil when caching is off.
func (s *Scanner) Cache() *FileCache {
	return s.cache
}

// Scan walks root and parses every matching file. Directories named in the
// ignore list and hidden directories are skipped. When two files declare
// the same name, the one with the lexicographically smaller path wins, so
// results do not depend on scheduling.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryWorld, "Scan")
	defer timer.Stop()

	result := &ScanResult{
		Root:    root,
		Classes: make(map[decl.TypeName]*decl.ShallowClass),
	}
	var mu sync.Mutex

	workers := s.cfg.ScanWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if path != root && (s.cfg.ShouldIgnore(name) || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.cfg.MatchesExtension(path) {
			return nil
		}

		mu.Lock()
		result.FilesSeen++
		mu.Unlock()

		if s.cfg.MaxFileBytes > 0 && info.Size() > s.cfg.MaxFileBytes {
			logging.WorldDebug("Skipping %s: %d bytes over limit", path, info.Size())
			mu.Lock()
			result.SkippedLarge++
			mu.Unlock()
			return nil
		}

		wg.Add(1)
		go func(path string, info os.FileInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			file, classes, err := s.scanFile(path, info)
			if err != nil {
				logging.Get(logging.CategoryWorld).Warn("Failed to scan %s: %v", path, err)
				mu.Lock()
				result.ParseErrors++
				mu.Unlock()
				return
			}

			mu.Lock()
			result.FilesParsed++
			result.Files = append(result.Files, *file)
			for _, sc := range classes {
				if prev, ok := result.Classes[sc.Name]; ok {
					if prev.Pos.File <= sc.Pos.File {
						logging.Get(logging.CategoryWorld).Warn(
							"Duplicate declaration of %s in %s, keeping %s",
							sc.Name, sc.Pos.File, prev.Pos.File)
						continue
					}
					logging.Get(logging.CategoryWorld).Warn(
						"Duplicate declaration of %s in %s, keeping %s",
						sc.Name, prev.Pos.File, sc.Pos.File)
				}
				result.Classes[sc.Name] = sc
			}
			mu.Unlock()
		}(path, info)

		return nil
	})

	wg.Wait()

	if s.cache != nil {
		if err := s.cache.Save(); err != nil {
			logging.Get(logging.CategoryWorld).Warn("Failed to save file cache: %v", err)
		}
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	result.Duration = time.Since(start)

	if walkErr != nil {
		return result, walkErr
	}
	logging.World("Scanned %s: %d files seen, %d parsed, %d classes in %v",
		root, result.FilesSeen, result.FilesParsed, len(result.Classes), result.Duration)
	return result, nil
}

// ScanFile extracts one file outside a full walk. The watcher calls this
// on change events.
func (s *Scanner) ScanFile(path string) (*FileResult, []*decl.ShallowClass, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	return s.scanFile(path, info)
}

func (s *Scanner) scanFile(path string, info os.FileInfo) (*FileResult, []*decl.ShallowClass, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if s.cache != nil {
		s.cache.Update(path, info, hash)
	}

	classes, err := s.registry.Parse(path, content)
	if err != nil {
		return nil, nil, err
	}

	file := &FileResult{
		Path:    path,
		Hash:    hash,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Decls:   make([]decl.TypeName, 0, len(classes)),
	}
	for _, sc := range classes {
		file.Decls = append(file.Decls, sc.Name)
	}
	return file, classes, nil
}

// HashFile hashes a file's content the way the scanner does, without
// loading it all into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
