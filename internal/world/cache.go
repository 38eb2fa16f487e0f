package world

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// CacheEntry is the recorded fingerprint of one file.
type CacheEntry struct {
	Hash    string `json:"hash"`
	ModTime int64  `json:"mod_time"`
	Size    int64  `json:"size"`
}

// FileCache remembers file fingerprints across runs so the watcher can
// tell real content changes from spurious events, and so repeated scans
// skip re-hashing files whose size and mod time are unchanged. It lives
// under the workspace dot directory.
type FileCache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]CacheEntry
	dirty   bool
}

// NewFileCache loads the cache for a workspace, starting empty when no
// cache file exists or the file is corrupt.
func NewFileCache(workspaceRoot string) *FileCache {
	c := &FileCache{
		path:    filepath.Join(workspaceRoot, ".declnerd", "cache", "files.json"),
		entries: make(map[string]CacheEntry),
	}
	c.load()
	return c
}

func (c *FileCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.entries = make(map[string]CacheEntry)
	}
}

// Save writes the cache back if anything changed since load.
func (c *FileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return err
	}

	c.dirty = false
	return nil
}

// Get returns the recorded hash when the file's size and mod time still
// match the entry.
func (c *FileCache) Get(path string, info os.FileInfo) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return "", false
	}
	if entry.ModTime == info.ModTime().Unix() && entry.Size == info.Size() {
		return entry.Hash, true
	}
	return "", false
}

// Hash returns the last recorded hash regardless of freshness.
func (c *FileCache) Hash(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	return entry.Hash, ok
}

// Update records a file's current fingerprint.
func (c *FileCache) Update(path string, info os.FileInfo, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = CacheEntry{
		Hash:    hash,
		ModTime: info.ModTime().Unix(),
		Size:    info.Size(),
	}
	c.dirty = true
}

// Remove forgets a file, typically after it was deleted.
func (c *FileCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.dirty = true
	}
}

// Len returns the number of cached fingerprints.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
