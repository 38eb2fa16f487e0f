// Package watch keeps the folded world current while sources change on
// disk. A Watcher follows filesystem events under the workspace root,
// debounces rapid saves, reparses settled files, and drives the provider's
// invalidate-and-refold cycle so readers always see folds that match the
// files.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"declnerd/internal/config"
	"declnerd/internal/decl"
	"declnerd/internal/logging"
	"declnerd/internal/provider"
	"declnerd/internal/store"
	"declnerd/internal/world"
)

// Watcher wires fsnotify events into the scanner, provider, and store.
// Events settle in a debounce window first, so an editor writing a file
// several times in quick succession triggers one reparse.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	cfg         *config.Config
	scanner     *world.Scanner
	prov        *provider.Provider
	st          *store.DeclStore
	root        string
	fileDecls   map[string][]decl.TypeName
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for status reporting and tests.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Refolds       int
	Invalidations int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// New builds a watcher for the workspace root. The store may be nil; the
// watcher then keeps only the in-memory world current.
func New(root string, cfg *config.Config, scanner *world.Scanner, prov *provider.Provider, st *store.DeclStore) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		cfg:         cfg,
		scanner:     scanner,
		prov:        prov,
		st:          st,
		root:        root,
		fileDecls:   make(map[string][]decl.TypeName),
		debounceMap: make(map[string]time.Time),
		debounceDur: cfg.GetDebounce(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Seed primes the path-to-declarations index from an initial scan, so the
// first change to a file can retire the declarations it used to hold.
func (w *Watcher) Seed(files []world.FileResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range files {
		w.fileDecls[f.Path] = append([]decl.TypeName(nil), f.Decls...)
	}
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirTree(w.root); err != nil {
		logging.WatchWarn("Initial watch of %s failed: %v", w.root, err)
	}

	go w.run(ctx)
	return nil
}

// Stop halts the event loop and waits for it to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("Closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

// Running reports whether the event loop is live.
func (w *Watcher) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Dirs returns the directories currently under watch.
func (w *Watcher) Dirs() []string {
	dirs := w.watcher.WatchList()
	sort.Strings(dirs)
	return dirs
}

// addDirTree watches dir and every non-ignored subdirectory. fsnotify
// does not recurse on its own.
func (w *Watcher) addDirTree(dir string) error {
	added := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			logging.WatchWarn("Walking %s: %v", path, walkErr)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != dir && (w.cfg.World.ShouldIgnore(name) || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.WatchWarn("Watching %s failed: %v", path, err)
			return nil
		}
		added++
		return nil
	})
	logging.Watch("Watching %d directories under %s", added, dir)
	return err
}

// run is the event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("Context cancelled")
			return

		case <-w.stopCh:
			logging.Watch("Stop signal received")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				logging.Watch("Event channel closed")
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				logging.Watch("Error channel closed")
				return
			}
			logging.WatchError("Watcher error: %v", err)
			w.bumpErrors()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

// handleEvent records a single filesystem event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.handleNewDir(event.Name)
			return
		}
	}
	if !w.cfg.World.MatchesExtension(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // chmod and friends
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// handleNewDir starts watching a directory created after startup and
// enqueues any matching files that arrived inside it, since their own
// create events predate the watch.
func (w *Watcher) handleNewDir(dir string) {
	name := filepath.Base(dir)
	if w.cfg.World.ShouldIgnore(name) || strings.HasPrefix(name, ".") {
		return
	}
	if err := w.addDirTree(dir); err != nil {
		logging.WatchWarn("Watching new directory %s failed: %v", dir, err)
	}

	filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() {
			return nil
		}
		if !w.cfg.World.MatchesExtension(path) {
			return nil
		}
		w.mu.Lock()
		w.stats.FilesCreated++
		w.debounceMap[path] = time.Now()
		w.mu.Unlock()
		return nil
	})
}

// processDebouncedEvents reparses files whose events have settled past
// the debounce window. Paths are handled in sorted order so refolds stay
// reproducible.
func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	toProcess := make([]string, 0)
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toProcess = append(toProcess, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(toProcess)
	for _, path := range toProcess {
		w.processPath(ctx, path)
	}
}

// processPath reparses one settled file, or retires it if it is gone.
func (w *Watcher) processPath(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			w.retireFile(ctx, path)
			return
		}
		logging.WatchError("Stat %s failed: %v", path, err)
		w.bumpErrors()
		return
	}

	var oldHash string
	if cache := w.scanner.Cache(); cache != nil {
		oldHash, _ = cache.Hash(path)
	}

	res, classes, err := w.scanner.ScanFile(path)
	if err != nil {
		logging.WatchError("Reparsing %s failed: %v", path, err)
		w.bumpErrors()
		return
	}
	if oldHash != "" && res.Hash == oldHash {
		logging.WatchDebug("Content of %s unchanged, skipping refold", path)
		return
	}

	w.applyFile(ctx, path, res, classes)
}

// applyFile folds a changed file into the live world: declarations it no
// longer holds are retired, its current declarations replace the shallow
// entries, every affected fold is dropped and recomputed, and the cache
// rows follow.
func (w *Watcher) applyFile(ctx context.Context, path string, res *world.FileResult, classes []*decl.ShallowClass) {
	w.mu.RLock()
	oldDecls := append([]decl.TypeName(nil), w.fileDecls[path]...)
	w.mu.RUnlock()

	newSet := make(map[decl.TypeName]struct{}, len(res.Decls))
	for _, name := range res.Decls {
		newSet[name] = struct{}{}
	}

	// Retire names that left the file, unless another file owns them now.
	for _, name := range oldDecls {
		if _, still := newSet[name]; still {
			continue
		}
		if sc, ok := w.prov.Shallow(name); ok && sc.Pos.File == path {
			w.prov.RemoveShallow(name)
		}
	}
	for _, sc := range classes {
		w.prov.SetShallow(sc)
	}

	targets := make([]decl.TypeName, 0, len(oldDecls)+len(res.Decls))
	seen := make(map[decl.TypeName]struct{})
	for _, name := range append(oldDecls, res.Decls...) {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		targets = append(targets, name)
	}
	sortNames(targets)

	dropped := w.invalidateAll(targets, "file changed")
	refolded := w.refold(ctx, dropped)

	w.mu.Lock()
	w.fileDecls[path] = append([]decl.TypeName(nil), res.Decls...)
	w.mu.Unlock()

	if w.st != nil {
		rec := &store.FileRecord{
			Path:    res.Path,
			Hash:    res.Hash,
			Size:    res.Size,
			ModTime: res.ModTime,
			Decls:   declsToStrings(res.Decls),
		}
		if err := w.st.SaveFile(rec); err != nil {
			logging.WatchWarn("Saving manifest row %s failed: %v", path, err)
		}
	}

	logging.Audit().FileChanged(path, len(res.Decls))
	logging.Watch("Reparsed %s: %d decls, %d dropped, %d refolded", path, len(res.Decls), len(dropped), refolded)
}

// retireFile handles a deletion: the file's declarations leave the world
// and everything that folded them in refolds without them.
func (w *Watcher) retireFile(ctx context.Context, path string) {
	w.mu.RLock()
	oldDecls := append([]decl.TypeName(nil), w.fileDecls[path]...)
	w.mu.RUnlock()

	if len(oldDecls) == 0 && w.st != nil {
		if rec, err := w.st.LoadFile(path); err == nil {
			for _, name := range rec.Decls {
				oldDecls = append(oldDecls, decl.TypeName(name))
			}
		}
	}

	for _, name := range oldDecls {
		if sc, ok := w.prov.Shallow(name); ok && sc.Pos.File == path {
			w.prov.RemoveShallow(name)
		}
	}

	dropped := w.invalidateAll(oldDecls, "file removed")
	refolded := w.refold(ctx, dropped)

	w.mu.Lock()
	delete(w.fileDecls, path)
	w.mu.Unlock()

	if cache := w.scanner.Cache(); cache != nil {
		cache.Remove(path)
	}
	if w.st != nil {
		if err := w.st.DeleteFile(path); err != nil {
			logging.WatchWarn("Dropping manifest row %s failed: %v", path, err)
		}
	}

	logging.Audit().FileChanged(path, 0)
	logging.Watch("Retired %s: %d decls gone, %d refolded", path, len(oldDecls), refolded)
}

// invalidateAll drops each named class plus its dependents and returns
// the union of everything dropped, sorted.
func (w *Watcher) invalidateAll(names []decl.TypeName, cause string) []decl.TypeName {
	union := make(map[decl.TypeName]struct{})
	for _, name := range names {
		dropped, err := w.prov.Invalidate(name, cause)
		if err != nil {
			logging.WatchError("Invalidating %s failed: %v", name, err)
			w.bumpErrors()
			continue
		}
		for _, d := range dropped {
			union[d] = struct{}{}
		}
	}

	w.mu.Lock()
	w.stats.Invalidations += len(union)
	w.mu.Unlock()

	out := make([]decl.TypeName, 0, len(union))
	for name := range union {
		out = append(out, name)
	}
	sortNames(out)
	return out
}

// refold recomputes dropped classes that are still declared somewhere.
// Removed names stay dropped; their former dependents refold without
// them. Returns the number of successful refolds.
func (w *Watcher) refold(ctx context.Context, names []decl.TypeName) int {
	refolded := 0
	for _, name := range names {
		if _, ok := w.prov.Shallow(name); !ok {
			continue
		}
		if _, err := w.prov.Fold(ctx, name); err != nil {
			logging.WatchError("Refolding %s failed: %v", name, err)
			w.bumpErrors()
			continue
		}
		refolded++
	}

	w.mu.Lock()
	w.stats.Refolds += refolded
	w.mu.Unlock()
	return refolded
}

func (w *Watcher) bumpErrors() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}

func declsToStrings(names []decl.TypeName) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n))
	}
	return out
}

func sortNames(names []decl.TypeName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
