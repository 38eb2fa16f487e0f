// Package provider serves folded class declarations on demand. It owns the
// shallow table produced by world extraction and a folded cache in front of
// the fold core: asking for a class pulls every ancestor through the same
// path first, so the core always folds against already-folded parents.
//
// The provider is also where cycle breaking lives. The fold core assumes an
// acyclic parent chain; when a chain loops back on itself the provider
// treats the re-entrant reference as a missing ancestor, logs it, and folds
// the rest of the chain normally.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
	"declnerd/internal/fold"
	"declnerd/internal/logging"
	"declnerd/internal/store"
)

// ErrUnknownClass is returned when a fold is requested for a name no
// scanned file declares.
var ErrUnknownClass = errors.New("provider: unknown class")

// Graph is the dependency-graph surface the provider needs: it records
// edges as folds discover them and answers reverse reachability for
// invalidation. Both depgraph.MemoryRegistrar and depgraph.KernelRegistrar
// satisfy it.
type Graph interface {
	depgraph.Registrar
	depgraph.DependentsSource
}

// Options configures a Provider. Zero values get working fallbacks, so
// tests can build a provider from an empty Options.
type Options struct {
	// Graph receives dependency edges and answers invalidation queries.
	// Nil means a fresh in-memory registrar.
	Graph Graph

	// Store, when non-nil, persists folded declarations and their edges
	// across restarts. Store failures are logged, never fatal: the
	// in-memory result is already correct by the time persistence runs.
	Store *store.DeclStore

	// Parallelism bounds concurrent folds in FoldAll. Values below 1
	// fall back to 4.
	Parallelism int
}

// Provider is safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	shallow map[decl.TypeName]*decl.ShallowClass
	folded  map[decl.TypeName]*decl.FoldedClass

	graph       Graph
	store       *store.DeclStore
	parallelism int

	flight singleflight.Group
}

// New builds a provider with an empty shallow table.
func New(opts Options) *Provider {
	graph := opts.Graph
	if graph == nil {
		graph = depgraph.NewMemoryRegistrar()
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 4
	}
	return &Provider{
		shallow:     make(map[decl.TypeName]*decl.ShallowClass),
		folded:      make(map[decl.TypeName]*decl.FoldedClass),
		graph:       graph,
		store:       opts.Store,
		parallelism: parallelism,
	}
}

// SetWorld replaces the entire shallow table with the result of a fresh
// scan and drops every cached folded declaration. When a store is
// attached, call WarmStart afterwards to bring surviving folds back.
func (p *Provider) SetWorld(classes map[decl.TypeName]*decl.ShallowClass) {
	p.mu.Lock()
	p.shallow = make(map[decl.TypeName]*decl.ShallowClass, len(classes))
	for name, sc := range classes {
		p.shallow[name] = sc
	}
	p.folded = make(map[decl.TypeName]*decl.FoldedClass)
	p.mu.Unlock()
	logging.ProviderDebug("World set: %d shallow classes", len(classes))
}

// SetShallow inserts or replaces one shallow declaration. Callers that
// replace a changed declaration are responsible for invalidating its
// dependents.
func (p *Provider) SetShallow(sc *decl.ShallowClass) {
	p.mu.Lock()
	p.shallow[sc.Name] = sc
	p.mu.Unlock()
}

// RemoveShallow forgets a declaration; later folds will treat references
// to it as missing.
func (p *Provider) RemoveShallow(name decl.TypeName) {
	p.mu.Lock()
	delete(p.shallow, name)
	p.mu.Unlock()
}

// Shallow returns the shallow declaration for name, if known.
func (p *Provider) Shallow(name decl.TypeName) (*decl.ShallowClass, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sc, ok := p.shallow[name]
	return sc, ok
}

// Known returns every declared class name, sorted.
func (p *Provider) Known() []decl.TypeName {
	p.mu.RLock()
	names := make([]decl.TypeName, 0, len(p.shallow))
	for name := range p.shallow {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sortNames(names)
	return names
}

// Folded peeks into the folded cache without computing anything.
func (p *Provider) Folded(name decl.TypeName) (*decl.FoldedClass, bool) {
	return p.getFolded(name)
}

// Counts reports the shallow table and folded cache sizes.
func (p *Provider) Counts() (shallow, folded int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.shallow), len(p.folded)
}

// Dependents returns every class whose folded declaration transitively
// consulted name.
func (p *Provider) Dependents(name decl.TypeName) ([]decl.TypeName, error) {
	return p.graph.TransitiveDependents(name)
}

// Fold returns the folded declaration for name, computing it and every
// uncached ancestor first. Concurrent calls for the same name share one
// computation.
func (p *Provider) Fold(ctx context.Context, name decl.TypeName) (*decl.FoldedClass, error) {
	if fc, ok := p.getFolded(name); ok {
		return fc, nil
	}

	v, err, _ := p.flight.Do(string(name), func() (interface{}, error) {
		reqID := uuid.New().String()[:8]
		rl := logging.WithRequestID(logging.CategoryProvider, reqID)
		timer := logging.StartTimer(logging.CategoryProvider, "Fold "+string(name))
		logging.AuditWithRequest(reqID).FoldStart(string(name))

		fc, err := p.foldChain(ctx, rl, name, make(map[decl.TypeName]bool))
		elapsed := timer.Stop()
		if err != nil {
			logging.AuditWithRequest(reqID).FoldComplete(string(name), elapsed.Milliseconds(), false, err.Error())
			return nil, err
		}
		logging.AuditWithRequest(reqID).FoldComplete(string(name), elapsed.Milliseconds(), true, "")
		return fc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*decl.FoldedClass), nil
}

// foldChain folds name leaves-first. visiting holds the chain currently
// being folded; a referenced parent already on the chain is a cycle and
// contributes nothing, exactly like an undeclared ancestor. Skipped
// references still get a dependency edge, so the skipped class showing up
// (or changing) later invalidates this one.
func (p *Provider) foldChain(ctx context.Context, rl *logging.RequestLogger, name decl.TypeName, visiting map[decl.TypeName]bool) (*decl.FoldedClass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fc, ok := p.getFolded(name); ok {
		return fc, nil
	}
	sc, ok := p.Shallow(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}

	visiting[name] = true
	defer delete(visiting, name)

	rec := &recordingRegistrar{inner: p.graph}
	parents := make(map[decl.TypeName]*decl.FoldedClass)
	for _, ref := range fold.ReferencedParents(sc) {
		if visiting[ref] {
			rl.Warn("Cycle through %s while folding %s, treating it as missing", ref, name)
			if ref != name {
				if err := rec.AddDependency(depgraph.TypeOf(name), depgraph.ConstructorOf(ref)); err != nil {
					return nil, err
				}
			}
			continue
		}
		pfc, err := p.foldChain(ctx, rl, ref, visiting)
		if err != nil {
			if errors.Is(err, ErrUnknownClass) {
				rl.Debug("Ancestor %s of %s is not declared anywhere, skipping", ref, name)
				if err := rec.AddDependency(depgraph.TypeOf(name), depgraph.ConstructorOf(ref)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		parents[ref] = pfc
	}

	fc, err := fold.FoldClass(sc, parents, rec)
	if err != nil {
		return nil, fmt.Errorf("folding %s: %w", name, err)
	}

	fc, won := p.putFolded(name, fc)
	if won {
		p.persist(fc, rec.edges)
	}
	return fc, nil
}

// FoldAll folds every known class, level by level in dependency order so
// parents are cached before their children fold. Folds inside a level run
// in parallel. Classes trapped in reference cycles fold last, serially in
// name order, so their degraded output never depends on goroutine
// scheduling.
func (p *Provider) FoldAll(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryProvider, "FoldAll")

	levels, cyclic := p.foldLevels()
	total := 0
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			timer.Stop()
			return total, err
		}
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(p.parallelism)
		for _, name := range level {
			name := name
			eg.Go(func() error {
				if _, err := p.Fold(egCtx, name); err != nil {
					return err
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			timer.Stop()
			return total, err
		}
		total += len(level)
	}

	if len(cyclic) > 0 {
		logging.ProviderWarn("%d classes are caught in reference cycles, folding them serially", len(cyclic))
	}
	for _, name := range cyclic {
		if err := ctx.Err(); err != nil {
			timer.Stop()
			return total, err
		}
		if _, err := p.Fold(ctx, name); err != nil {
			timer.Stop()
			return total, err
		}
		total++
	}

	elapsed := timer.StopWithInfo()
	logging.Audit().PerfMetric(logging.CategoryProvider, "fold_all", elapsed.Milliseconds())
	logging.Provider("Folded %d classes across %d levels", total, len(levels))
	return total, nil
}

// foldLevels groups known classes into dependency levels: level 0 names no
// known parent, level n+1 names parents only in earlier levels. Classes
// whose parent chain loops back on itself never drain and are returned
// separately. Levels come out sorted, which keeps scheduling (and with it
// any degraded cyclic output) reproducible.
func (p *Provider) foldLevels() (levels [][]decl.TypeName, cyclic []decl.TypeName) {
	p.mu.RLock()
	indeg := make(map[decl.TypeName]int, len(p.shallow))
	children := make(map[decl.TypeName][]decl.TypeName)
	for name, sc := range p.shallow {
		count := 0
		for _, ref := range fold.ReferencedParents(sc) {
			if ref == name {
				continue
			}
			if _, known := p.shallow[ref]; !known {
				continue
			}
			count++
			children[ref] = append(children[ref], name)
		}
		indeg[name] = count
	}
	p.mu.RUnlock()

	frontier := make([]decl.TypeName, 0)
	for name, n := range indeg {
		if n == 0 {
			frontier = append(frontier, name)
		}
	}
	sortNames(frontier)

	drained := 0
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		drained += len(frontier)
		var next []decl.TypeName
		for _, name := range frontier {
			for _, child := range children[name] {
				indeg[child]--
				if indeg[child] == 0 {
					next = append(next, child)
				}
			}
		}
		sortNames(next)
		frontier = next
	}

	if drained < len(indeg) {
		for name, n := range indeg {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sortNames(cyclic)
	}
	return levels, cyclic
}

// Invalidate drops name and every class that folded it in, from both the
// memory cache and the store, and returns the dropped set sorted. Edges
// recorded by earlier folds may outlive the declarations that produced
// them; following a stale edge just drops a class that no longer needed
// the changed one, and the next fold records fresh edges.
func (p *Provider) Invalidate(name decl.TypeName, cause string) ([]decl.TypeName, error) {
	dependents, err := p.graph.TransitiveDependents(name)
	if err != nil {
		return nil, fmt.Errorf("querying dependents of %s: %w", name, err)
	}

	dropped := make([]decl.TypeName, 0, len(dependents)+1)
	dropped = append(dropped, name)
	dropped = append(dropped, dependents...)
	sortNames(dropped)

	p.mu.Lock()
	for _, t := range dropped {
		delete(p.folded, t)
	}
	p.mu.Unlock()

	if p.store != nil {
		for _, t := range dropped {
			if err := p.store.DeleteFolded(t); err != nil {
				logging.ProviderWarn("Dropping stored decl %s failed: %v", t, err)
			}
		}
	}

	logging.Audit().Invalidation(string(name), cause, len(dependents))
	logging.ProviderDebug("Invalidated %s (%s): %d classes dropped", name, cause, len(dropped))
	return dropped, nil
}

// WarmStart loads previously folded declarations and their dependency
// edges from the store, so a restart serves folds without recomputing the
// whole world. Entries whose sources changed while the process was down
// are cleared by SyncManifest, which must run after this.
func (p *Provider) WarmStart() (int, error) {
	if p.store == nil {
		return 0, nil
	}
	folded, err := p.store.LoadAllFolded()
	if err != nil {
		return 0, fmt.Errorf("loading folded decls: %w", err)
	}
	deps, err := p.store.AllDeps()
	if err != nil {
		return 0, fmt.Errorf("loading dependency edges: %w", err)
	}

	p.mu.Lock()
	for name, fc := range folded {
		p.folded[name] = fc
	}
	p.mu.Unlock()

	for dependent, edges := range deps {
		for _, edge := range edges {
			if err := p.graph.AddDependency(depgraph.TypeOf(dependent), edge); err != nil {
				return len(folded), fmt.Errorf("replaying edge %s -> %s: %w", dependent, edge, err)
			}
		}
	}

	logging.Provider("Warm start: %d folded decls, dependency rows for %d classes", len(folded), len(deps))
	return len(folded), nil
}

// SyncManifest reconciles a fresh scan against the extraction manifest
// from the previous run. Declarations from files whose content changed,
// appeared, or disappeared are invalidated together with their
// dependents; everything else keeps its warm-started fold. The manifest
// rows are then updated to match the scan. Returns the number of
// invalidated classes.
func (p *Provider) SyncManifest(files []*store.FileRecord) (int, error) {
	if p.store == nil {
		return 0, nil
	}

	paths, err := p.store.ListFiles()
	if err != nil {
		return 0, fmt.Errorf("listing stored files: %w", err)
	}
	stored := make(map[string]*store.FileRecord, len(paths))
	for _, path := range paths {
		rec, err := p.store.LoadFile(path)
		if err != nil {
			return 0, fmt.Errorf("loading manifest row %s: %w", path, err)
		}
		stored[path] = rec
	}

	type target struct {
		name  decl.TypeName
		cause string
	}
	var targets []target
	seen := make(map[decl.TypeName]struct{})
	mark := func(names []string, cause string) {
		for _, n := range names {
			name := decl.TypeName(n)
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			targets = append(targets, target{name, cause})
		}
	}

	current := make(map[string]struct{}, len(files))
	for _, rec := range files {
		current[rec.Path] = struct{}{}
		old, ok := stored[rec.Path]
		switch {
		case !ok:
			mark(rec.Decls, "file created")
		case old.Hash != rec.Hash:
			mark(old.Decls, "file changed")
			mark(rec.Decls, "file changed")
		}
	}
	for path, old := range stored {
		if _, ok := current[path]; ok {
			continue
		}
		mark(old.Decls, "file removed")
		if err := p.store.DeleteFile(path); err != nil {
			logging.ProviderWarn("Dropping manifest row %s failed: %v", path, err)
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })
	invalidated := make(map[decl.TypeName]struct{})
	for _, t := range targets {
		dropped, err := p.Invalidate(t.name, t.cause)
		if err != nil {
			return len(invalidated), err
		}
		for _, d := range dropped {
			invalidated[d] = struct{}{}
		}
	}

	for _, rec := range files {
		if err := p.store.SaveFile(rec); err != nil {
			logging.ProviderWarn("Saving manifest row %s failed: %v", rec.Path, err)
		}
	}

	if len(invalidated) > 0 {
		logging.Provider("Manifest sync invalidated %d classes", len(invalidated))
	}
	return len(invalidated), nil
}

func (p *Provider) getFolded(name decl.TypeName) (*decl.FoldedClass, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fc, ok := p.folded[name]
	return fc, ok
}

// putFolded caches fc unless another goroutine got there first; the first
// write wins so every caller observes one folded identity per name.
func (p *Provider) putFolded(name decl.TypeName, fc *decl.FoldedClass) (*decl.FoldedClass, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.folded[name]; ok {
		return existing, false
	}
	p.folded[name] = fc
	return fc, true
}

// persist mirrors one finished fold into the store. Failures are logged
// and swallowed; the in-memory result already serves readers.
func (p *Provider) persist(fc *decl.FoldedClass, edges []depgraph.DeclName) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveFolded(fc); err != nil {
		logging.ProviderWarn("Persisting folded %s failed: %v", fc.Name, err)
		return
	}
	if err := p.store.ReplaceDepsFor(fc.Name, edges); err != nil {
		logging.ProviderWarn("Persisting dependency edges for %s failed: %v", fc.Name, err)
	}
}

// recordingRegistrar forwards edges to the real graph while keeping a
// copy, so the store can mirror exactly the edges one fold produced.
type recordingRegistrar struct {
	inner depgraph.Registrar
	edges []depgraph.DeclName
}

func (r *recordingRegistrar) AddDependency(current, dependency depgraph.DeclName) error {
	if err := r.inner.AddDependency(current, dependency); err != nil {
		return err
	}
	r.edges = append(r.edges, dependency)
	return nil
}

func sortNames(names []decl.TypeName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
