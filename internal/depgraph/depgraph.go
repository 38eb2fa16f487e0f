// Package depgraph records which declarations a fold consulted, so that a
// change to one class can be traced to every descendant whose folded form
// is now stale. Edges are written by the folder through the Registrar
// interface; queries run either against the in-memory graph or against the
// Datalog kernel, which derives the transitive closure.
package depgraph

import (
	"sort"
	"sync"

	"declnerd/internal/decl"
)

// DepKind says which aspect of a declaration an edge refers to.
type DepKind string

const (
	KindType        DepKind = "type"
	KindConstructor DepKind = "constructor"
)

// DeclName identifies one aspect of one declaration in the graph.
type DeclName struct {
	Kind DepKind       `json:"kind"`
	Name decl.TypeName `json:"name"`
}

// TypeOf names the type aspect of a declaration.
func TypeOf(name decl.TypeName) DeclName {
	return DeclName{Kind: KindType, Name: name}
}

// ConstructorOf names the constructor aspect of a declaration.
func ConstructorOf(name decl.TypeName) DeclName {
	return DeclName{Kind: KindConstructor, Name: name}
}

func (d DeclName) String() string {
	return string(d.Kind) + ":" + string(d.Name)
}

// Registrar accepts dependency edges as they are discovered. current is the
// declaration being folded; dependency is what it consulted. Implementations
// must be safe for concurrent use, since folds run in parallel.
type Registrar interface {
	AddDependency(current, dependency DeclName) error
}

// DependentsSource answers reverse reachability: every type whose folded
// declaration transitively consulted the named one.
type DependentsSource interface {
	TransitiveDependents(name decl.TypeName) ([]decl.TypeName, error)
}

// MemoryRegistrar keeps the graph in two mutex-guarded adjacency maps. It
// is the registrar the provider uses when no kernel is wired in.
type MemoryRegistrar struct {
	mu  sync.RWMutex
	fwd map[DeclName]map[DeclName]struct{}
	rev map[DeclName]map[DeclName]struct{}
	n   int
}

// NewMemoryRegistrar returns an empty graph.
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{
		fwd: make(map[DeclName]map[DeclName]struct{}),
		rev: make(map[DeclName]map[DeclName]struct{}),
	}
}

// AddDependency records the edge current -> dependency. Duplicate edges are
// collapsed.
func (r *MemoryRegistrar) AddDependency(current, dependency DeclName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fwd[current][dependency]; ok {
		return nil
	}
	if r.fwd[current] == nil {
		r.fwd[current] = make(map[DeclName]struct{})
	}
	if r.rev[dependency] == nil {
		r.rev[dependency] = make(map[DeclName]struct{})
	}
	r.fwd[current][dependency] = struct{}{}
	r.rev[dependency][current] = struct{}{}
	r.n++
	return nil
}

// DependenciesOf returns what current consulted, sorted.
func (r *MemoryRegistrar) DependenciesOf(current DeclName) []DeclName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.fwd[current])
}

// DependentsOf returns who consulted dependency, sorted.
func (r *MemoryRegistrar) DependentsOf(dependency DeclName) []DeclName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rev[dependency])
}

// TransitiveDependents walks the reverse edges from the named type's
// constructor aspect and returns every type reached, sorted. The named
// type itself is not included.
func (r *MemoryRegistrar) TransitiveDependents(name decl.TypeName) ([]decl.TypeName, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[decl.TypeName]struct{})
	frontier := []decl.TypeName{name}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for dep := range r.rev[ConstructorOf(next)] {
			if dep.Kind != KindType {
				continue
			}
			if _, ok := seen[dep.Name]; ok || dep.Name == name {
				continue
			}
			seen[dep.Name] = struct{}{}
			frontier = append(frontier, dep.Name)
		}
	}

	out := make([]decl.TypeName, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Len returns the number of distinct edges.
func (r *MemoryRegistrar) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Clear drops every edge.
func (r *MemoryRegistrar) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fwd = make(map[DeclName]map[DeclName]struct{})
	r.rev = make(map[DeclName]map[DeclName]struct{})
	r.n = 0
}

func sortedKeys(set map[DeclName]struct{}) []DeclName {
	out := make([]DeclName, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
