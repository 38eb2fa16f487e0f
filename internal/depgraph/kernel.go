package depgraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"declnerd/internal/decl"
)

// depSchemas declares the extensional predicate the folder asserts.
const depSchemas = `
Decl ctor_edge(Child, Ancestor).
Decl ctor_dependent(Ancestor, Descendant).
`

// depPolicy derives the transitive closure: a descendant depends on every
// ancestor its parents depend on.
const depPolicy = `
ctor_dependent(A, C) :- ctor_edge(C, A).
ctor_dependent(A, C) :- ctor_edge(C, P), ctor_dependent(A, P).
`

// Fact is a single Datalog atom in the extensional database.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String returns the Datalog source form of the fact.
func (f Fact) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				// Mangle name constant
				args[i] = v
			} else {
				args[i] = fmt.Sprintf("%q", v)
			}
		case int:
			args[i] = fmt.Sprintf("%d", v)
		case int64:
			args[i] = fmt.Sprintf("%d", v)
		default:
			args[i] = fmt.Sprintf("%q", fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// KernelRegistrar keeps the dependency graph as Datalog facts and lets the
// Mangle engine derive transitive dependents. Edges accumulate cheaply;
// evaluation to fixpoint happens lazily on the first query after a write.
type KernelRegistrar struct {
	mu          sync.RWMutex
	facts       []Fact
	seen        map[string]struct{}
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
	dirty       bool
}

// NewKernelRegistrar returns an empty kernel-backed graph.
func NewKernelRegistrar() *KernelRegistrar {
	return &KernelRegistrar{
		seen:  make(map[string]struct{}),
		store: factstore.NewSimpleInMemoryStore(),
		dirty: true,
	}
}

// AddDependency records the edge current -> dependency. The fold only
// emits constructor edges; other dependency kinds are accepted and
// dropped so the interface stays total.
func (k *KernelRegistrar) AddDependency(current, dependency DeclName) error {
	if current.Kind != KindType || dependency.Kind != KindConstructor {
		return nil
	}
	return k.AddEdge(current.Name, dependency.Name)
}

// AddEdge records that child folded in ancestor. Duplicate edges are
// collapsed before they reach the engine.
func (k *KernelRegistrar) AddEdge(child, ancestor decl.TypeName) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := string(child) + "\x00" + string(ancestor)
	if _, ok := k.seen[key]; ok {
		return nil
	}
	k.seen[key] = struct{}{}
	k.facts = append(k.facts, Fact{
		Predicate: "ctor_edge",
		Args:      []interface{}{string(child), string(ancestor)},
	})
	k.dirty = true
	return nil
}

// EdgeCount returns the number of distinct edges asserted.
func (k *KernelRegistrar) EdgeCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.facts)
}

// Clear drops all edges.
func (k *KernelRegistrar) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.facts = nil
	k.seen = make(map[string]struct{})
	k.store = factstore.NewSimpleInMemoryStore()
	k.programInfo = nil
	k.dirty = true
}

// rebuild reconstructs the full program text and evaluates it to fixpoint
// in a fresh store. Callers hold the write lock.
func (k *KernelRegistrar) rebuild() error {
	var sb strings.Builder
	sb.WriteString(depSchemas)
	sb.WriteString("\n")
	for _, f := range k.facts {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	sb.WriteString(depPolicy)

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("failed to parse dependency program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("failed to analyze dependency program: %w", err)
	}

	k.store = factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalStratifiedProgramWithStats(programInfo, nil, nil, k.store); err != nil {
		return fmt.Errorf("failed to evaluate dependency program: %w", err)
	}
	k.programInfo = programInfo
	k.dirty = false
	return nil
}

// TransitiveDependents returns every type whose fold transitively consulted
// the named one, sorted. The named type itself is not included.
func (k *KernelRegistrar) TransitiveDependents(name decl.TypeName) ([]decl.TypeName, error) {
	facts, err := k.query("ctor_dependent")
	if err != nil {
		return nil, err
	}

	set := make(map[decl.TypeName]struct{})
	for _, f := range facts {
		if len(f.Args) != 2 {
			continue
		}
		ancestor, ok1 := f.Args[0].(string)
		descendant, ok2 := f.Args[1].(string)
		if !ok1 || !ok2 || ancestor != string(name) {
			continue
		}
		if descendant == string(name) {
			continue
		}
		set[decl.TypeName(descendant)] = struct{}{}
	}

	out := make([]decl.TypeName, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DirectEdges returns the asserted child -> ancestor pairs, sorted.
func (k *KernelRegistrar) DirectEdges() [][2]decl.TypeName {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([][2]decl.TypeName, 0, len(k.facts))
	for _, f := range k.facts {
		if len(f.Args) != 2 {
			continue
		}
		child, _ := f.Args[0].(string)
		ancestor, _ := f.Args[1].(string)
		out = append(out, [2]decl.TypeName{decl.TypeName(child), decl.TypeName(ancestor)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// query evaluates if needed and returns all derived facts of a predicate.
func (k *KernelRegistrar) query(predicate string) ([]Fact, error) {
	k.mu.Lock()
	if k.dirty {
		if err := k.rebuild(); err != nil {
			k.mu.Unlock()
			return nil, err
		}
	}
	store, programInfo := k.store, k.programInfo
	k.mu.Unlock()

	results := make([]Fact, 0)
	if programInfo == nil {
		return results, nil
	}
	for pred := range programInfo.Decls {
		if pred.Symbol != predicate {
			continue
		}
		store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			results = append(results, atomToFact(a))
			return nil
		})
		break
	}
	return results, nil
}

// atomToFact converts a Mangle atom back into a Fact.
func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, term := range a.Args {
		args[i] = baseTermToValue(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

// baseTermToValue extracts the Go value from a Mangle base term.
func baseTermToValue(term ast.BaseTerm) interface{} {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType:
			return t.Symbol
		case ast.StringType:
			return t.Symbol
		case ast.NumberType:
			return t.NumValue
		default:
			return t.Symbol
		}
	case ast.Variable:
		return fmt.Sprintf("?%s", t.Symbol)
	default:
		return fmt.Sprintf("%v", term)
	}
}
