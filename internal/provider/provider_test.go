package provider

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"declnerd/internal/decl"
	"declnerd/internal/store"
)

// classDecl builds a minimal class declaring one method named after
// itself, so inheritance is observable in folded output.
func classDecl(name string, parents ...string) *decl.ShallowClass {
	sc := &decl.ShallowClass{
		Name:    decl.TypeName(name),
		Kind:    decl.KindClass,
		Pos:     decl.Pos{File: fileFor(name), Line: 1},
		Methods: []decl.ShallowMethod{{Name: methodFor(name), Visibility: decl.VisPublic}},
	}
	for _, p := range parents {
		sc.Extends = append(sc.Extends, decl.Apply(decl.TypeName(p)))
	}
	return sc
}

func fileFor(name string) string {
	return "src/" + strings.ToLower(strings.Trim(name, "\\")) + ".php"
}

func methodFor(name string) string {
	return "from" + strings.Trim(name, "\\")
}

func newTestProvider(t *testing.T, classes ...*decl.ShallowClass) *Provider {
	t.Helper()
	p := New(Options{})
	for _, sc := range classes {
		p.SetShallow(sc)
	}
	return p
}

func openTestStore(t *testing.T, path string) *store.DeclStore {
	t.Helper()
	st, err := store.NewDeclStore(path)
	if err != nil {
		t.Fatalf("NewDeclStore(%s): %v", path, err)
	}
	return st
}

func TestFoldPullsAncestors(t *testing.T) {
	p := newTestProvider(t,
		classDecl("\\A"),
		classDecl("\\B", "\\A"),
		classDecl("\\C", "\\B"),
	)

	fc, err := p.Fold(context.Background(), "\\C")
	if err != nil {
		t.Fatalf("Fold(\\C): %v", err)
	}
	for _, m := range []string{"fromA", "fromB", "fromC"} {
		if _, ok := fc.Methods[m]; !ok {
			t.Errorf("method %s missing from folded \\C", m)
		}
	}
	if !fc.HasAncestor("\\A") || !fc.HasAncestor("\\B") {
		t.Errorf("ancestors of \\C = %v", fc.Ancestors)
	}
	for _, name := range []decl.TypeName{"\\A", "\\B"} {
		if _, ok := p.Folded(name); !ok {
			t.Errorf("%s not cached after folding its descendant", name)
		}
	}
	if shallow, folded := p.Counts(); shallow != 3 || folded != 3 {
		t.Errorf("Counts() = (%d, %d), want (3, 3)", shallow, folded)
	}
}

func TestFoldUnknownClass(t *testing.T) {
	p := newTestProvider(t, classDecl("\\A"))
	if _, err := p.Fold(context.Background(), "\\Nobody"); !errors.Is(err, ErrUnknownClass) {
		t.Fatalf("Fold(\\Nobody) = %v, want ErrUnknownClass", err)
	}
}

func TestFoldMissingAncestorSkipped(t *testing.T) {
	p := newTestProvider(t, classDecl("\\B", "\\Ghost"))

	fc, err := p.Fold(context.Background(), "\\B")
	if err != nil {
		t.Fatalf("Fold(\\B): %v", err)
	}
	if len(fc.Ancestors) != 0 {
		t.Errorf("ancestors = %v, want none for an undeclared parent", fc.Ancestors)
	}
	if _, ok := fc.Methods["fromB"]; !ok {
		t.Error("own method lost while skipping a missing ancestor")
	}

	// The skipped reference still left an edge, so \Ghost showing up
	// later invalidates \B.
	dropped, err := p.Invalidate("\\Ghost", "file created")
	if err != nil {
		t.Fatalf("Invalidate(\\Ghost): %v", err)
	}
	want := []decl.TypeName{"\\B", "\\Ghost"}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p.Folded("\\B"); ok {
		t.Error("\\B still cached after its missing ancestor was invalidated")
	}
}

func TestFoldCycleDegrades(t *testing.T) {
	p := newTestProvider(t,
		classDecl("\\A", "\\B"),
		classDecl("\\B", "\\A"),
	)

	a, err := p.Fold(context.Background(), "\\A")
	if err != nil {
		t.Fatalf("Fold(\\A): %v", err)
	}
	b, ok := p.Folded("\\B")
	if !ok {
		t.Fatal("\\B not folded as part of \\A's chain")
	}

	// \B folded first with the re-entrant \A treated as missing, then
	// \A folded on top of it.
	if !a.HasAncestor("\\B") {
		t.Error("\\A lost its ancestor \\B")
	}
	if b.HasAncestor("\\A") {
		t.Error("\\B folded through the cycle back into \\A")
	}
	if _, ok := a.Methods["fromB"]; !ok {
		t.Error("\\A did not inherit from \\B")
	}
	if _, ok := b.Methods["fromA"]; ok {
		t.Error("\\B inherited through the cycle")
	}

	// Both directions of the cycle are invalidation edges.
	dropped, err := p.Invalidate("\\A", "file changed")
	if err != nil {
		t.Fatalf("Invalidate(\\A): %v", err)
	}
	want := []decl.TypeName{"\\A", "\\B"}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
}

func TestFoldDiamondDeterministic(t *testing.T) {
	world := func() []*decl.ShallowClass {
		return []*decl.ShallowClass{
			classDecl("\\A"),
			classDecl("\\B", "\\A"),
			classDecl("\\C", "\\A"),
			classDecl("\\D", "\\B", "\\C"),
		}
	}

	p1 := newTestProvider(t, world()...)
	p2 := newTestProvider(t, world()...)

	d1, err := p1.Fold(context.Background(), "\\D")
	if err != nil {
		t.Fatalf("Fold(\\D): %v", err)
	}
	d2, err := p2.Fold(context.Background(), "\\D")
	if err != nil {
		t.Fatalf("Fold(\\D): %v", err)
	}

	if diff := cmp.Diff(d1, d2); diff != "" {
		t.Errorf("two folds of the same world differ (-first +second):\n%s", diff)
	}
	if got := d1.Methods["fromA"]; got.Origin != "\\A" {
		t.Errorf("fromA origin = %s, want \\A through the diamond", got.Origin)
	}
	for _, anc := range []decl.TypeName{"\\A", "\\B", "\\C"} {
		if !d1.HasAncestor(anc) {
			t.Errorf("ancestor %s missing", anc)
		}
	}
}

func TestFoldConcurrentCallsShareOneResult(t *testing.T) {
	p := newTestProvider(t,
		classDecl("\\A"),
		classDecl("\\B", "\\A"),
	)

	const n = 16
	results := make([]*decl.FoldedClass, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Fold(context.Background(), "\\B")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("call %d returned a different instance", i)
		}
	}
}

func TestFoldCancelled(t *testing.T) {
	p := newTestProvider(t, classDecl("\\A"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Fold(ctx, "\\A"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Fold on cancelled context = %v, want context.Canceled", err)
	}
}

func TestFoldAll(t *testing.T) {
	p := newTestProvider(t,
		classDecl("\\A"),
		classDecl("\\B", "\\A"),
		classDecl("\\C", "\\B"),
		classDecl("\\Island"),
		classDecl("\\X", "\\Y"),
		classDecl("\\Y", "\\X"),
	)

	n, err := p.FoldAll(context.Background())
	if err != nil {
		t.Fatalf("FoldAll: %v", err)
	}
	if n != 6 {
		t.Errorf("FoldAll folded %d classes, want 6", n)
	}
	if _, folded := p.Counts(); folded != 6 {
		t.Errorf("folded cache holds %d entries, want 6", folded)
	}

	c, _ := p.Folded("\\C")
	if _, ok := c.Methods["fromA"]; !ok {
		t.Error("\\C did not inherit through the chain")
	}

	// Cyclic classes fold serially in name order: \X folds after its
	// chain pulled a degraded \Y, so only \X sees its partner.
	x, _ := p.Folded("\\X")
	y, _ := p.Folded("\\Y")
	if !x.HasAncestor("\\Y") {
		t.Error("\\X lost its ancestor \\Y")
	}
	if y.HasAncestor("\\X") {
		t.Error("\\Y folded through the cycle")
	}
}

func TestFoldAllDeterministic(t *testing.T) {
	world := func() []*decl.ShallowClass {
		return []*decl.ShallowClass{
			classDecl("\\A"),
			classDecl("\\B", "\\A"),
			classDecl("\\C", "\\A"),
			classDecl("\\D", "\\B", "\\C"),
			classDecl("\\X", "\\Y"),
			classDecl("\\Y", "\\X"),
		}
	}

	p1 := newTestProvider(t, world()...)
	p2 := newTestProvider(t, world()...)
	if _, err := p1.FoldAll(context.Background()); err != nil {
		t.Fatalf("first FoldAll: %v", err)
	}
	if _, err := p2.FoldAll(context.Background()); err != nil {
		t.Fatalf("second FoldAll: %v", err)
	}

	for _, name := range p1.Known() {
		f1, _ := p1.Folded(name)
		f2, _ := p2.Folded(name)
		if diff := cmp.Diff(f1, f2); diff != "" {
			t.Errorf("%s differs between runs (-first +second):\n%s", name, diff)
		}
	}
}

func TestInvalidateDropsDependents(t *testing.T) {
	p := newTestProvider(t,
		classDecl("\\A"),
		classDecl("\\B", "\\A"),
		classDecl("\\C", "\\B"),
		classDecl("\\Island"),
	)
	if _, err := p.FoldAll(context.Background()); err != nil {
		t.Fatalf("FoldAll: %v", err)
	}

	dropped, err := p.Invalidate("\\A", "file changed")
	if err != nil {
		t.Fatalf("Invalidate(\\A): %v", err)
	}
	want := []decl.TypeName{"\\A", "\\B", "\\C"}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		if _, ok := p.Folded(name); ok {
			t.Errorf("%s still cached", name)
		}
	}
	if _, ok := p.Folded("\\Island"); !ok {
		t.Error("\\Island dropped despite having no path to \\A")
	}
}

func TestInvalidateUnknownName(t *testing.T) {
	p := newTestProvider(t, classDecl("\\A"))
	dropped, err := p.Invalidate("\\Nobody", "file removed")
	if err != nil {
		t.Fatalf("Invalidate(\\Nobody): %v", err)
	}
	if diff := cmp.Diff([]decl.TypeName{"\\Nobody"}, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
}

func TestWarmStartServesStoredFolds(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "decls.db")
	world := []*decl.ShallowClass{
		classDecl("\\A"),
		classDecl("\\B", "\\A"),
	}

	st1 := openTestStore(t, dbPath)
	p1 := New(Options{Store: st1})
	for _, sc := range world {
		p1.SetShallow(sc)
	}
	coldB, err := p1.Fold(context.Background(), "\\B")
	if err != nil {
		t.Fatalf("Fold(\\B): %v", err)
	}
	if err := st1.Close(); err != nil {
		t.Fatalf("closing first store: %v", err)
	}

	st2 := openTestStore(t, dbPath)
	t.Cleanup(func() { st2.Close() })
	p2 := New(Options{Store: st2})
	for _, sc := range world {
		p2.SetShallow(sc)
	}

	warmed, err := p2.WarmStart()
	if err != nil {
		t.Fatalf("WarmStart: %v", err)
	}
	if warmed != 2 {
		t.Errorf("WarmStart loaded %d decls, want 2", warmed)
	}
	warmB, ok := p2.Folded("\\B")
	if !ok {
		t.Fatal("\\B not served from the warm cache")
	}
	if diff := cmp.Diff(coldB, warmB, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("warm \\B differs from the cold fold (-cold +warm):\n%s", diff)
	}

	// Edges were replayed too: invalidating \A reaches \B.
	dropped, err := p2.Invalidate("\\A", "file changed")
	if err != nil {
		t.Fatalf("Invalidate(\\A): %v", err)
	}
	want := []decl.TypeName{"\\A", "\\B"}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p2.Folded("\\B"); ok {
		t.Error("\\B survived invalidation after warm start")
	}
}

func TestSyncManifestInvalidatesChangedFiles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "decls.db")
	world := map[decl.TypeName]*decl.ShallowClass{
		"\\A": classDecl("\\A"),
		"\\B": classDecl("\\B", "\\A"),
	}
	records := func(hashA string) []*store.FileRecord {
		return []*store.FileRecord{
			{Path: "src/a.php", Hash: hashA, Decls: []string{"\\A"}},
			{Path: "src/b.php", Hash: "b-1", Decls: []string{"\\B"}},
		}
	}

	st1 := openTestStore(t, dbPath)
	p1 := New(Options{Store: st1})
	p1.SetWorld(world)
	if _, err := p1.SyncManifest(records("a-1")); err != nil {
		t.Fatalf("initial SyncManifest: %v", err)
	}
	if _, err := p1.FoldAll(context.Background()); err != nil {
		t.Fatalf("FoldAll: %v", err)
	}
	if err := st1.Close(); err != nil {
		t.Fatalf("closing first store: %v", err)
	}

	st2 := openTestStore(t, dbPath)
	t.Cleanup(func() { st2.Close() })
	p2 := New(Options{Store: st2})
	p2.SetWorld(world)
	if _, err := p2.WarmStart(); err != nil {
		t.Fatalf("WarmStart: %v", err)
	}

	// a.php changed while the process was down.
	invalidated, err := p2.SyncManifest(records("a-2"))
	if err != nil {
		t.Fatalf("SyncManifest: %v", err)
	}
	if invalidated != 2 {
		t.Errorf("invalidated %d classes, want 2 (\\A and its dependent \\B)", invalidated)
	}
	for _, name := range []decl.TypeName{"\\A", "\\B"} {
		if _, ok := p2.Folded(name); ok {
			t.Errorf("%s still cached after its file changed", name)
		}
	}

	// The manifest now matches the scan, so a re-sync is a no-op.
	invalidated, err = p2.SyncManifest(records("a-2"))
	if err != nil {
		t.Fatalf("re-run SyncManifest: %v", err)
	}
	if invalidated != 0 {
		t.Errorf("re-run invalidated %d classes, want 0", invalidated)
	}
}

func TestSyncManifestRemovedFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "decls.db")
	st := openTestStore(t, dbPath)
	t.Cleanup(func() { st.Close() })

	p := New(Options{Store: st})
	p.SetWorld(map[decl.TypeName]*decl.ShallowClass{
		"\\A": classDecl("\\A"),
		"\\B": classDecl("\\B", "\\A"),
	})
	records := []*store.FileRecord{
		{Path: "src/a.php", Hash: "a-1", Decls: []string{"\\A"}},
		{Path: "src/b.php", Hash: "b-1", Decls: []string{"\\B"}},
	}
	if _, err := p.SyncManifest(records); err != nil {
		t.Fatalf("initial SyncManifest: %v", err)
	}
	if _, err := p.FoldAll(context.Background()); err != nil {
		t.Fatalf("FoldAll: %v", err)
	}

	// b.php disappeared from the scan.
	if _, err := p.SyncManifest(records[:1]); err != nil {
		t.Fatalf("SyncManifest: %v", err)
	}
	if _, ok := p.Folded("\\B"); ok {
		t.Error("\\B still cached after its file was removed")
	}
	if _, ok := p.Folded("\\A"); !ok {
		t.Error("\\A dropped despite its file being unchanged")
	}
	if _, err := st.LoadFile("src/b.php"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadFile(src/b.php) = %v, want ErrNotFound", err)
	}
}

func TestKnownSorted(t *testing.T) {
	p := newTestProvider(t, classDecl("\\C"), classDecl("\\A"), classDecl("\\B"))
	want := []decl.TypeName{"\\A", "\\B", "\\C"}
	if diff := cmp.Diff(want, p.Known()); diff != "" {
		t.Errorf("Known mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveShallow(t *testing.T) {
	p := newTestProvider(t, classDecl("\\A"), classDecl("\\B", "\\A"))
	if _, err := p.Fold(context.Background(), "\\B"); err != nil {
		t.Fatalf("Fold(\\B): %v", err)
	}

	p.RemoveShallow("\\A")
	if _, err := p.Invalidate("\\A", "file removed"); err != nil {
		t.Fatalf("Invalidate(\\A): %v", err)
	}

	fc, err := p.Fold(context.Background(), "\\B")
	if err != nil {
		t.Fatalf("refold of \\B: %v", err)
	}
	if fc.HasAncestor("\\A") {
		t.Error("\\B still carries the removed ancestor")
	}
	if _, ok := fc.Methods["fromA"]; ok {
		t.Error("\\B still inherits from the removed class")
	}
}
