package fold

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
)

// foldHierarchy folds classes in order, each seeing everything folded
// before it, the way the provider supplies parents bottom-up.
func foldHierarchy(t *testing.T, reg depgraph.Registrar, classes ...*decl.ShallowClass) map[decl.TypeName]*decl.FoldedClass {
	t.Helper()
	folded := make(map[decl.TypeName]*decl.FoldedClass, len(classes))
	for _, sc := range classes {
		fc, err := FoldClass(sc, folded, reg)
		if err != nil {
			t.Fatalf("FoldClass(%s): %v", sc.Name, err)
		}
		folded[sc.Name] = fc
	}
	return folded
}

func method(name string) decl.ShallowMethod {
	return decl.ShallowMethod{Name: name, Visibility: decl.VisPublic}
}

func abstractMethod(name string) decl.ShallowMethod {
	return decl.ShallowMethod{Name: name, Visibility: decl.VisPublic, IsAbstract: true}
}

func intConst(name string) decl.ShallowClassConst {
	return decl.ShallowClassConst{Name: name, Kind: decl.ConstConcrete, Ty: decl.Prim("int")}
}

func TestFoldSimpleInheritance(t *testing.T) {
	reg := depgraph.NewMemoryRegistrar()
	folded := foldHierarchy(t, reg,
		&decl.ShallowClass{
			Name: "\\A", Kind: decl.KindClass,
			Pos:     decl.Pos{File: "src/A.php"},
			Methods: []decl.ShallowMethod{method("render")},
			Props:   []decl.ShallowProp{{Name: "width", Visibility: decl.VisPublic}},
			Consts:  []decl.ShallowClassConst{intConst("LIMIT")},
		},
		&decl.ShallowClass{
			Name: "\\B", Kind: decl.KindClass,
			Pos:     decl.Pos{File: "src/B.php"},
			Extends: []decl.DeclTy{decl.Apply("\\A")},
		},
	)

	b := folded["\\B"]
	if got := b.Methods["render"]; got.Origin != "\\A" || got.IsSynthesized {
		t.Errorf("render = %+v, want inherited genuinely from \\A", got)
	}
	if got := b.Props["width"]; got.Origin != "\\A" {
		t.Errorf("width = %+v, want origin \\A", got)
	}
	if got := b.Consts["LIMIT"]; got.Origin != "\\A" || got.Kind != decl.ConstConcrete {
		t.Errorf("LIMIT = %+v, want concrete from \\A", got)
	}
	if got := b.Consts[ClassNameConst]; got.Origin != "\\B" {
		t.Errorf("implicit class constant = %+v, want origin \\B", got)
	}
	if !b.HasAncestor("\\A") {
		t.Error("\\A missing from ancestors")
	}
	if _, ok := b.Substs["\\A"]; !ok {
		t.Error("\\A missing from substitution contexts")
	}

	deps := reg.DependenciesOf(depgraph.TypeOf("\\B"))
	if len(deps) != 1 || deps[0] != depgraph.ConstructorOf("\\A") {
		t.Errorf("dependencies of \\B = %v", deps)
	}
}

func TestFoldFirstDeclaredParentWinsTies(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\I1", Kind: decl.KindInterface,
			Methods: []decl.ShallowMethod{abstractMethod("m")},
		},
		&decl.ShallowClass{
			Name: "\\I2", Kind: decl.KindInterface,
			Methods: []decl.ShallowMethod{abstractMethod("m")},
		},
		&decl.ShallowClass{
			Name: "\\I3", Kind: decl.KindInterface,
			Extends: []decl.DeclTy{decl.Apply("\\I1"), decl.Apply("\\I2")},
		},
	)

	if got := folded["\\I3"].Methods["m"].Origin; got != "\\I1" {
		t.Errorf("m inherited from %s, want the first-declared parent \\I1", got)
	}
}

func TestFoldInterfaceMembersByClassKind(t *testing.T) {
	iface := &decl.ShallowClass{
		Name: "\\I", Kind: decl.KindInterface,
		Methods: []decl.ShallowMethod{abstractMethod("m")},
		Consts:  []decl.ShallowClassConst{intConst("K")},
	}

	t.Run("abstract class absorbs interface members", func(t *testing.T) {
		folded := foldHierarchy(t, nil, iface,
			&decl.ShallowClass{
				Name: "\\A", Kind: decl.KindClass, IsAbstract: true,
				Implements: []decl.DeclTy{decl.Apply("\\I")},
			},
		)
		a := folded["\\A"]
		if got := a.Methods["m"]; got.Origin != "\\I" || !got.IsAbstract {
			t.Errorf("m = %+v, want abstract from \\I", got)
		}
		if got := a.Consts["K"]; got.Origin != "\\I" {
			t.Errorf("K = %+v, want from \\I", got)
		}
	})

	t.Run("concrete class takes only interface constants", func(t *testing.T) {
		folded := foldHierarchy(t, nil, iface,
			&decl.ShallowClass{
				Name: "\\C", Kind: decl.KindClass,
				Implements: []decl.DeclTy{decl.Apply("\\I")},
			},
		)
		c := folded["\\C"]
		if _, ok := c.Methods["m"]; ok {
			t.Error("concrete class inherited a method through implements")
		}
		if got := c.Consts["K"]; got.Origin != "\\I" {
			t.Errorf("K = %+v, want from \\I", got)
		}
		if !c.HasAncestor("\\I") {
			t.Error("\\I missing from ancestors")
		}
	})

	t.Run("trait absorbs required interface members genuinely", func(t *testing.T) {
		folded := foldHierarchy(t, nil, iface,
			&decl.ShallowClass{
				Name: "\\T", Kind: decl.KindTrait,
				ReqImplements: []decl.DeclTy{decl.Apply("\\I")},
			},
		)
		tr := folded["\\T"]
		if got := tr.Methods["m"]; got.Origin != "\\I" || got.IsSynthesized {
			t.Errorf("m = %+v, want genuine abstract member from \\I", got)
		}
		if got := tr.Consts["K"]; got.Origin != "\\I" {
			t.Errorf("K = %+v", got)
		}
	})
}

func TestFoldTraitChown(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\T", Kind: decl.KindTrait,
			Props: []decl.ShallowProp{{Name: "secret", Visibility: decl.VisPrivate}},
			Methods: []decl.ShallowMethod{
				{Name: "helper", Visibility: decl.VisProtected},
				{Name: "run", Visibility: decl.VisPublic},
			},
		},
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass,
			Uses: []decl.DeclTy{decl.Apply("\\T")},
		},
	)

	c := folded["\\C"]
	if got := c.Props["secret"]; got.Visibility.Kind != decl.VisPrivate || got.Visibility.Owner != "\\C" {
		t.Errorf("secret = %+v, want private owned by \\C", got)
	}
	if got := c.Props["secret"]; got.Origin != "\\T" {
		t.Errorf("chown changed the origin: %+v", got)
	}
	if got := c.Methods["helper"]; got.Visibility.Kind != decl.VisProtected || got.Visibility.Owner != "\\C" {
		t.Errorf("helper = %+v, want protected owned by \\C", got)
	}
	if got := c.Methods["run"]; got.Visibility.Kind != decl.VisPublic {
		t.Errorf("run = %+v, want public untouched", got)
	}
}

func TestFoldTraitSynthesizedProtectedKeepsOwner(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\Base", Kind: decl.KindClass,
			Methods: []decl.ShallowMethod{{Name: "guard", Visibility: decl.VisProtected}},
		},
		&decl.ShallowClass{
			Name: "\\T", Kind: decl.KindTrait,
			ReqExtends: []decl.DeclTy{decl.Apply("\\Base")},
		},
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\Base")},
			Uses:    []decl.DeclTy{decl.Apply("\\T")},
		},
	)

	guard := folded["\\T"].Methods["guard"]
	if !guard.IsSynthesized || guard.Visibility.Owner != "\\Base" {
		t.Errorf("trait guard = %+v, want synthesized with owner \\Base", guard)
	}

	// The genuine member from \Base wins in \C, and the synthesized copy
	// flowing through the trait must not have been re-owned on the way.
	got := folded["\\C"].Methods["guard"]
	if got.IsSynthesized {
		t.Errorf("guard in \\C = %+v, want the genuine member from the parent", got)
	}
	if got.Visibility.Owner != "\\Base" {
		t.Errorf("guard owner = %s, want \\Base", got.Visibility.Owner)
	}
}

func TestFoldPrivateFiltering(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\A", Kind: decl.KindClass,
			Methods: []decl.ShallowMethod{{Name: "hidden", Visibility: decl.VisPrivate}},
			Props:   []decl.ShallowProp{{Name: "state", Visibility: decl.VisPrivate}},
			StaticProps: []decl.ShallowProp{
				{Name: "cache", Visibility: decl.VisPrivate, IsLSB: true},
				{Name: "registry", Visibility: decl.VisPrivate},
			},
		},
		&decl.ShallowClass{
			Name: "\\B", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\A")},
		},
	)

	b := folded["\\B"]
	if _, ok := b.Methods["hidden"]; ok {
		t.Error("private method crossed a class edge")
	}
	if _, ok := b.Props["state"]; ok {
		t.Error("private property crossed a class edge")
	}
	if _, ok := b.StaticProps["registry"]; ok {
		t.Error("private static property crossed a class edge")
	}
	if got, ok := b.StaticProps["cache"]; !ok || !got.IsLSB {
		t.Errorf("late-static-bound property dropped: %+v", got)
	}
}

func TestFoldRequireExtendsSynthesizesMembers(t *testing.T) {
	base := &decl.ShallowClass{
		Name: "\\Base", Kind: decl.KindClass,
		Methods:     []decl.ShallowMethod{method("m")},
		Consts:      []decl.ShallowClassConst{intConst("K")},
		Constructor: &decl.ShallowMethod{Name: "__construct", Visibility: decl.VisPublic},
	}
	folded := foldHierarchy(t, nil, base,
		&decl.ShallowClass{
			Name: "\\T", Kind: decl.KindTrait,
			ReqExtends: []decl.DeclTy{decl.Apply("\\Base")},
		},
	)

	tr := folded["\\T"]
	if got := tr.Methods["m"]; !got.IsSynthesized {
		t.Errorf("m = %+v, want synthesized", got)
	}
	if got := tr.Consts["K"]; !got.IsSynthesized {
		t.Errorf("K = %+v, want synthesized", got)
	}
	if tr.Constructor.Elt == nil || !tr.Constructor.Elt.IsSynthesized {
		t.Errorf("constructor = %+v, want synthesized element", tr.Constructor.Elt)
	}
	if got := tr.Substs["\\Base"]; !got.FromReqExtends {
		t.Errorf("subst context = %+v, want flagged as from a requirement", got)
	}
	if len(tr.ReqExtends) != 1 {
		t.Errorf("ReqExtends = %v", tr.ReqExtends)
	}

	// The base's own folded declaration must be untouched by the marking.
	b := folded["\\Base"]
	if b.Methods["m"].IsSynthesized {
		t.Error("marking a requirement synthesized corrupted the base's method")
	}
	if b.Constructor.Elt == nil || b.Constructor.Elt.IsSynthesized {
		t.Error("marking a requirement synthesized corrupted the base's constructor")
	}
	if b.Consts["K"].IsSynthesized {
		t.Error("marking a requirement synthesized corrupted the base's constant")
	}
}

func TestFoldGenuineExtendsBeatsRequirement(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\Base", Kind: decl.KindClass,
			Tparams: []decl.Tparam{{Name: "T"}},
			Methods: []decl.ShallowMethod{method("m")},
		},
		&decl.ShallowClass{
			Name: "\\MyTrait", Kind: decl.KindTrait,
			ReqExtends: []decl.DeclTy{decl.Apply("\\Base", decl.Prim("mixed"))},
		},
		&decl.ShallowClass{
			Name: "\\Child", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\Base", decl.Prim("int"))},
			Uses:    []decl.DeclTy{decl.Apply("\\MyTrait")},
		},
	)

	sc := folded["\\Child"].Substs["\\Base"]
	if sc.FromReqExtends {
		t.Errorf("subst context = %+v, want the genuine extends context", sc)
	}
	if !sc.Subst["T"].Equal(decl.Prim("int")) {
		t.Errorf("T bound to %+v, want int from the genuine extends", sc.Subst["T"])
	}
	if got := folded["\\Child"].Methods["m"]; got.IsSynthesized {
		t.Errorf("m = %+v, want the genuine member kept", got)
	}
}

func TestFoldConstMergePrefersConcrete(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\WithLimit", Kind: decl.KindClass,
			Consts: []decl.ShallowClassConst{intConst("LIMIT")},
		},
		&decl.ShallowClass{
			Name: "\\IA", Kind: decl.KindInterface,
			Consts: []decl.ShallowClassConst{
				{Name: "LIMIT", Kind: decl.ConstAbstract, Ty: decl.Prim("int")},
			},
		},
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass, IsAbstract: true,
			Extends:    []decl.DeclTy{decl.Apply("\\WithLimit")},
			Implements: []decl.DeclTy{decl.Apply("\\IA")},
		},
	)

	got := folded["\\C"].Consts["LIMIT"]
	if got.Origin != "\\WithLimit" || got.Kind != decl.ConstConcrete {
		t.Errorf("LIMIT = %+v, want the concrete constant kept", got)
	}
}

func TestFoldTypeConstMerge(t *testing.T) {
	arraykey := decl.Prim("arraykey")
	strTy := decl.Prim("string")

	t.Run("concrete beats abstract across interfaces", func(t *testing.T) {
		intTy := decl.Prim("int")
		folded := foldHierarchy(t, nil,
			&decl.ShallowClass{
				Name: "\\I1", Kind: decl.KindInterface,
				TypeConsts: []decl.ShallowTypeConst{{Name: "T", Kind: decl.TypeConstAbstract}},
			},
			&decl.ShallowClass{
				Name: "\\I2", Kind: decl.KindInterface,
				TypeConsts: []decl.ShallowTypeConst{{Name: "T", Kind: decl.TypeConstConcrete, Ty: &intTy}},
			},
			&decl.ShallowClass{
				Name: "\\C", Kind: decl.KindClass, IsAbstract: true,
				Implements: []decl.DeclTy{decl.Apply("\\I1"), decl.Apply("\\I2")},
			},
		)
		got := folded["\\C"].TypeConsts["T"]
		if got.Origin != "\\I2" || got.Kind != decl.TypeConstConcrete {
			t.Errorf("T = %+v, want the concrete declaration from \\I2", got)
		}
	})

	t.Run("default beats bare abstract through implements constants", func(t *testing.T) {
		folded := foldHierarchy(t, nil,
			&decl.ShallowClass{
				Name: "\\A", Kind: decl.KindClass, IsAbstract: true,
				TypeConsts: []decl.ShallowTypeConst{
					{Name: "T", Kind: decl.TypeConstAbstract, AsConstraint: &arraykey, Default: &strTy},
				},
			},
			&decl.ShallowClass{
				Name: "\\I", Kind: decl.KindInterface,
				TypeConsts: []decl.ShallowTypeConst{
					{Name: "T", Kind: decl.TypeConstAbstract, AsConstraint: &arraykey, Enforceable: true},
				},
			},
			&decl.ShallowClass{
				Name: "\\C", Kind: decl.KindClass,
				Extends:    []decl.DeclTy{decl.Apply("\\A")},
				Implements: []decl.DeclTy{decl.Apply("\\I")},
			},
		)
		got := folded["\\C"].TypeConsts["T"]
		if got.Origin != "\\A" || got.Default == nil {
			t.Errorf("T = %+v, want the defaulted declaration from \\A", got)
		}
		if !got.Enforceable.Yes {
			t.Error("T did not pick up enforceability from the interface")
		}
	})
}

func TestFoldGenericInstantiation(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\P", Kind: decl.KindClass,
			Tparams: []decl.Tparam{{Name: "T"}},
			Consts: []decl.ShallowClassConst{
				{Name: "EMPTY", Kind: decl.ConstConcrete, Ty: decl.Generic("T")},
			},
		},
		&decl.ShallowClass{
			Name: "\\A", Kind: decl.KindClass,
			Tparams: []decl.Tparam{{Name: "U"}},
			Extends: []decl.DeclTy{decl.Apply("\\P", decl.Apply("\\Vec", decl.Generic("U")))},
		},
		&decl.ShallowClass{
			Name: "\\B", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\A", decl.Prim("int"))},
		},
	)

	a := folded["\\A"]
	if got := a.Consts["EMPTY"].Ty; !got.Equal(decl.Apply("\\Vec", decl.Generic("U"))) {
		t.Errorf("EMPTY in \\A = %+v, want vec<U>", got)
	}

	b := folded["\\B"]
	if got := b.Consts["EMPTY"].Ty; !got.Equal(decl.Apply("\\Vec", decl.Prim("int"))) {
		t.Errorf("EMPTY in \\B = %+v, want vec<int>", got)
	}
	if got := b.Ancestors["\\P"]; !got.Equal(decl.Apply("\\P", decl.Apply("\\Vec", decl.Prim("int")))) {
		t.Errorf("ancestor \\P seen at %+v, want P<vec<int>>", got)
	}
	// Substitution contexts chain rather than compose: the context for \P
	// still maps T in terms of \A's parameters.
	if got := b.Substs["\\P"].Subst["T"]; !got.Equal(decl.Apply("\\Vec", decl.Generic("U"))) {
		t.Errorf("subst for \\P = %+v, want vec<U> unchanged", got)
	}
	if got := b.Substs["\\A"].Subst["U"]; !got.Equal(decl.Prim("int")) {
		t.Errorf("subst for \\A = %+v, want int", got)
	}
}

func TestFoldConstructorConsistency(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\A", Kind: decl.KindClass,
			Attributes:  []string{"__ConsistentConstruct"},
			Constructor: &decl.ShallowMethod{Name: "__construct", Visibility: decl.VisPublic},
		},
		&decl.ShallowClass{
			Name: "\\B", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\A")},
		},
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass, IsFinal: true,
			Extends: []decl.DeclTy{decl.Apply("\\B")},
		},
	)

	a := folded["\\A"]
	if a.Constructor.Elt == nil || a.Constructor.Elt.Origin != "\\A" {
		t.Fatalf("constructor of \\A = %+v", a.Constructor.Elt)
	}
	if a.Constructor.Consistency != decl.ConsistentConstruct {
		t.Errorf("consistency of \\A = %v", a.Constructor.Consistency)
	}

	b := folded["\\B"]
	if b.Constructor.Elt == nil || b.Constructor.Elt.Origin != "\\A" {
		t.Errorf("constructor of \\B = %+v, want inherited from \\A", b.Constructor.Elt)
	}
	if b.Constructor.Consistency != decl.ConsistentConstruct {
		t.Errorf("consistency of \\B = %v", b.Constructor.Consistency)
	}

	if got := folded["\\C"].Constructor.Consistency; got != decl.FinalClass {
		t.Errorf("consistency of final \\C = %v", got)
	}
}

func TestFoldXHPAttrUses(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\XRow", Kind: decl.KindClass,
			Props: []decl.ShallowProp{
				{Name: ":title", Visibility: decl.VisPublic, IsXHPAttr: true},
				{Name: "internal", Visibility: decl.VisPublic},
			},
			Methods: []decl.ShallowMethod{method("render")},
		},
		&decl.ShallowClass{
			Name: "\\XCell", Kind: decl.KindClass,
			XHPAttrUses: []decl.DeclTy{decl.Apply("\\XRow")},
		},
	)

	cell := folded["\\XCell"]
	if got, ok := cell.Props[":title"]; !ok || !got.IsXHPAttr {
		t.Errorf(":title = %+v, want the attribute inherited", got)
	}
	if _, ok := cell.Props["internal"]; ok {
		t.Error("non-attribute property leaked through an attribute use")
	}
	if _, ok := cell.Methods["render"]; ok {
		t.Error("method leaked through an attribute use")
	}
}

func TestFoldEnumIncludes(t *testing.T) {
	intTy := decl.Prim("int")
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\E1", Kind: decl.KindEnum,
			Consts:   []decl.ShallowClassConst{intConst("A")},
			EnumType: &decl.EnumType{Base: intTy},
		},
		&decl.ShallowClass{
			Name: "\\E2", Kind: decl.KindEnum,
			Consts:   []decl.ShallowClassConst{intConst("B")},
			EnumType: &decl.EnumType{Base: intTy, Includes: []decl.DeclTy{decl.Apply("\\E1")}},
		},
	)

	e2 := folded["\\E2"]
	if got := e2.Consts["A"]; got.Origin != "\\E1" {
		t.Errorf("included constant A = %+v", got)
	}
	if got := e2.Consts["B"]; got.Origin != "\\E2" {
		t.Errorf("own constant B = %+v", got)
	}
	if e2.EnumType == nil || len(e2.EnumType.Includes) != 1 {
		t.Errorf("enum type = %+v", e2.EnumType)
	}
}

func TestFoldSuperfluousOverride(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{
			Name: "\\A", Kind: decl.KindClass,
			Methods: []decl.ShallowMethod{method("m")},
		},
		&decl.ShallowClass{
			Name: "\\B", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\A")},
			Methods: []decl.ShallowMethod{{Name: "m", Visibility: decl.VisPublic, IsOverride: true}},
		},
		&decl.ShallowClass{
			Name: "\\Orphan", Kind: decl.KindClass,
			Methods: []decl.ShallowMethod{{Name: "m", Visibility: decl.VisPublic, IsOverride: true}},
		},
	)

	if got := folded["\\B"].Methods["m"]; got.IsSuperfluousOverride {
		t.Errorf("m in \\B = %+v, override had something to override", got)
	}
	if got := folded["\\Orphan"].Methods["m"]; !got.IsSuperfluousOverride {
		t.Errorf("m in \\Orphan = %+v, override with nothing to override", got)
	}
}

func TestFoldMissingAncestor(t *testing.T) {
	reg := depgraph.NewMemoryRegistrar()
	folded := foldHierarchy(t, reg,
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass,
			Extends: []decl.DeclTy{decl.Apply("\\Unknown")},
		},
	)

	c := folded["\\C"]
	if len(c.Methods) != 0 {
		t.Errorf("methods = %v, want none from an unresolved parent", c.Methods)
	}
	if !c.HasAncestor("\\Unknown") {
		t.Error("unresolved parent still names an ancestor")
	}
	if reg.Len() != 0 {
		t.Errorf("registrar recorded %d edges for an unresolved parent", reg.Len())
	}
}

func TestFoldBuiltinAncestorRecordsNoDependency(t *testing.T) {
	reg := depgraph.NewMemoryRegistrar()
	foldHierarchy(t, reg,
		&decl.ShallowClass{
			Name: "\\Throwable", Kind: decl.KindClass,
			Pos:  decl.Pos{File: "hhi/interfaces.hhi"},
		},
		&decl.ShallowClass{
			Name: "\\AppError", Kind: decl.KindClass,
			Pos:     decl.Pos{File: "src/AppError.php"},
			Extends: []decl.DeclTy{decl.Apply("\\Throwable")},
		},
	)

	if deps := reg.DependenciesOf(depgraph.TypeOf("\\AppError")); len(deps) != 0 {
		t.Errorf("dependencies on a builtin recorded: %v", deps)
	}
}

func TestFoldRequirementsPropagateThroughTraits(t *testing.T) {
	folded := foldHierarchy(t, nil,
		&decl.ShallowClass{Name: "\\Base", Kind: decl.KindClass},
		&decl.ShallowClass{
			Name: "\\T", Kind: decl.KindTrait,
			ReqExtends: []decl.DeclTy{decl.Apply("\\Base")},
		},
		&decl.ShallowClass{
			Name: "\\C", Kind: decl.KindClass,
			Uses: []decl.DeclTy{decl.Apply("\\T")},
		},
	)

	c := folded["\\C"]
	if len(c.ReqExtends) != 1 {
		t.Fatalf("ReqExtends of \\C = %v, want the trait's requirement carried", c.ReqExtends)
	}
	name, _, _ := c.ReqExtends[0].UnwrapClassType()
	if name != "\\Base" {
		t.Errorf("requirement = %v", c.ReqExtends[0])
	}
}

func TestMembersNoSupertypes(t *testing.T) {
	reg := depgraph.NewMemoryRegistrar()
	inh, err := Members(&decl.ShallowClass{Name: "\\Lone", Kind: decl.KindClass}, nil, reg)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}

	if n := len(inh.Substs) + len(inh.Consts) + len(inh.TypeConsts) +
		len(inh.Props) + len(inh.StaticProps) + len(inh.Methods) + len(inh.StaticMeths); n != 0 {
		t.Errorf("class without supertypes inherited %d members: %+v", n, inh)
	}
	if inh.Constructor.Elt != nil || inh.Constructor.Consistency != decl.Inconsistent {
		t.Errorf("Constructor = %+v, want no element and inconsistent", inh.Constructor)
	}
	if reg.Len() != 0 {
		t.Errorf("recorded %d dependency edges, want 0", reg.Len())
	}
}

func TestFoldIsDeterministic(t *testing.T) {
	build := func() map[decl.TypeName]*decl.FoldedClass {
		return foldHierarchy(t, depgraph.NewMemoryRegistrar(),
			&decl.ShallowClass{
				Name: "\\A", Kind: decl.KindClass,
				Tparams: []decl.Tparam{{Name: "T"}},
				Methods: []decl.ShallowMethod{method("m"), method("n")},
				Consts:  []decl.ShallowClassConst{intConst("K1"), intConst("K2")},
			},
			&decl.ShallowClass{
				Name: "\\I", Kind: decl.KindInterface,
				Methods: []decl.ShallowMethod{abstractMethod("m")},
				Consts:  []decl.ShallowClassConst{intConst("K2")},
			},
			&decl.ShallowClass{
				Name: "\\T", Kind: decl.KindTrait,
				ReqExtends: []decl.DeclTy{decl.Apply("\\A", decl.Prim("mixed"))},
				Methods:    []decl.ShallowMethod{method("helper")},
			},
			&decl.ShallowClass{
				Name: "\\C", Kind: decl.KindClass, IsAbstract: true,
				Extends:    []decl.DeclTy{decl.Apply("\\A", decl.Prim("int"))},
				Implements: []decl.DeclTy{decl.Apply("\\I")},
				Uses:       []decl.DeclTy{decl.Apply("\\T")},
			},
		)
	}

	first, second := build(), build()
	for name := range first {
		if diff := cmp.Diff(first[name], second[name]); diff != "" {
			t.Errorf("fold of %s not deterministic (-first +second):\n%s", name, diff)
		}
	}
}
