// Package fold flattens class hierarchies. Given a shallow class and the
// already folded declarations of everything it transitively derives from,
// it produces the folded declaration: every member the class exposes, with
// provenance, plus the ancestor and substitution tables.
//
// All of the subtlety lives in the collision rules. Each member category
// has its own notion of which of two same-named entries survives, and the
// absorption order over a class's supertype lists decides which entries
// ever collide.
package fold

import "declnerd/internal/decl"

// Inherited accumulates members received from supertypes, one table per
// category. It starts empty and absorbs one supertype at a time; the
// per-category rules below resolve name collisions between supertypes.
type Inherited struct {
	Substs      map[decl.TypeName]decl.SubstContext
	Constructor decl.Constructor
	Consts      map[string]decl.ClassConst
	TypeConsts  map[string]decl.TypeConst
	Props       map[string]decl.FoldedElement
	StaticProps map[string]decl.FoldedElement
	Methods     map[string]decl.FoldedElement
	StaticMeths map[string]decl.FoldedElement
}

// NewInherited returns an empty accumulator. The constructor starts absent
// with no consistency requirement.
func NewInherited() *Inherited {
	return &Inherited{
		Substs:      make(map[decl.TypeName]decl.SubstContext),
		Constructor: decl.Constructor{Consistency: decl.Inconsistent},
		Consts:      make(map[string]decl.ClassConst),
		TypeConsts:  make(map[string]decl.TypeConst),
		Props:       make(map[string]decl.FoldedElement),
		StaticProps: make(map[string]decl.FoldedElement),
		Methods:     make(map[string]decl.FoldedElement),
		StaticMeths: make(map[string]decl.FoldedElement),
	}
}

// shouldKeepOldSig decides a collision between two method-like elements in
// favor of the one already in place. A concrete element is never displaced
// by an abstract one, and between elements of equal abstractness a genuine
// declaration is never displaced by a synthesized one.
func shouldKeepOldSig(newSig, oldSig *decl.FoldedElement) bool {
	return (!oldSig.IsAbstract && newSig.IsAbstract) ||
		(oldSig.IsAbstract == newSig.IsAbstract &&
			!oldSig.IsSynthesized && newSig.IsSynthesized)
}

// addMethod folds one incoming method into a table. The incoming entry
// wins unless shouldKeepOldSig keeps the existing one. An entry that
// displaces another genuinely overrides it, so a pending
// superfluous-override mark on the winner is dropped.
func addMethod(methods map[string]decl.FoldedElement, name string, newMeth decl.FoldedElement) {
	old, ok := methods[name]
	if !ok {
		methods[name] = newMeth
		return
	}
	if shouldKeepOldSig(&newMeth, &old) {
		return
	}
	newMeth.IsSuperfluousOverride = false
	methods[name] = newMeth
}

// addConstructor merges an incoming constructor. An absent incoming
// element leaves the existing one in place; two present elements collide
// under the method rule. The consistency requirement always coalesces to
// the stricter of the two, whichever element survives.
func (inh *Inherited) addConstructor(ctor decl.Constructor) {
	if ctor.Elt != nil {
		if inh.Constructor.Elt == nil || !shouldKeepOldSig(ctor.Elt, inh.Constructor.Elt) {
			inh.Constructor.Elt = ctor.Elt
		}
	}
	inh.Constructor.Consistency =
		decl.CoalesceConsistency(inh.Constructor.Consistency, ctor.Consistency)
}

// addSubsts merges instantiation contexts. The first context recorded for
// an ancestor wins, except that a context derived from a genuine extends
// displaces one derived from a requirement.
func (inh *Inherited) addSubsts(substs map[decl.TypeName]decl.SubstContext) {
	for name, sc := range substs {
		old, ok := inh.Substs[name]
		if !ok || (old.FromReqExtends && !sc.FromReqExtends) {
			inh.Substs[name] = sc
		}
	}
}

// addConst folds one incoming class constant. An abstract constant never
// displaces a concrete one, and a synthesized constant never displaces a
// genuine one; otherwise the incoming entry wins.
func (inh *Inherited) addConst(name string, cc decl.ClassConst) {
	old, ok := inh.Consts[name]
	if !ok {
		inh.Consts[name] = cc
		return
	}
	if cc.Kind == decl.ConstAbstract && old.Kind == decl.ConstConcrete {
		return
	}
	if cc.IsSynthesized && !old.IsSynthesized {
		return
	}
	inh.Consts[name] = cc
}

// addTypeConst folds one incoming type constant. A concrete entry beats an
// abstract one, and an abstract entry with a default beats one without;
// otherwise the incoming entry wins. Enforceability is sticky: once either
// side is enforceable, the survivor is enforceable.
func (inh *Inherited) addTypeConst(name string, newTC decl.TypeConst) {
	old, ok := inh.TypeConsts[name]
	if !ok {
		inh.TypeConsts[name] = newTC
		return
	}

	if old.Enforceable.Yes && !newTC.Enforceable.Yes {
		newTC.Enforceable = old.Enforceable
	}
	if newTC.Enforceable.Yes && !old.Enforceable.Yes {
		old.Enforceable = newTC.Enforceable
	}

	keepOld := (old.Kind == decl.TypeConstConcrete && newTC.Kind == decl.TypeConstAbstract) ||
		(old.Kind == decl.TypeConstAbstract && newTC.Kind == decl.TypeConstAbstract &&
			old.Default != nil && newTC.Default == nil)
	if keepOld {
		// The kept entry may have just gained enforceability.
		inh.TypeConsts[name] = old
		return
	}
	inh.TypeConsts[name] = newTC
}

// Absorb merges everything from other into inh, category by category.
// Properties have no collision rule: the incoming entry always wins.
func (inh *Inherited) Absorb(other *Inherited) {
	inh.addSubsts(other.Substs)
	for name, p := range other.Props {
		inh.Props[name] = p
	}
	for name, p := range other.StaticProps {
		inh.StaticProps[name] = p
	}
	for name, m := range other.Methods {
		addMethod(inh.Methods, name, m)
	}
	for name, m := range other.StaticMeths {
		addMethod(inh.StaticMeths, name, m)
	}
	inh.addConstructor(other.Constructor)
	for name, c := range other.Consts {
		inh.addConst(name, c)
	}
	for name, tc := range other.TypeConsts {
		inh.addTypeConst(name, tc)
	}
}

// MarkSynthesized stamps every member as coming from a requirement rather
// than a genuine supertype, and flags every instantiation context so a
// genuine extends can displace it later.
func (inh *Inherited) MarkSynthesized() {
	for name, sc := range inh.Substs {
		sc.FromReqExtends = true
		inh.Substs[name] = sc
	}
	if inh.Constructor.Elt != nil {
		inh.Constructor.Elt.IsSynthesized = true
	}
	markElts(inh.Props)
	markElts(inh.StaticProps)
	markElts(inh.Methods)
	markElts(inh.StaticMeths)
	for name, c := range inh.Consts {
		c.IsSynthesized = true
		inh.Consts[name] = c
	}
	for name, tc := range inh.TypeConsts {
		tc.IsSynthesized = true
		inh.TypeConsts[name] = tc
	}
}

func markElts(elts map[string]decl.FoldedElement) {
	for name, e := range elts {
		e.IsSynthesized = true
		elts[name] = e
	}
}
