package fold

import (
	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
	"declnerd/internal/subst"
)

// ClassNameConst is the constant every classish implicitly defines,
// holding its own name.
const ClassNameConst = "class"

// FoldClass flattens one shallow class against the folded declarations of
// its supertypes: inherited members are absorbed first, then the class's
// own members are layered on top, and the ancestor and requirement tables
// are flattened through the parents.
func FoldClass(
	child *decl.ShallowClass,
	parents map[decl.TypeName]*decl.FoldedClass,
	registrar depgraph.Registrar,
) (*decl.FoldedClass, error) {
	inh, err := Members(child, parents, registrar)
	if err != nil {
		return nil, err
	}

	fc := &decl.FoldedClass{
		Name:        child.Name,
		Pos:         child.Pos,
		Kind:        child.Kind,
		IsAbstract:  child.IsAbstract,
		IsFinal:     child.IsFinal,
		Tparams:     child.Tparams,
		Consts:      inh.Consts,
		TypeConsts:  inh.TypeConsts,
		Props:       inh.Props,
		StaticProps: inh.StaticProps,
		Methods:     inh.Methods,
		StaticMeths: inh.StaticMeths,
		Constructor: inh.Constructor,
		Substs:      inh.Substs,
		EnumType:    child.EnumType,
	}

	declareConsts(fc, child)
	declareTypeConsts(fc, child)
	declareProps(fc, child)
	declareMethods(fc, child)
	declareConstructor(fc, child)

	fc.Ancestors = foldAncestors(child, parents)
	fc.ReqExtends, fc.ReqImplements = foldRequirements(child, parents)
	return fc, nil
}

// declareConsts layers the class's own constants over the inherited ones.
// An own declaration always wins. Every classish also implicitly defines
// the "class" constant naming itself.
func declareConsts(fc *decl.FoldedClass, child *decl.ShallowClass) {
	fc.Consts[ClassNameConst] = decl.ClassConst{
		Origin: child.Name,
		Pos:    child.Pos,
		Kind:   decl.ConstConcrete,
		Ty:     decl.Apply("\\HH\\classname"),
	}
	for _, sc := range child.Consts {
		fc.Consts[sc.Name] = decl.ClassConst{
			Origin:     child.Name,
			Pos:        sc.Pos,
			Kind:       sc.Kind,
			HasDefault: sc.HasDefault,
			Ty:         sc.Ty,
		}
	}
}

// declareTypeConsts layers the class's own type constants over the
// inherited ones. Enforceability declared anywhere in the hierarchy is
// kept even when the own declaration omits it.
func declareTypeConsts(fc *decl.FoldedClass, child *decl.ShallowClass) {
	for _, stc := range child.TypeConsts {
		tc := decl.TypeConst{
			Origin:       child.Name,
			Pos:          stc.Pos,
			Kind:         stc.Kind,
			AsConstraint: stc.AsConstraint,
			Default:      stc.Default,
			Ty:           stc.Ty,
		}
		if stc.Enforceable {
			tc.Enforceable = decl.Enforceable{Pos: stc.Pos, Yes: true}
		} else if old, ok := fc.TypeConsts[stc.Name]; ok && old.Enforceable.Yes {
			tc.Enforceable = old.Enforceable
		}
		fc.TypeConsts[stc.Name] = tc
	}
}

func declareProps(fc *decl.FoldedClass, child *decl.ShallowClass) {
	for _, sp := range child.Props {
		fc.Props[sp.Name] = foldedProp(child.Name, sp)
	}
	for _, sp := range child.StaticProps {
		fc.StaticProps[sp.Name] = foldedProp(child.Name, sp)
	}
}

func foldedProp(owner decl.TypeName, sp decl.ShallowProp) decl.FoldedElement {
	return decl.FoldedElement{
		Origin:     owner,
		Visibility: ownVisibility(owner, sp.Visibility),
		IsLSB:      sp.IsLSB,
		IsXHPAttr:  sp.IsXHPAttr,
	}
}

// declareMethods layers the class's own methods over the inherited ones.
// An own declaration always wins. A method marked as an override with no
// inherited method of that name to displace is recorded as a superfluous
// override for later diagnostics.
func declareMethods(fc *decl.FoldedClass, child *decl.ShallowClass) {
	for _, sm := range child.Methods {
		_, inherited := fc.Methods[sm.Name]
		fc.Methods[sm.Name] = foldedMethod(child.Name, sm, sm.IsOverride && !inherited)
	}
	for _, sm := range child.StaticMeths {
		_, inherited := fc.StaticMeths[sm.Name]
		fc.StaticMeths[sm.Name] = foldedMethod(child.Name, sm, sm.IsOverride && !inherited)
	}
}

func foldedMethod(owner decl.TypeName, sm decl.ShallowMethod, superfluous bool) decl.FoldedElement {
	return decl.FoldedElement{
		Origin:                owner,
		Visibility:            ownVisibility(owner, sm.Visibility),
		IsAbstract:            sm.IsAbstract,
		IsFinal:               sm.IsFinal,
		IsSuperfluousOverride: superfluous,
	}
}

// declareConstructor layers the class's own constructor over the inherited
// one and folds in the consistency requirement the class itself imposes: a
// final class pins the constructor entirely, and a class marked
// __ConsistentConstruct requires subclasses to keep the signature.
func declareConstructor(fc *decl.FoldedClass, child *decl.ShallowClass) {
	own := decl.Inconsistent
	if child.IsFinal {
		own = decl.FinalClass
	} else if child.HasAttribute("__ConsistentConstruct") {
		own = decl.ConsistentConstruct
	}

	if child.Constructor != nil {
		elt := foldedMethod(child.Name, *child.Constructor, false)
		fc.Constructor.Elt = &elt
	}
	fc.Constructor.Consistency =
		decl.CoalesceConsistency(fc.Constructor.Consistency, own)
}

func ownVisibility(owner decl.TypeName, kind decl.VisibilityKind) decl.Visibility {
	switch kind {
	case decl.VisPrivate:
		return decl.Private(owner)
	case decl.VisProtected:
		return decl.Protected(owner)
	default:
		return decl.Public()
	}
}

// foldAncestors flattens the transitive supertype set: each direct
// supertype contributes itself at its declared instantiation plus its own
// ancestors instantiated through it.
func foldAncestors(
	child *decl.ShallowClass,
	parents map[decl.TypeName]*decl.FoldedClass,
) map[decl.TypeName]decl.DeclTy {
	acc := make(map[decl.TypeName]decl.DeclTy)
	for _, list := range [][]decl.DeclTy{child.Extends, child.Implements, child.Uses} {
		for _, ty := range list {
			name, targs, ok := ty.UnwrapClassType()
			if !ok {
				continue
			}
			if ancestor, found := parents[name]; found {
				sig := subst.New(ancestor.Tparams, targs)
				for ancName, ancTy := range ancestor.Ancestors {
					acc[ancName] = sig.Ty(ancTy)
				}
			}
			acc[name] = ty
		}
	}
	return acc
}

// foldRequirements flattens the requirement lists: the class's own
// requirements first, then those carried by its supertypes, instantiated
// through each supertype and deduplicated by name.
func foldRequirements(
	child *decl.ShallowClass,
	parents map[decl.TypeName]*decl.FoldedClass,
) (reqExtends, reqImplements []decl.DeclTy) {
	seenE := make(map[decl.TypeName]bool)
	seenI := make(map[decl.TypeName]bool)
	add := func(dst *[]decl.DeclTy, seen map[decl.TypeName]bool, ty decl.DeclTy) {
		if name, _, ok := ty.UnwrapClassType(); ok {
			if seen[name] {
				return
			}
			seen[name] = true
		}
		*dst = append(*dst, ty)
	}

	for _, ty := range child.ReqExtends {
		add(&reqExtends, seenE, ty)
	}
	for _, ty := range child.ReqImplements {
		add(&reqImplements, seenI, ty)
	}
	for _, list := range [][]decl.DeclTy{child.Uses, child.Implements, child.Extends} {
		for _, ty := range list {
			name, targs, ok := ty.UnwrapClassType()
			if !ok {
				continue
			}
			ancestor, found := parents[name]
			if !found {
				continue
			}
			sig := subst.New(ancestor.Tparams, targs)
			for _, req := range ancestor.ReqExtends {
				add(&reqExtends, seenE, sig.Ty(req))
			}
			for _, req := range ancestor.ReqImplements {
				add(&reqImplements, seenI, sig.Ty(req))
			}
		}
	}
	return reqExtends, reqImplements
}
