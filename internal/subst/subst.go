// Package subst instantiates declaration types: it maps type parameter
// names to concrete type arguments and rewrites types structurally. A
// substitution is built once per (ancestor, instantiation) pair during
// folding and applied to the ancestor's constants and type constants.
package subst

import "declnerd/internal/decl"

// Subst maps type parameter names to the types they were instantiated
// with. The zero value substitutes nothing.
type Subst struct {
	m map[string]decl.DeclTy
}

// New pairs tparams with targs positionally. When the lists differ in
// length the extra entries on either side are ignored: an uninstantiated
// parameter keeps its generic name, and surplus arguments have no
// parameter to bind.
func New(tparams []decl.Tparam, targs []decl.DeclTy) Subst {
	n := len(tparams)
	if len(targs) < n {
		n = len(targs)
	}
	if n == 0 {
		return Subst{}
	}
	m := make(map[string]decl.DeclTy, n)
	for i := 0; i < n; i++ {
		m[tparams[i].Name] = targs[i]
	}
	return Subst{m: m}
}

// FromMap wraps an existing parameter map, as stored in a substitution
// context. The map is not copied.
func FromMap(m map[string]decl.DeclTy) Subst {
	return Subst{m: m}
}

// Map exposes the underlying parameter map for storage in a substitution
// context. Callers must not mutate it.
func (s Subst) Map() map[string]decl.DeclTy {
	return s.m
}

// IsEmpty reports whether the substitution maps nothing.
func (s Subst) IsEmpty() bool {
	return len(s.m) == 0
}

// Ty rewrites a type, replacing every generic the substitution knows about.
// Replacement is not repeated on the result: generics inside a substituted
// type belong to the child's scope and stay as they are.
func (s Subst) Ty(t decl.DeclTy) decl.DeclTy {
	if len(s.m) == 0 {
		return t
	}
	return s.ty(t)
}

func (s Subst) ty(t decl.DeclTy) decl.DeclTy {
	switch t.Kind {
	case decl.TyGeneric:
		if rep, ok := s.m[string(t.Name)]; ok {
			return rep
		}
		return t
	case decl.TyApply, decl.TyOption, decl.TyTuple:
		if len(t.Args) == 0 {
			return t
		}
		args := make([]decl.DeclTy, len(t.Args))
		for i := range t.Args {
			args[i] = s.ty(t.Args[i])
		}
		t.Args = args
		return t
	default:
		return t
	}
}

func (s Subst) tyPtr(t *decl.DeclTy) *decl.DeclTy {
	if t == nil {
		return nil
	}
	out := s.ty(*t)
	return &out
}

// ClassConst instantiates a class constant's type.
func (s Subst) ClassConst(cc decl.ClassConst) decl.ClassConst {
	if len(s.m) == 0 {
		return cc
	}
	cc.Ty = s.ty(cc.Ty)
	return cc
}

// TypeConst instantiates a type constant's constraint, default and type.
func (s Subst) TypeConst(tc decl.TypeConst) decl.TypeConst {
	if len(s.m) == 0 {
		return tc
	}
	tc.AsConstraint = s.tyPtr(tc.AsConstraint)
	tc.Default = s.tyPtr(tc.Default)
	tc.Ty = s.tyPtr(tc.Ty)
	return tc
}
