package decl

// TyKind tags the shape of a declaration type.
type TyKind string

const (
	TyPrim    TyKind = "prim"    // int, string, bool, ...
	TyGeneric TyKind = "generic" // a type parameter name such as T
	TyApply   TyKind = "apply"   // a named type applied to arguments
	TyOption  TyKind = "option"  // ?T
	TyTuple   TyKind = "tuple"   // (T1, T2, ...)
)

// DeclTy is the minimal recursive type representation the fold needs: enough
// to carry generic instantiations from child to ancestor and to substitute
// type parameters structurally. Name holds the primitive or generic name,
// or the applied class name for TyApply. Args are the type arguments for
// TyApply and TyTuple, and the single element type for TyOption.
type DeclTy struct {
	Kind TyKind   `json:"kind"`
	Name TypeName `json:"name,omitempty"`
	Args []DeclTy `json:"args,omitempty"`
}

// Prim builds a primitive type such as int or string.
func Prim(name string) DeclTy {
	return DeclTy{Kind: TyPrim, Name: TypeName(name)}
}

// Generic builds a type-parameter reference.
func Generic(name string) DeclTy {
	return DeclTy{Kind: TyGeneric, Name: TypeName(name)}
}

// Apply builds a named type applied to zero or more arguments.
func Apply(name TypeName, args ...DeclTy) DeclTy {
	return DeclTy{Kind: TyApply, Name: name, Args: args}
}

// Option builds a nullable type.
func Option(inner DeclTy) DeclTy {
	return DeclTy{Kind: TyOption, Args: []DeclTy{inner}}
}

// Tuple builds a tuple type.
func Tuple(elems ...DeclTy) DeclTy {
	return DeclTy{Kind: TyTuple, Args: elems}
}

// UnwrapClassType returns the applied class name and its type arguments if
// the type is a class application, otherwise ok is false. Ancestor lists
// are stored as TyApply values and every fold step starts by unwrapping.
func (t DeclTy) UnwrapClassType() (name TypeName, args []DeclTy, ok bool) {
	if t.Kind != TyApply {
		return "", nil, false
	}
	return t.Name, t.Args, true
}

// Equal reports structural equality of two types.
func (t DeclTy) Equal(o DeclTy) bool {
	if t.Kind != o.Kind || t.Name != o.Name || len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// Tparam is a declared type parameter. Only the name participates in
// folding; constraints stay with the shallow declaration.
type Tparam struct {
	Name string `json:"name"`
}
