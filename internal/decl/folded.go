package decl

import "sort"

// FoldedClass is a classish declaration with its whole hierarchy flattened
// in: every member visible on the class keyed by name, the full ancestor
// set, and the substitution contexts that recover generic instantiations.
type FoldedClass struct {
	Name       TypeName     `json:"name"`
	Pos        Pos          `json:"pos"`
	Kind       ClassishKind `json:"kind"`
	IsAbstract bool         `json:"is_abstract,omitempty"`
	IsFinal    bool         `json:"is_final,omitempty"`
	Tparams    []Tparam     `json:"tparams,omitempty"`

	// Ancestors maps every transitive supertype to the instantiation this
	// class sees it at.
	Ancestors map[TypeName]DeclTy `json:"ancestors,omitempty"`

	ReqExtends    []DeclTy `json:"req_extends,omitempty"`
	ReqImplements []DeclTy `json:"req_implements,omitempty"`

	Consts      map[string]ClassConst    `json:"consts,omitempty"`
	TypeConsts  map[string]TypeConst     `json:"type_consts,omitempty"`
	Props       map[string]FoldedElement `json:"props,omitempty"`
	StaticProps map[string]FoldedElement `json:"static_props,omitempty"`
	Methods     map[string]FoldedElement `json:"methods,omitempty"`
	StaticMeths map[string]FoldedElement `json:"static_methods,omitempty"`
	Constructor Constructor              `json:"constructor"`

	Substs map[TypeName]SubstContext `json:"substs,omitempty"`

	EnumType *EnumType `json:"enum_type,omitempty"`
}

// HasAncestor reports whether name is a transitive supertype of the class.
func (fc *FoldedClass) HasAncestor(name TypeName) bool {
	_, ok := fc.Ancestors[name]
	return ok
}

// AncestorNames returns the ancestor set sorted by name, for stable output.
func (fc *FoldedClass) AncestorNames() []TypeName {
	names := make([]TypeName, 0, len(fc.Ancestors))
	for name := range fc.Ancestors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// MemberCounts summarizes how many members of each category the folded
// class exposes, for status output.
func (fc *FoldedClass) MemberCounts() map[string]int {
	counts := map[string]int{
		"consts":         len(fc.Consts),
		"type_consts":    len(fc.TypeConsts),
		"props":          len(fc.Props),
		"static_props":   len(fc.StaticProps),
		"methods":        len(fc.Methods),
		"static_methods": len(fc.StaticMeths),
	}
	if fc.Constructor.Elt != nil {
		counts["constructor"] = 1
	}
	return counts
}
