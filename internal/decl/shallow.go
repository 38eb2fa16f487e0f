package decl

// ShallowClass is one classish declaration exactly as a single file states
// it: its own members and the names of its supertypes, with no inheritance
// applied. Shallow declarations are what parsers and manifests produce and
// what the folder consumes.
type ShallowClass struct {
	Name       TypeName     `json:"name"`
	Pos        Pos          `json:"pos"`
	Kind       ClassishKind `json:"kind"`
	IsAbstract bool         `json:"is_abstract,omitempty"`
	IsFinal    bool         `json:"is_final,omitempty"`
	Tparams    []Tparam     `json:"tparams,omitempty"`

	Extends       []DeclTy `json:"extends,omitempty"`
	Implements    []DeclTy `json:"implements,omitempty"`
	Uses          []DeclTy `json:"uses,omitempty"`
	XHPAttrUses   []DeclTy `json:"xhp_attr_uses,omitempty"`
	ReqExtends    []DeclTy `json:"req_extends,omitempty"`
	ReqImplements []DeclTy `json:"req_implements,omitempty"`

	Consts      []ShallowClassConst `json:"consts,omitempty"`
	TypeConsts  []ShallowTypeConst  `json:"type_consts,omitempty"`
	Props       []ShallowProp       `json:"props,omitempty"`
	StaticProps []ShallowProp       `json:"static_props,omitempty"`
	Methods     []ShallowMethod     `json:"methods,omitempty"`
	StaticMeths []ShallowMethod     `json:"static_methods,omitempty"`
	Constructor *ShallowMethod      `json:"constructor,omitempty"`

	EnumType   *EnumType `json:"enum_type,omitempty"`
	Attributes []string  `json:"attributes,omitempty"`
}

// HasAttribute reports whether the class carries the named attribute.
func (sc *ShallowClass) HasAttribute(name string) bool {
	for _, a := range sc.Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// ShallowMethod is a method as declared, before folding.
type ShallowMethod struct {
	Name       string         `json:"name"`
	Pos        Pos            `json:"pos"`
	Visibility VisibilityKind `json:"visibility"`
	IsAbstract bool           `json:"is_abstract,omitempty"`
	IsFinal    bool           `json:"is_final,omitempty"`
	IsOverride bool           `json:"is_override,omitempty"`
}

// ShallowProp is a property as declared, before folding.
type ShallowProp struct {
	Name       string         `json:"name"`
	Pos        Pos            `json:"pos"`
	Visibility VisibilityKind `json:"visibility"`
	Ty         *DeclTy        `json:"ty,omitempty"`
	IsLSB      bool           `json:"is_lsb,omitempty"`
	IsXHPAttr  bool           `json:"is_xhp_attr,omitempty"`
}

// ShallowClassConst is a class constant as declared, before folding.
type ShallowClassConst struct {
	Name       string    `json:"name"`
	Pos        Pos       `json:"pos"`
	Kind       ConstKind `json:"kind"`
	HasDefault bool      `json:"has_default,omitempty"`
	Ty         DeclTy    `json:"ty"`
}

// ShallowTypeConst is a type constant as declared, before folding.
type ShallowTypeConst struct {
	Name         string        `json:"name"`
	Pos          Pos           `json:"pos"`
	Kind         TypeConstKind `json:"kind"`
	AsConstraint *DeclTy       `json:"as_constraint,omitempty"`
	Default      *DeclTy       `json:"default,omitempty"`
	Ty           *DeclTy       `json:"ty,omitempty"`
	Enforceable  bool          `json:"enforceable,omitempty"`
}

// EnumType describes the enum-specific parts of a declaration: the backing
// type and any enums whose constants this one includes.
type EnumType struct {
	Base     DeclTy   `json:"base"`
	Includes []DeclTy `json:"includes,omitempty"`
}
