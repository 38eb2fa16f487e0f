// Package decl defines the declaration model: the shallow classish facts a
// parser extracts from a single file, and the folded facts produced by
// flattening a class together with everything it inherits. Folding is pure
// data transformation; this package holds only the types and the small
// predicates the fold rules are written against.
package decl

import "strings"

// TypeName is a fully qualified classish name, e.g. "\\Foo\\Bar".
type TypeName string

// Pos locates a declaration for diagnostics and provenance. File is the
// path the declaration was extracted from; Line is 1-based.
type Pos struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
}

// IsBuiltin reports whether the position lies in a builtin definition file.
// Builtins ship as .hhi stubs and are excluded from dependency recording.
func (p Pos) IsBuiltin() bool {
	return strings.HasSuffix(p.File, ".hhi")
}

// ClassishKind says which flavor of classish a declaration is.
type ClassishKind string

const (
	KindClass     ClassishKind = "class"
	KindInterface ClassishKind = "interface"
	KindTrait     ClassishKind = "trait"
	KindEnum      ClassishKind = "enum"
	KindEnumClass ClassishKind = "enum_class"
)

// VisibilityKind is the access level of a member.
type VisibilityKind string

const (
	VisPublic    VisibilityKind = "public"
	VisProtected VisibilityKind = "protected"
	VisPrivate   VisibilityKind = "private"
)

// Visibility pairs the access level with the class that enforces it. Owner
// matters for private and protected members pulled in through traits, where
// the using class takes ownership.
type Visibility struct {
	Kind  VisibilityKind `json:"kind"`
	Owner TypeName       `json:"owner,omitempty"`
}

// Public is the zero-config visibility shared by most members.
func Public() Visibility { return Visibility{Kind: VisPublic} }

// Protected returns a protected visibility owned by the given class.
func Protected(owner TypeName) Visibility {
	return Visibility{Kind: VisProtected, Owner: owner}
}

// Private returns a private visibility owned by the given class.
func Private(owner TypeName) Visibility {
	return Visibility{Kind: VisPrivate, Owner: owner}
}
