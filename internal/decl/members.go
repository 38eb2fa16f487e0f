package decl

import "fmt"

// FoldedElement is a method or property after folding: provenance plus the
// flags the merge rules consult. The full signature stays with the origin
// class and is recovered through the substitution contexts, so the folded
// table stays small no matter how deep the hierarchy is.
type FoldedElement struct {
	Origin                TypeName   `json:"origin"`
	Visibility            Visibility `json:"visibility"`
	IsAbstract            bool       `json:"is_abstract,omitempty"`
	IsFinal               bool       `json:"is_final,omitempty"`
	IsSynthesized         bool       `json:"is_synthesized,omitempty"`
	IsSuperfluousOverride bool       `json:"is_superfluous_override,omitempty"`
	IsLSB                 bool       `json:"is_lsb,omitempty"`
	IsXHPAttr             bool       `json:"is_xhp_attr,omitempty"`
}

// ConstKind distinguishes abstract class constants from concrete ones.
type ConstKind string

const (
	ConstAbstract ConstKind = "abstract"
	ConstConcrete ConstKind = "concrete"
)

// ClassConst is a folded class constant.
type ClassConst struct {
	Origin        TypeName  `json:"origin"`
	Pos           Pos       `json:"pos"`
	Kind          ConstKind `json:"kind"`
	HasDefault    bool      `json:"has_default,omitempty"`
	Ty            DeclTy    `json:"ty"`
	IsSynthesized bool      `json:"is_synthesized,omitempty"`
}

// TypeConstKind distinguishes abstract type constants from concrete ones.
type TypeConstKind string

const (
	TypeConstAbstract TypeConstKind = "abstract"
	TypeConstConcrete TypeConstKind = "concrete"
)

// Enforceable records whether a type constant may be used in a runtime
// check, and where that was declared.
type Enforceable struct {
	Pos Pos  `json:"pos,omitempty"`
	Yes bool `json:"yes,omitempty"`
}

// TypeConst is a folded type constant. Abstract type constants carry an
// optional constraint and an optional default; concrete ones carry Ty.
type TypeConst struct {
	Origin        TypeName      `json:"origin"`
	Pos           Pos           `json:"pos"`
	Kind          TypeConstKind `json:"kind"`
	AsConstraint  *DeclTy       `json:"as_constraint,omitempty"`
	Default       *DeclTy       `json:"default,omitempty"`
	Ty            *DeclTy       `json:"ty,omitempty"`
	Enforceable   Enforceable   `json:"enforceable,omitempty"`
	IsSynthesized bool          `json:"is_synthesized,omitempty"`
}

// ConsistentKind classifies how strictly subclasses must agree with a
// constructor signature. The values are ordered: merging two kinds keeps
// the stricter one.
type ConsistentKind int

const (
	Inconsistent ConsistentKind = iota
	ConsistentConstruct
	FinalClass
)

// CoalesceConsistency keeps the stricter of two consistency requirements.
func CoalesceConsistency(a, b ConsistentKind) ConsistentKind {
	if a > b {
		return a
	}
	return b
}

func (k ConsistentKind) String() string {
	switch k {
	case Inconsistent:
		return "inconsistent"
	case ConsistentConstruct:
		return "consistent_construct"
	case FinalClass:
		return "final_class"
	default:
		return fmt.Sprintf("ConsistentKind(%d)", int(k))
	}
}

// MarshalText serializes the kind as its name so stored declarations stay
// readable.
func (k ConsistentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the name produced by MarshalText.
func (k *ConsistentKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "inconsistent":
		*k = Inconsistent
	case "consistent_construct":
		*k = ConsistentConstruct
	case "final_class":
		*k = FinalClass
	default:
		return fmt.Errorf("unknown consistency %q", string(b))
	}
	return nil
}

// Constructor pairs the folded constructor element, if any class in the
// hierarchy declares one, with the strictest consistency requirement seen.
type Constructor struct {
	Elt         *FoldedElement `json:"elt,omitempty"`
	Consistency ConsistentKind `json:"consistency"`
}

// Clone returns a copy whose element does not alias the receiver's. Folding
// mutates constructor elements in place when marking requirements
// synthesized, so an ancestor's constructor must never be shared.
func (c Constructor) Clone() Constructor {
	if c.Elt != nil {
		elt := *c.Elt
		c.Elt = &elt
	}
	return c
}

// SubstContext records how one ancestor was instantiated on the way down to
// a particular descendant. ClassContext is the class whose fold created the
// entry; FromReqExtends marks instantiations that came from a requirement
// rather than a genuine extends, which lose to genuine ones when merging.
//
// The Subst map is never mutated after construction and may be shared
// between folded classes.
type SubstContext struct {
	Subst          map[string]DeclTy `json:"subst"`
	ClassContext   TypeName          `json:"class_context"`
	FromReqExtends bool              `json:"from_req_extends,omitempty"`
}
