package fold

import "declnerd/internal/decl"

// ReferencedParents returns every supertype a shallow class names, in
// declaration order with duplicates removed: extends, implements, uses,
// XHP attribute uses, requirements, and included enums. These are the
// declarations whose folded form must exist before the class itself can
// fold.
func ReferencedParents(sc *decl.ShallowClass) []decl.TypeName {
	seen := make(map[decl.TypeName]struct{})
	var out []decl.TypeName
	add := func(tys []decl.DeclTy) {
		for _, ty := range tys {
			name, _, ok := ty.UnwrapClassType()
			if !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	add(sc.Extends)
	add(sc.Implements)
	add(sc.Uses)
	add(sc.XHPAttrUses)
	add(sc.ReqExtends)
	add(sc.ReqImplements)
	if sc.EnumType != nil {
		add(sc.EnumType.Includes)
	}
	return out
}
