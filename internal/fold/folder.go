package fold

import (
	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
	"declnerd/internal/subst"
)

// memberFolder walks one class's supertype lists in absorption order and
// accumulates what the class inherits.
type memberFolder struct {
	child     *decl.ShallowClass
	parents   map[decl.TypeName]*decl.FoldedClass
	registrar depgraph.Registrar
}

// Members computes everything child inherits from its folded parents. The
// parents map must hold the folded declaration of every supertype the
// child names; missing entries contribute nothing, which is how unresolved
// names degrade. A constructor dependency is recorded for every
// non-builtin supertype whose full member table is consulted.
func Members(
	child *decl.ShallowClass,
	parents map[decl.TypeName]*decl.FoldedClass,
	registrar depgraph.Registrar,
) (*Inherited, error) {
	f := &memberFolder{child: child, parents: parents, registrar: registrar}
	return f.members()
}

// members runs the absorption phases in their fixed order. Later phases
// only contribute constants, so the heavyweight member tables are settled
// by the first three.
func (f *memberFolder) members() (*Inherited, error) {
	acc := NewInherited()
	if err := f.addFromParents(acc); err != nil {
		return nil, err
	}
	if err := f.addFromRequirements(acc); err != nil {
		return nil, err
	}
	if err := f.addFromTraits(acc); err != nil {
		return nil, err
	}
	f.addFromXHPAttrUses(acc)
	f.addFromInterfaceConstants(acc)
	f.addFromIncludedEnums(acc)
	f.addFromImplementsConstants(acc)
	return acc, nil
}

// membersFromClass extracts one supertype's full contribution: every
// member table, with constants instantiated at the child's type arguments,
// plus the instantiation contexts that let later lookups instantiate
// methods and properties lazily.
func (f *memberFolder) membersFromClass(parentTy decl.DeclTy) (*Inherited, error) {
	name, targs, ok := parentTy.UnwrapClassType()
	if !ok {
		return NewInherited(), nil
	}
	ancestor, ok := f.parents[name]
	if !ok {
		return NewInherited(), nil
	}

	sig := subst.New(ancestor.Tparams, targs)

	inh := NewInherited()
	for n, cc := range ancestor.Consts {
		inh.Consts[n] = sig.ClassConst(cc)
	}
	for n, tc := range ancestor.TypeConsts {
		inh.TypeConsts[n] = sig.TypeConst(tc)
	}
	copyElts(inh.Props, ancestor.Props)
	copyElts(inh.StaticProps, ancestor.StaticProps)
	copyElts(inh.Methods, ancestor.Methods)
	copyElts(inh.StaticMeths, ancestor.StaticMeths)

	// The element must not alias the ancestor's: marking a requirement
	// synthesized mutates it.
	inh.Constructor = ancestor.Constructor.Clone()

	for n, sc := range ancestor.Substs {
		inh.Substs[n] = sc
	}
	inh.Substs[ancestor.Name] = decl.SubstContext{
		Subst:        sig.Map(),
		ClassContext: f.child.Name,
	}

	switch ancestor.Kind {
	case decl.KindTrait:
		inh.chown(f.child.Name)
	case decl.KindClass, decl.KindInterface:
		inh.filterPrivates()
	case decl.KindEnum, decl.KindEnumClass:
		// enum members come through as they are
	}

	if f.registrar != nil && !ancestor.Pos.IsBuiltin() {
		err := f.registrar.AddDependency(
			depgraph.TypeOf(f.child.Name),
			depgraph.ConstructorOf(ancestor.Name),
		)
		if err != nil {
			return nil, err
		}
	}
	return inh, nil
}

// classConstantsFromClass extracts only a supertype's constants and type
// constants, instantiated at the child's type arguments. Used for the
// interfaces and included enums whose other members are not inherited.
func (f *memberFolder) classConstantsFromClass(ty decl.DeclTy) *Inherited {
	name, targs, ok := ty.UnwrapClassType()
	if !ok {
		return NewInherited()
	}
	ancestor, ok := f.parents[name]
	if !ok {
		return NewInherited()
	}

	sig := subst.New(ancestor.Tparams, targs)
	inh := NewInherited()
	for n, cc := range ancestor.Consts {
		inh.Consts[n] = sig.ClassConst(cc)
	}
	for n, tc := range ancestor.TypeConsts {
		inh.TypeConsts[n] = sig.TypeConst(tc)
	}
	return inh
}

// xhpAttrsFromClass extracts only the attribute properties of a supertype
// named in an attribute-use clause.
func (f *memberFolder) xhpAttrsFromClass(ty decl.DeclTy) *Inherited {
	name, _, ok := ty.UnwrapClassType()
	if !ok {
		return NewInherited()
	}
	ancestor, ok := f.parents[name]
	if !ok {
		return NewInherited()
	}

	inh := NewInherited()
	for n, p := range ancestor.Props {
		if p.IsXHPAttr {
			inh.Props[n] = p
		}
	}
	return inh
}

// addFromParents absorbs the supertypes that contribute full member
// tables. Which lists count as parents depends on the child's kind: an
// abstract class also counts its interfaces, a trait counts its interfaces
// and required interfaces, and everything else counts only what it
// extends. The list is walked in reverse so the first-declared parent is
// absorbed last and wins ties.
func (f *memberFolder) addFromParents(acc *Inherited) error {
	var tys []decl.DeclTy
	switch {
	case f.child.Kind == decl.KindClass && f.child.IsAbstract:
		tys = append(tys, f.child.Implements...)
		tys = append(tys, f.child.Extends...)
	case f.child.Kind == decl.KindTrait:
		tys = append(tys, f.child.Implements...)
		tys = append(tys, f.child.Extends...)
		tys = append(tys, f.child.ReqImplements...)
	default:
		tys = append(tys, f.child.Extends...)
	}

	for i := len(tys) - 1; i >= 0; i-- {
		inh, err := f.membersFromClass(tys[i])
		if err != nil {
			return err
		}
		acc.Absorb(inh)
	}
	return nil
}

// addFromRequirements absorbs required base classes, with every member
// marked synthesized: the requirement guarantees the members exist at use
// sites without this class providing them.
func (f *memberFolder) addFromRequirements(acc *Inherited) error {
	for _, ty := range f.child.ReqExtends {
		inh, err := f.membersFromClass(ty)
		if err != nil {
			return err
		}
		inh.MarkSynthesized()
		acc.Absorb(inh)
	}
	return nil
}

// addFromTraits absorbs used traits in declaration order, so a later use
// wins ties against an earlier one.
func (f *memberFolder) addFromTraits(acc *Inherited) error {
	for _, ty := range f.child.Uses {
		inh, err := f.membersFromClass(ty)
		if err != nil {
			return err
		}
		acc.Absorb(inh)
	}
	return nil
}

func (f *memberFolder) addFromXHPAttrUses(acc *Inherited) {
	for _, ty := range f.child.XHPAttrUses {
		acc.Absorb(f.xhpAttrsFromClass(ty))
	}
}

func (f *memberFolder) addFromInterfaceConstants(acc *Inherited) {
	for _, ty := range f.child.ReqImplements {
		acc.Absorb(f.classConstantsFromClass(ty))
	}
}

func (f *memberFolder) addFromIncludedEnums(acc *Inherited) {
	if f.child.EnumType == nil {
		return
	}
	for _, ty := range f.child.EnumType.Includes {
		acc.Absorb(f.classConstantsFromClass(ty))
	}
}

func (f *memberFolder) addFromImplementsConstants(acc *Inherited) {
	for _, ty := range f.child.Implements {
		acc.Absorb(f.classConstantsFromClass(ty))
	}
}

// chown transfers ownership of private and protected members to the class
// using the trait. Synthesized protected members keep the owner named by
// the requirement they came from.
func (inh *Inherited) chown(owner decl.TypeName) {
	chownElts(inh.Props, owner)
	chownElts(inh.StaticProps, owner)
	chownElts(inh.Methods, owner)
	chownElts(inh.StaticMeths, owner)
}

func chownElts(elts map[string]decl.FoldedElement, owner decl.TypeName) {
	for name, e := range elts {
		switch {
		case e.Visibility.Kind == decl.VisPrivate:
			e.Visibility.Owner = owner
		case e.Visibility.Kind == decl.VisProtected && !e.IsSynthesized:
			e.Visibility.Owner = owner
		default:
			continue
		}
		elts[name] = e
	}
}

// filterPrivates drops private members, which do not cross a class or
// interface edge. Members marked for late static binding survive.
func (inh *Inherited) filterPrivates() {
	filterElts(inh.Props)
	filterElts(inh.StaticProps)
	filterElts(inh.Methods)
	filterElts(inh.StaticMeths)
}

func filterElts(elts map[string]decl.FoldedElement) {
	for name, e := range elts {
		if e.Visibility.Kind == decl.VisPrivate && !e.IsLSB {
			delete(elts, name)
		}
	}
}

func copyElts(dst, src map[string]decl.FoldedElement) {
	for name, e := range src {
		dst[name] = e
	}
}
