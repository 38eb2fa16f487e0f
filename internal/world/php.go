package world

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"

	"declnerd/internal/decl"
	"declnerd/internal/logging"
)

// PHPParser extracts classish declarations from PHP sources using
// tree-sitter. It covers the subset PHP shares with the declaration model:
// class, interface, trait and enum declarations, their extends, implements
// and use clauses, and members with visibility, static, abstract and final
// modifiers. Unqualified supertype names resolve against the surrounding
// namespace; import aliases are not resolved.
type PHPParser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewPHPParser returns a parser for ".php" files.
func NewPHPParser() *PHPParser {
	parser := sitter.NewParser()
	parser.SetLanguage(php.GetLanguage())
	return &PHPParser{parser: parser}
}

// Language returns "php".
func (p *PHPParser) Language() string {
	return "php"
}

// SupportedExtensions returns [".php"].
func (p *PHPParser) SupportedExtensions() []string {
	return []string{".php"}
}

// Parse extracts every classish declaration in the file. A tree-sitter
// parser holds parse state, so concurrent calls are serialized.
func (p *PHPParser) Parse(path string, content []byte) ([]*decl.ShallowClass, error) {
	start := time.Now()

	p.mu.Lock()
	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	p.mu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryWorld).Error("PHP parse failed: %s - %v", path, err)
		return nil, err
	}
	defer tree.Close()

	w := &phpWalker{path: path, src: content}
	w.walkStatements(tree.RootNode())

	logging.WorldDebug("PHP %s: %d classes in %v",
		filepath.Base(path), len(w.classes), time.Since(start))
	return w.classes, nil
}

// phpWalker accumulates declarations while walking one file's tree.
type phpWalker struct {
	path    string
	src     []byte
	ns      string // current namespace without leading or trailing backslash
	classes []*decl.ShallowClass
}

func (w *phpWalker) text(n *sitter.Node) string {
	return string(w.src[n.StartByte():n.EndByte()])
}

func (w *phpWalker) pos(n *sitter.Node) decl.Pos {
	return decl.Pos{File: w.path, Line: int(n.StartPoint().Row) + 1}
}

// resolve turns a source-level class reference into a rooted name.
func (w *phpWalker) resolve(name string) decl.TypeName {
	if strings.HasPrefix(name, "\\") {
		return decl.TypeName(name)
	}
	if w.ns != "" {
		return decl.TypeName("\\" + w.ns + "\\" + name)
	}
	return decl.TypeName("\\" + name)
}

// walkStatements handles a statement list: the program root, or the body
// of a braced namespace block.
func (w *phpWalker) walkStatements(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "namespace_definition":
			w.namespace(child)
		case "class_declaration":
			w.classes = append(w.classes, w.classish(child, decl.KindClass))
		case "interface_declaration":
			w.classes = append(w.classes, w.classish(child, decl.KindInterface))
		case "trait_declaration":
			w.classes = append(w.classes, w.classish(child, decl.KindTrait))
		case "enum_declaration":
			w.classes = append(w.classes, w.enum(child))
		}
	}
}

func (w *phpWalker) namespace(node *sitter.Node) {
	ns := ""
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		ns = w.text(nameNode)
	}

	// Braced form scopes the namespace to its block; statement form
	// applies to the rest of the file.
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "compound_statement" {
			saved := w.ns
			w.ns = ns
			w.walkStatements(child)
			w.ns = saved
			return
		}
	}
	w.ns = ns
}

func (w *phpWalker) classish(node *sitter.Node, kind decl.ClassishKind) *decl.ShallowClass {
	sc := &decl.ShallowClass{Kind: kind, Pos: w.pos(node)}
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		sc.Name = w.resolve(w.text(nameNode))
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "abstract_modifier":
			sc.IsAbstract = true
		case "final_modifier":
			sc.IsFinal = true
		case "base_clause":
			sc.Extends = append(sc.Extends, w.typeList(child)...)
		case "class_interface_clause":
			sc.Implements = append(sc.Implements, w.typeList(child)...)
		}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		w.members(body, sc)
	}
	return sc
}

func (w *phpWalker) enum(node *sitter.Node) *decl.ShallowClass {
	sc := &decl.ShallowClass{Kind: decl.KindEnum, Pos: w.pos(node)}
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		sc.Name = w.resolve(w.text(nameNode))
	}

	base := decl.Prim("arraykey")
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "primitive_type":
			base = decl.Prim(w.text(child))
		case "class_interface_clause":
			sc.Implements = append(sc.Implements, w.typeList(child)...)
		}
	}
	sc.EnumType = &decl.EnumType{Base: base}

	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			child := body.NamedChild(i)
			switch child.Type() {
			case "enum_case":
				nameNode := child.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				sc.Consts = append(sc.Consts, decl.ShallowClassConst{
					Name:       w.text(nameNode),
					Pos:        w.pos(child),
					Kind:       decl.ConstConcrete,
					HasDefault: true,
					Ty:         decl.Apply(sc.Name),
				})
			case "method_declaration":
				w.method(child, sc)
			case "const_declaration":
				w.constant(child, sc)
			case "use_declaration":
				sc.Uses = append(sc.Uses, w.typeList(child)...)
			}
		}
	}
	return sc
}

// members walks a declaration_list body.
func (w *phpWalker) members(body *sitter.Node, sc *decl.ShallowClass) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "method_declaration":
			w.method(child, sc)
		case "property_declaration":
			w.property(child, sc)
		case "const_declaration":
			w.constant(child, sc)
		case "use_declaration":
			sc.Uses = append(sc.Uses, w.typeList(child)...)
		}
	}
}

func (w *phpWalker) method(node *sitter.Node, sc *decl.ShallowClass) {
	m := decl.ShallowMethod{Pos: w.pos(node), Visibility: decl.VisPublic}
	isStatic := false
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "visibility_modifier":
			m.Visibility = visibilityOf(w.text(child))
		case "static_modifier":
			isStatic = true
		case "abstract_modifier":
			m.IsAbstract = true
		case "final_modifier":
			m.IsFinal = true
		}
	}

	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	m.Name = w.text(nameNode)

	switch {
	case m.Name == "__construct":
		sc.Constructor = &m
	case isStatic:
		sc.StaticMeths = append(sc.StaticMeths, m)
	default:
		sc.Methods = append(sc.Methods, m)
	}
}

func (w *phpWalker) property(node *sitter.Node, sc *decl.ShallowClass) {
	vis := decl.VisPublic
	isStatic := false
	var ty *decl.DeclTy
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "visibility_modifier":
			vis = visibilityOf(w.text(child))
		case "static_modifier":
			isStatic = true
		case "property_element":
			// collected below, after all modifiers are known
		default:
			if t := w.typeOf(child); t != nil {
				ty = t
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "property_element" {
			continue
		}
		var varName *sitter.Node
		for j := 0; j < int(child.NamedChildCount()); j++ {
			if c := child.NamedChild(j); c.Type() == "variable_name" {
				varName = c
				break
			}
		}
		if varName == nil {
			continue
		}
		prop := decl.ShallowProp{
			Name:       strings.TrimPrefix(w.text(varName), "$"),
			Pos:        w.pos(child),
			Visibility: vis,
			Ty:         ty,
		}
		if isStatic {
			sc.StaticProps = append(sc.StaticProps, prop)
		} else {
			sc.Props = append(sc.Props, prop)
		}
	}
}

func (w *phpWalker) constant(node *sitter.Node, sc *decl.ShallowClass) {
	var declared *decl.DeclTy
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "const_element" {
			continue
		}
		if t := w.typeOf(child); t != nil {
			declared = t
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "const_element" {
			continue
		}
		nameNode := child.NamedChild(0)
		if nameNode == nil {
			continue
		}
		cc := decl.ShallowClassConst{
			Name:       w.text(nameNode),
			Pos:        w.pos(child),
			Kind:       decl.ConstConcrete,
			HasDefault: true,
		}
		if declared != nil {
			cc.Ty = *declared
		} else {
			cc.Ty = inferConstTy(child.NamedChild(1))
		}
		sc.Consts = append(sc.Consts, cc)
	}
}

// typeList collects the class references in an extends, implements or use
// clause.
func (w *phpWalker) typeList(clause *sitter.Node) []decl.DeclTy {
	var out []decl.DeclTy
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		switch child.Type() {
		case "name", "qualified_name":
			out = append(out, decl.Apply(w.resolve(w.text(child))))
		}
	}
	return out
}

// typeOf maps a type annotation node to the declaration model, or nil when
// the node is not a type the subset represents.
func (w *phpWalker) typeOf(node *sitter.Node) *decl.DeclTy {
	switch node.Type() {
	case "primitive_type":
		t := decl.Prim(w.text(node))
		return &t
	case "name", "qualified_name":
		t := decl.Apply(w.resolve(w.text(node)))
		return &t
	case "named_type":
		if inner := node.NamedChild(0); inner != nil {
			return w.typeOf(inner)
		}
	case "optional_type":
		if inner := node.NamedChild(0); inner != nil {
			if it := w.typeOf(inner); it != nil {
				t := decl.Option(*it)
				return &t
			}
		}
	case "union_type":
		// some grammar versions wrap single types in a union node
		if node.NamedChildCount() == 1 {
			return w.typeOf(node.NamedChild(0))
		}
	}
	return nil
}

func visibilityOf(text string) decl.VisibilityKind {
	switch text {
	case "private":
		return decl.VisPrivate
	case "protected":
		return decl.VisProtected
	default:
		return decl.VisPublic
	}
}

// inferConstTy guesses an untyped constant's type from its literal value.
func inferConstTy(value *sitter.Node) decl.DeclTy {
	if value == nil {
		return decl.Prim("mixed")
	}
	switch value.Type() {
	case "integer":
		return decl.Prim("int")
	case "float":
		return decl.Prim("float")
	case "string", "encapsed_string", "heredoc":
		return decl.Prim("string")
	case "boolean":
		return decl.Prim("bool")
	case "unary_op_expression":
		if inner := value.NamedChild(0); inner != nil {
			return inferConstTy(inner)
		}
	}
	return decl.Prim("mixed")
}
