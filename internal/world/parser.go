// Package world turns source trees into shallow declarations: it walks a
// workspace, routes each file to a language parser, and hands the resulting
// ShallowClasses to the provider. Two parsers ship today, a tree-sitter
// based one for the PHP subset and a JSON manifest reader that can express
// the full declaration model.
package world

import (
	"fmt"
	"strings"
	"sync"

	"declnerd/internal/decl"
	"declnerd/internal/logging"
)

// DeclParser extracts the classish declarations one source file states.
type DeclParser interface {
	// Parse returns every declaration in the file. The path is recorded in
	// declaration positions; content is the raw file bytes.
	Parse(path string, content []byte) ([]*decl.ShallowClass, error)

	// SupportedExtensions returns the file suffixes this parser handles,
	// with the leading dot. Compound suffixes such as ".decl.json" are
	// allowed.
	SupportedExtensions() []string

	// Language is a short identifier used in logs.
	Language() string
}

// ParserRegistry routes files to the parser registered for their suffix.
// When suffixes overlap the longest match wins, so ".decl.json" files do
// not fall through to a ".json" parser.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]DeclParser
}

// NewParserRegistry returns an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{parsers: make(map[string]DeclParser)}
}

// DefaultRegistry returns a registry with the built-in parsers registered.
func DefaultRegistry() *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewManifestParser())
	r.Register(NewPHPParser())
	return r
}

// Register adds a parser under each of its suffixes, replacing any parser
// previously registered there.
func (r *ParserRegistry) Register(parser DeclParser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range parser.SupportedExtensions() {
		ext = normalizeExtension(ext)
		logging.WorldDebug("Registering %s parser for %s", parser.Language(), ext)
		r.parsers[ext] = parser
	}
}

// ParserFor returns the parser for a path, or nil when none is registered.
func (r *ParserRegistry) ParserFor(path string) DeclParser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best DeclParser
	bestLen := 0
	for ext, parser := range r.parsers {
		if strings.HasSuffix(path, ext) && len(ext) > bestLen {
			best = parser
			bestLen = len(ext)
		}
	}
	return best
}

// HasParser reports whether some parser accepts the path.
func (r *ParserRegistry) HasParser(path string) bool {
	return r.ParserFor(path) != nil
}

// Parse routes the file to its parser.
func (r *ParserRegistry) Parse(path string, content []byte) ([]*decl.ShallowClass, error) {
	parser := r.ParserFor(path)
	if parser == nil {
		return nil, fmt.Errorf("no parser registered for %s", path)
	}
	return parser.Parse(path, content)
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
