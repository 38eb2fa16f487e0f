package world

import (
	"encoding/json"
	"fmt"
	"strings"

	"declnerd/internal/decl"
	"declnerd/internal/logging"
)

// Manifest is the on-disk shape of a ".decl.json" file: a list of shallow
// classes exactly as the model defines them. Manifests are the only
// ingestion path that can state every declaration feature, so builtin stubs
// and fixtures that need XHP attribute uses, requirements, enum includes or
// generics are written as manifests.
type Manifest struct {
	Classes []*decl.ShallowClass `json:"classes"`
}

// ManifestParser reads ".decl.json" files.
type ManifestParser struct{}

// NewManifestParser returns the manifest reader.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{}
}

// Language returns "manifest".
func (p *ManifestParser) Language() string {
	return "manifest"
}

// SupportedExtensions returns [".decl.json"].
func (p *ManifestParser) SupportedExtensions() []string {
	return []string{".decl.json"}
}

// Parse decodes the manifest. Class names are normalized to rooted form,
// and declarations that do not state a file position inherit the manifest
// path.
func (p *ManifestParser) Parse(path string, content []byte) ([]*decl.ShallowClass, error) {
	var m Manifest
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	for i, sc := range m.Classes {
		if sc == nil {
			return nil, fmt.Errorf("manifest %s: class %d is null", path, i)
		}
		if sc.Name == "" {
			return nil, fmt.Errorf("manifest %s: class %d has no name", path, i)
		}
		if !strings.HasPrefix(string(sc.Name), "\\") {
			sc.Name = "\\" + sc.Name
		}
		if sc.Kind == "" {
			sc.Kind = decl.KindClass
		}
		if sc.Pos.File == "" {
			sc.Pos.File = path
		}
	}

	logging.WorldDebug("Manifest %s: %d classes", path, len(m.Classes))
	return m.Classes, nil
}
