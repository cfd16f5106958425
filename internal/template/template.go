// Package template loads CloudFormation templates as YAML node trees,
// preserving document order so asset references can be located and rewritten
// node by node. JSON templates parse too and re-serialize as YAML.
package template

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StdinName is the display name used when the template comes from stdin.
const StdinName = "STDIN"

// Template is a parsed template plus the provenance needed to resolve
// relative asset paths and report errors.
type Template struct {
	Source string
	Dir    string
	doc    *yaml.Node
}

// Load reads and parses the template at path, or stdin when path is "-".
func Load(path string, stdin io.Reader) (*Template, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("couldn't read template %s: %w", StdinName, err)
		}
		return Parse(raw, StdinName, "")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read template %q: %w", path, err)
	}
	return Parse(raw, path, filepath.Dir(path))
}

// Parse parses raw template bytes. source appears in error messages; dir is
// the directory relative asset paths resolve against ("" meaning the working
// directory).
func Parse(raw []byte, source, dir string) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", source, err)
	}
	if doc.Kind == 0 {
		return nil, fmt.Errorf("invalid template %q: empty document", source)
	}
	return &Template{Source: source, Dir: dir, doc: &doc}, nil
}

// Root returns the top-level mapping of the template, or nil when the
// document root is not a mapping.
func (t *Template) Root() *yaml.Node {
	root := t.doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root == nil || root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

// Bytes serializes the template as YAML with two-space indentation.
func (t *Template) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t.doc); err != nil {
		return nil, fmt.Errorf("serialize template %q: %w", t.Source, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("serialize template %q: %w", t.Source, err)
	}
	return buf.Bytes(), nil
}

// Clone returns an independent copy of the template. The copy round-trips
// through serialization so anchors and aliases stay internally consistent.
func (t *Template) Clone() (*Template, error) {
	raw, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	return Parse(raw, t.Source, t.Dir)
}

// MapValue returns the value node for key within a mapping node, or nil when
// the key is absent or the node is not a mapping.
func MapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if k := mapping.Content[i]; k != nil && k.Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
