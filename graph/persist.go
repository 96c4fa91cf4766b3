package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/nodegraph/validation"
)

// CurrentVersion is the document version written by Save.
const CurrentVersion = 1

// Save writes g as YAML. Only ids, component references, edges, the enabled
// preference and editor positions are written.
func Save(w io.Writer, g *Graph) error {
	doc := *g
	doc.Version = CurrentVersion
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("graph: encoding: %w", err)
	}
	return enc.Close()
}

// Load reads a YAML (or JSON) document. The result has passed field
// validation but not Validate, which needs the component catalog.
func Load(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("graph: reading: %w", err)
	}
	return Parse(data)
}

// Parse decodes a document held in memory.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		if err == io.EOF {
			return New(), nil
		}
		return nil, fmt.Errorf("graph: parsing: %w", err)
	}
	if g.Version == 0 {
		g.Version = CurrentVersion
	}
	if g.Version > CurrentVersion {
		return nil, fmt.Errorf("graph: document version %d is newer than supported version %d", g.Version, CurrentVersion)
	}
	if err := validation.Validate(g); err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return &g, nil
}

// SaveFile writes g to path.
func SaveFile(path string, g *Graph) error {
	var buf bytes.Buffer
	if err := Save(&buf, g); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("graph: writing %s: %w", path, err)
	}
	return nil
}

// LoadFile reads the graph stored at path.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graph: opening %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
