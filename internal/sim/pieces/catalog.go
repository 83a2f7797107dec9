package pieces

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog maps piece type names to their base shapes. Shapes are loaded
// once at startup and never mutated afterwards; transformed matrices are
// always derived copies.
type Catalog struct {
	Defs   map[string]Shape
	Names  []string
	Digest string
}

// FromMatrices builds a catalog from raw 0/1 matrices keyed by type name.
func FromMatrices(raw map[string][][]int) (*Catalog, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("pieces: no piece types defined")
	}
	c := &Catalog{Defs: make(map[string]Shape, len(raw))}
	for name, rows := range raw {
		if name == "" {
			return nil, fmt.Errorf("pieces: empty type name")
		}
		s, err := FromInts(rows)
		if err != nil {
			return nil, fmt.Errorf("pieces: type %q: %w", name, err)
		}
		c.Defs[name] = s
	}
	for name := range c.Defs {
		c.Names = append(c.Names, name)
	}
	sort.Strings(c.Names)
	c.Digest = digest(c)
	return c, nil
}

// Load reads a YAML file with a top-level "pieces" mapping of type names to
// 0/1 matrices.
func Load(path string) (*Catalog, error) {
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Pieces map[string][][]int `yaml:"pieces"`
	}
	if err := yaml.Unmarshal(rawBytes, &doc); err != nil {
		return nil, fmt.Errorf("pieces: %s: %w", path, err)
	}
	cat, err := FromMatrices(doc.Pieces)
	if err != nil {
		return nil, fmt.Errorf("pieces: %s: %w", path, err)
	}
	return cat, nil
}

// Shape returns the base shape for a type name.
func (c *Catalog) Shape(name string) (Shape, bool) {
	s, ok := c.Defs[name]
	return s, ok
}

func digest(c *Catalog) string {
	// Canonical form: sorted names with their matrices, JSON encoded.
	type entry struct {
		Name  string `json:"name"`
		Shape Shape  `json:"shape"`
	}
	entries := make([]entry, 0, len(c.Names))
	for _, name := range c.Names {
		entries = append(entries, entry{Name: name, Shape: c.Defs[name]})
	}
	b, _ := json.Marshal(entries)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
