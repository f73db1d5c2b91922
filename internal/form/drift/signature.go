// Package drift decides when a form must be recompiled because the shape of
// its entity changed.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
)

// Entry is the part of an attribute that affects the compiled schema
type Entry struct {
	Name         string                  `json:"name"`
	SemanticType introspect.SemanticType `json:"semanticType"`
	Nullable     bool                    `json:"nullable"`
	Unique       bool                    `json:"unique"`
}

// Signature is a name-sorted list of entries
type Signature []Entry

// FromAttributes builds the signature of live attributes. Many-to-many
// attributes are excluded.
func FromAttributes(attrs []introspect.AttributeDescriptor) Signature {
	sig := make(Signature, 0, len(attrs))
	for _, a := range attrs {
		if a.IsManyToMany {
			continue
		}
		sig = append(sig, Entry{Name: a.Name, SemanticType: a.SemanticType, Nullable: a.Nullable, Unique: a.Unique})
	}
	return sig.sorted()
}

// FromSchema extracts the signature a schema was compiled against. Only
// bound, non many-to-many gather descriptors count.
func FromSchema(s *compiler.Schema) Signature {
	sig := make(Signature, 0, len(s.Instructions))
	seen := make(map[string]bool)
	for _, ins := range s.Instructions {
		g := ins.Gather
		if !g.Bound || g.IsManyToMany || seen[g.Name] {
			continue
		}
		seen[g.Name] = true
		sig = append(sig, Entry{Name: g.Name, SemanticType: g.SemanticType, Nullable: g.Nullable, Unique: g.Unique})
	}
	return sig.sorted()
}

// Restrict keeps only entries whose name is in names. Names with no live
// entry are kept as placeholders so a removed column registers as drift.
func (s Signature) Restrict(names []string) Signature {
	byName := make(map[string]Entry, len(s))
	for _, e := range s {
		byName[e.Name] = e
	}
	out := make(Signature, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if e, ok := byName[name]; ok {
			out = append(out, e)
		} else {
			out = append(out, Entry{Name: name})
		}
	}
	return out.sorted()
}

// Without drops the named entries
func (s Signature) Without(names []string) Signature {
	if len(names) == 0 {
		return s
	}
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	out := make(Signature, 0, len(s))
	for _, e := range s {
		if !drop[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the entry names in order
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, e := range s {
		names[i] = e.Name
	}
	return names
}

// Equal reports whether two signatures describe the same shape
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Digest is the hex SHA-256 of the signature's canonical JSON
func (s Signature) Digest() string {
	data, err := json.Marshal(s.sorted())
	if err != nil {
		// Entries hold only strings and bools
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RequestDigest is the hex SHA-256 of the parts of a compile request that
// shape the schema: entity, mode, overrides and entity map.
func RequestDigest(req compiler.Request) (string, error) {
	data, err := json.Marshal(struct {
		Entity    string                             `json:"entity"`
		Mode      compiler.Mode                      `json:"mode"`
		Overrides []compiler.FieldOverride           `json:"overrides"`
		EntityMap map[string]compiler.EntityOverride `json:"entityMap"`
	}{req.Entity, req.Mode, req.Overrides, req.EntityMap})
	if err != nil {
		return "", fmt.Errorf("failed to encode compile request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s Signature) sorted() Signature {
	out := append(Signature{}, s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
