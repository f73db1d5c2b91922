// Package tools holds the catalog of reusable input templates and the policy
// that binds a semantic attribute type to one of them.
package tools

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNoTemplate is returned when no template can serve a semantic type
	ErrNoTemplate = errors.New("no matching tool template")
	// ErrEmptyCatalog is returned when neither catalog source yields templates
	ErrEmptyCatalog = errors.New("tool catalog is empty")
)

// InputField is one configurable input of a template. Composite fields
// carry their children in Fields.
type InputField struct {
	Name         string       `json:"name"`
	Label        string       `json:"label,omitempty"`
	TypeInput    string       `json:"typeInput,omitempty"`
	IsIncreasing bool         `json:"isIncreasing"`
	IsCondition  bool         `json:"isCondition,omitempty"`
	Default      interface{}  `json:"default,omitempty"`
	Value        interface{}  `json:"value,omitempty"`
	Fields       []InputField `json:"fields,omitempty"`
}

// Clone deep-copies the field so instructions never share template state
func (f InputField) Clone() InputField {
	out := f
	out.Default = cloneValue(f.Default)
	out.Value = cloneValue(f.Value)
	if f.Fields != nil {
		out.Fields = make([]InputField, len(f.Fields))
		for i, child := range f.Fields {
			out.Fields[i] = child.Clone()
		}
	}
	return out
}

// GatherConfig declares the semantic type a template collects
type GatherConfig struct {
	SemanticType string   `json:"type"`
	Options      []string `json:"options,omitempty"`
}

// ToolTemplate is an immutable catalog entry
type ToolTemplate struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	InputFields    []InputField    `json:"inputFields"`
	GatherConfig   GatherConfig    `json:"gatherConfig"`
	AdvancedFields []InputField    `json:"advancedFields,omitempty"`
	Action         json.RawMessage `json:"action,omitempty"`
}

// Catalog is an ordered, read-only set of templates
type Catalog struct {
	templates []ToolTemplate
}

// NewCatalog creates a catalog preserving the given order
func NewCatalog(templates []ToolTemplate) *Catalog {
	return &Catalog{templates: append([]ToolTemplate(nil), templates...)}
}

// All returns the templates in catalog order
func (c *Catalog) All() []ToolTemplate {
	return append([]ToolTemplate(nil), c.templates...)
}

// Len returns the number of templates
func (c *Catalog) Len() int {
	return len(c.templates)
}

// ByID finds a template by id
func (c *Catalog) ByID(id string) (ToolTemplate, bool) {
	for _, t := range c.templates {
		if t.ID == id {
			return t, true
		}
	}
	return ToolTemplate{}, false
}

// ByName finds a template by case-insensitive name
func (c *Catalog) ByName(name string) (ToolTemplate, bool) {
	for _, t := range c.templates {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return ToolTemplate{}, false
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
