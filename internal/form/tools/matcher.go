package tools

import (
	"fmt"
	"strings"
)

// preferredNames are tried first for a semantic type, before any gather
// config comparison.
var preferredNames = map[string][]string{
	"entity": {"Entities"},
}

// canonicalNames break ties between templates with an exact gather type match
var canonicalNames = map[string]string{
	"text_short": "Short text",
	"text_long":  "Long text",
	"number":     "Number",
	"boolean":    "Boolean",
	"date":       "Date",
	"options":    "Options",
	"entity":     "Entities",
}

var families = map[string]string{
	"text_short": "text",
	"text_long":  "text",
	"string":     "text",
	"text":       "text",
	"number":     "number",
	"integer":    "number",
	"float":      "number",
	"decimal":    "number",
	"date":       "date",
	"datetime":   "date",
	"timestamp":  "date",
	"boolean":    "boolean",
	"bool":       "boolean",
	"options":    "options",
	"select":     "options",
	"enum":       "options",
	"entity":     "entity",
	"entities":   "entity",
}

func family(semanticType string) string {
	t := strings.ToLower(strings.TrimSpace(semanticType))
	if f, ok := families[t]; ok {
		return f
	}
	return t
}

// Matcher binds semantic types to templates of one catalog
type Matcher struct {
	catalog *Catalog
}

// NewMatcher creates a matcher over catalog
func NewMatcher(catalog *Catalog) *Matcher {
	return &Matcher{catalog: catalog}
}

// Match returns the template serving semanticType. The first rule that
// yields a template wins: preferred name, exact gather type (canonical name
// first), same type family, then the first text-capable template.
func (m *Matcher) Match(semanticType string) (ToolTemplate, error) {
	want := strings.ToLower(strings.TrimSpace(semanticType))

	for _, name := range preferredNames[want] {
		if t, ok := m.catalog.ByName(name); ok {
			return t, nil
		}
	}

	var exact []ToolTemplate
	for _, t := range m.catalog.templates {
		if strings.EqualFold(t.GatherConfig.SemanticType, want) {
			exact = append(exact, t)
		}
	}
	if len(exact) > 0 {
		if canonical, ok := canonicalNames[want]; ok {
			for _, t := range exact {
				if strings.EqualFold(t.Name, canonical) {
					return t, nil
				}
			}
		}
		return exact[0], nil
	}

	wantFamily := family(want)
	for _, t := range m.catalog.templates {
		if family(t.GatherConfig.SemanticType) == wantFamily {
			return t, nil
		}
	}

	for _, t := range m.catalog.templates {
		if family(t.GatherConfig.SemanticType) == "text" {
			return t, nil
		}
	}

	return ToolTemplate{}, fmt.Errorf("%w for type %q", ErrNoTemplate, semanticType)
}
