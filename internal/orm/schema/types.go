// Package schema provides the declared entity model used by the ORM layer.
// It describes tables with explicit nullability, ordered fields and the
// relationships the application knows about.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// PrimitiveType represents the storage type of a field
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// JSON types
	TypeJSON
	TypeJSONB

	// Enum
	TypeEnum
)

var primitiveNames = map[PrimitiveType]string{
	TypeString:    "string",
	TypeText:      "text",
	TypeInt:       "int",
	TypeBigInt:    "bigint",
	TypeFloat:     "float",
	TypeDecimal:   "decimal",
	TypeBool:      "bool",
	TypeTimestamp: "timestamp",
	TypeDate:      "date",
	TypeUUID:      "uuid",
	TypeJSON:      "json",
	TypeJSONB:     "jsonb",
	TypeEnum:      "enum",
}

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	if name, ok := primitiveNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for p, name := range primitiveNames {
		if name == normalized {
			return p, nil
		}
	}
	switch normalized {
	case "varchar", "character varying":
		return TypeString, nil
	case "integer", "smallint":
		return TypeInt, nil
	case "boolean":
		return TypeBool, nil
	case "numeric", "double precision", "real":
		return TypeDecimal, nil
	case "timestamptz", "datetime":
		return TypeTimestamp, nil
	}
	return 0, fmt.Errorf("unknown primitive type: %s", s)
}

// TypeSpec represents a complete type specification with nullability
type TypeSpec struct {
	BaseType   PrimitiveType
	Nullable   bool
	Default    interface{}
	EnumValues []string
	Length     *int
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	s := t.BaseType.String()
	if len(t.EnumValues) > 0 {
		s = fmt.Sprintf("enum%v", t.EnumValues)
	} else if t.Length != nil {
		s = fmt.Sprintf("%s(%d)", s, *t.Length)
	}
	if t.Nullable {
		return s + "?"
	}
	return s + "!"
}

// Annotation represents field annotations like @primary, @unique, @references
type Annotation struct {
	Name string
	Args []interface{}
}

// Field represents a column in a resource schema
type Field struct {
	Name        string
	Type        *TypeSpec
	Annotations []Annotation
}

// HasAnnotation reports whether the field carries the named annotation
func (f *Field) HasAnnotation(name string) bool {
	for _, a := range f.Annotations {
		if a.Name == name {
			return true
		}
	}
	return false
}

// AnnotationArg returns the first argument of the named annotation as a string
func (f *Field) AnnotationArg(name string) (string, bool) {
	for _, a := range f.Annotations {
		if a.Name != name || len(a.Args) == 0 {
			continue
		}
		if s, ok := a.Args[0].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// RelationType represents the type of relationship
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasMany
	RelationshipHasManyThrough
	RelationshipHasOne
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	case RelationshipHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch s {
	case "belongs_to":
		return RelationshipBelongsTo, nil
	case "has_many":
		return RelationshipHasMany, nil
	case "has_many_through", "many_to_many":
		return RelationshipHasManyThrough, nil
	case "has_one":
		return RelationshipHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relationship type: %s", s)
	}
}

// Relationship represents a relationship between resources
type Relationship struct {
	Type           RelationType
	TargetResource string
	FieldName      string
	Nullable       bool

	// Foreign key column on the owning side. For has_many_through it is the
	// join-table column pointing back at this resource.
	ForeignKey string

	// For has_many_through
	JoinTable      string
	AssociationKey string
}

// ResourceSchema represents the declared schema of one table
type ResourceSchema struct {
	Name          string
	Documentation string
	TableName     string

	Fields        map[string]*Field
	Relationships map[string]*Relationship

	fieldOrder        []string
	relationshipOrder []string
}

// NewResourceSchema creates a new ResourceSchema
func NewResourceSchema(name string) *ResourceSchema {
	return &ResourceSchema{
		Name:          name,
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
		TableName:     toSnakeCase(name),
	}
}

// AddField appends a field, keeping declaration order. Re-adding a field
// replaces its definition without moving it.
func (r *ResourceSchema) AddField(field *Field) {
	if _, exists := r.Fields[field.Name]; !exists {
		r.fieldOrder = append(r.fieldOrder, field.Name)
	}
	r.Fields[field.Name] = field
}

// AddRelationship appends a relationship, keeping declaration order
func (r *ResourceSchema) AddRelationship(rel *Relationship) {
	if _, exists := r.Relationships[rel.FieldName]; !exists {
		r.relationshipOrder = append(r.relationshipOrder, rel.FieldName)
	}
	r.Relationships[rel.FieldName] = rel
}

// OrderedFields returns fields in declaration order. Fields inserted directly
// into the map are appended after declared ones, sorted by name.
func (r *ResourceSchema) OrderedFields() []*Field {
	out := make([]*Field, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, name := range r.fieldOrder {
		if f, ok := r.Fields[name]; ok {
			out = append(out, f)
			seen[name] = true
		}
	}
	return append(out, leftovers(r.Fields, seen)...)
}

// OrderedRelationships returns relationships in declaration order
func (r *ResourceSchema) OrderedRelationships() []*Relationship {
	out := make([]*Relationship, 0, len(r.Relationships))
	seen := make(map[string]bool, len(r.Relationships))
	for _, name := range r.relationshipOrder {
		if rel, ok := r.Relationships[name]; ok {
			out = append(out, rel)
			seen[name] = true
		}
	}
	return append(out, leftovers(r.Relationships, seen)...)
}

// GetPrimaryKey returns the primary key field
func (r *ResourceSchema) GetPrimaryKey() (*Field, error) {
	for _, field := range r.OrderedFields() {
		if field.HasAnnotation("primary") {
			return field, nil
		}
	}
	if field, ok := r.Fields["id"]; ok {
		return field, nil
	}
	return nil, fmt.Errorf("resource %s has no primary key", r.Name)
}

func leftovers[T any](m map[string]T, seen map[string]bool) []T {
	var names []string
	for name := range m {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// Boundary after a lowercase letter, or at the end of an acronym
			// ("HTTPServer" -> "http_server").
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
