// Package introspect describes entities as ordered attribute and relation
// descriptors, combining declared ORM metadata with the live database catalog.
package introspect

import (
	"errors"
)

// ErrUnknownEntity is returned when an entity is neither declared nor present in the catalog
var ErrUnknownEntity = errors.New("unknown entity")

// SemanticType is the kind of value an attribute collects
type SemanticType string

const (
	TextShort SemanticType = "text_short"
	TextLong  SemanticType = "text_long"
	Number    SemanticType = "number"
	Boolean   SemanticType = "boolean"
	Date      SemanticType = "date"
	Options   SemanticType = "options"
	Entity    SemanticType = "entity"
)

// ForeignKeySource records which inference tier identified a foreign key
type ForeignKeySource string

const (
	FKDeclared   ForeignKeySource = "declared"
	FKStructural ForeignKeySource = "structural"
	FKORM        ForeignKeySource = "orm"
	// FKHeuristic marks a naming-convention guess; the target may not exist.
	FKHeuristic ForeignKeySource = "heuristic"
)

// AttributeDescriptor describes one user-facing attribute of an entity
type AttributeDescriptor struct {
	Name             string           `json:"name"`
	SemanticType     SemanticType     `json:"semanticType"`
	Nullable         bool             `json:"nullable"`
	Unique           bool             `json:"unique"`
	IsForeignKey     bool             `json:"isForeignKey"`
	ForeignEntity    string           `json:"foreignEntity,omitempty"`
	EnumValues       []string         `json:"enumValues"`
	IsManyToMany     bool             `json:"isManyToMany"`
	ColumnType       string           `json:"columnType,omitempty"`
	ForeignKeySource ForeignKeySource `json:"foreignKeySource,omitempty"`
}

// RelationDescriptor describes a many-to-many relation and its join table
type RelationDescriptor struct {
	Name         string `json:"name"`
	TargetEntity string `json:"targetEntity"`
	JoinTable    string `json:"joinTable"`
	SourceKey    string `json:"sourceKey"`
	TargetKey    string `json:"targetKey"`
	Declared     bool   `json:"declared"`
	// RowID is set when join rows carry their own id column
	RowID bool `json:"rowId,omitempty"`
}

// Attribute returns the descriptor the compiler gathers for this relation
func (r RelationDescriptor) Attribute() AttributeDescriptor {
	return AttributeDescriptor{
		Name:          r.Name,
		SemanticType:  Entity,
		Nullable:      true,
		IsForeignKey:  true,
		ForeignEntity: r.TargetEntity,
		EnumValues:    []string{},
		IsManyToMany:  true,
	}
}

// EntityDescription is the introspected shape of one entity
type EntityDescription struct {
	Entity     string                `json:"entity"`
	Table      string                `json:"table"`
	Declared   bool                  `json:"declared"`
	Attributes []AttributeDescriptor `json:"attributes"`
	Relations  []RelationDescriptor  `json:"relations"`
	// Timestamps is set when the table has both created_at and updated_at
	Timestamps bool `json:"timestamps"`
}

// Attribute looks up an attribute by name
func (d *EntityDescription) Attribute(name string) (AttributeDescriptor, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeDescriptor{}, false
}

// Relation looks up a many-to-many relation by name
func (d *EntityDescription) Relation(name string) (RelationDescriptor, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationDescriptor{}, false
}

// Columns returns the names of all non-relation attributes
func (d *EntityDescription) Columns() []string {
	names := make([]string, 0, len(d.Attributes))
	for _, a := range d.Attributes {
		names = append(names, a.Name)
	}
	return names
}

// Column is one column as reported by the database catalog
type Column struct {
	Name       string
	DataType   string
	UDTName    string
	Nullable   bool
	Unique     bool
	Ordinal    int
	EnumValues []string
}

// ForeignKey is one single-column foreign key constraint
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// systemColumns are never exposed as attributes
var systemColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// IsSystemColumn reports whether a column is managed by the storage layer
func IsSystemColumn(name string) bool {
	return systemColumns[name]
}
