package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definitions is the on-disk description of the entities an application
// declares. Entities that are not declared are still introspected from the
// database catalog; declarations only add ordering and relation metadata.
type Definitions struct {
	Entities []EntityDefinition `yaml:"entities"`
}

// EntityDefinition declares one table
type EntityDefinition struct {
	Name          string                   `yaml:"name"`
	Table         string                   `yaml:"table"`
	Documentation string                   `yaml:"doc"`
	Fields        []FieldDefinition        `yaml:"fields"`
	Relationships []RelationshipDefinition `yaml:"relationships"`
}

// FieldDefinition declares one column
type FieldDefinition struct {
	Name       string      `yaml:"name"`
	Type       string      `yaml:"type"`
	Nullable   bool        `yaml:"nullable"`
	Unique     bool        `yaml:"unique"`
	Primary    bool        `yaml:"primary"`
	References string      `yaml:"references"`
	Enum       []string    `yaml:"enum"`
	Default    interface{} `yaml:"default"`
	Length     *int        `yaml:"length"`
}

// RelationshipDefinition declares one relationship
type RelationshipDefinition struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Target         string `yaml:"target"`
	ForeignKey     string `yaml:"foreign_key"`
	JoinTable      string `yaml:"join_table"`
	AssociationKey string `yaml:"association_key"`
	Nullable       bool   `yaml:"nullable"`
}

// LoadDefinitionsFile reads entity definitions from a YAML file and
// registers them.
func LoadDefinitionsFile(registry *Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open entity definitions: %w", err)
	}
	defer f.Close()

	return LoadDefinitions(registry, f)
}

// LoadDefinitions decodes YAML entity definitions and registers them
func LoadDefinitions(registry *Registry, r io.Reader) error {
	var defs Definitions
	if err := yaml.NewDecoder(r).Decode(&defs); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode entity definitions: %w", err)
	}

	for _, def := range defs.Entities {
		resource, err := def.build()
		if err != nil {
			return err
		}
		if err := registry.Register(resource); err != nil {
			return err
		}
	}
	return nil
}

func (d EntityDefinition) build() (*ResourceSchema, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("entity definition without name")
	}
	resource := NewResourceSchema(d.Name)
	resource.Documentation = d.Documentation
	if d.Table != "" {
		resource.TableName = d.Table
	}

	for _, fd := range d.Fields {
		base := TypeString
		if len(fd.Enum) > 0 {
			base = TypeEnum
		} else if fd.Type != "" {
			parsed, err := ParsePrimitiveType(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("entity %s field %s: %w", d.Name, fd.Name, err)
			}
			base = parsed
		}

		field := &Field{
			Name: fd.Name,
			Type: &TypeSpec{
				BaseType:   base,
				Nullable:   fd.Nullable,
				Default:    fd.Default,
				EnumValues: fd.Enum,
				Length:     fd.Length,
			},
		}
		if fd.Primary {
			field.Annotations = append(field.Annotations, Annotation{Name: "primary"})
		}
		if fd.Unique {
			field.Annotations = append(field.Annotations, Annotation{Name: "unique"})
		}
		if fd.References != "" {
			field.Annotations = append(field.Annotations, Annotation{Name: "references", Args: []interface{}{fd.References}})
		}
		resource.AddField(field)
	}

	for _, rd := range d.Relationships {
		relType, err := ParseRelationType(rd.Type)
		if err != nil {
			return nil, fmt.Errorf("entity %s relationship %s: %w", d.Name, rd.Name, err)
		}
		resource.AddRelationship(&Relationship{
			Type:           relType,
			TargetResource: rd.Target,
			FieldName:      rd.Name,
			ForeignKey:     rd.ForeignKey,
			JoinTable:      rd.JoinTable,
			AssociationKey: rd.AssociationKey,
			Nullable:       rd.Nullable,
		})
	}

	return resource, nil
}
