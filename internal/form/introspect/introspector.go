package introspect

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/schema"
	ustrings "github.com/identi-digital/identi-modules-sub000/internal/util/strings"
)

// Introspector builds EntityDescriptions. Either the registry or the column
// source may be nil; declared metadata is preferred when both know an entity.
type Introspector struct {
	registry *schema.Registry
	columns  ColumnSource
	logger   *zap.Logger
}

// New creates an introspector
func New(registry *schema.Registry, columns ColumnSource, logger *zap.Logger) *Introspector {
	return &Introspector{
		registry: registry,
		columns:  columns,
		logger:   logging.OrNop(logger),
	}
}

// Describe returns the ordered attributes and many-to-many relations of entity
func (in *Introspector) Describe(ctx context.Context, entity string) (*EntityDescription, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownEntity)
	}

	if resource, ok := in.lookupDeclared(entity); ok {
		return in.describeDeclared(ctx, entity, resource)
	}

	table, err := in.resolveTable(ctx, entity)
	if err != nil {
		return nil, err
	}
	return in.describeCatalog(ctx, entity, table)
}

// TableFor resolves the storage table of an entity without describing it
func (in *Introspector) TableFor(ctx context.Context, entity string) (string, error) {
	if resource, ok := in.lookupDeclared(entity); ok {
		return resource.TableName, nil
	}
	return in.resolveTable(ctx, entity)
}

func (in *Introspector) lookupDeclared(entity string) (*schema.ResourceSchema, bool) {
	if resource, ok := in.registry.Get(entity); ok {
		return resource, true
	}
	return in.registry.Get(ustrings.Plural(entity))
}

func (in *Introspector) resolveTable(ctx context.Context, entity string) (string, error) {
	if in.columns == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	for _, candidate := range []string{entity, ustrings.Plural(entity)} {
		if !codegen.IsSafeIdentifier(candidate) {
			continue
		}
		exists, err := in.columns.TableExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
}

func (in *Introspector) describeDeclared(ctx context.Context, entity string, resource *schema.ResourceSchema) (*EntityDescription, error) {
	structural, err := in.structuralKeys(ctx, resource.TableName)
	if err != nil {
		return nil, err
	}

	desc := &EntityDescription{
		Entity:     entity,
		Table:      resource.TableName,
		Declared:   true,
		Attributes: []AttributeDescriptor{},
		Relations:  []RelationDescriptor{},
		Timestamps: resource.Fields["created_at"] != nil && resource.Fields["updated_at"] != nil,
	}

	for _, field := range resource.OrderedFields() {
		if IsSystemColumn(field.Name) || field.HasAnnotation("primary") {
			continue
		}
		attr := AttributeDescriptor{
			Name:         field.Name,
			SemanticType: semanticFromPrimitive(field.Type),
			Nullable:     field.Type.Nullable,
			Unique:       field.HasAnnotation("unique"),
			EnumValues:   enumValues(field.Type.EnumValues),
			ColumnType:   field.Type.BaseType.String(),
		}
		if target, ok := field.AnnotationArg("references"); ok {
			in.markForeignKey(&attr, in.tableOf(target), FKDeclared)
		} else {
			in.inferForeignKey(&attr, structural, resource)
		}
		desc.Attributes = append(desc.Attributes, attr)
	}

	for _, rel := range resource.OrderedRelationships() {
		if rel.Type != schema.RelationshipHasManyThrough {
			continue
		}
		desc.Relations = append(desc.Relations, in.relationDescriptor(resource.TableName, rel))
	}

	return desc, nil
}

func (in *Introspector) describeCatalog(ctx context.Context, entity, table string) (*EntityDescription, error) {
	columns, err := in.columns.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	structural, err := in.structuralKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	desc := &EntityDescription{
		Entity:     entity,
		Table:      table,
		Attributes: []AttributeDescriptor{},
		Relations:  []RelationDescriptor{},
	}
	var created, updated bool
	for _, col := range columns {
		created = created || col.Name == "created_at"
		updated = updated || col.Name == "updated_at"
		if IsSystemColumn(col.Name) {
			continue
		}
		primitive := primitiveFromColumn(col)
		attr := AttributeDescriptor{
			Name:         col.Name,
			SemanticType: semanticFromPrimitive(&schema.TypeSpec{BaseType: primitive, EnumValues: col.EnumValues}),
			Nullable:     col.Nullable,
			Unique:       col.Unique,
			EnumValues:   enumValues(col.EnumValues),
			ColumnType:   primitive.String(),
		}
		in.inferForeignKey(&attr, structural, nil)
		desc.Attributes = append(desc.Attributes, attr)
	}
	desc.Timestamps = created && updated

	relations, err := in.discoverRelations(ctx, table)
	if err != nil {
		return nil, err
	}
	desc.Relations = append(desc.Relations, relations...)
	return desc, nil
}

// discoverRelations finds the join tables named {table}_{relation}. A join
// table qualifies when it has a foreign key back to table and one to another
// table, or when it has the {source}_id and {relation}_id columns join
// tables are created with.
func (in *Introspector) discoverRelations(ctx context.Context, table string) ([]RelationDescriptor, error) {
	candidates, err := in.columns.TablesWithPrefix(ctx, table)
	if err != nil {
		return nil, err
	}

	var relations []RelationDescriptor
	for _, joinTable := range candidates {
		name := strings.TrimPrefix(joinTable, table+"_")
		if !codegen.IsSafeIdentifier(name) {
			continue
		}
		columns, err := in.columns.Columns(ctx, joinTable)
		if err != nil {
			return nil, err
		}
		fks, err := in.columns.ForeignKeys(ctx, joinTable)
		if err != nil {
			return nil, err
		}
		rel, ok := joinRelation(table, name, joinTable, columns, fks)
		if !ok {
			continue
		}
		in.logger.Debug("relation discovered from join table",
			zap.String("table", table),
			zap.String("relation", rel.Name),
			zap.String("join_table", joinTable),
		)
		relations = append(relations, rel)
	}
	return relations, nil
}

func joinRelation(table, name, joinTable string, columns []Column, fks []ForeignKey) (RelationDescriptor, bool) {
	rel := RelationDescriptor{Name: name, JoinTable: joinTable}
	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col.Name] = true
	}
	rel.RowID = present["id"]

	for _, fk := range fks {
		if fk.ReferencedTable == table && rel.SourceKey == "" {
			rel.SourceKey = fk.Column
		}
	}
	for _, fk := range fks {
		if fk.Column != rel.SourceKey && fk.ReferencedTable != table && rel.TargetKey == "" {
			rel.TargetKey = fk.Column
			rel.TargetEntity = fk.ReferencedTable
		}
	}
	if rel.SourceKey != "" && rel.TargetKey != "" {
		return rel, true
	}

	rel.SourceKey = ustrings.Singular(table) + "_id"
	rel.TargetKey = ustrings.Singular(name) + "_id"
	rel.TargetEntity = name
	if present[rel.SourceKey] && present[rel.TargetKey] && rel.SourceKey != rel.TargetKey {
		return rel, true
	}
	return RelationDescriptor{}, false
}

func (in *Introspector) structuralKeys(ctx context.Context, table string) (map[string]string, error) {
	keys := make(map[string]string)
	if in.columns == nil {
		return keys, nil
	}
	fks, err := in.columns.ForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		keys[fk.Column] = fk.ReferencedTable
	}
	return keys, nil
}

// inferForeignKey runs the structural, ORM and heuristic tiers in order
func (in *Introspector) inferForeignKey(attr *AttributeDescriptor, structural map[string]string, resource *schema.ResourceSchema) {
	if target, ok := structural[attr.Name]; ok {
		in.markForeignKey(attr, target, FKStructural)
		return
	}

	if resource != nil {
		for _, rel := range resource.OrderedRelationships() {
			if rel.Type != schema.RelationshipBelongsTo {
				continue
			}
			fk := rel.ForeignKey
			if fk == "" {
				fk = rel.FieldName + "_id"
			}
			if fk == attr.Name {
				in.markForeignKey(attr, in.tableOf(rel.TargetResource), FKORM)
				return
			}
		}
	}

	if prefix, ok := strings.CutSuffix(attr.Name, "_id"); ok && prefix != "" {
		target := ustrings.Plural(prefix)
		in.logger.Debug("foreign key inferred from column name",
			zap.String("column", attr.Name),
			zap.String("target", target))
		in.markForeignKey(attr, target, FKHeuristic)
	}
}

func (in *Introspector) markForeignKey(attr *AttributeDescriptor, target string, source ForeignKeySource) {
	attr.IsForeignKey = true
	attr.ForeignEntity = target
	attr.ForeignKeySource = source
	attr.SemanticType = Entity
}

// tableOf maps a declared resource name to its table, leaving unknown names as-is
func (in *Introspector) tableOf(name string) string {
	if resource, ok := in.registry.Get(name); ok {
		return resource.TableName
	}
	return name
}

func (in *Introspector) relationDescriptor(source string, rel *schema.Relationship) RelationDescriptor {
	target := in.tableOf(rel.TargetResource)
	desc := RelationDescriptor{
		Name:         rel.FieldName,
		TargetEntity: target,
		JoinTable:    rel.JoinTable,
		SourceKey:    rel.ForeignKey,
		TargetKey:    rel.AssociationKey,
		Declared:     true,
	}
	if desc.JoinTable == "" {
		desc.JoinTable = source + "_" + rel.FieldName
	}
	if desc.SourceKey == "" {
		desc.SourceKey = ustrings.Singular(source) + "_id"
	}
	if desc.TargetKey == "" {
		desc.TargetKey = ustrings.Singular(target) + "_id"
	}
	return desc
}

func semanticFromPrimitive(t *schema.TypeSpec) SemanticType {
	if t == nil {
		return TextShort
	}
	if len(t.EnumValues) > 0 {
		return Options
	}
	switch t.BaseType {
	case schema.TypeText, schema.TypeJSON, schema.TypeJSONB:
		return TextLong
	case schema.TypeInt, schema.TypeBigInt, schema.TypeFloat, schema.TypeDecimal:
		return Number
	case schema.TypeBool:
		return Boolean
	case schema.TypeTimestamp, schema.TypeDate:
		return Date
	case schema.TypeEnum:
		return Options
	default:
		return TextShort
	}
}

func primitiveFromColumn(col Column) schema.PrimitiveType {
	if len(col.EnumValues) > 0 {
		return schema.TypeEnum
	}
	if p, err := schema.ParsePrimitiveType(col.DataType); err == nil {
		return p
	}
	if p, err := schema.ParsePrimitiveType(col.UDTName); err == nil {
		return p
	}
	switch {
	case strings.HasPrefix(col.DataType, "timestamp"):
		return schema.TypeTimestamp
	case strings.HasPrefix(col.DataType, "character"):
		return schema.TypeString
	}
	return schema.TypeString
}

func enumValues(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}
