package codegen

import (
	"fmt"
	"strings"

	utilstrings "github.com/identi-digital/identi-modules-sub000/internal/util/strings"
)

// JoinTableSpec describes a many-to-many join table synthesized for a relation
// the entity model never declared.
type JoinTableSpec struct {
	Table        string // {source}_{relation}
	SourceTable  string
	TargetTable  string
	SourceColumn string // {source_singular}_id
	TargetColumn string // {relation_singular}_id
}

// NewJoinTableSpec derives the join table layout for source and relation.
// A self-relation gets a "related_" prefix on the target column.
func NewJoinTableSpec(source, relation string) (JoinTableSpec, error) {
	if !IsSafeIdentifier(source) || !IsSafeIdentifier(relation) {
		return JoinTableSpec{}, fmt.Errorf("invalid join table identifiers %q, %q", source, relation)
	}

	spec := JoinTableSpec{
		Table:        source + "_" + relation,
		SourceTable:  source,
		TargetTable:  relation,
		SourceColumn: utilstrings.Singular(source) + "_id",
		TargetColumn: utilstrings.Singular(relation) + "_id",
	}
	if spec.SourceColumn == spec.TargetColumn {
		spec.TargetColumn = "related_" + spec.TargetColumn
	}
	return spec, nil
}

// UniqueConstraintName returns the name of the (source, target) uniqueness constraint
func (s JoinTableSpec) UniqueConstraintName() string {
	return fmt.Sprintf("uq_%s_%s_%s", s.Table, s.SourceColumn, s.TargetColumn)
}

// GenerateCreateTable generates the CREATE TABLE statement for the join table
func (s JoinTableSpec) GenerateCreateTable() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdentifier(s.Table)))
	b.WriteString(fmt.Sprintf("  %s UUID NOT NULL PRIMARY KEY,\n", QuoteIdentifier("id")))
	b.WriteString(fmt.Sprintf("  %s VARCHAR(64) NOT NULL,\n", QuoteIdentifier(s.SourceColumn)))
	b.WriteString(fmt.Sprintf("  %s VARCHAR(64) NOT NULL,\n", QuoteIdentifier(s.TargetColumn)))
	b.WriteString(fmt.Sprintf("  %s TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,\n", QuoteIdentifier("created_at")))
	b.WriteString(fmt.Sprintf("  CONSTRAINT %s UNIQUE (%s, %s)\n",
		QuoteIdentifier(s.UniqueConstraintName()),
		QuoteIdentifier(s.SourceColumn),
		QuoteIdentifier(s.TargetColumn),
	))
	b.WriteString(");")

	return b.String()
}

// GenerateIndexes generates CREATE INDEX statements for both key columns
func (s JoinTableSpec) GenerateIndexes() []string {
	indexes := make([]string, 0, 2)
	for _, column := range []string{s.SourceColumn, s.TargetColumn} {
		indexName := fmt.Sprintf("idx_%s_%s", s.Table, column)
		indexes = append(indexes,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
				QuoteIdentifier(indexName), QuoteIdentifier(s.Table), QuoteIdentifier(column)))
	}
	return indexes
}
