package introspect

import (
	"context"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// ColumnSource reports the live structure of database tables
type ColumnSource interface {
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	// TablesWithPrefix lists the tables named prefix_*, sorted
	TablesWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// PGCatalog reads table structure from Postgres information_schema,
// restricted to the connection's current schema.
type PGCatalog struct {
	db crud.Querier
}

// NewPGCatalog creates a catalog reader over db
func NewPGCatalog(db crud.Querier) *PGCatalog {
	return &PGCatalog{db: db}
}

const tableExistsQuery = `SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_name = $1
)`

// TableExists reports whether table exists in the current schema
func (c *PGCatalog) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := c.db.QueryRowContext(ctx, tableExistsQuery, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

const columnsQuery = `SELECT column_name, data_type, udt_name, is_nullable, ordinal_position
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

const uniqueColumnsQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = current_schema() AND tc.table_name = $1
	AND tc.constraint_type IN ('UNIQUE', 'PRIMARY KEY')
	AND (SELECT COUNT(*) FROM information_schema.key_column_usage k2
		WHERE k2.constraint_name = tc.constraint_name AND k2.table_schema = tc.table_schema) = 1`

const enumValuesQuery = `SELECT e.enumlabel
FROM pg_type t JOIN pg_enum e ON e.enumtypid = t.oid
WHERE t.typname = $1
ORDER BY e.enumsortorder`

// Columns returns the table's columns in ordinal order. Single-column
// unique constraints mark columns unique; enum-typed columns carry their labels.
func (c *PGCatalog) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &col.UDTName, &nullable, &col.Ordinal); err != nil {
			rows.Close()
			return nil, err
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	unique, err := c.stringColumn(ctx, uniqueColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read unique constraints of %s: %w", table, err)
	}
	uniqueSet := make(map[string]bool, len(unique))
	for _, name := range unique {
		uniqueSet[name] = true
	}

	for i := range columns {
		columns[i].Unique = uniqueSet[columns[i].Name]
		if columns[i].DataType != "USER-DEFINED" {
			continue
		}
		labels, err := c.stringColumn(ctx, enumValuesQuery, columns[i].UDTName)
		if err != nil {
			return nil, fmt.Errorf("failed to read enum %s: %w", columns[i].UDTName, err)
		}
		columns[i].EnumValues = labels
	}
	return columns, nil
}

const foreignKeysQuery = `SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
	ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
	AND tc.table_schema = current_schema() AND tc.table_name = $1
ORDER BY kcu.ordinal_position`

// ForeignKeys returns the table's foreign key constraints
func (c *PGCatalog) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := c.db.QueryContext(ctx, foreignKeysQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

const tablesWithPrefixQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND starts_with(table_name, $1 || '_')
ORDER BY table_name`

// TablesWithPrefix lists the tables of the current schema named prefix_*
func (c *PGCatalog) TablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	tables, err := c.stringColumn(ctx, tablesWithPrefixQuery, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", prefix, err)
	}
	return tables, nil
}

func (c *PGCatalog) stringColumn(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
