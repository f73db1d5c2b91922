package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// FindByID loads one row as a column map
func (t *Table) FindByID(ctx context.Context, q Querier, id string) (map[string]interface{}, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1",
		codegen.QuoteIdentifier(t.name), codegen.QuoteIdentifier("id"))

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, ConvertDBError(err))
	}
	defer rows.Close()

	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// Exists reports whether a row with the given id exists
func (t *Table) Exists(ctx context.Context, q Querier, id string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1",
		codegen.QuoteIdentifier(t.name), codegen.QuoteIdentifier("id"))

	var one int
	err := q.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", t.name, ConvertDBError(err))
	}
	return true, nil
}

// ExistingIDs returns the subset of ids present in the table, using one
// batched ANY($1) lookup.
func (t *Table) ExistingIDs(ctx context.Context, q Querier, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s::text = ANY($1)",
		codegen.QuoteIdentifier("id"), codegen.QuoteIdentifier(t.name), codegen.QuoteIdentifier("id"))

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ids in %s: %w", t.name, ConvertDBError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}

// Column reads a single column of the row with the given id
func (t *Table) Column(ctx context.Context, q Querier, id, column string) (interface{}, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		codegen.QuoteIdentifier(column), codegen.QuoteIdentifier(t.name), codegen.QuoteIdentifier("id"))

	var value interface{}
	if err := q.QueryRowContext(ctx, query, id).Scan(&value); err != nil {
		return nil, ConvertDBError(err)
	}
	return value, nil
}
