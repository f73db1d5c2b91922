package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// Update updates the row with the given id. It returns ErrNotFound when no row matched.
func (t *Table) Update(ctx context.Context, q Querier, id string, data map[string]interface{}) error {
	record := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		if k == "id" || k == "created_at" {
			continue
		}
		record[k] = v
	}
	if t.timestamps {
		record["updated_at"] = t.now().UTC()
	}
	if len(record) == 0 {
		return nil
	}

	columns := sortedColumns(record)
	assignments := make([]string, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for i, c := range columns {
		assignments[i] = fmt.Sprintf("%s = $%d", codegen.QuoteIdentifier(c), i+1)
		args = append(args, record[c])
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		codegen.QuoteIdentifier(t.name),
		strings.Join(assignments, ", "),
		codegen.QuoteIdentifier("id"),
		len(args),
	)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.name, ConvertDBError(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
