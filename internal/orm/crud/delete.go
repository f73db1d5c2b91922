package crud

import (
	"context"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// DeleteWhere removes every row whose column equals value and returns the count
func (t *Table) DeleteWhere(ctx context.Context, q Querier, column string, value interface{}) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		codegen.QuoteIdentifier(t.name), codegen.QuoteIdentifier(column))

	result, err := q.ExecContext(ctx, query, value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.name, ConvertDBError(err))
	}
	return result.RowsAffected()
}
