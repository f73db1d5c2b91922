package crud

import (
	"context"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// Insert inserts a row and returns its primary key. A missing "id" is generated.
func (t *Table) Insert(ctx context.Context, q Querier, data map[string]interface{}) (string, error) {
	record := make(map[string]interface{}, len(data)+3)
	for k, v := range data {
		record[k] = v
	}

	id, _ := record["id"].(string)
	if id == "" {
		id = t.newID()
		record["id"] = id
	}

	if t.timestamps {
		now := t.now().UTC()
		if _, exists := record["created_at"]; !exists {
			record["created_at"] = now
		}
		if _, exists := record["updated_at"]; !exists {
			record["updated_at"] = now
		}
	}

	if err := t.insertRecord(ctx, q, record); err != nil {
		return "", err
	}
	return id, nil
}

// InsertRow inserts data as given, without generating a primary key or
// timestamps. It suits link tables keyed by their foreign key pair.
func (t *Table) InsertRow(ctx context.Context, q Querier, data map[string]interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("failed to insert into %s: no columns", t.name)
	}
	return t.insertRecord(ctx, q, data)
}

func (t *Table) insertRecord(ctx context.Context, q Querier, record map[string]interface{}) error {
	columns := sortedColumns(record)
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = record[c]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		codegen.QuoteIdentifier(t.name),
		quoteAll(columns),
		placeholders(1, len(columns)),
	)

	if _, err := q.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.name, ConvertDBError(err))
	}
	return nil
}
