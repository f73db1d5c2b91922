package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// ToolStore reads the operator-maintained tool catalog. It implements
// tools.Source.
type ToolStore struct {
	db crud.Querier
}

var _ tools.Source = (*ToolStore)(nil)

// NewToolStore creates a tool store
func NewToolStore(db crud.Querier) *ToolStore {
	return &ToolStore{db: db}
}

const listToolsQuery = `SELECT document FROM tool_templates ORDER BY position, name`

// Load implements tools.Source
func (s *ToolStore) Load(ctx context.Context) ([]tools.ToolTemplate, error) {
	rows, err := s.db.QueryContext(ctx, listToolsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool templates: %w", crud.ConvertDBError(err))
	}
	defer rows.Close()

	var templates []tools.ToolTemplate
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan tool template: %w", err)
		}
		var tpl tools.ToolTemplate
		if err := json.Unmarshal(doc, &tpl); err != nil {
			return nil, fmt.Errorf("invalid tool template document: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool templates: %w", err)
	}
	return templates, nil
}

const upsertToolQuery = `INSERT INTO tool_templates (id, name, position, document)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, position = EXCLUDED.position,
	document = EXCLUDED.document, updated_at = NOW()`

// Save upserts templates, keeping their order as the catalog position
func (s *ToolStore) Save(ctx context.Context, templates []tools.ToolTemplate) error {
	for i, tpl := range templates {
		if tpl.ID == "" {
			return fmt.Errorf("tool template %q has no id", tpl.Name)
		}
		doc, err := json.Marshal(tpl)
		if err != nil {
			return fmt.Errorf("failed to encode tool template %s: %w", tpl.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, upsertToolQuery, tpl.ID, tpl.Name, i, string(doc)); err != nil {
			return fmt.Errorf("failed to save tool template %s: %w", tpl.ID, crud.ConvertDBError(err))
		}
	}
	return nil
}
