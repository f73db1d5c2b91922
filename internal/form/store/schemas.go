package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// SchemaStore keeps every compiled version of a form. Rows are never updated.
type SchemaStore struct {
	db crud.Querier
}

// NewSchemaStore creates a schema store
func NewSchemaStore(db crud.Querier) *SchemaStore {
	return &SchemaStore{db: db}
}

// WithQuerier returns a store bound to q, typically a transaction
func (s *SchemaStore) WithQuerier(q crud.Querier) *SchemaStore {
	return &SchemaStore{db: q}
}

const appendSchemaQuery = `INSERT INTO form_schemas (id, form_id, entity_id, mode, version, document, created_at)
SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5, $6
FROM form_schemas WHERE form_id = $2
RETURNING version`

// Append stores schema as the next version of its form and returns the
// stored copy. The caller's schema is not modified.
func (s *SchemaStore) Append(ctx context.Context, schema *compiler.Schema) (*compiler.Schema, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	var version int
	err = s.db.QueryRowContext(ctx, appendSchemaQuery,
		schema.ID, schema.FormID, schema.EntityID, string(schema.Mode), string(doc), schema.CreatedAt,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("failed to append schema for form %s: %w", schema.FormID, crud.ConvertDBError(err))
	}

	stored := *schema
	stored.Version = version
	return &stored, nil
}

const latestSchemaQuery = `SELECT version, document FROM form_schemas
WHERE form_id = $1
ORDER BY version DESC
LIMIT 1`

// Latest returns the newest schema of a form, or nil when it has none
func (s *SchemaStore) Latest(ctx context.Context, formID string) (*compiler.Schema, error) {
	schema, err := s.scanOne(ctx, latestSchemaQuery, formID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return schema, err
}

const schemaByIDQuery = `SELECT version, document FROM form_schemas WHERE id = $1`

// Get loads one schema version by id
func (s *SchemaStore) Get(ctx context.Context, id string) (*compiler.Schema, error) {
	return s.scanOne(ctx, schemaByIDQuery, id)
}

func (s *SchemaStore) scanOne(ctx context.Context, query string, arg string) (*compiler.Schema, error) {
	var (
		version int
		doc     []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schema %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", arg, crud.ConvertDBError(err))
	}

	schema, err := compiler.ParseSchema(doc)
	if err != nil {
		return nil, err
	}
	schema.Version = version
	return schema, nil
}
