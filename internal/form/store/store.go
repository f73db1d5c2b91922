// Package store persists compiled schemas, submissions and the tool catalog.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// ErrNotFound is returned when a stored record does not exist
var ErrNotFound = errors.New("not found")

var initStatements = []string{
	`CREATE TABLE IF NOT EXISTS form_schemas (
	id UUID PRIMARY KEY,
	form_id VARCHAR(64) NOT NULL,
	entity_id VARCHAR(128) NOT NULL,
	mode VARCHAR(16) NOT NULL,
	version INTEGER NOT NULL,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_form_schemas_form_version UNIQUE (form_id, version)
)`,
	`CREATE INDEX IF NOT EXISTS idx_form_schemas_form_id ON form_schemas(form_id)`,
	`CREATE TABLE IF NOT EXISTS form_submissions (
	id UUID PRIMARY KEY,
	form_id VARCHAR(64) NOT NULL,
	schema_id UUID NOT NULL REFERENCES form_schemas(id),
	entity_id VARCHAR(128) NOT NULL,
	detail JSONB NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	entity_ref VARCHAR(64),
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_form_submissions_form_id ON form_submissions(form_id)`,
	`CREATE TABLE IF NOT EXISTS tool_templates (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
}

// Initialize creates the tables the form service owns. It is idempotent.
func Initialize(ctx context.Context, db crud.Querier) error {
	for _, stmt := range initStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize form tables: %w", crud.ConvertDBError(err))
		}
	}
	return nil
}
