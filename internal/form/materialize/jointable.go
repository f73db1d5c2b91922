package materialize

import (
	"context"
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/transaction"
)

// JoinTableStatus is the result of EnsureJoinTable
type JoinTableStatus int

const (
	JoinTableFailed JoinTableStatus = iota
	JoinTableCreated
	JoinTableAlreadyExists
)

func (s JoinTableStatus) String() string {
	switch s {
	case JoinTableCreated:
		return "created"
	case JoinTableAlreadyExists:
		return "already_exists"
	}
	return "failed"
}

// EnsureJoinTable creates the join table described by spec unless it exists.
// A concurrent creator winning the race counts as AlreadyExists. When ctx
// carries a transaction the DDL runs in a nested transaction, so a lost
// race does not abort the surrounding one.
func EnsureJoinTable(ctx context.Context, q crud.Querier, spec codegen.JoinTableSpec) (JoinTableStatus, error) {
	exists, err := introspect.NewPGCatalog(q).TableExists(ctx, spec.Table)
	if err != nil {
		return JoinTableFailed, err
	}
	if exists {
		return JoinTableAlreadyExists, nil
	}

	parent, ok := transaction.FromContext(ctx)
	if !ok {
		return createJoinTable(ctx, q, spec)
	}

	nested, err := parent.BeginNested(ctx)
	if err != nil {
		return JoinTableFailed, err
	}
	status, err := createJoinTable(ctx, nested.Tx(), spec)
	if status != JoinTableCreated {
		if rbErr := nested.Rollback(); rbErr != nil {
			return JoinTableFailed, rbErr
		}
		return status, err
	}
	if err := nested.Commit(); err != nil {
		return JoinTableFailed, err
	}
	return status, nil
}

func createJoinTable(ctx context.Context, q crud.Querier, spec codegen.JoinTableSpec) (JoinTableStatus, error) {
	statements := append([]string{spec.GenerateCreateTable()}, spec.GenerateIndexes()...)
	for _, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			converted := crud.ConvertDBError(err)
			if crud.IsAlreadyExists(converted) || crud.IsUniqueViolation(converted) {
				return JoinTableAlreadyExists, nil
			}
			return JoinTableFailed, fmt.Errorf("failed to create join table %s: %w", spec.Table, converted)
		}
	}
	return JoinTableCreated, nil
}
