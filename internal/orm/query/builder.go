// Package query builds SELECT statements over dynamically described tables
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// Join is an inner equality join between a column of the joined table and
// a column already in scope.
type Join struct {
	Table string
	Left  string
	Right string
}

// QueryBuilder provides a fluent API for building SELECT queries against
// one table. Invalid input is recorded and reported by ToSQL instead of
// panicking.
type QueryBuilder struct {
	table   string
	db      crud.Querier
	columns map[string]bool

	conditions []*Condition
	joins      []*Join
	orderBy    []string
	limit      *int
	offset     *int
	errs       []error
}

// NewQueryBuilder creates a query builder for the given table
func NewQueryBuilder(table string, db crud.Querier) *QueryBuilder {
	qb := &QueryBuilder{table: table, db: db}
	if !codegen.IsSafeIdentifier(table) {
		qb.errs = append(qb.errs, fmt.Errorf("invalid table name: %q", table))
	}
	return qb
}

// WithColumns restricts unqualified Where fields to the given columns
func (qb *QueryBuilder) WithColumns(columns []string) *QueryBuilder {
	qb.columns = make(map[string]bool, len(columns)+1)
	qb.columns["id"] = true
	for _, c := range columns {
		qb.columns[c] = true
	}
	return qb
}

// Table returns the table being queried
func (qb *QueryBuilder) Table() string {
	return qb.table
}

// HasColumn reports whether an unqualified column is known. Without a
// column set every safe identifier is accepted.
func (qb *QueryBuilder) HasColumn(column string) bool {
	if !codegen.IsSafeIdentifier(column) {
		return false
	}
	if qb.columns == nil {
		return true
	}
	return qb.columns[column]
}

// Where adds an equality condition, ANDed with the others
func (qb *QueryBuilder) Where(field string, value interface{}) *QueryBuilder {
	if !isColumnRef(field) {
		qb.errs = append(qb.errs, fmt.Errorf("invalid field: %q", field))
		return qb
	}
	if !strings.Contains(field, ".") && !qb.HasColumn(field) {
		qb.errs = append(qb.errs, fmt.Errorf("field %s does not exist on %s", field, qb.table))
		return qb
	}
	qb.conditions = append(qb.conditions, &Condition{Field: field, Value: value})
	return qb
}

// InnerJoin adds INNER JOIN table ON left = right. Both sides must be
// qualified column references; repeated joins are ignored.
func (qb *QueryBuilder) InnerJoin(table, left, right string) *QueryBuilder {
	if !codegen.IsSafeIdentifier(table) || !isQualified(left) || !isQualified(right) {
		qb.errs = append(qb.errs, fmt.Errorf("invalid join: %s ON %s = %s", table, left, right))
		return qb
	}
	for _, j := range qb.joins {
		if j.Table == table && j.Left == left && j.Right == right {
			return qb
		}
	}
	qb.joins = append(qb.joins, &Join{Table: table, Left: left, Right: right})
	return qb
}

// Joins returns the joins added so far
func (qb *QueryBuilder) Joins() []*Join {
	return qb.joins
}

// Conditions returns the conditions added so far
func (qb *QueryBuilder) Conditions() []*Condition {
	return qb.conditions
}

// OrderBy adds an ORDER BY clause
func (qb *QueryBuilder) OrderBy(field string, direction string) *QueryBuilder {
	if !isColumnRef(field) {
		qb.errs = append(qb.errs, fmt.Errorf("invalid order field: %q", field))
		return qb
	}
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	qb.orderBy = append(qb.orderBy, fmt.Sprintf("%s %s", codegen.QuoteIdentifier(field), dir))
	return qb
}

// Limit sets the LIMIT clause
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET clause
func (qb *QueryBuilder) Offset(n int) *QueryBuilder {
	qb.offset = &n
	return qb
}

// Err returns every error recorded while building
func (qb *QueryBuilder) Err() error {
	return errors.Join(qb.errs...)
}

// ToSQL generates the SQL query and parameter bindings
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	return qb.build(codegen.QuoteIdentifier(qb.table)+".*", true)
}

func (qb *QueryBuilder) build(selection string, paginate bool) (string, []interface{}, error) {
	if err := qb.Err(); err != nil {
		return "", nil, err
	}

	var sql strings.Builder
	var args []interface{}
	paramCounter := 1

	fmt.Fprintf(&sql, "SELECT %s FROM %s", selection, codegen.QuoteIdentifier(qb.table))

	for _, join := range qb.joins {
		fmt.Fprintf(&sql, " INNER JOIN %s ON %s = %s",
			codegen.QuoteIdentifier(join.Table),
			codegen.QuoteIdentifier(join.Left),
			codegen.QuoteIdentifier(join.Right),
		)
	}

	if len(qb.conditions) > 0 {
		sql.WriteString(" WHERE ")
		for i, cond := range qb.conditions {
			if i > 0 {
				sql.WriteString(" AND ")
			}
			sql.WriteString(conditionToSQL(qb.qualify(cond), &paramCounter, &args))
		}
	}

	if !paginate {
		return sql.String(), args, nil
	}

	if len(qb.orderBy) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(qb.orderBy, ", "))
	}

	if qb.limit != nil {
		fmt.Fprintf(&sql, " LIMIT $%d", paramCounter)
		args = append(args, *qb.limit)
		paramCounter++
	}

	if qb.offset != nil {
		fmt.Fprintf(&sql, " OFFSET $%d", paramCounter)
		args = append(args, *qb.offset)
	}

	return sql.String(), args, nil
}

// qualify prefixes unqualified fields with the base table once joins exist
func (qb *QueryBuilder) qualify(cond *Condition) *Condition {
	if len(qb.joins) == 0 || strings.Contains(cond.Field, ".") {
		return cond
	}
	qualified := *cond
	qualified.Field = qb.table + "." + cond.Field
	return &qualified
}

// All executes the query and returns all matching rows
func (qb *QueryBuilder) All(ctx context.Context) ([]map[string]interface{}, error) {
	sqlStr, args, err := qb.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	rows, err := qb.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", crud.ConvertDBError(err))
	}
	defer rows.Close()

	results, err := crud.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return results, nil
}

// Count returns the number of matching rows, ignoring limit and offset
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	sqlStr, args, err := qb.build("COUNT(*)", false)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL: %w", err)
	}

	var count int
	if err := qb.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", crud.ConvertDBError(err))
	}
	return count, nil
}

func isQualified(ref string) bool {
	parts := strings.Split(ref, ".")
	return len(parts) == 2 && codegen.IsSafeIdentifier(parts[0]) && codegen.IsSafeIdentifier(parts[1])
}

func isColumnRef(ref string) bool {
	return codegen.IsSafeIdentifier(ref) || isQualified(ref)
}
