// Package crud provides table-level row operations for dynamically described entities
package crud

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// Querier is the subset of *sql.DB and *sql.Tx the operations need
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Table provides CRUD operations for one table whose primary key column is "id"
type Table struct {
	name       string
	timestamps bool
	now        func() time.Time
	newID      func() string
}

// Option configures a Table
type Option func(*Table)

// WithTimestamps makes Insert and Update maintain created_at / updated_at
func WithTimestamps() Option {
	return func(t *Table) { t.timestamps = true }
}

// WithClock overrides the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithIDGenerator overrides the generator used for new primary keys
func WithIDGenerator(gen func() string) Option {
	return func(t *Table) { t.newID = gen }
}

// NewTable creates operations for the named table
func NewTable(name string, opts ...Option) *Table {
	t := &Table{
		name:  name,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// sortedColumns returns the map keys in deterministic order
func sortedColumns(data map[string]interface{}) []string {
	columns := make([]string, 0, len(data))
	for column := range data {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func quoteAll(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = codegen.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}
