package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/identi-digital/identi-modules-sub000/internal/form/filter"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/query"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryResult is one page of entity rows
type QueryResult struct {
	Entity string                   `json:"entity"`
	Rows   []map[string]interface{} `json:"rows"`
	Total  int                      `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ApplyFilter adds a filter expression to a query over entity. Joined
// entities are resolved through the introspector; sub-filters that cannot
// apply are logged and dropped.
func (s *Service) ApplyFilter(ctx context.Context, qb *query.QueryBuilder, entity, expr string) *query.QueryBuilder {
	in := filter.New(s.logger, filter.WithDescriber(s.introspector(s.db)))
	return in.Apply(ctx, qb, entity, expr)
}

// Query lists the rows of entity matching a filter expression
func (s *Service) Query(ctx context.Context, entity, expr string, limit, offset int) (*QueryResult, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	desc, err := s.introspector(s.db).Describe(ctx, entity)
	if err != nil {
		if errors.Is(err, introspect.ErrUnknownEntity) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	qb := query.NewQueryBuilder(desc.Table, s.db).WithColumns(desc.Columns())
	s.ApplyFilter(ctx, qb, entity, expr)

	total, err := qb.Count(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qb.OrderBy(desc.Table+".id", "ASC").Limit(limit).Offset(offset).All(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return &QueryResult{Entity: entity, Rows: rows, Total: total, Limit: limit, Offset: offset}, nil
}
