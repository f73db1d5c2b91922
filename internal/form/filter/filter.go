// Package filter interprets the comma-separated filter strings forms attach
// to entity lookups.
//
// Supported sub-filters:
//
//	field=value
//	entity.field=value
//	entityA.field=entityB.field
//	entityA.field={{entityB.field}}
//
// Cross-entity filters must name the queried entity on one side, and the
// other side must resolve to a known entity and column. Anything else is
// logged and dropped; a bad filter never fails the query.
package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/query"
	ustrings "github.com/identi-digital/identi-modules-sub000/internal/util/strings"
)

// Kind is the shape of a sub-filter
type Kind int

const (
	// KindDirect compares a column with a literal
	KindDirect Kind = iota
	// KindCross compares columns of two entities
	KindCross
)

// SubFilter is one parsed clause
type SubFilter struct {
	Raw         string
	Kind        Kind
	Entity      string
	Field       string
	Value       string
	RefEntity   string
	RefField    string
	Placeholder bool
}

// Rejection is a sub-filter that was dropped
type Rejection struct {
	Raw    string
	Reason string
}

// Parse splits s into well-formed sub-filters, dropping malformed ones
func Parse(s string) []SubFilter {
	filters, _ := parse(s)
	return filters
}

func parse(s string) ([]SubFilter, []Rejection) {
	var filters []SubFilter
	var rejected []Rejection
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		f, err := parseOne(raw)
		if err != nil {
			rejected = append(rejected, Rejection{Raw: raw, Reason: err.Error()})
			continue
		}
		filters = append(filters, f)
	}
	return filters, rejected
}

func parseOne(raw string) (SubFilter, error) {
	left, right, ok := strings.Cut(raw, "=")
	if !ok {
		return SubFilter{}, fmt.Errorf("missing '='")
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)
	if left == "" {
		return SubFilter{}, fmt.Errorf("missing field")
	}

	f := SubFilter{Raw: raw}
	if entity, field, qualified := strings.Cut(left, "."); qualified {
		f.Entity, f.Field = entity, field
	} else {
		f.Field = left
	}
	if !codegen.IsSafeIdentifier(f.Field) || (f.Entity != "" && !codegen.IsSafeIdentifier(f.Entity)) {
		return SubFilter{}, fmt.Errorf("invalid field %q", left)
	}

	ref := right
	if strings.HasPrefix(ref, "{{") && strings.HasSuffix(ref, "}}") {
		ref = strings.TrimSpace(ref[2 : len(ref)-2])
		f.Placeholder = true
	}
	if refEntity, refField, ok := strings.Cut(ref, "."); ok && f.Entity != "" &&
		codegen.IsSafeIdentifier(refEntity) && codegen.IsSafeIdentifier(refField) {
		f.Kind = KindCross
		f.RefEntity, f.RefField = refEntity, refField
		return f, nil
	}
	if f.Placeholder {
		return SubFilter{}, fmt.Errorf("placeholder %q is not an entity field", right)
	}

	f.Kind = KindDirect
	f.Value = strings.Trim(right, `"'`)
	return f, nil
}

// Describer resolves an entity name to its table and columns
type Describer interface {
	Describe(ctx context.Context, entity string) (*introspect.EntityDescription, error)
}

// Option configures an Interpreter
type Option func(*Interpreter)

// WithDescriber resolves the joined side of cross-entity filters. Without
// one, cross-entity filters are rejected.
func WithDescriber(d Describer) Option {
	return func(in *Interpreter) { in.describer = d }
}

// Interpreter applies filters to query builders
type Interpreter struct {
	logger    *zap.Logger
	describer Describer
}

// New creates an interpreter
func New(logger *zap.Logger, opts ...Option) *Interpreter {
	in := &Interpreter{logger: logging.OrNop(logger)}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Apply adds the sub-filters of s to qb, which queries entity. Rejected
// sub-filters are logged and skipped.
func (in *Interpreter) Apply(ctx context.Context, qb *query.QueryBuilder, entity, s string) *query.QueryBuilder {
	filters, rejected := parse(s)
	active := activeNames(qb, entity)

	for _, f := range filters {
		if reason := in.apply(ctx, qb, active, f); reason != "" {
			rejected = append(rejected, Rejection{Raw: f.Raw, Reason: reason})
		}
	}

	for _, r := range rejected {
		in.logger.Info("filter rejected",
			zap.String("entity", entity),
			zap.String("filter", r.Raw),
			zap.String("reason", r.Reason),
		)
	}
	return qb
}

func (in *Interpreter) apply(ctx context.Context, qb *query.QueryBuilder, active map[string]bool, f SubFilter) string {
	switch f.Kind {
	case KindDirect:
		return applyDirect(qb, active, f)
	case KindCross:
		return in.applyCross(ctx, qb, active, f)
	}
	return "unsupported filter"
}

func applyDirect(qb *query.QueryBuilder, active map[string]bool, f SubFilter) string {
	if f.Entity != "" && !active[f.Entity] {
		return fmt.Sprintf("entity %s is not the queried entity", f.Entity)
	}
	if !qb.HasColumn(f.Field) {
		return fmt.Sprintf("unknown field %s", f.Field)
	}
	qb.Where(f.Field, f.Value)
	return ""
}

func (in *Interpreter) applyCross(ctx context.Context, qb *query.QueryBuilder, active map[string]bool, f SubFilter) string {
	// The first side naming the queried entity wins.
	var (
		otherEntity string
		activeField string
		otherField  string
		activeLeft  bool
	)
	switch {
	case active[f.Entity]:
		otherEntity, activeField, otherField, activeLeft = f.RefEntity, f.Field, f.RefField, true
	case active[f.RefEntity]:
		otherEntity, activeField, otherField = f.Entity, f.RefField, f.Field
	default:
		return fmt.Sprintf("neither %s nor %s is the queried entity", f.Entity, f.RefEntity)
	}
	if active[otherEntity] {
		return "both sides name the queried entity"
	}
	if !qb.HasColumn(activeField) {
		return fmt.Sprintf("unknown field %s", activeField)
	}
	if in.describer == nil {
		return fmt.Sprintf("cannot resolve entity %s", otherEntity)
	}

	other, err := in.describer.Describe(ctx, otherEntity)
	if errors.Is(err, introspect.ErrUnknownEntity) {
		// A dotted literal such as jon.doe is a plain value.
		if activeLeft && !f.Placeholder {
			return applyDirect(qb, active, SubFilter{
				Raw:    f.Raw,
				Kind:   KindDirect,
				Entity: f.Entity,
				Field:  f.Field,
				Value:  f.RefEntity + "." + f.RefField,
			})
		}
		return fmt.Sprintf("unknown entity %s", otherEntity)
	}
	if err != nil {
		return fmt.Sprintf("cannot resolve entity %s: %v", otherEntity, err)
	}
	if other.Table == qb.Table() {
		return "both sides name the queried entity"
	}
	if !hasColumn(other, otherField) {
		return fmt.Sprintf("unknown field %s on %s", otherField, other.Table)
	}

	qb.InnerJoin(other.Table, qb.Table()+"."+activeField, other.Table+"."+otherField)
	return ""
}

func hasColumn(desc *introspect.EntityDescription, column string) bool {
	if column == "id" {
		return true
	}
	_, ok := desc.Attribute(column)
	return ok
}

// activeNames lists the spellings that refer to the queried entity
func activeNames(qb *query.QueryBuilder, entity string) map[string]bool {
	names := map[string]bool{qb.Table(): true}
	if entity != "" {
		names[entity] = true
		names[ustrings.Plural(entity)] = true
		names[ustrings.Singular(entity)] = true
	}
	return names
}
