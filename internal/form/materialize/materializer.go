// Package materialize writes submitted answers back into entity rows and
// their many-to-many relations.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// ErrNoTable is returned when the target has no storage table
var ErrNoTable = errors.New("target entity has no table")

// TableResolver maps an entity name to its table
type TableResolver interface {
	TableFor(ctx context.Context, entity string) (string, error)
}

// Target is the entity answers are written into
type Target struct {
	Entity     string
	Table      string
	Attributes []introspect.AttributeDescriptor
	Relations  []introspect.RelationDescriptor
	// Timestamps makes row writes maintain created_at and updated_at
	Timestamps bool
}

// TargetFor builds a target from an entity description
func TargetFor(desc *introspect.EntityDescription) Target {
	return Target{
		Entity:     desc.Entity,
		Table:      desc.Table,
		Attributes: desc.Attributes,
		Relations:  desc.Relations,
		Timestamps: desc.Timestamps,
	}
}

func (t Target) attribute(name string) (introspect.AttributeDescriptor, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return introspect.AttributeDescriptor{}, false
}

func (t Target) relation(name string) (introspect.RelationDescriptor, bool) {
	for _, r := range t.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return introspect.RelationDescriptor{}, false
}

// RelationResult reports one written relation
type RelationResult struct {
	Name      string          `json:"name"`
	JoinTable string          `json:"joinTable"`
	Declared  bool            `json:"declared"`
	Status    JoinTableStatus `json:"-"`
	Members   []string        `json:"members"`
	Skipped   []string        `json:"skipped,omitempty"`
}

// Outcome reports what one materialization wrote
type Outcome struct {
	EntityID  string           `json:"entityId"`
	Created   bool             `json:"created"`
	Columns   []string         `json:"columns"`
	Relations []RelationResult `json:"relations,omitempty"`
	Ignored   []string         `json:"ignored,omitempty"`
}

// Option configures a Materializer
type Option func(*Materializer)

// WithIDGenerator replaces uuid-based row ids
func WithIDGenerator(fn func() string) Option {
	return func(m *Materializer) { m.newID = fn }
}

// WithClock replaces time.Now for created_at and updated_at
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// Materializer writes detail items into a target entity
type Materializer struct {
	tables TableResolver
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

// New creates a materializer. tables may be nil, in which case entity
// names are used as table names.
func New(tables TableResolver, logger *zap.Logger, opts ...Option) *Materializer {
	m := &Materializer{
		tables: tables,
		logger: logging.OrNop(logger),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// pendingRelation is a relation answer written after the row. known
// relations come from the target; the others use a conventional join table.
type pendingRelation struct {
	name     string
	relation introspect.RelationDescriptor
	known    bool
	refs     []capture.EntityRef
	// clearOnly empties an existing join table without creating one
	clearOnly bool
}

// Materialize writes items into the target row identified by backRef, or a
// new row when backRef is empty. Relations are written after the row.
func (m *Materializer) Materialize(ctx context.Context, q crud.Querier, target Target, items []capture.DetailItem, backRef string) (*Outcome, error) {
	if target.Table == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, target.Entity)
	}

	out := &Outcome{}
	columns := make(map[string]interface{})
	var relations []pendingRelation

	for _, item := range items {
		attr, isAttr := target.attribute(item.Name)
		rel, isRel := target.relation(item.Name)

		switch item.Value.Kind() {
		case capture.KindEntityRef:
			ref, _ := item.Value.Ref()
			switch {
			case isRel:
				relations = append(relations, pendingRelation{name: item.Name, relation: rel, known: true, refs: []capture.EntityRef{ref}})
			case isAttr:
				columns[attr.Name] = ref.ID
			default:
				out.Ignored = append(out.Ignored, item.Name)
			}

		case capture.KindEntityRefList:
			switch {
			case isRel:
				relations = append(relations, pendingRelation{name: item.Name, relation: rel, known: true, refs: item.Value.Refs()})
			case isAttr && isJSONColumn(attr):
				v, err := coerce(attr, item.Value)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", item.Name, err)
				}
				columns[attr.Name] = v
			default:
				relations = append(relations, pendingRelation{name: item.Name, refs: item.Value.Refs()})
			}

		default:
			emptyList := item.Value.Kind() == capture.KindScalarList && len(item.Value.List()) == 0
			switch {
			case emptyList && isRel:
				relations = append(relations, pendingRelation{name: item.Name, relation: rel, known: true})
				continue
			case emptyList && !isAttr:
				relations = append(relations, pendingRelation{name: item.Name, clearOnly: true})
				continue
			}
			if !isAttr {
				out.Ignored = append(out.Ignored, item.Name)
				continue
			}
			v, err := coerce(attr, item.Value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", item.Name, err)
			}
			columns[attr.Name] = v
		}
	}

	if len(out.Ignored) > 0 {
		m.logger.Debug("ignoring answers without a column",
			zap.String("entity", target.Entity),
			zap.Strings("fields", out.Ignored),
		)
	}

	opts := []crud.Option{crud.WithIDGenerator(m.newID), crud.WithClock(m.now)}
	if target.Timestamps {
		opts = append(opts, crud.WithTimestamps())
	}
	table := crud.NewTable(target.Table, opts...)
	entityID, created, err := m.writeRow(ctx, q, table, columns, backRef)
	if err != nil {
		return nil, err
	}
	out.EntityID = entityID
	out.Created = created
	for name := range columns {
		out.Columns = append(out.Columns, name)
	}
	sort.Strings(out.Columns)

	for _, p := range relations {
		var (
			res *RelationResult
			err error
		)
		if p.known {
			res, err = m.writeKnown(ctx, q, entityID, p)
		} else {
			res, err = m.writeUndeclared(ctx, q, target, entityID, p)
		}
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", p.name, err)
		}
		if res != nil {
			out.Relations = append(out.Relations, *res)
		}
	}

	m.logger.Info("entity materialized",
		zap.String("entity", target.Entity),
		zap.String("entity_id", entityID),
		zap.Bool("created", created),
		zap.Int("columns", len(out.Columns)),
		zap.Int("relations", len(out.Relations)),
	)
	return out, nil
}

func (m *Materializer) writeRow(ctx context.Context, q crud.Querier, table *crud.Table, columns map[string]interface{}, backRef string) (string, bool, error) {
	if backRef != "" {
		if len(columns) == 0 {
			exists, err := table.Exists(ctx, q, backRef)
			if err != nil {
				return "", false, err
			}
			if exists {
				return backRef, false, nil
			}
		} else {
			err := table.Update(ctx, q, backRef, columns)
			if err == nil {
				return backRef, false, nil
			}
			if !crud.IsNotFound(err) {
				return "", false, err
			}
		}
		m.logger.Warn("back-referenced row is gone, inserting a new one",
			zap.String("table", table.Name()),
			zap.String("back_ref", backRef),
		)
	}

	id, err := table.Insert(ctx, q, columns)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// writeKnown replaces the members of a relation the target describes,
// declared or discovered in the catalog.
func (m *Materializer) writeKnown(ctx context.Context, q crud.Querier, entityID string, p pendingRelation) (*RelationResult, error) {
	rel := p.relation
	members, skipped, err := m.resolveMembers(ctx, q, p.name, rel.TargetEntity, p.refs)
	if err != nil {
		return nil, err
	}

	join := crud.NewTable(rel.JoinTable, crud.WithIDGenerator(m.newID))
	if _, err := join.DeleteWhere(ctx, q, rel.SourceKey, entityID); err != nil {
		return nil, err
	}
	for _, id := range members {
		row := map[string]interface{}{rel.SourceKey: entityID, rel.TargetKey: id}
		if rel.RowID {
			_, err = join.Insert(ctx, q, row)
		} else {
			err = join.InsertRow(ctx, q, row)
		}
		if err != nil {
			return nil, err
		}
	}

	return &RelationResult{
		Name:      p.name,
		JoinTable: rel.JoinTable,
		Declared:  rel.Declared,
		Status:    JoinTableAlreadyExists,
		Members:   members,
		Skipped:   skipped,
	}, nil
}

func (m *Materializer) writeUndeclared(ctx context.Context, q crud.Querier, target Target, entityID string, p pendingRelation) (*RelationResult, error) {
	spec, err := codegen.NewJoinTableSpec(target.Table, p.name)
	if err != nil {
		m.logger.Warn("cannot derive join table, dropping relation",
			zap.String("entity", target.Entity),
			zap.String("relation", p.name),
			zap.Error(err),
		)
		return nil, nil
	}

	if p.clearOnly {
		return m.clearUndeclared(ctx, q, target, entityID, p, spec)
	}

	status, err := EnsureJoinTable(ctx, q, spec)
	if err != nil {
		return nil, err
	}
	if status == JoinTableCreated {
		m.logger.Info("created join table",
			zap.String("table", spec.Table),
			zap.String("source_column", spec.SourceColumn),
			zap.String("target_column", spec.TargetColumn),
		)
	}

	members, skipped, err := m.resolveMembers(ctx, q, p.name, p.name, p.refs)
	if err != nil {
		return nil, err
	}

	join := crud.NewTable(spec.Table, crud.WithIDGenerator(m.newID))
	if _, err := join.DeleteWhere(ctx, q, spec.SourceColumn, entityID); err != nil {
		return nil, err
	}
	for _, id := range members {
		row := map[string]interface{}{spec.SourceColumn: entityID, spec.TargetColumn: id}
		if _, err := join.Insert(ctx, q, row); err != nil {
			return nil, err
		}
	}

	return &RelationResult{
		Name:      p.name,
		JoinTable: spec.Table,
		Status:    status,
		Members:   members,
		Skipped:   skipped,
	}, nil
}

// clearUndeclared empties the relation when its join table exists. An empty
// answer never creates a join table.
func (m *Materializer) clearUndeclared(ctx context.Context, q crud.Querier, target Target, entityID string, p pendingRelation, spec codegen.JoinTableSpec) (*RelationResult, error) {
	exists, err := introspect.NewPGCatalog(q).TableExists(ctx, spec.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		m.logger.Debug("no join table to clear",
			zap.String("entity", target.Entity),
			zap.String("relation", p.name),
		)
		return nil, nil
	}

	if _, err := crud.NewTable(spec.Table).DeleteWhere(ctx, q, spec.SourceColumn, entityID); err != nil {
		return nil, err
	}
	return &RelationResult{
		Name:      p.name,
		JoinTable: spec.Table,
		Status:    JoinTableAlreadyExists,
		Members:   []string{},
	}, nil
}

// resolveMembers keeps the referenced ids that exist in the target table.
// When the target table cannot be resolved the ids are kept unverified.
func (m *Materializer) resolveMembers(ctx context.Context, q crud.Querier, relation, entity string, refs []capture.EntityRef) ([]string, []string, error) {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if ref.ID == "" || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		ids = append(ids, ref.ID)
	}
	if len(ids) == 0 {
		return ids, nil, nil
	}

	table, err := m.tableFor(ctx, entity)
	if err != nil {
		m.logger.Warn("relation target unresolved, members not verified",
			zap.String("relation", relation),
			zap.String("target", entity),
			zap.Error(err),
		)
		return ids, nil, nil
	}

	found, err := crud.NewTable(table).ExistingIDs(ctx, q, ids)
	if err != nil {
		return nil, nil, err
	}

	members := ids[:0:0]
	var skipped []string
	for _, id := range ids {
		if found[id] {
			members = append(members, id)
			continue
		}
		skipped = append(skipped, id)
		m.logger.Warn("relation member not found, skipping",
			zap.String("relation", relation),
			zap.String("table", table),
			zap.String("id", id),
		)
	}
	return members, skipped, nil
}

func (m *Materializer) tableFor(ctx context.Context, entity string) (string, error) {
	if m.tables == nil {
		if !codegen.IsSafeIdentifier(entity) {
			return "", fmt.Errorf("invalid table name %q", entity)
		}
		return entity, nil
	}
	return m.tables.TableFor(ctx, entity)
}
