package filter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/query"
)

// catalog describes entities by table name or its singular form
type catalog map[string][]string

func (c catalog) Describe(ctx context.Context, entity string) (*introspect.EntityDescription, error) {
	for _, table := range []string{entity, entity + "s", entity + "es"} {
		if table == "countrys" {
			table = "countries"
		}
		columns, ok := c[table]
		if !ok {
			continue
		}
		desc := &introspect.EntityDescription{Entity: entity, Table: table}
		for _, col := range columns {
			desc.Attributes = append(desc.Attributes, introspect.AttributeDescriptor{Name: col})
		}
		return desc, nil
	}
	return nil, fmt.Errorf("%w: %s", introspect.ErrUnknownEntity, entity)
}

type failingDescriber struct{}

func (failingDescriber) Describe(ctx context.Context, entity string) (*introspect.EntityDescription, error) {
	return nil, errors.New("connection reset")
}

var testCatalog = catalog{
	"farmers":   {"country_id", "nickname", "email"},
	"countries": {"name", "code"},
	"lots":      {"farmer_id", "code"},
}

func newInterpreter(logger *zap.Logger) *Interpreter {
	return New(logger, WithDescriber(testCatalog))
}

func TestParse(t *testing.T) {
	filters := Parse(`status=active, farmers.country_id=countries.id, lots.farmer_id={{farmers.id}}, broken, =x, name='Ana'`)
	require.Len(t, filters, 4)

	assert.Equal(t, SubFilter{Raw: "status=active", Kind: KindDirect, Field: "status", Value: "active"}, filters[0])

	assert.Equal(t, KindCross, filters[1].Kind)
	assert.Equal(t, "farmers", filters[1].Entity)
	assert.Equal(t, "country_id", filters[1].Field)
	assert.Equal(t, "countries", filters[1].RefEntity)
	assert.Equal(t, "id", filters[1].RefField)
	assert.False(t, filters[1].Placeholder)

	assert.Equal(t, KindCross, filters[2].Kind)
	assert.True(t, filters[2].Placeholder)
	assert.Equal(t, "farmers", filters[2].RefEntity)

	assert.Equal(t, "Ana", filters[3].Value)
}

func TestParse_LiteralWithDots(t *testing.T) {
	filters := Parse("farmers.email=ana@example.com")
	require.Len(t, filters, 1)
	assert.Equal(t, KindDirect, filters[0].Kind)
	assert.Equal(t, "ana@example.com", filters[0].Value)
}

func TestApply_Direct(t *testing.T) {
	qb := query.NewQueryBuilder("farmers", nil).WithColumns([]string{"status", "dni"})
	New(nil).Apply(context.Background(), qb, "farmer", "status=active,farmer.dni=123,unknown=1")

	sql, args, err := qb.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "farmers".* FROM "farmers" WHERE "status" = $1 AND "dni" = $2`, sql)
	assert.Equal(t, []interface{}{"active", "123"}, args)
}

func TestApply_CrossEntity(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		entity    string
		filter    string
		wantJoins int
		wantSQL   string
	}{
		{
			name:      "active entity on the right",
			table:     "countries",
			entity:    "countries",
			filter:    "farmers.country_id=countries.id",
			wantJoins: 1,
			wantSQL:   `SELECT "countries".* FROM "countries" INNER JOIN "farmers" ON "countries"."id" = "farmers"."country_id"`,
		},
		{
			name:      "active entity on the left",
			table:     "farmers",
			entity:    "farmer",
			filter:    "farmers.country_id=countries.id",
			wantJoins: 1,
			wantSQL:   `SELECT "farmers".* FROM "farmers" INNER JOIN "countries" ON "farmers"."country_id" = "countries"."id"`,
		},
		{
			name:      "placeholder",
			table:     "lots",
			entity:    "lot",
			filter:    "lots.farmer_id={{farmers.id}}",
			wantJoins: 1,
			wantSQL:   `SELECT "lots".* FROM "lots" INNER JOIN "farmers" ON "lots"."farmer_id" = "farmers"."id"`,
		},
		{
			name:      "neither side is active",
			table:     "lots",
			entity:    "lot",
			filter:    "farmers.country_id=countries.id",
			wantJoins: 0,
			wantSQL:   `SELECT "lots".* FROM "lots"`,
		},
		{
			name:      "singular entity resolves to its table",
			table:     "farmers",
			entity:    "farmer",
			filter:    "farmers.country_id=country.id",
			wantJoins: 1,
			wantSQL:   `SELECT "farmers".* FROM "farmers" INNER JOIN "countries" ON "farmers"."country_id" = "countries"."id"`,
		},
		{
			name:      "unknown column on the joined entity",
			table:     "farmers",
			entity:    "farmer",
			filter:    "farmers.country_id=countries.no_such_col",
			wantJoins: 0,
			wantSQL:   `SELECT "farmers".* FROM "farmers"`,
		},
		{
			name:      "unknown placeholder entity",
			table:     "lots",
			entity:    "lot",
			filter:    "lots.farmer_id={{growers.id}}",
			wantJoins: 0,
			wantSQL:   `SELECT "lots".* FROM "lots"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := query.NewQueryBuilder(tt.table, nil).WithColumns(testCatalog[tt.table])
			newInterpreter(nil).Apply(context.Background(), qb, tt.entity, tt.filter)

			assert.Len(t, qb.Joins(), tt.wantJoins)
			sql, _, err := qb.ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
		})
	}
}

func TestApply_RejectionsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	in := newInterpreter(zap.New(core))

	qb := query.NewQueryBuilder("lots", nil).WithColumns([]string{"code"})
	in.Apply(context.Background(), qb, "lot", "farmers.country_id=countries.id,code=L-1,nonsense,lots.id=lots.code")

	assert.Empty(t, qb.Joins())
	assert.Len(t, qb.Conditions(), 1)
	assert.NoError(t, qb.Err())

	entries := logs.FilterMessage("filter rejected").All()
	require.Len(t, entries, 3)
	var rejected []string
	for _, e := range entries {
		rejected = append(rejected, e.ContextMap()["filter"].(string))
	}
	assert.ElementsMatch(t, []string{"farmers.country_id=countries.id", "nonsense", "lots.id=lots.code"}, rejected)
}

func TestApply_DottedLiteral(t *testing.T) {
	qb := query.NewQueryBuilder("farmers", nil).WithColumns(testCatalog["farmers"])
	newInterpreter(nil).Apply(context.Background(), qb, "farmer", "farmers.nickname=jon.doe")

	assert.Empty(t, qb.Joins())
	sql, args, err := qb.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "farmers".* FROM "farmers" WHERE "nickname" = $1`, sql)
	assert.Equal(t, []interface{}{"jon.doe"}, args)
}

func TestApply_UnresolvableCrossFiltersAreDropped(t *testing.T) {
	tests := []struct {
		name   string
		in     *Interpreter
		filter string
	}{
		{"no describer", New(nil), "farmers.country_id=countries.id"},
		{"describer error", New(nil, WithDescriber(failingDescriber{})), "farmers.country_id=countries.id"},
		{"missing column", newInterpreter(nil), "farmers.country_id=countries.no_such_col"},
		{"same table", newInterpreter(nil), "farmers.country_id=farmers.id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			tt.in.logger = zap.New(core)

			qb := query.NewQueryBuilder("farmers", nil).WithColumns(testCatalog["farmers"])
			tt.in.Apply(context.Background(), qb, "farmer", tt.filter)

			assert.Empty(t, qb.Joins())
			assert.Empty(t, qb.Conditions())
			assert.NoError(t, qb.Err())
			assert.Equal(t, 1, logs.FilterMessage("filter rejected").Len())
		})
	}
}
