package materialize

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func farmerTarget() Target {
	return Target{
		Entity: "farmer",
		Table:  "farmers",
		Attributes: []introspect.AttributeDescriptor{
			{Name: "first_name", SemanticType: introspect.TextShort},
			{Name: "country_id", SemanticType: introspect.Entity, IsForeignKey: true, ForeignEntity: "countries"},
			{Name: "hectares", SemanticType: introspect.Number},
		},
	}
}

func parseDetail(t *testing.T, doc string) []capture.DetailItem {
	t.Helper()
	items, err := capture.ParseDetail([]byte(doc))
	require.NoError(t, err)
	return items
}

func TestMaterialize_EntityRefBecomesForeignKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers" ("country_id", "id") VALUES ($1, $2)`)).
		WithArgs("c1", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil, WithIDGenerator(sequentialIDs()))
	items := parseDetail(t, `[{"name": "country_id", "value": {"id": "c1", "displayName": "Peru"}, "semanticType": "text_short"}]`)

	out, err := m.Materialize(context.Background(), db, farmerTarget(), items, "")
	require.NoError(t, err)

	assert.Equal(t, "id-1", out.EntityID)
	assert.True(t, out.Created)
	assert.Equal(t, []string{"country_id"}, out.Columns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_UpdatesBackReference(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "farmers" SET "first_name" = $1, "hectares" = $2 WHERE "id" = $3`)).
		WithArgs("Ana", 12.5, "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil)
	items := parseDetail(t, `[
		{"name": "first_name", "value": "Ana"},
		{"name": "hectares", "value": "12,5"},
		{"name": "signature_photo", "value": {"url": "https://cdn/sig.png"}}
	]`)

	out, err := m.Materialize(context.Background(), db, farmerTarget(), items, "f1")
	require.NoError(t, err)

	assert.Equal(t, "f1", out.EntityID)
	assert.False(t, out.Created)
	assert.Equal(t, []string{"signature_photo"}, out.Ignored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_MissingBackReferenceInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "farmers" SET "first_name" = $1 WHERE "id" = $2`)).
		WithArgs("Ana", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers" ("first_name", "id") VALUES ($1, $2)`)).
		WithArgs("Ana", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil, WithIDGenerator(sequentialIDs()))
	out, err := m.Materialize(context.Background(), db, farmerTarget(),
		parseDetail(t, `[{"name": "first_name", "value": "Ana"}]`), "gone")
	require.NoError(t, err)

	assert.Equal(t, "id-1", out.EntityID)
	assert.True(t, out.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_UndeclaredRelationCreatesJoinTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	spec, err := codegen.NewJoinTableSpec("farmers", "crops")
	require.NoError(t, err)
	ddl := spec.GenerateCreateTable()
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "farmers_crops"`)
	assert.Contains(t, ddl, `"farmer_id" VARCHAR(64) NOT NULL`)
	assert.Contains(t, ddl, `"crop_id" VARCHAR(64) NOT NULL`)
	assert.Contains(t, ddl, `"created_at" TIMESTAMPTZ`)
	assert.Contains(t, ddl, `UNIQUE ("farmer_id", "crop_id")`)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "farmers" WHERE "id" = $1`)).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("farmers_crops").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(ddl)).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, idx := range spec.GenerateIndexes() {
		mock.ExpectExec(regexp.QuoteMeta(idx)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "crops" WHERE "id"::text = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x").AddRow("y"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "farmers_crops" WHERE "farmer_id" = $1`)).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers_crops" ("crop_id", "farmer_id", "id") VALUES ($1, $2, $3)`)).
		WithArgs("x", "f1", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers_crops" ("crop_id", "farmer_id", "id") VALUES ($1, $2, $3)`)).
		WithArgs("y", "f1", "id-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil, WithIDGenerator(sequentialIDs()))
	items := parseDetail(t, `[{"name": "crops", "value": [{"id": "x"}, {"id": "y"}]}]`)

	out, err := m.Materialize(context.Background(), db, farmerTarget(), items, "f1")
	require.NoError(t, err)

	require.Len(t, out.Relations, 1)
	rel := out.Relations[0]
	assert.Equal(t, "farmers_crops", rel.JoinTable)
	assert.Equal(t, JoinTableCreated, rel.Status)
	assert.False(t, rel.Declared)
	assert.Equal(t, []string{"x", "y"}, rel.Members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_UnresolvedMembersAreSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zapcore.WarnLevel)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "farmers" WHERE "id" = $1`)).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("farmers_crops").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "crops" WHERE "id"::text = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "farmers_crops" WHERE "farmer_id" = $1`)).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers_crops"`)).
		WithArgs("x", "f1", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, zap.New(core), WithIDGenerator(sequentialIDs()))
	items := parseDetail(t, `[{"name": "crops", "value": [{"id": "x"}, {"id": "missing"}, {"id": "x"}]}]`)

	out, err := m.Materialize(context.Background(), db, farmerTarget(), items, "f1")
	require.NoError(t, err)

	rel := out.Relations[0]
	assert.Equal(t, JoinTableAlreadyExists, rel.Status)
	assert.Equal(t, []string{"x"}, rel.Members)
	assert.Equal(t, []string{"missing"}, rel.Skipped)

	entries := logs.FilterMessage("relation member not found, skipping").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "missing", entries[0].ContextMap()["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

type staticTables map[string]string

func (s staticTables) TableFor(ctx context.Context, entity string) (string, error) {
	if table, ok := s[entity]; ok {
		return table, nil
	}
	return "", fmt.Errorf("%w: %s", introspect.ErrUnknownEntity, entity)
}

func TestMaterialize_DeclaredRelation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	target := farmerTarget()
	target.Relations = []introspect.RelationDescriptor{{
		Name:         "certifications",
		TargetEntity: "certification",
		JoinTable:    "farmer_certifications",
		SourceKey:    "farmer_id",
		TargetKey:    "certification_id",
		Declared:     true,
	}}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "farmers" SET "first_name" = $1 WHERE "id" = $2`)).
		WithArgs("Ana", "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "certifications" WHERE "id"::text = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "farmer_certifications" WHERE "farmer_id" = $1`)).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmer_certifications" ("certification_id", "farmer_id") VALUES ($1, $2)`)).
		WithArgs("org", "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(staticTables{"certification": "certifications"}, nil)
	items := parseDetail(t, `[
		{"name": "first_name", "value": "Ana"},
		{"name": "certifications", "value": [{"id": "org", "displayName": "Organic"}]}
	]`)

	out, err := m.Materialize(context.Background(), db, target, items, "f1")
	require.NoError(t, err)

	require.Len(t, out.Relations, 1)
	assert.True(t, out.Relations[0].Declared)
	assert.Equal(t, []string{"org"}, out.Relations[0].Members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_CoercionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := New(nil, nil)
	_, err = m.Materialize(context.Background(), db, farmerTarget(),
		parseDetail(t, `[{"name": "hectares", "value": "many"}]`), "")

	assert.ErrorIs(t, err, ErrCoercion)
	assert.Contains(t, err.Error(), "hectares")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_NoTable(t *testing.T) {
	_, err := New(nil, nil).Materialize(context.Background(), nil, Target{Entity: "ghost"}, nil, "")
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestMaterialize_MaintainsTimestamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	target := farmerTarget()
	target.Timestamps = true

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers" ("created_at", "first_name", "id", "updated_at") VALUES ($1, $2, $3, $4)`)).
		WithArgs(now, "Ana", "id-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "farmers" SET "first_name" = $1, "updated_at" = $2 WHERE "id" = $3`)).
		WithArgs("Rosa", now, "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil, WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return now }))

	out, err := m.Materialize(context.Background(), db, target, parseDetail(t, `[{"name": "first_name", "value": "Ana"}]`), "")
	require.NoError(t, err)
	assert.True(t, out.Created)

	_, err = m.Materialize(context.Background(), db, target, parseDetail(t, `[{"name": "first_name", "value": "Rosa"}]`), out.EntityID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_EmptyUndeclaredRelationClears(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "farmers" WHERE "id" = $1`)).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("farmers_crops").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "farmers_crops" WHERE "farmer_id" = $1`)).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("farmers_tags").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	m := New(nil, nil)
	items := parseDetail(t, `[{"name": "crops", "value": []}, {"name": "tags", "value": []}]`)

	out, err := m.Materialize(context.Background(), db, farmerTarget(), items, "f1")
	require.NoError(t, err)

	require.Len(t, out.Relations, 1, "an empty answer never creates a join table")
	assert.Equal(t, "farmers_crops", out.Relations[0].JoinTable)
	assert.Empty(t, out.Relations[0].Members)
	assert.Empty(t, out.Ignored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterialize_DiscoveredRelationWithRowID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	target := farmerTarget()
	target.Relations = []introspect.RelationDescriptor{{
		Name:         "crops",
		TargetEntity: "crops",
		JoinTable:    "farmers_crops",
		SourceKey:    "farmer_id",
		TargetKey:    "crop_id",
		RowID:        true,
	}}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "farmers" WHERE "id" = $1`)).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "crops" WHERE "id"::text = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "farmers_crops" WHERE "farmer_id" = $1`)).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "farmers_crops" ("crop_id", "farmer_id", "id") VALUES ($1, $2, $3)`)).
		WithArgs("x", "f1", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := New(nil, nil, WithIDGenerator(sequentialIDs()))
	out, err := m.Materialize(context.Background(), db, target,
		parseDetail(t, `[{"name": "crops", "value": [{"id": "x"}]}]`), "f1")
	require.NoError(t, err)

	require.Len(t, out.Relations, 1)
	assert.False(t, out.Relations[0].Declared)
	assert.Equal(t, []string{"x"}, out.Relations[0].Members)
	assert.NoError(t, mock.ExpectationsWereMet())
}
