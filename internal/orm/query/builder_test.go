package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryBuilder_ToSQL(t *testing.T) {
	qb := NewQueryBuilder("farmers", nil).
		Where("first_name", "Ana").
		Where("age", 30).
		OrderBy("first_name", "desc").
		Limit(10).
		Offset(20)

	sql, args, err := qb.ToSQL()
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "farmers".* FROM "farmers" WHERE "first_name" = $1 AND "age" = $2 ORDER BY "first_name" DESC LIMIT $3 OFFSET $4`,
		sql)
	assert.Equal(t, []interface{}{"Ana", 30, 10, 20}, args)
}

func TestQueryBuilder_Join(t *testing.T) {
	qb := NewQueryBuilder("countries", nil).
		InnerJoin("farmers", "farmers.country_id", "countries.id").
		InnerJoin("farmers", "farmers.country_id", "countries.id").
		Where("name", "Peru")

	sql, args, err := qb.ToSQL()
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "countries".* FROM "countries" INNER JOIN "farmers" ON "farmers"."country_id" = "countries"."id" WHERE "countries"."name" = $1`,
		sql)
	assert.Equal(t, []interface{}{"Peru"}, args)
	assert.Len(t, qb.Joins(), 1)
}

func TestQueryBuilder_RecordsErrors(t *testing.T) {
	t.Run("unsafe field", func(t *testing.T) {
		_, _, err := NewQueryBuilder("farmers", nil).Where("name; DROP TABLE x", 1).ToSQL()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid field")
	})

	t.Run("unknown column", func(t *testing.T) {
		qb := NewQueryBuilder("farmers", nil).WithColumns([]string{"first_name"})
		assert.True(t, qb.HasColumn("id"))
		assert.False(t, qb.HasColumn("salary"))

		_, _, err := qb.Where("salary", 1).ToSQL()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "salary")
	})

	t.Run("invalid join", func(t *testing.T) {
		_, _, err := NewQueryBuilder("farmers", nil).InnerJoin("countries", "country_id", "countries.id").ToSQL()
		require.Error(t, err)
	})
}

func TestConditionToSQL(t *testing.T) {
	counter := 3
	args := []interface{}{"a", "b"}
	sql := conditionToSQL(&Condition{Field: "farmers.status", Value: "active"}, &counter, &args)

	assert.Equal(t, `"farmers"."status" = $3`, sql)
	assert.Equal(t, 4, counter)
	assert.Equal(t, []interface{}{"a", "b", "active"}, args)
}

func TestQueryBuilder_AllAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "farmers".* FROM "farmers" WHERE "country_id" = $1 LIMIT $2`)).
		WithArgs("c1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name"}).AddRow("f1", "Ana"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "farmers" WHERE "country_id" = $1`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	qb := NewQueryBuilder("farmers", db).Where("country_id", "c1").Limit(5)

	rows, err := qb.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["first_name"])

	total, err := qb.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
