package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type compileBody struct {
	Entity string `json:"entity"`
	Mode   string `json:"mode"`
}

func TestParser_ParseJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/forms/f1/schemas", strings.NewReader(`{"entity":"farmers","mode":"merge"}`))
		var body compileBody
		require.NoError(t, NewParser(0, false).ParseJSON(httptest.NewRecorder(), r, &body))
		assert.Equal(t, "farmers", body.Entity)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(""))
		err := NewParser(0, false).ParseJSON(httptest.NewRecorder(), r, &compileBody{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("unknown field in strict mode", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"entity":"farmers","extra":1}`))
		err := NewParser(0, true).ParseJSON(httptest.NewRecorder(), r, &compileBody{})
		assert.Error(t, err)
	})

	t.Run("body too large", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"entity":"`+strings.Repeat("x", 64)+`"}`))
		err := NewParser(16, false).ParseJSON(httptest.NewRecorder(), r, &compileBody{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("trailing document", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"entity":"a"} {"entity":"b"}`))
		err := NewParser(0, false).ParseJSON(httptest.NewRecorder(), r, &compileBody{})
		assert.Error(t, err)
	})
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/entities/farmers/rows?limit=25&offset=abc&enrich=true", nil)

	assert.Equal(t, 25, GetQueryParamInt(r, "limit", 50))
	assert.Equal(t, 0, GetQueryParamInt(r, "offset", 0))
	assert.True(t, GetQueryParamBool(r, "enrich", false))
	assert.False(t, GetQueryParamBool(r, "missing", false))
}
