package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/identi-digital/identi-modules-sub000/internal/web/cache"
)

type staticSource struct {
	templates []ToolTemplate
	err       error
	calls     int
}

func (s *staticSource) Load(ctx context.Context) ([]ToolTemplate, error) {
	s.calls++
	return s.templates, s.err
}

func TestBundledSource_Default(t *testing.T) {
	templates, err := BundledSource{}.Load(context.Background())
	require.NoError(t, err)

	catalog := NewCatalog(templates)
	entities, ok := catalog.ByName("Entities")
	require.True(t, ok)
	assert.Equal(t, "entity", entities.GatherConfig.SemanticType)
	assert.JSONEq(t, `{"type":"lookup","widget":"entity_picker"}`, string(entities.Action))

	options, ok := catalog.ByName("Options")
	require.True(t, ok)
	var increasing *InputField
	for i := range options.InputFields {
		if options.InputFields[i].IsIncreasing {
			increasing = &options.InputFields[i]
		}
	}
	require.NotNil(t, increasing)
	assert.True(t, increasing.IsCondition)

	number, _ := catalog.ByName("Number")
	require.Len(t, number.AdvancedFields, 2)
	assert.Len(t, number.AdvancedFields[1].Fields, 2)
}

func TestBundledSource_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x","name":"Number","gatherConfig":{"type":"number"},"inputFields":[]}]`), 0o600))

	templates, err := BundledSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "x", templates[0].ID)

	_, err = BundledSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()
	fallback := &staticSource{templates: []ToolTemplate{tpl("f", "Short text", "text_short")}}

	t.Run("primary wins", func(t *testing.T) {
		primary := &staticSource{templates: []ToolTemplate{tpl("p", "Number", "number")}}
		c, err := LoadCatalog(ctx, nil, primary, fallback)
		require.NoError(t, err)
		_, ok := c.ByID("p")
		assert.True(t, ok)
	})

	t.Run("falls back when primary fails", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		primary := &staticSource{err: errors.New("relation \"tool_templates\" does not exist")}

		c, err := LoadCatalog(ctx, zap.New(core), primary, fallback)
		require.NoError(t, err)
		_, ok := c.ByID("f")
		assert.True(t, ok)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("falls back when primary is empty", func(t *testing.T) {
		c, err := LoadCatalog(ctx, nil, &staticSource{}, fallback)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("both empty", func(t *testing.T) {
		_, err := LoadCatalog(ctx, nil, &staticSource{}, &staticSource{})
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	inner := &staticSource{templates: []ToolTemplate{tpl("a", "Number", "number")}}
	src := CachedSource{Inner: inner, Cache: cache.NewMemoryCache(cache.DefaultCacheConfig()), TTL: time.Minute}

	first, err := src.Load(ctx)
	require.NoError(t, err)
	second, err := src.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}
