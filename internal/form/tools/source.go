package tools

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/web/cache"
)

// DefaultCacheKey is the snapshot key CachedSource uses when Key is empty
const DefaultCacheKey = "tool_catalog"

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Source loads catalog templates in order
type Source interface {
	Load(ctx context.Context) ([]ToolTemplate, error)
}

// LoadCatalog performs the single authoritative catalog load for a request.
// The fallback is consulted when primary is nil, fails, or is empty.
func LoadCatalog(ctx context.Context, logger *zap.Logger, primary, fallback Source) (*Catalog, error) {
	logger = logging.OrNop(logger)

	if primary != nil {
		templates, err := primary.Load(ctx)
		switch {
		case err != nil:
			logger.Warn("tool catalog unavailable, using fallback", zap.Error(err))
		case len(templates) == 0:
			logger.Warn("tool catalog empty, using fallback")
		default:
			return NewCatalog(templates), nil
		}
	}

	if fallback == nil {
		return nil, ErrEmptyCatalog
	}
	templates, err := fallback.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback catalog: %w", err)
	}
	if len(templates) == 0 {
		return nil, ErrEmptyCatalog
	}
	return NewCatalog(templates), nil
}

// BundledSource reads the static catalog shipped with the binary, or the
// file at Path when set. Files ending in .json are parsed as JSON, anything
// else as YAML.
type BundledSource struct {
	Path string
}

// Load implements Source
func (b BundledSource) Load(ctx context.Context) ([]ToolTemplate, error) {
	data := defaultCatalog
	isJSON := false
	if b.Path != "" {
		raw, err := os.ReadFile(b.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		data = raw
		isJSON = strings.EqualFold(filepath.Ext(b.Path), ".json")
	}

	if isJSON {
		var templates []ToolTemplate
		if err := json.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
		return templates, nil
	}
	return parseYAMLCatalog(data)
}

type yamlCatalog struct {
	Templates []interface{} `yaml:"templates"`
}

// parseYAMLCatalog decodes YAML generically and re-encodes it as JSON so the
// template JSON tags are the single source of field names.
func parseYAMLCatalog(data []byte) ([]ToolTemplate, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	encoded, err := json.Marshal(doc.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to convert catalog: %w", err)
	}
	var templates []ToolTemplate
	if err := json.Unmarshal(encoded, &templates); err != nil {
		return nil, fmt.Errorf("failed to convert catalog: %w", err)
	}
	return templates, nil
}

// CachedSource keeps a short-lived snapshot of another source. Cache
// failures fall through to the wrapped source.
type CachedSource struct {
	Inner  Source
	Cache  cache.Cache
	Key    string
	TTL    time.Duration
	Logger *zap.Logger
}

// Load implements Source
func (c CachedSource) Load(ctx context.Context) ([]ToolTemplate, error) {
	logger := logging.OrNop(c.Logger)
	key := c.Key
	if key == "" {
		key = DefaultCacheKey
	}

	if data, err := c.Cache.Get(ctx, key); err == nil {
		var templates []ToolTemplate
		if err := json.Unmarshal(data, &templates); err == nil && len(templates) > 0 {
			return templates, nil
		}
		logger.Warn("discarding unreadable catalog snapshot", zap.String("key", key))
	} else if !cache.IsCacheMiss(err) {
		logger.Warn("catalog cache read failed", zap.Error(err))
	}

	templates, err := c.Inner.Load(ctx)
	if err != nil || len(templates) == 0 {
		return templates, err
	}

	if data, err := json.Marshal(templates); err == nil {
		if err := c.Cache.Set(ctx, key, data, c.TTL); err != nil {
			logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}
	return templates, nil
}
