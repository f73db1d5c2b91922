// Package service exposes the form operations: compiling schemas, storing
// and materializing submissions, and filtered entity queries.
package service

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/schema"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/transaction"
	"github.com/identi-digital/identi-modules-sub000/internal/web/cache"
)

var (
	// ErrInvalidInput is returned when a request lacks a schema, detail or entity
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a schema or submission does not exist
	ErrNotFound = store.ErrNotFound
)

// ColumnSourceFunc builds the catalog reader bound to a querier
type ColumnSourceFunc func(q crud.Querier) introspect.ColumnSource

// Option configures a Service
type Option func(*Service)

// WithCatalogFile replaces the bundled fallback catalog with a file
func WithCatalogFile(path string) Option {
	return func(s *Service) { s.fallback = tools.BundledSource{Path: path} }
}

// WithCatalogCache snapshots the stored tool catalog in c for ttl
func WithCatalogCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithColumnSource replaces the Postgres catalog reader
func WithColumnSource(fn ColumnSourceFunc) Option {
	return func(s *Service) { s.columns = fn }
}

// WithIDGenerator replaces uuid-based ids for schemas, instructions and rows
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock replaces time.Now
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithRetry sets how materialization retries deadlocks and serialization
// failures.
func WithRetry(config transaction.RetryConfig) Option {
	return func(s *Service) { s.retry = config }
}

// Service is the form facade. It holds no per-request state.
type Service struct {
	db       *sql.DB
	tx       *transaction.Manager
	registry *schema.Registry
	logger   *zap.Logger

	schemas     *store.SchemaStore
	submissions *store.SubmissionStore
	tools       *store.ToolStore

	fallback tools.Source
	cache    cache.Cache
	cacheTTL time.Duration
	columns  ColumnSourceFunc
	newID    func() string
	now      func() time.Time
	retry    transaction.RetryConfig
}

// New creates a service over db. registry holds declared entities and may
// be nil, in which case every entity is read from the database catalog.
func New(db *sql.DB, registry *schema.Registry, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		tx:       transaction.NewManager(db),
		registry: registry,
		logger:   logging.OrNop(logger),
		schemas:  store.NewSchemaStore(db),
		tools:    store.NewToolStore(db),
		fallback: tools.BundledSource{},
		columns: func(q crud.Querier) introspect.ColumnSource {
			return introspect.NewPGCatalog(q)
		},
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
		retry: transaction.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.submissions = store.NewSubmissionStore(db, crud.WithIDGenerator(s.newID), crud.WithClock(s.now))
	return s
}

// Tools returns the stored tool catalog
func (s *Service) Tools() *store.ToolStore {
	return s.tools
}

func (s *Service) introspector(q crud.Querier) *introspect.Introspector {
	return introspect.New(s.registry, s.columns(q), s.logger)
}

func (s *Service) catalogSource() tools.Source {
	if s.cache == nil {
		return s.tools
	}
	return tools.CachedSource{
		Inner:  s.tools,
		Cache:  s.cache,
		TTL:    s.cacheTTL,
		Logger: s.logger,
	}
}
