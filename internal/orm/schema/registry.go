package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all declared resource schemas, keyed by table name
type Registry struct {
	schemas map[string]*ResourceSchema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ResourceSchema),
	}
}

// Register registers a new resource schema
func (r *Registry) Register(schema *ResourceSchema) error {
	if schema == nil || schema.Name == "" {
		return fmt.Errorf("resource schema must have a name")
	}
	if schema.TableName == "" {
		schema.TableName = toSnakeCase(schema.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.TableName]; exists {
		return fmt.Errorf("resource %s is already registered", schema.TableName)
	}
	for name, rel := range schema.Relationships {
		if rel.TargetResource == "" {
			return fmt.Errorf("resource %s: relationship %s has no target", schema.Name, name)
		}
	}

	r.schemas[schema.TableName] = schema
	return nil
}

// Get retrieves a resource schema by table name, falling back to the
// resource name.
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schema, exists := r.schemas[name]; exists {
		return schema, true
	}
	for _, schema := range r.schemas {
		if schema.Name == name {
			return schema, true
		}
	}
	return nil, false
}

// List returns the sorted table names of all registered schemas
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
