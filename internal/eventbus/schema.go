package eventbus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry maps event types to compiled JSON Schemas. Types without a
// registered schema are accepted as-is.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schema (Draft 2020-12) for eventType, replacing any
// previous one.
func (r *SchemaRegistry) Register(eventType, schema string) error {
	if !ValidType(eventType) {
		return fmt.Errorf("schema registry: invalid event type %q", eventType)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://bizsuite.schemas.local/events/%s.schema.json", eventType)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema load failed for %s: %w", eventType, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("schema compile failed for %s: %w", eventType, err)
	}

	r.mu.Lock()
	r.schemas[eventType] = compiled
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for static schemas; it panics on error.
func (r *SchemaRegistry) MustRegister(eventType, schema string) {
	if err := r.Register(eventType, schema); err != nil {
		panic(err)
	}
}

// Has reports whether a schema is registered for eventType.
func (r *SchemaRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[eventType]
	return ok
}

// Validate checks payload against the schema registered for eventType.
// payload must hold the types encoding/json produces.
func (r *SchemaRegistry) Validate(eventType string, payload map[string]any) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	s, ok := r.schemas[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return s.Validate(payload)
}
