package posts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaRegistry holds JSON schemas for post content, keyed by type base.
// Types without a registered schema accept any content.
type SchemaRegistry struct {
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// schemaFile is the on-disk format read by LoadSchemaDir
type schemaFile struct {
	Schema   json.RawMessage `json:"schema"`
	TypeBase string          `json:"type_base"`
}

// NewSchemaRegistry creates an empty registry
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles and stores the content schema for a type base
func (r *SchemaRegistry) Register(typeBase string, schemaJSON []byte) error {
	if typeBase == "" {
		return fmt.Errorf("type base is required")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", typeBase, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[typeBase] = schema
	return nil
}

// LoadSchemaDir registers every *.json file in dir. Each file holds
// {"type_base": "...", "schema": {...}}.
func LoadSchemaDir(dir string) (*SchemaRegistry, error) {
	registry := NewSchemaRegistry()
	if dir == "" {
		return registry, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list schema dir: %w", err)
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		var f schemaFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
		}
		if err := registry.Register(f.TypeBase, f.Schema); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return registry, nil
}

// Len returns the number of registered schemas
func (r *SchemaRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Validate checks content against the schema registered for the type base
func (r *SchemaRegistry) Validate(t TypeDescriptor, content map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[t.Base]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if content == nil {
		content = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(content))
	if err != nil {
		return fmt.Errorf("failed to validate content: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &SchemaViolation{TypeBase: t.Base, Problems: problems}
}
