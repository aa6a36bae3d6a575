package adapter

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"skumap/internal/model"
)

// SourceSchema maps one marketplace's native column names to canonical fields.
type SourceSchema struct {
	Key         string            `yaml:"key"`
	Columns     map[string]string `yaml:"columns"`
	Passthrough []string          `yaml:"passthrough,omitempty"`
}

// Built-in marketplace exports.
var (
	Amazon = SourceSchema{
		Key: "amazon",
		Columns: map[string]string{
			"Order ID":      model.FieldOrderNumber,
			"Purchase Date": model.FieldOrderDate,
			"SKU":           model.FieldSKU,
			"Quantity":      model.FieldQuantity,
			"Item Price":    model.FieldUnitPrice,
		},
	}
	Ebay = SourceSchema{
		Key: "ebay",
		Columns: map[string]string{
			"Transaction ID": model.FieldOrderNumber,
			"Sale Date":      model.FieldOrderDate,
			"Custom Label":   model.FieldSKU,
			"Quantity":       model.FieldQuantity,
			"Sale Price":     model.FieldUnitPrice,
		},
	}
	Shopify = SourceSchema{
		Key: "shopify",
		Columns: map[string]string{
			"Order Number": model.FieldOrderNumber,
			"Created At":   model.FieldOrderDate,
			"Variant SKU":  model.FieldSKU,
			"Quantity":     model.FieldQuantity,
			"Price":        model.FieldUnitPrice,
		},
	}
)

var canonical = func() map[string]struct{} {
	m := make(map[string]struct{}, len(model.CanonicalFields))
	for _, f := range model.CanonicalFields {
		m[f] = struct{}{}
	}
	return m
}()

// validate checks a schema before registration.
func (s SourceSchema) validate() error {
	if normalizeKey(s.Key) == "" {
		return fmt.Errorf("schema key is empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %q declares no columns", s.Key)
	}
	targets := map[string]string{}
	for native, field := range s.Columns {
		if _, ok := canonical[field]; !ok {
			return fmt.Errorf("schema %q: column %q maps to unknown field %q", s.Key, native, field)
		}
		if prev, dup := targets[field]; dup {
			return fmt.Errorf("schema %q: columns %q and %q both map to %q", s.Key, prev, native, field)
		}
		targets[field] = native
	}
	for _, p := range s.Passthrough {
		if _, ok := canonical[p]; ok || p == model.FieldSource {
			return fmt.Errorf("schema %q: passthrough %q shadows a canonical field", s.Key, p)
		}
	}
	return nil
}

// clone deep-copies the schema so registered values stay immutable.
func (s SourceSchema) clone() SourceSchema {
	cp := SourceSchema{Key: normalizeKey(s.Key), Columns: make(map[string]string, len(s.Columns))}
	for k, v := range s.Columns {
		cp.Columns[k] = v
	}
	cp.Passthrough = append([]string(nil), s.Passthrough...)
	return cp
}

// Registry looks up source schemas by marketplace key.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]SourceSchema
}

// NewRegistry returns a registry holding the given schemas.
func NewRegistry(schemas ...SourceSchema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]SourceSchema, len(schemas))}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the amazon, ebay and shopify schemas.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Amazon, Ebay, Shopify)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces the schema for s.Key.
func (r *Registry) Register(s SourceSchema) error {
	if err := s.validate(); err != nil {
		return err
	}
	cp := s.clone()
	r.mu.Lock()
	r.schemas[cp.Key] = cp
	r.mu.Unlock()
	return nil
}

// Lookup returns the schema for key, case-insensitively.
func (r *Registry) Lookup(key string) (SourceSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[normalizeKey(key)]
	if !ok {
		return SourceSchema{}, &UnsupportedSourceError{Key: key, Known: r.keysLocked()}
	}
	return s, nil
}

// Keys lists registered marketplace keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keysLocked()
}

func (r *Registry) keysLocked() []string {
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExtendPassthrough appends cols to the pass-through list of every
// registered schema. Nothing changes when any resulting schema is invalid.
func (r *Registry) ExtendPassthrough(cols ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]SourceSchema, len(r.schemas))
	for k, s := range r.schemas {
		cp := s.clone()
		for _, c := range cols {
			c = strings.TrimSpace(c)
			if c != "" && !slices.Contains(cp.Passthrough, c) {
				cp.Passthrough = append(cp.Passthrough, c)
			}
		}
		if err := cp.validate(); err != nil {
			return err
		}
		next[k] = cp
	}
	r.schemas = next
	return nil
}

// schemaFile is the YAML layout of a marketplace declaration file.
type schemaFile struct {
	Marketplaces []SourceSchema `yaml:"marketplaces"`
}

// ParseSchemas parses YAML marketplace declarations.
func ParseSchemas(data []byte) ([]SourceSchema, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	for _, s := range sf.Marketplaces {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}
	return sf.Marketplaces, nil
}

// LoadSchemaFile reads declarations from path and registers them.
func (r *Registry) LoadSchemaFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	schemas, err := ParseSchemas(data)
	if err != nil {
		return 0, err
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return 0, err
		}
	}
	return len(schemas), nil
}

func normalizeKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }
