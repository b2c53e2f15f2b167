// Package catalog holds the process-local projections of the document
// store: key models, keys, levels and node-group filters. Each projection
// has a single writer (its change-stream synchroniser) and many readers;
// readers obtain snapshot copies behind an RWMutex.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opsforge/hiera-registry/internal/schema"
)

// Key model id prefixes. Static models are built in; dynamic models are
// user-defined JSON-Schema validators.
const (
	StaticPrefix  = "static:"
	DynamicPrefix = "dynamic:"
)

// Built-in model ids.
const (
	ModelSimpleString = StaticPrefix + "SimpleString"
	ModelSimpleInt    = StaticPrefix + "SimpleInt"
	ModelSimpleFloat  = StaticPrefix + "SimpleFloat"
	ModelSimpleBool   = StaticPrefix + "SimpleBool"
)

var (
	ErrModelNotFound  = errors.New("key model not found")
	ErrInvalidModelID = errors.New("invalid key model id")
	ErrModelProtected = errors.New("built-in key model cannot be removed")
)

// ValidateDynamicID checks that an id is a well-formed dynamic model id.
func ValidateDynamicID(id string) error {
	if !strings.HasPrefix(id, DynamicPrefix) || len(id) == len(DynamicPrefix) {
		return fmt.Errorf("%w: %q must carry the %q prefix", ErrInvalidModelID, id, DynamicPrefix)
	}
	return nil
}

// Model is a registered key model: an id bound to a compiled validator.
type Model struct {
	ID          string
	Description string
	Validator   schema.Validator
	Builtin     bool
}

// Models is the key model registry.
type Models struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewModels creates a registry with the built-in static models registered.
func NewModels() *Models {
	m := &Models{models: make(map[string]Model)}
	builtins := []Model{
		{ID: ModelSimpleString, Description: "simple string", Validator: schema.StringValidator(), Builtin: true},
		{ID: ModelSimpleInt, Description: "simple int", Validator: schema.IntValidator(), Builtin: true},
		{ID: ModelSimpleFloat, Description: "simple float", Validator: schema.FloatValidator(), Builtin: true},
		{ID: ModelSimpleBool, Description: "simple bool", Validator: schema.BoolValidator(), Builtin: true},
	}
	for _, b := range builtins {
		m.models[b.ID] = b
	}
	return m
}

// Add registers or replaces a dynamic model. Ids must carry the dynamic
// prefix; built-in ids cannot be shadowed.
func (m *Models) Add(id, description string, v schema.Validator) error {
	if !strings.HasPrefix(id, DynamicPrefix) {
		return ErrInvalidModelID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[id] = Model{ID: id, Description: description, Validator: v}
	return nil
}

// Remove drops a dynamic model from the registry.
func (m *Models) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.models[id]
	if !ok {
		return ErrModelNotFound
	}
	if existing.Builtin {
		return ErrModelProtected
	}
	delete(m.models, id)
	return nil
}

// Get returns the model for an id.
func (m *Models) Get(id string) (Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[id]
	if !ok {
		return Model{}, ErrModelNotFound
	}
	return model, nil
}

// Has reports whether the id resolves.
func (m *Models) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[id]
	return ok
}

// List returns the models whose id starts with prefix (all when empty),
// sorted by id.
func (m *Models) List(prefix string) []Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Model
	for id, model := range m.models {
		if prefix == "" || strings.HasPrefix(id, prefix) {
			out = append(out, model)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
