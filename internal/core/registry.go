package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[Kind]*EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the kind is already registered or the definition is incomplete.
func Register(def *EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def == nil || def.Kind == "" {
		panic("entity definition without kind")
	}
	if def.Build == nil {
		panic(fmt.Sprintf("entity definition %s has no Build func", def.Kind))
	}
	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("kind already registered: %s", def.Kind))
	}
	if def.IDPrefix == "" {
		def.IDPrefix = string(def.Kind)
	}

	registry[def.Kind] = def
}

// Get returns the definition for kind.
// Returns false if not found.
func Get(kind Kind) (*EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[kind]
	return def, ok
}

// Definition returns the definition for kind or an UnknownKindError.
func Definition(kind Kind) (*EntityDefinition, error) {
	def, ok := Get(kind)
	if !ok {
		return nil, &UnknownKindError{Kind: string(kind)}
	}
	return def, nil
}

// All returns all registered definitions sorted by kind.
func All() []*EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})

	return result
}

// Kinds returns the registered kinds, sorted.
func Kinds() []Kind {
	defs := All()
	out := make([]Kind, len(defs))
	for i, d := range defs {
		out[i] = d.Kind
	}
	return out
}

// Clear removes all registered definitions.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Kind]*EntityDefinition)
}
