package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MappingKey identifies a persisted field mapping: one per entity kind and
// source identity (a file name pattern, a remote list URL).
type MappingKey struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Source string `json:"source" yaml:"source"`
}

func (k MappingKey) String() string {
	return string(k.Kind) + ":" + k.Source
}

// StoredMapping is a field mapping together with the headers it was made
// for, so it can be re-offered when the same schema shows up again.
type StoredMapping struct {
	Key       MappingKey   `json:"key" yaml:"key"`
	Fields    FieldMapping `json:"fields" yaml:"fields"`
	Headers   []string     `json:"headers" yaml:"headers"`
	UpdatedAt time.Time    `json:"updatedAt" yaml:"updated_at"`
}

// MappingStore persists field mappings between sessions.
// Load returns ErrMappingNotFound when nothing is saved under key.
type MappingStore interface {
	Load(ctx context.Context, key MappingKey) (*StoredMapping, error)
	Save(ctx context.Context, m StoredMapping) error
	List(ctx context.Context, kind Kind) ([]StoredMapping, error)
}

// ValidateMapping rejects mappings that name fields def does not declare.
func ValidateMapping(def *EntityDefinition, m FieldMapping) error {
	for field := range m {
		if _, ok := def.Field(field); !ok {
			return fmt.Errorf("unknown field %q for %s", field, def.Kind)
		}
	}
	return nil
}

// MemoryMappingStore is an in-process MappingStore.
type MemoryMappingStore struct {
	mu       sync.RWMutex
	mappings map[MappingKey]StoredMapping
}

// NewMemoryMappingStore returns an empty store.
func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{mappings: make(map[MappingKey]StoredMapping)}
}

func (s *MemoryMappingStore) Load(_ context.Context, key MappingKey) (*StoredMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[key]
	if !ok {
		return nil, ErrMappingNotFound
	}
	m.Fields = m.Fields.Clone()
	m.Headers = append([]string(nil), m.Headers...)
	return &m, nil
}

func (s *MemoryMappingStore) Save(_ context.Context, m StoredMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Fields = m.Fields.Clone()
	m.Headers = append([]string(nil), m.Headers...)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = Now()
	}
	s.mappings[m.Key] = m
	return nil
}

func (s *MemoryMappingStore) List(_ context.Context, kind Kind) ([]StoredMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredMapping
	for k, m := range s.mappings {
		if k.Kind == kind {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Source < out[j].Key.Source
	})
	return out, nil
}
