// Package yamlfile keeps saved field mappings in a YAML file, for CLI
// sessions that run without a database.
package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/JonMunkholm/tabimport/internal/core"
)

type document struct {
	Mappings []core.StoredMapping `yaml:"mappings"`
}

// Store is a core.MappingStore backed by one YAML file. The file is read on
// every call so edits made by hand between runs are picked up.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store for path. The file is created on the first Save.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context, key core.MappingKey) (*core.StoredMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, m := range doc.Mappings {
		if m.Key == key {
			return &m, nil
		}
	}
	return nil, core.ErrMappingNotFound
}

func (s *Store) Save(_ context.Context, m core.StoredMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = core.Now()
	}

	replaced := false
	for i := range doc.Mappings {
		if doc.Mappings[i].Key == m.Key {
			doc.Mappings[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Mappings = append(doc.Mappings, m)
	}
	sort.Slice(doc.Mappings, func(i, j int) bool {
		return doc.Mappings[i].Key.String() < doc.Mappings[j].Key.String()
	})
	return s.write(doc)
}

func (s *Store) List(_ context.Context, kind core.Kind) ([]core.StoredMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []core.StoredMapping
	for _, m := range doc.Mappings {
		if m.Key.Kind == kind {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mappings %s: %w", s.path, err)
	}
	return &doc, nil
}

// write replaces the file atomically.
func (s *Store) write(doc *document) error {
	data, err := yaml.MarshalWithOptions(doc, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mappings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".mappings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write mappings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write mappings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move mappings: %w", err)
	}
	return nil
}
