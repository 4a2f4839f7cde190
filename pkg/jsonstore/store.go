// Package jsonstore keeps a small JSON settings document on disk.
//
// The document is loaded lazily on first access. Hand-edited files may carry
// comments and trailing commas; they are accepted on load and dropped on the
// next write. Every Update is persisted atomically (temp file + rename).
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
)

// Store provides guarded access to a JSON-backed value of type T.
type store[T any] struct {
	path   string
	data   *T
	loaded bool
	mu     sync.Mutex
	opts   options[T]
}

// Store is a pointer to the internal store implementation.
type Store[T any] = *store[T]

type options[T any] struct {
	fileMode     os.FileMode
	defaultValue func() *T
}

// Option is a functional option for configuring a Store.
type Option[T any] func(*options[T])

// WithFileMode sets the permissions used when writing the file. Default 0644.
func WithFileMode[T any](mode os.FileMode) Option[T] {
	return func(o *options[T]) {
		o.fileMode = mode
	}
}

// WithDefault provides the value used when the file does not exist yet.
func WithDefault[T any](fn func() *T) Option[T] {
	return func(o *options[T]) {
		o.defaultValue = fn
	}
}

// New creates a Store for the file at path. Nothing is read until first use.
func New[T any](path string, opts ...Option[T]) Store[T] {
	s := &store[T]{
		path: path,
		opts: options[T]{fileMode: 0644},
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Path returns the backing file path.
func (s *store[T]) Path() string { return s.path }

// Get returns a copy of the current value, loading it if needed.
func (s *store[T]) Get() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		var zero T
		return zero, err
	}
	return *s.data, nil
}

// Update applies fn to the value and writes the result to disk.
// If fn returns an error nothing is written and the in-memory value is
// reloaded from disk on next access.
func (s *store[T]) Update(fn func(*T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := fn(s.data); err != nil {
		s.loaded = false
		s.data = nil
		return err
	}
	return s.saveLocked()
}

// Reload discards the cached value.
func (s *store[T]) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.data = nil
	return s.ensureLoadedLocked()
}

func (s *store[T]) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		if s.opts.defaultValue != nil {
			s.data = s.opts.defaultValue()
		} else {
			s.data = new(T)
		}
		s.loaded = true
		return nil
	}

	var result T
	if err := json.Unmarshal(jsonc.ToJSON(raw), &result); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	s.data = &result
	s.loaded = true
	return nil
}

// saveLocked writes data to the file atomically.
// Must be called with the lock held.
func (s *store[T]) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, s.opts.fileMode); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
