package defaults

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"howett.net/plist"
)

// PlistStore persists one namespace as an XML property list at
// <dir>/<namespace>.plist. The file is created on first write.
type PlistStore struct {
	mu     sync.Mutex
	path   string
	values map[string]any
	closed bool
}

// OpenPlist loads (or prepares) the namespace file.
func OpenPlist(dir, namespace string) (*PlistStore, error) {
	if namespace == "" {
		return nil, ErrNoNamespace
	}
	s := &PlistStore{
		path:   filepath.Join(dir, namespace+".plist"),
		values: map[string]any{},
	}
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("defaults: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	decoder := plist.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&s.values); err != nil {
		return nil, fmt.Errorf("defaults: decode %s: %w", s.path, err)
	}
	return s, nil
}

// Path is the backing file.
func (s *PlistStore) Path() string { return s.path }

func (s *PlistStore) StringSlice(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return toStrings(s.values[key])
}

func (s *PlistStore) SetStringSlice(key string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.values[key]
	s.values[key] = append([]string{}, values...)
	if err := s.flushLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *PlistStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

func (s *PlistStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// flushLocked writes via a temp file and rename so readers never see a
// partial document.
func (s *PlistStore) flushLocked() error {
	data, err := plist.MarshalIndent(s.values, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("defaults: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("defaults: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("defaults: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("defaults: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("defaults: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("defaults: replace %s: %w", s.path, err)
	}
	return nil
}
