package defaults

import "sync"

// MemoryStore is a process-local Store. FailWith makes every call return
// the given error, for exercising fail-soft callers.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]string
	err    error
	closed bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{values: map[string][]string{}}
}

// FailWith sets (or with nil, clears) an injected error.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) check() error {
	if m.closed {
		return ErrClosed
	}
	return m.err
}

func (m *MemoryStore) StringSlice(key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]string{}, v...), nil
}

func (m *MemoryStore) SetStringSlice(key string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.values[key] = append([]string{}, values...)
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
