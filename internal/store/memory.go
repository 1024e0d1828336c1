package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// records is an ordered record list shared by the file-backed and memory
// drivers. Mutators return a new slice and leave the receiver untouched so a
// failed persist can be discarded.
type records []Record

func (rs records) index(name string) int {
	return slices.IndexFunc(rs, func(r Record) bool { return r.Name == name })
}

func (rs records) add(rec Record) (records, error) {
	if rs.index(rec.Name) >= 0 {
		return nil, fmt.Errorf("[Store] add %q: %w", rec.Name, ErrExists)
	}
	rec.SortIndex = 0
	if n := len(rs); n > 0 {
		rec.SortIndex = rs[n-1].SortIndex + 1
	}
	return append(slices.Clone(rs), rec), nil
}

func (rs records) update(oldName string, rec Record) (records, error) {
	i := rs.index(oldName)
	if i < 0 {
		return nil, fmt.Errorf("[Store] update %q: %w", oldName, ErrNotFound)
	}
	if rec.Name != oldName && rs.index(rec.Name) >= 0 {
		return nil, fmt.Errorf("[Store] rename %q to %q: %w", oldName, rec.Name, ErrExists)
	}
	out := slices.Clone(rs)
	rec.SortIndex = out[i].SortIndex
	out[i] = rec
	return out, nil
}

func (rs records) remove(name string) (records, error) {
	i := rs.index(name)
	if i < 0 {
		return nil, fmt.Errorf("[Store] remove %q: %w", name, ErrNotFound)
	}
	return slices.Delete(slices.Clone(rs), i, i+1), nil
}

func (rs records) reorder(names []string) (records, error) {
	existing := make([]string, len(rs))
	for i, r := range rs {
		existing[i] = r.Name
	}
	if err := checkReorder(existing, names); err != nil {
		return nil, err
	}
	out := make(records, len(names))
	for i, n := range names {
		out[i] = rs[rs.index(n)]
		out[i].SortIndex = i
	}
	return out, nil
}

func (rs records) sorted() records {
	out := slices.Clone(rs)
	slices.SortStableFunc(out, func(a, b Record) int { return a.SortIndex - b.SortIndex })
	return out
}

// MemoryStore keeps records in process memory. FailWith injects an error
// into every subsequent call.
type MemoryStore struct {
	mu   sync.Mutex
	recs records
	err  error
}

func NewMemory(initial ...Record) *MemoryStore {
	m := &MemoryStore{}
	for _, r := range initial {
		m.recs, _ = m.recs.add(r)
	}
	return m
}

func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) List(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.recs.sorted(), nil
}

func (m *MemoryStore) Add(ctx context.Context, rec Record) error {
	return m.mutate(func(rs records) (records, error) { return rs.add(rec) })
}

func (m *MemoryStore) Update(ctx context.Context, oldName string, rec Record) error {
	return m.mutate(func(rs records) (records, error) { return rs.update(oldName, rec) })
}

func (m *MemoryStore) Remove(ctx context.Context, name string) error {
	return m.mutate(func(rs records) (records, error) { return rs.remove(name) })
}

func (m *MemoryStore) Reorder(ctx context.Context, names []string) error {
	return m.mutate(func(rs records) (records, error) { return rs.reorder(names) })
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) mutate(fn func(records) (records, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	next, err := fn(m.recs)
	if err != nil {
		return err
	}
	m.recs = next
	return nil
}
