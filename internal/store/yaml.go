package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"wg-tunnels/internal/core"
)

// CurrentYAMLVersion is the schema version written by YAMLStore.
const CurrentYAMLVersion = 2

var yamlMigrations = []core.Migration{
	{FromVersion: 0, Migrate: migrateAddSortIndex},
	{FromVersion: 1, Migrate: migrateOnDemandFlag},
}

type yamlDocument struct {
	Version int      `yaml:"version"`
	Tunnels []Record `yaml:"tunnels"`
}

// YAMLStore keeps every tunnel in one YAML document. Each mutation rewrites
// the file through a temp file and rename.
type YAMLStore struct {
	mu   sync.Mutex
	path string
	recs records
}

// OpenYAML loads path, migrating older documents in place. A missing file
// is an empty store.
func OpenYAML(path string) (*YAMLStore, error) {
	s := &YAMLStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("[Store] failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("[Store] failed to parse %s: %w", path, err)
	}
	if raw == nil {
		return s, nil
	}
	version, migrated, err := core.RunMigrations(raw, yamlMigrations)
	if err != nil {
		return nil, fmt.Errorf("[Store] %s: %w", path, err)
	}
	if version > CurrentYAMLVersion {
		return nil, fmt.Errorf("[Store] %s has version %d, newer than supported %d", path, version, CurrentYAMLVersion)
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("[Store] failed to re-encode %s: %w", path, err)
	}
	var doc yamlDocument
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("[Store] failed to parse %s: %w", path, err)
	}
	s.recs = records(doc.Tunnels).sorted()

	if migrated {
		core.Log.Infof("Store", "Tunnel store migrated to v%d, saving", version)
		if err := s.write(s.recs); err != nil {
			core.Log.Warnf("Store", "Failed to save migrated store: %v", err)
		}
	}
	return s, nil
}

func (s *YAMLStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.sorted(), nil
}

func (s *YAMLStore) Add(ctx context.Context, rec Record) error {
	return s.mutate(func(rs records) (records, error) { return rs.add(rec) })
}

func (s *YAMLStore) Update(ctx context.Context, oldName string, rec Record) error {
	return s.mutate(func(rs records) (records, error) { return rs.update(oldName, rec) })
}

func (s *YAMLStore) Remove(ctx context.Context, name string) error {
	return s.mutate(func(rs records) (records, error) { return rs.remove(name) })
}

func (s *YAMLStore) Reorder(ctx context.Context, names []string) error {
	return s.mutate(func(rs records) (records, error) { return rs.reorder(names) })
}

func (s *YAMLStore) Close() error { return nil }

func (s *YAMLStore) mutate(fn func(records) (records, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.recs)
	if err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.recs = next
	return nil
}

func (s *YAMLStore) write(recs records) error {
	doc := yamlDocument{Version: CurrentYAMLVersion, Tunnels: recs}
	if doc.Tunnels == nil {
		doc.Tunnels = records{}
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("[Store] failed to marshal tunnels: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("[Store] failed to create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("[Store] failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("[Store] failed to replace %s: %w", s.path, err)
	}
	return nil
}

// migrateAddSortIndex numbers v0 tunnels in file order.
func migrateAddSortIndex(raw map[string]any) error {
	list, _ := raw["tunnels"].([]any)
	for i, item := range list {
		t, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("tunnel %d is not a mapping", i)
		}
		if _, exists := t["sort_index"]; !exists {
			t["sort_index"] = i
		}
	}
	return nil
}

// migrateOnDemandFlag renames the v1 boolean on_demand to on_demand_enabled.
func migrateOnDemandFlag(raw map[string]any) error {
	list, _ := raw["tunnels"].([]any)
	for _, item := range list {
		t, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v, exists := t["on_demand"]
		if !exists {
			continue
		}
		if b, ok := v.(bool); ok {
			if _, set := t["on_demand_enabled"]; !set {
				t["on_demand_enabled"] = b
			}
		}
		delete(t, "on_demand")
	}
	return nil
}
