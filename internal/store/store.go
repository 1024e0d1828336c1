// Package store persists tunnel configurations keyed by name, preserving the
// user's ordering.
package store

import (
	"context"
	"errors"
	"fmt"

	"wg-tunnels/internal/core"
)

var (
	ErrNotFound = errors.New("tunnel not found in store")
	ErrExists   = errors.New("tunnel already exists in store")
)

// Record is one persisted tunnel. ConfigText is wg-quick text.
type Record struct {
	Name            string             `yaml:"name"`
	SortIndex       int                `yaml:"sort_index"`
	ConfigText      string             `yaml:"config"`
	OnDemand        core.OnDemandRules `yaml:"on_demand_rules,omitempty"`
	OnDemandEnabled bool               `yaml:"on_demand_enabled,omitempty"`
}

// Store is implemented by every driver. List returns records ordered by
// SortIndex. Update may change the name (rename); SortIndex is kept.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Add(ctx context.Context, rec Record) error
	Update(ctx context.Context, oldName string, rec Record) error
	Remove(ctx context.Context, name string) error
	Reorder(ctx context.Context, names []string) error
	Close() error
}

// Open returns the driver selected in cfg.
func Open(cfg core.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "yaml":
		return OpenYAML(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("[Store] unknown driver %q", cfg.Driver)
	}
}

// checkReorder verifies names is a permutation of existing.
func checkReorder(existing []string, names []string) error {
	if len(existing) != len(names) {
		return fmt.Errorf("[Store] reorder: got %d names, have %d tunnels", len(names), len(existing))
	}
	have := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		have[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := have[n]; !ok {
			return fmt.Errorf("[Store] reorder %q: %w", n, ErrNotFound)
		}
		delete(have, n)
	}
	return nil
}
