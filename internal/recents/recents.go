// Package recents tracks the most recently activated tunnel names.
//
// Every operation is fail-soft: storage problems are logged and the call
// degrades to a no-op (or an empty result). Nothing here can fail a tunnel
// operation.
package recents

import (
	"slices"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/defaults"
)

const (
	// Key is the defaults key holding the list, most recent first.
	Key = "recentlyActivatedTunnelNames"
	// MaxTunnels is the number of names kept.
	MaxTunnels = 10
)

// Tracker maintains the recency list in a defaults.Store. A nil store is
// allowed and behaves like an unavailable namespace.
type Tracker struct {
	store defaults.Store
}

func New(store defaults.Store) *Tracker {
	return &Tracker{store: store}
}

// Open builds a tracker over the configured namespace. If the namespace
// cannot be opened the tracker is still returned, without storage.
func Open(opts defaults.Options) *Tracker {
	store, err := defaults.Open(opts)
	if err != nil {
		core.Log.Warnf("Recents", "Recently used tunnels will not be tracked: %v", err)
		return New(nil)
	}
	return New(store)
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

func (t *Tracker) load() ([]string, bool) {
	if t.store == nil {
		return nil, false
	}
	names, err := t.store.StringSlice(Key)
	if err != nil {
		core.Log.Warnf("Recents", "Cannot read recent tunnels: %v", err)
		return nil, false
	}
	return names, true
}

func (t *Tracker) save(names []string) {
	if err := t.store.SetStringSlice(Key, names); err != nil {
		core.Log.Warnf("Recents", "Cannot save recent tunnels: %v", err)
	}
}

// HandleActivated moves name to the front, dropping the oldest entries
// beyond MaxTunnels.
func (t *Tracker) HandleActivated(name string) {
	names, ok := t.load()
	if !ok {
		return
	}
	if i := slices.Index(names, name); i >= 0 {
		names = slices.Delete(names, i, i+1)
	}
	names = slices.Insert(names, 0, name)
	if len(names) > MaxTunnels {
		names = names[:MaxTunnels]
	}
	t.save(names)
}

// HandleRemoved drops name if present.
func (t *Tracker) HandleRemoved(name string) {
	names, ok := t.load()
	if !ok {
		return
	}
	i := slices.Index(names, name)
	if i < 0 {
		return
	}
	t.save(slices.Delete(names, i, i+1))
}

// HandleRenamed replaces oldName with newName in place. If newName was
// already listed elsewhere, that stale entry is dropped.
func (t *Tracker) HandleRenamed(oldName, newName string) {
	if oldName == newName {
		return
	}
	names, ok := t.load()
	if !ok {
		return
	}
	i := slices.Index(names, oldName)
	if i < 0 {
		return
	}
	names[i] = newName
	for j := len(names) - 1; j >= 0; j-- {
		if j != i && names[j] == newName {
			names = slices.Delete(names, j, j+1)
		}
	}
	t.save(names)
}

// Cleanup removes every name not in keep. Storage is only written when
// something changed.
func (t *Tracker) Cleanup(keep []string) {
	names, ok := t.load()
	if !ok {
		return
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		keepSet[n] = struct{}{}
	}
	filtered := slices.DeleteFunc(slices.Clone(names), func(n string) bool {
		_, ok := keepSet[n]
		return !ok
	})
	if len(filtered) != len(names) {
		t.save(filtered)
	}
}

// RecentNames returns up to limit names, most recent first.
func (t *Tracker) RecentNames(limit int) []string {
	names, ok := t.load()
	if !ok || limit <= 0 {
		return nil
	}
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}
