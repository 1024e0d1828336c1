package manager

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/wgconf"
)

// NewTunnel describes a tunnel to add.
type NewTunnel struct {
	Name     string
	Config   *wgconf.Config
	OnDemand core.OnDemandRules
}

// Add persists a new tunnel and appends it to the list. On-demand is
// enabled when the rules select any interface.
func (m *Manager) Add(ctx context.Context, name string, cfg *wgconf.Config, onDemand core.OnDemandRules) (Tunnel, error) {
	if name == "" {
		return Tunnel{}, ErrTunnelNameEmpty
	}
	if cfg == nil {
		return Tunnel{}, ErrConfigMissing
	}

	m.mutMu.Lock()
	defer m.mutMu.Unlock()

	e := &entry{
		name:            name,
		config:          cfg,
		onDemand:        onDemand,
		onDemandEnabled: onDemand.Option != core.OnDemandOff,
	}
	var exists bool
	if err := m.call(func() { exists = m.reg.find(name) != nil }); err != nil {
		return Tunnel{}, err
	}
	if exists {
		return Tunnel{}, ErrTunnelAlreadyExists
	}

	if err := m.store.Add(ctx, e.record()); err != nil {
		if errors.Is(err, store.ErrExists) {
			return Tunnel{}, ErrTunnelAlreadyExists
		}
		return Tunnel{}, err
	}

	var t Tunnel
	err := m.call(func() {
		i := m.reg.append(e)
		t = e.snapshot()
		core.Log.Infof("Manager", "Added tunnel %q at %d", name, i)
		m.emit(core.Event{Type: core.EventTunnelAdded, Payload: core.ListPayload{Index: i, Tunnel: name}})
	})
	return t, err
}

// AddMultiple adds each tunnel independently. It returns how many were
// added and one *AddError per failure.
func (m *Manager) AddMultiple(ctx context.Context, tunnels []NewTunnel) (int, error) {
	var (
		added int
		errs  error
	)
	for _, nt := range tunnels {
		if _, err := m.Add(ctx, nt.Name, nt.Config, nt.OnDemand); err != nil {
			errs = multierr.Append(errs, &AddError{Name: nt.Name, Err: err})
			continue
		}
		added++
	}
	return added, errs
}

// Modify renames and/or reconfigures a tunnel in place. A nil cfg keeps the
// current configuration. An active tunnel whose configuration changed is
// restarted.
func (m *Manager) Modify(ctx context.Context, name, newName string, cfg *wgconf.Config, onDemand core.OnDemandRules) error {
	if newName == "" {
		return ErrTunnelNameEmpty
	}

	m.mutMu.Lock()
	defer m.mutMu.Unlock()

	var (
		rec     store.Record
		lookErr error
	)
	if err := m.call(func() {
		e := m.reg.find(name)
		switch {
		case e == nil || e.removing:
			lookErr = ErrTunnelNotFound
			return
		case newName != name && m.reg.find(newName) != nil:
			lookErr = ErrTunnelAlreadyExists
			return
		}
		if cfg == nil {
			cfg = e.config
		}
		next := *e
		next.name, next.config = newName, cfg
		next.onDemand = onDemand
		next.onDemandEnabled = onDemand.Option != core.OnDemandOff
		rec = next.record()
	}); err != nil {
		return err
	}
	if lookErr != nil {
		return lookErr
	}

	if err := m.store.Update(ctx, name, rec); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ErrTunnelAlreadyExists
		}
		return err
	}

	return m.call(func() {
		i := m.reg.index(name)
		if i < 0 {
			return
		}
		e := m.reg.entries[i]
		configChanged := !e.config.Equal(cfg)
		enabledChanged := e.onDemandEnabled != rec.OnDemandEnabled

		e.name = newName
		e.config = cfg
		e.onDemand = rec.OnDemand
		e.onDemandEnabled = rec.OnDemandEnabled
		if name != newName {
			core.Log.Infof("Manager", "Renamed tunnel %q to %q", name, newName)
			m.recents.HandleRenamed(name, newName)
		}
		m.emit(core.Event{Type: core.EventTunnelModified, Payload: core.ListPayload{Index: i, Tunnel: newName}})
		if enabledChanged {
			m.emit(core.Event{Type: core.EventOnDemandChanged, Payload: core.OnDemandPayload{Tunnel: newName, Enabled: e.onDemandEnabled}})
			if !e.onDemandEnabled && e.status.IsOperational() {
				core.Log.Infof("Manager", "On-demand disabled for %q, deactivating", newName)
				m.requestStop(e)
				return
			}
		}
		// A renamed tunnel is brought back up under its new name, so the
		// running interface always matches the persisted name. Tunnels in
		// transition pick the rename up in activationDone.
		if (configChanged || name != newName) && (e.status == core.StatusActive || e.status == core.StatusReasserting) {
			core.Log.Infof("Manager", "Active tunnel %q changed, restarting", newName)
			m.restart(e)
		}
	})
}

// Move reorders the list, persisting the new order.
func (m *Manager) Move(ctx context.Context, from, to int) error {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()

	var (
		order    []string
		rangeErr error
	)
	if err := m.call(func() {
		n := len(m.reg.entries)
		if from < 0 || from >= n || to < 0 || to >= n {
			rangeErr = ErrIndexOutOfRange
			return
		}
		order = m.reg.movedOrder(from, to)
	}); err != nil {
		return err
	}
	if rangeErr != nil {
		return rangeErr
	}
	if from == to {
		return nil
	}

	if err := m.store.Reorder(ctx, order); err != nil {
		return err
	}

	return m.call(func() {
		name := m.reg.entries[from].name
		m.reg.move(from, to)
		m.emit(core.Event{Type: core.EventTunnelMoved, Payload: core.MovePayload{From: from, To: to, Tunnel: name}})
	})
}

// SetOnDemandEnabled toggles automatic activation. Disabling it on a tunnel
// that is up (or coming up) also deactivates the tunnel.
func (m *Manager) SetOnDemandEnabled(ctx context.Context, name string, enabled bool) error {
	return m.updateOnDemand(ctx, name, func(e *entry) {
		e.onDemandEnabled = enabled
	})
}

// SetOnDemandRules replaces the on-demand rules. Rules with an interface
// option enable on-demand; OnDemandOff disables it.
func (m *Manager) SetOnDemandRules(ctx context.Context, name string, rules core.OnDemandRules) error {
	return m.updateOnDemand(ctx, name, func(e *entry) {
		e.onDemand = rules
		e.onDemandEnabled = rules.Option != core.OnDemandOff
	})
}

func (m *Manager) updateOnDemand(ctx context.Context, name string, change func(*entry)) error {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()

	var (
		rec     store.Record
		lookErr error
	)
	if err := m.call(func() {
		e := m.reg.find(name)
		if e == nil || e.removing {
			lookErr = ErrTunnelNotFound
			return
		}
		next := *e
		change(&next)
		rec = next.record()
	}); err != nil {
		return err
	}
	if lookErr != nil {
		return lookErr
	}

	if err := m.store.Update(ctx, name, rec); err != nil {
		return err
	}

	return m.call(func() {
		e := m.reg.find(name)
		if e == nil {
			return
		}
		was := e.onDemandEnabled
		change(e)
		m.emit(core.Event{Type: core.EventOnDemandChanged, Payload: core.OnDemandPayload{Tunnel: name, Enabled: e.onDemandEnabled}})
		if was && !e.onDemandEnabled && e.status.IsOperational() {
			core.Log.Infof("Manager", "On-demand disabled for %q, deactivating", name)
			m.requestStop(e)
		}
	})
}

// Remove stops the tunnel if needed, deletes its record and drops it from
// the list and from the recents. A failed stop is logged and removal
// continues.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()
	return m.remove(ctx, name)
}

// RemoveMultiple removes each tunnel independently. Successful removals
// stand; the error aggregates one *RemoveError per failure.
func (m *Manager) RemoveMultiple(ctx context.Context, names []string) error {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()

	var errs error
	for _, name := range names {
		if err := m.remove(ctx, name); err != nil {
			core.Log.Warnf("Manager", "Removing %q failed: %v", name, err)
			errs = multierr.Append(errs, &RemoveError{Name: name, Err: err})
		}
	}
	return errs
}

func (m *Manager) remove(ctx context.Context, name string) error {
	var (
		settled chan struct{}
		lookErr error
	)
	if err := m.call(func() {
		e := m.reg.find(name)
		if e == nil || e.removing {
			lookErr = ErrTunnelNotFound
			return
		}
		e.removing = true
		if e.status != core.StatusInactive {
			settled = e.waitSettled()
			m.requestStop(e)
		}
	}); err != nil {
		return err
	}
	if lookErr != nil {
		return lookErr
	}

	abort := func() {
		_ = m.call(func() {
			if e := m.reg.find(name); e != nil {
				e.removing = false
			}
		})
	}

	if settled != nil {
		select {
		case <-settled:
		case <-m.done:
			return ErrClosed
		case <-ctx.Done():
			abort()
			return ctx.Err()
		}
	}

	if err := m.store.Remove(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		abort()
		return err
	}

	return m.call(func() {
		i := m.reg.index(name)
		if i < 0 {
			return
		}
		if e := m.reg.entries[i]; e.status != core.StatusInactive {
			core.Log.Warnf("Manager", "Tunnel %q removed while %s", name, e.status)
		}
		m.reg.remove(i)
		m.recents.HandleRemoved(name)
		core.Log.Infof("Manager", "Removed tunnel %q", name)
		m.emit(core.Event{Type: core.EventTunnelRemoved, Payload: core.ListPayload{Index: i, Tunnel: name}})
	})
}
