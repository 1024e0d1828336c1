// Package manager owns the configured tunnels: their persisted records,
// their runtime status and their activation against the VPN backend.
//
// All tunnel state is confined to a single run-loop goroutine. Public
// methods post closures to that loop; store and backend calls run off it and
// post their results back. Activation outcomes are reported only through
// events (see Subscribe).
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/recents"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/vpn"
	"wg-tunnels/internal/wgconf"
)

const (
	defaultOpTimeout = 30 * time.Second
	opQueueSize      = 64
)

// Options wires a Manager to its collaborators. Store and Backend are
// required; the manager does not close them.
type Options struct {
	Store   store.Store
	Backend vpn.Backend
	// Recents may be nil, which disables recency tracking.
	Recents *recents.Tracker
	// Bus may be shared with other components. One is created if nil.
	Bus *core.EventBus
	// OpTimeout bounds each backend Start/Stop call.
	OpTimeout time.Duration
}

// Manager is the tunnel registry and lifecycle coordinator.
type Manager struct {
	store     store.Store
	backend   vpn.Backend
	recents   *recents.Tracker
	bus       *core.EventBus
	opTimeout time.Duration

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	bg        sync.WaitGroup

	// mutMu serialises list mutations across their persist phase.
	mutMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	reg *registry
}

// Create loads every persisted tunnel and starts the manager. A store that
// cannot be listed yields a *LoadError and no manager.
func Create(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Backend == nil {
		return nil, errors.New("manager: store and backend are required")
	}
	if opts.Recents == nil {
		opts.Recents = recents.New(nil)
	}
	if opts.Bus == nil {
		opts.Bus = core.NewEventBus()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	recs, err := opts.Store.List(ctx)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	m := &Manager{
		store:     opts.Store,
		backend:   opts.Backend,
		recents:   opts.Recents,
		bus:       opts.Bus,
		opTimeout: opts.OpTimeout,
		ops:       make(chan func(), opQueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		subs:      make(map[*Subscription]struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.reg = &registry{emit: m.emit}

	for _, rec := range recs {
		cfg, err := wgconf.ParseString(rec.ConfigText)
		if err != nil {
			core.Log.Errorf("Manager", "Skipping tunnel %q: unreadable configuration: %v", rec.Name, err)
			continue
		}
		m.reg.append(&entry{
			name:            rec.Name,
			config:          cfg,
			onDemand:        rec.OnDemand,
			onDemandEnabled: rec.OnDemandEnabled,
		})
	}
	m.recents.Cleanup(m.reg.names())

	for _, e := range m.reg.entries {
		st, err := m.backend.Status(ctx, e.name)
		if err != nil {
			core.Log.Debugf("Manager", "Status of %q unavailable: %v", e.name, err)
			continue
		}
		if st == vpn.Down {
			continue
		}
		if other := m.reg.operational(nil); other != nil {
			core.Log.Warnf("Manager", "Tunnel %q is up but %q already is; reporting it inactive", e.name, other.name)
			continue
		}
		e.status = st.TunnelStatus()
		e.backendName = e.name
	}

	core.Log.Infof("Manager", "Loaded %d tunnels", len(m.reg.entries))
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case op := <-m.ops:
			op()
		}
	}
}

// post queues op on the run loop. It must not be called from the loop.
func (m *Manager) post(op func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ops <- op:
		return true
	case <-m.done:
		return false
	}
}

// call runs op on the loop and waits for it.
func (m *Manager) call(op func()) error {
	finished := make(chan struct{})
	if !m.post(func() {
		defer close(finished)
		op()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// background runs fn off the loop with a per-operation deadline.
func (m *Manager) background(fn func(ctx context.Context)) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.opTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) emit(e core.Event) {
	m.bus.Publish(e)
}

// Subscribe registers an observer for the given event types (all types if
// none are given).
func (m *Manager) Subscribe(types ...core.EventType) *Subscription {
	s := newSubscription(m.bus, types, m.forget)
	m.subsMu.Lock()
	m.subs[s] = struct{}{}
	m.subsMu.Unlock()
	return s
}

func (m *Manager) forget(s *Subscription) {
	m.subsMu.Lock()
	delete(m.subs, s)
	m.subsMu.Unlock()
}

// Close stops the run loop, abandons in-flight backend calls and closes all
// subscriptions. Running tunnels are left up; the next Create picks them up.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		close(m.done)
		<-m.stopped
		m.bg.Wait()

		m.subsMu.Lock()
		subs := make([]*Subscription, 0, len(m.subs))
		for s := range m.subs {
			subs = append(subs, s)
		}
		m.subsMu.Unlock()
		for _, s := range subs {
			s.Close()
		}
	})
	return nil
}

// NumberOfTunnels returns the number of tunnels.
func (m *Manager) NumberOfTunnels() int {
	var n int
	_ = m.call(func() { n = len(m.reg.entries) })
	return n
}

// TunnelAt returns the tunnel at index i. Like slice indexing it panics if i
// is out of range.
func (m *Manager) TunnelAt(i int) Tunnel {
	t, err := m.TunnelAtIndex(i)
	if err != nil {
		panic(fmt.Sprintf("manager: TunnelAt(%d): %v", i, err))
	}
	return t
}

// TunnelAtIndex is TunnelAt with an error instead of a panic.
func (m *Manager) TunnelAtIndex(i int) (Tunnel, error) {
	var (
		t  Tunnel
		ok bool
	)
	if err := m.call(func() {
		if i >= 0 && i < len(m.reg.entries) {
			t, ok = m.reg.entries[i].snapshot(), true
		}
	}); err != nil {
		return Tunnel{}, err
	}
	if !ok {
		return Tunnel{}, ErrIndexOutOfRange
	}
	return t, nil
}

// TunnelNamed looks a tunnel up by name. Like the list accessors it still
// returns a tunnel whose removal is in progress; the tunnel disappears with
// EventTunnelRemoved, and operations on it fail with ErrTunnelNotFound meanwhile.
func (m *Manager) TunnelNamed(name string) (Tunnel, bool) {
	var (
		t  Tunnel
		ok bool
	)
	_ = m.call(func() {
		if e := m.reg.find(name); e != nil {
			t, ok = e.snapshot(), true
		}
	})
	return t, ok
}

// Names lists tunnel names in order.
func (m *Manager) Names() []string {
	var names []string
	_ = m.call(func() { names = m.reg.names() })
	return names
}

// Tunnels lists all tunnels in order.
func (m *Manager) Tunnels() []Tunnel {
	var ts []Tunnel
	_ = m.call(func() { ts = m.reg.snapshots() })
	return ts
}

// RecentNames returns recently activated tunnel names, most recent first.
func (m *Manager) RecentNames(limit int) []string {
	var names []string
	_ = m.call(func() { names = m.recents.RecentNames(limit) })
	return names
}

// RefreshStatuses reconciles settled tunnels with what the backend reports.
// Tunnels in a transition are left alone.
func (m *Manager) RefreshStatuses(ctx context.Context) error {
	type probe struct {
		name, backendName string
		status            core.TunnelStatus
		result            vpn.Status
		err               error
	}
	var probes []probe
	if err := m.call(func() {
		for _, e := range m.reg.entries {
			switch e.status {
			case core.StatusInactive, core.StatusActive, core.StatusReasserting:
			default:
				continue
			}
			bn := e.backendName
			if bn == "" {
				bn = e.name
			}
			probes = append(probes, probe{name: e.name, backendName: bn, status: e.status})
		}
	}); err != nil {
		return err
	}

	for i := range probes {
		if err := ctx.Err(); err != nil {
			return err
		}
		probes[i].result, probes[i].err = m.backend.Status(ctx, probes[i].backendName)
	}

	return m.call(func() {
		for _, p := range probes {
			if p.err != nil {
				core.Log.Warnf("Manager", "Status refresh for %q failed: %v", p.name, p.err)
				continue
			}
			e := m.reg.find(p.name)
			if e == nil || e.removing || e.status != p.status {
				continue
			}
			next := p.result.TunnelStatus()
			if next == e.status {
				continue
			}
			if next.IsOperational() {
				if other := m.reg.operational(e); other != nil {
					core.Log.Warnf("Manager", "Tunnel %q reported up while %q holds the VPN slot; ignoring", e.name, other.name)
					continue
				}
				e.backendName = p.backendName
			} else {
				e.backendName = ""
			}
			m.reg.setStatus(e, next)
		}
	})
}
