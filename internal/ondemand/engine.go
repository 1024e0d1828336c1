// Package ondemand activates tunnels automatically when the network matches
// their on-demand rules, and retries on-demand tunnels whose activation
// failed.
package ondemand

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/manager"
	"wg-tunnels/internal/netwatch"
)

// Tunnels is the part of the tunnel manager the engine drives.
type Tunnels interface {
	Subscribe(types ...core.EventType) *manager.Subscription
	Tunnels() []manager.Tunnel
	StartActivation(name string)
}

// Engine watches manager events and network snapshots. A tunnel the user
// deactivated is not brought back up until the network changes.
type Engine struct {
	mu         sync.Mutex
	cfg        core.OnDemandConfig
	enabled    bool
	tunnels    Tunnels
	source     netwatch.Source
	last       *netwatch.Snapshot
	suppressed map[string]bool   // name → user deactivated on this network
	retrying   map[string]*retry // active retry loops

	sub    *manager.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Call Start to begin watching events.
func New(cfg core.OnDemandConfig, tunnels Tunnels, source netwatch.Source) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		enabled:    cfg.IsEnabled(),
		tunnels:    tunnels,
		source:     source,
		suppressed: make(map[string]bool),
		retrying:   make(map[string]*retry),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to manager events.
func (e *Engine) Start() {
	e.sub = e.tunnels.Subscribe(
		core.EventTunnelStatusChanged,
		core.EventActivationSucceeded,
		core.EventActivationFailed,
		core.EventTunnelRemoved,
		core.EventOnDemandChanged,
	)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range e.sub.C {
			e.handle(ev)
		}
	}()
	core.Log.Infof("OnDemand", "On-demand engine started (enabled=%v, retry_interval=%s, max_retries=%d)",
		e.enabled, e.cfg.RetryIntervalOrDefault(), e.cfg.MaxRetries)
}

// Stop cancels all retry loops and stops watching events.
func (e *Engine) Stop() {
	e.cancel()
	if e.sub != nil {
		e.sub.Close()
	}
	e.mu.Lock()
	for name, r := range e.retrying {
		r.cancel()
		delete(e.retrying, name)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// SetEnabled turns automatic activation on or off at runtime.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	if !enabled {
		for name, r := range e.retrying {
			r.cancel()
			delete(e.retrying, name)
		}
	}
}

// Evaluate activates the first on-demand tunnel, in list order, whose rules
// match the current network. Nothing happens while any tunnel is not
// inactive. It returns the name of the tunnel it asked to activate.
func (e *Engine) Evaluate() string {
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !enabled {
		return ""
	}

	snap, err := e.source.Snapshot()
	if err != nil {
		core.Log.Warnf("OnDemand", "Network snapshot failed: %v", err)
		return ""
	}

	e.mu.Lock()
	if e.last == nil || !sameNetwork(*e.last, snap) {
		if len(e.suppressed) > 0 {
			core.Log.Debugf("OnDemand", "Network changed, clearing %d suppressed tunnels", len(e.suppressed))
		}
		clear(e.suppressed)
	}
	e.last = &snap
	suppressed := maps.Clone(e.suppressed)
	e.mu.Unlock()

	tunnels := e.tunnels.Tunnels()
	for _, t := range tunnels {
		if t.Status != core.StatusInactive {
			return ""
		}
	}
	for _, t := range tunnels {
		if !t.OnDemandEnabled || suppressed[t.Name] || !snap.Matches(t.OnDemand) {
			continue
		}
		core.Log.Infof("OnDemand", "Network matches the rules of %q, activating", t.Name)
		e.tunnels.StartActivation(t.Name)
		return t.Name
	}
	return ""
}

func sameNetwork(a, b netwatch.Snapshot) bool {
	return slices.Equal(a.Interfaces, b.Interfaces) && slices.Equal(a.SSIDs, b.SSIDs)
}

func (e *Engine) isSuppressed(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressed[name]
}

func (e *Engine) handle(ev core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch p := ev.Payload.(type) {
	case core.StatusPayload:
		if p.OldStatus == core.StatusDeactivating && p.NewStatus == core.StatusInactive {
			e.suppressed[p.Tunnel] = true
			e.stopRetryLocked(p.Tunnel)
		}

	case core.ActivationPayload:
		switch ev.Type {
		case core.EventActivationSucceeded:
			delete(e.suppressed, p.Tunnel)
			e.stopRetryLocked(p.Tunnel)
		case core.EventActivationFailed:
			if !e.enabled || e.suppressed[p.Tunnel] {
				return
			}
			if _, already := e.retrying[p.Tunnel]; already {
				return
			}
			if !e.onDemandEnabled(p.Tunnel) {
				return
			}
			ctx, cancel := context.WithCancel(e.ctx)
			r := &retry{cancel: cancel}
			e.retrying[p.Tunnel] = r
			e.wg.Add(1)
			go e.retryLoop(ctx, p.Tunnel, r)
		}

	case core.ListPayload:
		delete(e.suppressed, p.Tunnel)
		e.stopRetryLocked(p.Tunnel)

	case core.OnDemandPayload:
		if !p.Enabled {
			e.stopRetryLocked(p.Tunnel)
		}
	}
}

func (e *Engine) onDemandEnabled(name string) bool {
	t, ok := e.find(name)
	return ok && t.OnDemandEnabled
}

func (e *Engine) find(name string) (manager.Tunnel, bool) {
	for _, t := range e.tunnels.Tunnels() {
		if t.Name == name {
			return t, true
		}
	}
	return manager.Tunnel{}, false
}

type retry struct {
	cancel context.CancelFunc
}

func (e *Engine) stopRetryLocked(name string) {
	if r, ok := e.retrying[name]; ok {
		r.cancel()
		delete(e.retrying, name)
	}
}

func (e *Engine) retryLoop(ctx context.Context, name string, r *retry) {
	defer e.wg.Done()
	defer e.cleanup(name, r)

	interval := e.cfg.RetryIntervalOrDefault()
	maxRetries := e.cfg.MaxRetries
	core.Log.Infof("OnDemand", "Retrying %q every %s", name, interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			core.Log.Debugf("OnDemand", "Retry of %q cancelled", name)
			return
		case <-timer.C:
		}
		timer.Reset(interval)

		t, ok := e.find(name)
		if !ok || !t.OnDemandEnabled {
			core.Log.Infof("OnDemand", "Tunnel %q is gone or no longer on-demand, stopping retries", name)
			return
		}
		if t.Status.IsOperational() && t.Status != core.StatusActivating {
			core.Log.Debugf("OnDemand", "Tunnel %q is %s, stopping retries", name, t.Status)
			return
		}
		if t.Status != core.StatusInactive {
			continue
		}
		if e.otherOperational(name) {
			core.Log.Infof("OnDemand", "Another tunnel is up, stopping retries for %q", name)
			return
		}
		if snap, err := e.source.Snapshot(); err != nil || !snap.Matches(t.OnDemand) {
			core.Log.Debugf("OnDemand", "Network does not match %q, skipping attempt", name)
			continue
		}
		if maxRetries > 0 && attempt > maxRetries {
			core.Log.Warnf("OnDemand", "Max retries (%d) reached for %q", maxRetries, name)
			return
		}

		core.Log.Infof("OnDemand", "Attempt %d for %q", attempt, name)
		e.tunnels.StartActivation(name)
	}
}

func (e *Engine) otherOperational(name string) bool {
	return slices.ContainsFunc(e.tunnels.Tunnels(), func(t manager.Tunnel) bool {
		return t.Name != name && t.Status != core.StatusInactive
	})
}

// cleanup releases r unless a newer loop has replaced it.
func (e *Engine) cleanup(name string, r *retry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.cancel()
	if e.retrying[name] == r {
		delete(e.retrying, name)
	}
}
