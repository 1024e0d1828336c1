package manager

import (
	"slices"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/wgconf"
)

// Tunnel is a read-only snapshot of one tunnel. Config is shared and must
// not be modified.
type Tunnel struct {
	Name            string             `json:"name"`
	Config          *wgconf.Config     `json:"-"`
	Status          core.TunnelStatus  `json:"status"`
	OnDemand        core.OnDemandRules `json:"on_demand"`
	OnDemandEnabled bool               `json:"on_demand_enabled"`
}

// entry is the loop-owned runtime state of a tunnel.
type entry struct {
	name            string
	config          *wgconf.Config
	status          core.TunnelStatus
	onDemand        core.OnDemandRules
	onDemandEnabled bool

	// backendName is the name the running backend tunnel was started
	// under. It differs from name only while a rename is being applied.
	backendName string
	// deactivateAfter defers a deactivation requested mid-activation.
	deactivateAfter bool
	removing        bool
	// settled channels close when the tunnel next comes to rest after a
	// stop or a failed start.
	settled []chan struct{}
}

func (e *entry) snapshot() Tunnel {
	return Tunnel{
		Name:            e.name,
		Config:          e.config,
		Status:          e.status,
		OnDemand:        e.onDemand,
		OnDemandEnabled: e.onDemandEnabled,
	}
}

func (e *entry) record() store.Record {
	rec := store.Record{
		Name:            e.name,
		OnDemand:        e.onDemand,
		OnDemandEnabled: e.onDemandEnabled,
	}
	if e.config != nil {
		rec.ConfigText = e.config.String()
	}
	return rec
}

func (e *entry) waitSettled() chan struct{} {
	ch := make(chan struct{})
	e.settled = append(e.settled, ch)
	return ch
}

func (e *entry) notifySettled() {
	for _, ch := range e.settled {
		close(ch)
	}
	e.settled = nil
}

// registry is the ordered tunnel collection. Only the manager's run loop
// touches it.
type registry struct {
	entries []*entry
	emit    func(core.Event)
}

func (r *registry) index(name string) int {
	return slices.IndexFunc(r.entries, func(e *entry) bool { return e.name == name })
}

func (r *registry) find(name string) *entry {
	if i := r.index(name); i >= 0 {
		return r.entries[i]
	}
	return nil
}

// operational returns the tunnel holding the VPN slot, other than except.
func (r *registry) operational(except *entry) *entry {
	for _, e := range r.entries {
		if e != except && e.status.IsOperational() {
			return e
		}
	}
	return nil
}

func (r *registry) names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

func (r *registry) snapshots() []Tunnel {
	out := make([]Tunnel, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.snapshot()
	}
	return out
}

// setStatus updates the status and publishes an event if it changed.
func (r *registry) setStatus(e *entry, status core.TunnelStatus) {
	old := e.status
	if old == status {
		return
	}
	e.status = status
	core.Log.Infof("Manager", "Tunnel %q: %s → %s", e.name, old, status)
	r.emit(core.Event{
		Type: core.EventTunnelStatusChanged,
		Payload: core.StatusPayload{
			Tunnel:    e.name,
			OldStatus: old,
			NewStatus: status,
		},
	})
}

func (r *registry) append(e *entry) int {
	r.entries = append(r.entries, e)
	return len(r.entries) - 1
}

func (r *registry) remove(i int) {
	r.entries = slices.Delete(r.entries, i, i+1)
}

func (r *registry) move(from, to int) {
	e := r.entries[from]
	r.entries = slices.Delete(r.entries, from, from+1)
	r.entries = slices.Insert(r.entries, to, e)
}

// movedOrder returns the names as they would be after move(from, to).
func (r *registry) movedOrder(from, to int) []string {
	names := r.names()
	n := names[from]
	names = slices.Delete(names, from, from+1)
	return slices.Insert(names, to, n)
}
