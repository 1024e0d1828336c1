package manager

import (
	"context"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/vpn"
)

// StartActivation requests activation of the named tunnel and returns
// immediately. The outcome arrives as EventActivationAttemptFailed,
// EventActivationFailed or EventActivationSucceeded.
func (m *Manager) StartActivation(name string) {
	if !m.post(func() { m.startActivation(name) }) {
		core.Log.Warnf("Manager", "Activation of %q dropped: manager closed", name)
	}
}

// StartDeactivation requests deactivation of the named tunnel and returns
// immediately. A tunnel that is still activating is deactivated as soon as
// its activation completes.
func (m *Manager) StartDeactivation(name string) {
	if !m.post(func() { m.startDeactivation(name) }) {
		core.Log.Warnf("Manager", "Deactivation of %q dropped: manager closed", name)
	}
}

// Restart stops and starts an active tunnel with its current configuration.
func (m *Manager) Restart(name string) {
	ok := m.post(func() {
		e := m.reg.find(name)
		if e == nil || e.removing {
			m.attemptFailed(&ActivationAttemptError{Tunnel: name, Kind: KindTunnelNotFound})
			return
		}
		if e.status != core.StatusActive && e.status != core.StatusReasserting {
			core.Log.Infof("Manager", "Restart of %q ignored: tunnel is %s", name, e.status)
			return
		}
		m.restart(e)
	})
	if !ok {
		core.Log.Warnf("Manager", "Restart of %q dropped: manager closed", name)
	}
}

func (m *Manager) attemptFailed(err *ActivationAttemptError) {
	core.Log.Warnf("Manager", "%v", err)
	m.emit(core.Event{
		Type:    core.EventActivationAttemptFailed,
		Payload: core.ActivationPayload{Tunnel: err.Tunnel, Err: err, Reason: err.Error()},
	})
}

// startActivation runs the pre-flight checks. Only one tunnel may be
// non-inactive at a time; a second request fails rather than queueing.
func (m *Manager) startActivation(name string) {
	e := m.reg.find(name)
	if e == nil || e.removing {
		m.attemptFailed(&ActivationAttemptError{Tunnel: name, Kind: KindTunnelNotFound})
		return
	}
	if e.status != core.StatusInactive {
		m.attemptFailed(&ActivationAttemptError{Tunnel: name, Kind: KindTunnelIsNotInactive})
		return
	}
	if other := m.reg.operational(e); other != nil {
		m.attemptFailed(&ActivationAttemptError{
			Tunnel:      name,
			Kind:        KindAnotherTunnelIsOperational,
			Operational: other.name,
		})
		return
	}
	if err := e.config.Validate(); err != nil {
		m.attemptFailed(&ActivationAttemptError{Tunnel: name, Kind: KindInvalidConfiguration, Err: err})
		return
	}
	m.activate(e)
}

func (m *Manager) activate(e *entry) {
	m.reg.setStatus(e, core.StatusActivating)
	name, cfg := e.name, e.config
	e.backendName = name
	m.background(func(ctx context.Context) {
		err := m.backend.Start(ctx, name, cfg)
		m.post(func() { m.activationDone(e, err) })
	})
}

func (m *Manager) activationDone(e *entry, err error) {
	if err != nil {
		core.Log.Errorf("Manager", "Tunnel %q: activation failed: %v", e.name, err)
		e.backendName = ""
		e.deactivateAfter = false
		m.reg.setStatus(e, core.StatusInactive)
		e.notifySettled()
		actErr := &ActivationError{Tunnel: e.name, Err: err}
		m.emit(core.Event{
			Type:    core.EventActivationFailed,
			Payload: core.ActivationPayload{Tunnel: e.name, Err: actErr, Reason: actErr.Error()},
		})
		return
	}

	m.reg.setStatus(e, core.StatusActive)
	m.recents.HandleActivated(e.name)
	m.emit(core.Event{
		Type:    core.EventActivationSucceeded,
		Payload: core.ActivationPayload{Tunnel: e.name},
	})
	if e.deactivateAfter {
		e.deactivateAfter = false
		m.deactivate(e)
		return
	}
	if e.backendName != e.name {
		core.Log.Infof("Manager", "Tunnel %q was renamed while coming up, restarting under its new name", e.name)
		m.restart(e)
	}
}

func (m *Manager) startDeactivation(name string) {
	e := m.reg.find(name)
	if e == nil {
		core.Log.Warnf("Manager", "Deactivation of unknown tunnel %q ignored", name)
		return
	}
	m.requestStop(e)
}

// requestStop brings e towards inactive from whatever state it is in.
func (m *Manager) requestStop(e *entry) {
	switch e.status {
	case core.StatusInactive:
		core.Log.Debugf("Manager", "Tunnel %q is already inactive", e.name)
	case core.StatusActivating, core.StatusRestarting:
		core.Log.Infof("Manager", "Tunnel %q will be deactivated once it finishes %s", e.name, e.status)
		e.deactivateAfter = true
	case core.StatusDeactivating:
	default:
		m.deactivate(e)
	}
}

func (m *Manager) deactivate(e *entry) {
	m.reg.setStatus(e, core.StatusDeactivating)
	name := e.backendName
	if name == "" {
		name = e.name
	}
	m.background(func(ctx context.Context) {
		err := m.backend.Stop(ctx, name)
		still := vpn.Down
		if err != nil {
			still, _ = m.backend.Status(ctx, name)
		}
		m.post(func() { m.deactivationDone(e, err, still) })
	})
}

func (m *Manager) deactivationDone(e *entry, err error, still vpn.Status) {
	defer e.notifySettled()
	if err != nil && still != vpn.Down {
		core.Log.Errorf("Manager", "Tunnel %q: deactivation failed: %v", e.name, err)
		m.reg.setStatus(e, still.TunnelStatus())
		return
	}
	if err != nil {
		core.Log.Warnf("Manager", "Tunnel %q: stop reported %v but the tunnel is down", e.name, err)
	}
	e.backendName = ""
	m.reg.setStatus(e, core.StatusInactive)
}

// restart applies e's current configuration to a running tunnel. The
// tunnel keeps the VPN slot throughout.
func (m *Manager) restart(e *entry) {
	if err := e.config.Validate(); err != nil {
		m.attemptFailed(&ActivationAttemptError{Tunnel: e.name, Kind: KindInvalidConfiguration, Err: err})
		return
	}
	m.reg.setStatus(e, core.StatusRestarting)
	oldName := e.backendName
	if oldName == "" {
		oldName = e.name
	}
	name, cfg := e.name, e.config
	m.background(func(ctx context.Context) {
		if err := m.backend.Stop(ctx, oldName); err != nil {
			m.post(func() { m.restartStopFailed(e, err) })
			return
		}
		err := m.backend.Start(ctx, name, cfg)
		m.post(func() {
			e.backendName = name
			m.activationDone(e, err)
		})
	})
}

func (m *Manager) restartStopFailed(e *entry, err error) {
	core.Log.Errorf("Manager", "Tunnel %q: restart could not stop the running tunnel: %v", e.name, err)
	m.reg.setStatus(e, core.StatusActive)
	actErr := &ActivationError{Tunnel: e.name, Err: err}
	m.emit(core.Event{
		Type:    core.EventActivationFailed,
		Payload: core.ActivationPayload{Tunnel: e.name, Err: actErr, Reason: actErr.Error()},
	})
	if e.deactivateAfter {
		e.deactivateAfter = false
		m.deactivate(e)
	}
}
