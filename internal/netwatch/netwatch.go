// Package netwatch reports the host's usable network interfaces so that
// on-demand rules can tell Wi-Fi from wired connectivity.
package netwatch

import (
	"slices"
	"sync"
	"time"

	"wg-tunnels/internal/core"
)

// Interface is one up, non-loopback link.
type Interface struct {
	Name string
	WiFi bool
}

// Snapshot is the network state rules are evaluated against.
type Snapshot struct {
	Interfaces []Interface
	// SSIDs are the Wi-Fi networks currently joined, when known.
	SSIDs []string
}

// HasWiFi reports whether any Wi-Fi interface is up.
func (s Snapshot) HasWiFi() bool {
	return slices.ContainsFunc(s.Interfaces, func(i Interface) bool { return i.WiFi })
}

// HasNonWiFi reports whether any other interface is up.
func (s Snapshot) HasNonWiFi() bool {
	return slices.ContainsFunc(s.Interfaces, func(i Interface) bool { return !i.WiFi })
}

// Online reports whether any interface is up.
func (s Snapshot) Online() bool { return len(s.Interfaces) > 0 }

// Matches reports whether rules call for the tunnel to be up in this state.
func (s Snapshot) Matches(rules core.OnDemandRules) bool {
	switch rules.Option {
	case core.OnDemandAnyInterface:
		if !s.Online() {
			return false
		}
	case core.OnDemandWiFiOnly:
		if !s.HasWiFi() {
			return false
		}
	case core.OnDemandNonWiFiOnly:
		return s.HasNonWiFi()
	default:
		return false
	}
	if !s.HasWiFi() || len(rules.SSIDs) == 0 {
		return true
	}
	// SSID filters only apply while on Wi-Fi.
	joined := slices.ContainsFunc(rules.SSIDs, func(ssid string) bool { return slices.Contains(s.SSIDs, ssid) })
	switch rules.SSIDMatch {
	case core.SSIDOnly:
		return joined
	case core.SSIDExcept:
		return !joined
	default:
		return true
	}
}

// Source produces snapshots.
type Source interface {
	Snapshot() (Snapshot, error)
}

// System reads interfaces from the OS. SSIDs come from a fixed list
// because the kernel does not expose the associated network without a
// supplicant.
type System struct {
	SSIDs []string
}

func (s System) Snapshot() (Snapshot, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Interfaces: ifaces, SSIDs: s.SSIDs}, nil
}

// Static always returns the same snapshot.
type Static Snapshot

func (s Static) Snapshot() (Snapshot, error) { return Snapshot(s), nil }

// debouncer collapses bursts of link events into one callback.
type debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
	fn    func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Reset(d.delay)
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
