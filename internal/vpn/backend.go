// Package vpn abstracts the OS facility that brings WireGuard interfaces up
// and down.
package vpn

import (
	"context"
	"fmt"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/wgconf"
)

// Status is what the OS reports for a tunnel's interface.
type Status int

const (
	Down Status = iota
	Up
	// Reasserting: the interface is up but its peers have stopped
	// handshaking and the session is being re-established.
	Reasserting
)

func (s Status) String() string {
	switch s {
	case Down:
		return "down"
	case Up:
		return "up"
	case Reasserting:
		return "reasserting"
	default:
		return "unknown"
	}
}

// TunnelStatus maps an OS status onto the tunnel lifecycle.
func (s Status) TunnelStatus() core.TunnelStatus {
	switch s {
	case Up:
		return core.StatusActive
	case Reasserting:
		return core.StatusReasserting
	default:
		return core.StatusInactive
	}
}

// Backend starts and stops tunnels by name. Implementations do not enforce
// single-tunnel exclusivity; callers do.
type Backend interface {
	Start(ctx context.Context, name string, cfg *wgconf.Config) error
	Stop(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (Status, error)
	Close() error
}

// Open returns the driver selected in cfg.
func Open(cfg core.VPNConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "kernel":
		k, err := NewKernel(cfg.InterfacePrefix)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("[VPN] unknown driver %q", cfg.Driver)
	}
}
