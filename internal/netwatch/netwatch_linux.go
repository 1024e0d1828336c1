//go:build linux

package netwatch

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/vishvananda/netlink"

	"wg-tunnels/internal/core"
)

var sysClassNet = "/sys/class/net"

// Interfaces lists up, non-loopback links. WireGuard links are skipped so a
// running tunnel does not count as connectivity.
func Interfaces() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	var out []Interface
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || attrs.Flags&net.FlagUp == 0 {
			continue
		}
		if link.Type() == "wireguard" {
			continue
		}
		if attrs.OperState != netlink.OperUp && attrs.OperState != netlink.OperUnknown {
			continue
		}
		out = append(out, Interface{Name: attrs.Name, WiFi: isWireless(attrs.Name)})
	}
	return out, nil
}

func isWireless(name string) bool {
	_, err := os.Stat(filepath.Join(sysClassNet, name, "wireless"))
	return err == nil
}

// Monitor calls onChange (debounced) when links or addresses change.
type Monitor struct {
	onChange func()
	done     chan struct{}
	stopped  chan struct{}
	debounce *debouncer
}

// NewMonitor creates a link monitor. onChange runs on its own goroutine.
func NewMonitor(onChange func()) *Monitor {
	return &Monitor{
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		debounce: &debouncer{delay: 2 * time.Second, fn: onChange},
	}
}

// Start subscribes to netlink link and address updates.
func (m *Monitor) Start() error {
	links := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(links, m.done); err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}
	addrs := make(chan netlink.AddrUpdate, 16)
	if err := netlink.AddrSubscribe(addrs, m.done); err != nil {
		return fmt.Errorf("failed to subscribe to address updates: %w", err)
	}
	go m.loop(links, addrs)
	core.Log.Infof("NetWatch", "Network monitor started (netlink)")
	return nil
}

func (m *Monitor) loop(links <-chan netlink.LinkUpdate, addrs <-chan netlink.AddrUpdate) {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case u, ok := <-links:
			if !ok {
				return
			}
			if u.Link != nil && u.Link.Type() == "wireguard" {
				continue
			}
			m.debounce.trigger()
		case _, ok := <-addrs:
			if !ok {
				return
			}
			m.debounce.trigger()
		}
	}
}

// Stop ends the subscription. Safe to call once.
func (m *Monitor) Stop() {
	close(m.done)
	m.debounce.stop()
	select {
	case <-m.stopped:
	case <-time.After(time.Second):
	}
	core.Log.Infof("NetWatch", "Network monitor stopped")
}
