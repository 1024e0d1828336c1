//go:build !linux

package netwatch

import (
	"fmt"
	"net"
	"strings"
)

// Interfaces lists up, non-loopback interfaces. Wi-Fi detection is by name
// only on this platform.
func Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var out []Interface
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		wifi := strings.HasPrefix(ifc.Name, "wl") || strings.HasPrefix(ifc.Name, "en0")
		out = append(out, Interface{Name: ifc.Name, WiFi: wifi})
	}
	return out, nil
}

// Monitor is a no-op here; on-demand relies on the periodic evaluation job.
type Monitor struct{}

func NewMonitor(onChange func()) *Monitor { return &Monitor{} }

func (m *Monitor) Start() error { return nil }

func (m *Monitor) Stop() {}
