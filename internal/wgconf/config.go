// Package wgconf parses, validates and renders WireGuard tunnel configurations
// in the wg-quick .conf format.
package wgconf

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// DefaultMTU is used when the [Interface] section has no MTU.
const DefaultMTU = 1420

// Interface holds the [Interface] section.
type Interface struct {
	PrivateKey wgtypes.Key
	Addresses  []netip.Prefix
	ListenPort int // 0 = random
	MTU        int // 0 = DefaultMTU
	DNS        []netip.Addr
	DNSSearch  []string
}

// Peer holds one [Peer] section.
type Peer struct {
	PublicKey           wgtypes.Key
	PresharedKey        *wgtypes.Key
	AllowedIPs          []netip.Prefix
	Endpoint            string // host:port, host may be a name
	PersistentKeepalive int    // seconds, 0 = off
}

// Config is a parsed tunnel configuration. The tunnel name is not part of it.
type Config struct {
	Interface Interface
	Peers     []Peer
}

var (
	ErrNoPrivateKey   = errors.New("interface has no private key")
	ErrNoPeers        = errors.New("configuration has no peers")
	ErrDuplicatePeer  = errors.New("two or more peers share a public key")
	ErrInvalidMTU     = errors.New("MTU must be between 576 and 65535")
	ErrInvalidPort    = errors.New("listen port must be between 0 and 65535")
	ErrInvalidKeepAlv = errors.New("persistent keepalive must be between 0 and 65535")
)

// Validate checks the invariants the OS layer depends on.
// A config that fails here is rejected before any activation attempt.
func (c *Config) Validate() error {
	if c.Interface.PrivateKey == (wgtypes.Key{}) {
		return ErrNoPrivateKey
	}
	if c.Interface.MTU != 0 && (c.Interface.MTU < 576 || c.Interface.MTU > 65535) {
		return ErrInvalidMTU
	}
	if c.Interface.ListenPort < 0 || c.Interface.ListenPort > 65535 {
		return ErrInvalidPort
	}
	if len(c.Peers) == 0 {
		return ErrNoPeers
	}
	seen := make(map[wgtypes.Key]struct{}, len(c.Peers))
	for i, p := range c.Peers {
		if p.PublicKey == (wgtypes.Key{}) {
			return fmt.Errorf("peer %d: missing public key", i+1)
		}
		if _, dup := seen[p.PublicKey]; dup {
			return ErrDuplicatePeer
		}
		seen[p.PublicKey] = struct{}{}
		if p.PersistentKeepalive < 0 || p.PersistentKeepalive > 65535 {
			return fmt.Errorf("peer %d: %w", i+1, ErrInvalidKeepAlv)
		}
		if p.Endpoint != "" {
			if _, _, err := net.SplitHostPort(p.Endpoint); err != nil {
				return fmt.Errorf("peer %d: invalid endpoint %q: %w", i+1, p.Endpoint, err)
			}
		}
	}
	return nil
}

// EffectiveMTU returns the configured MTU or DefaultMTU.
func (c *Config) EffectiveMTU() int {
	if c.Interface.MTU == 0 {
		return DefaultMTU
	}
	return c.Interface.MTU
}

// PublicKey derives the interface public key.
func (c *Config) PublicKey() wgtypes.Key {
	return c.Interface.PrivateKey.PublicKey()
}

// Equal reports whether two configs render identically.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.String() == other.String()
}

// DeviceConfig converts the config into a wgctrl device configuration.
// Endpoints are resolved here, so this may block on DNS.
func (c *Config) DeviceConfig() (wgtypes.Config, error) {
	priv := c.Interface.PrivateKey
	cfg := wgtypes.Config{
		PrivateKey:   &priv,
		ReplacePeers: true,
		Peers:        make([]wgtypes.PeerConfig, 0, len(c.Peers)),
	}
	if c.Interface.ListenPort > 0 {
		port := c.Interface.ListenPort
		cfg.ListenPort = &port
	}

	for _, p := range c.Peers {
		pc := wgtypes.PeerConfig{
			PublicKey:         p.PublicKey,
			PresharedKey:      p.PresharedKey,
			ReplaceAllowedIPs: true,
			AllowedIPs:        make([]net.IPNet, 0, len(p.AllowedIPs)),
		}
		for _, prefix := range p.AllowedIPs {
			pc.AllowedIPs = append(pc.AllowedIPs, prefixToIPNet(prefix))
		}
		if p.PersistentKeepalive > 0 {
			d := time.Duration(p.PersistentKeepalive) * time.Second
			pc.PersistentKeepaliveInterval = &d
		}
		if p.Endpoint != "" {
			addr, err := net.ResolveUDPAddr("udp", p.Endpoint)
			if err != nil {
				return wgtypes.Config{}, fmt.Errorf("resolve endpoint %q: %w", p.Endpoint, err)
			}
			pc.Endpoint = addr
		}
		cfg.Peers = append(cfg.Peers, pc)
	}
	return cfg, nil
}

func prefixToIPNet(p netip.Prefix) net.IPNet {
	p = p.Masked()
	bits := 32
	if p.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), bits),
	}
}

// InterfaceName derives a kernel interface name (max 15 bytes) from a tunnel
// name. A short hash of the full name keeps "Home" and "home" apart.
func InterfaceName(prefix, tunnelName string) string {
	h := fnv.New32a()
	h.Write([]byte(tunnelName))
	suffix := fmt.Sprintf("%04x", h.Sum32()&0xffff)

	if len(prefix) > 15-len(suffix) {
		prefix = prefix[:15-len(suffix)]
	}
	room := 15 - len(prefix) - len(suffix)

	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToLower(tunnelName) {
		if b.Len()-len(prefix) >= room {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	b.WriteString(suffix)
	return b.String()
}
