//go:build linux

package vpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/wgconf"
)

// staleHandshake is how long a keepalive peer may go without a handshake
// before the tunnel is reported as reasserting (REJECT_AFTER_TIME).
const staleHandshake = 180 * time.Second

// Kernel drives the in-kernel WireGuard module: netlink for the link,
// addresses and routes, wgctrl for keys and peers.
// Requires CAP_NET_ADMIN.
type Kernel struct {
	prefix string
	client *wgctrl.Client
}

func NewKernel(prefix string) (*Kernel, error) {
	if prefix == "" {
		prefix = core.DefaultInterfacePrefix
	}
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("[VPN] failed to open wgctrl: %w", err)
	}
	return &Kernel{prefix: prefix, client: client}, nil
}

func (k *Kernel) ifname(name string) string {
	return wgconf.InterfaceName(k.prefix, name)
}

func (k *Kernel) Start(ctx context.Context, name string, cfg *wgconf.Config) error {
	ifname := k.ifname(name)

	// Endpoints resolve first: a DNS failure should not leave a link behind.
	devCfg, err := cfg.DeviceConfig()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if stale, err := netlink.LinkByName(ifname); err == nil {
		core.Log.Warnf("VPN", "Removing stale interface %s", ifname)
		_ = netlink.LinkDel(stale)
	}

	link := &netlink.Wireguard{
		LinkAttrs: netlink.LinkAttrs{
			Name: ifname,
			MTU:  cfg.EffectiveMTU(),
		},
	}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("failed to add wireguard interface %s: %w", ifname, err)
	}
	rollback := func(step string, err error) error {
		_ = netlink.LinkDel(link)
		return fmt.Errorf("failed to %s on %s: %w", step, ifname, err)
	}

	if err := k.client.ConfigureDevice(ifname, devCfg); err != nil {
		return rollback("configure device", err)
	}
	for _, prefix := range cfg.Interface.Addresses {
		addr, err := netlink.ParseAddr(prefix.String())
		if err != nil {
			return rollback("parse address", err)
		}
		if err := netlink.AddrAdd(link, addr); err != nil {
			return rollback("add address "+prefix.String(), err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return rollback("bring up", err)
	}
	if err := ctx.Err(); err != nil {
		return rollback("finish start", err)
	}

	for _, peer := range cfg.Peers {
		for _, prefix := range peer.AllowedIPs {
			if prefix.Bits() == 0 {
				// Default routes need policy routing (fwmark + rule) to avoid
				// looping the endpoint traffic; not handled here.
				core.Log.Warnf("VPN", "Tunnel %q: skipping default route %s", name, prefix)
				continue
			}
			_, dst, err := net.ParseCIDR(prefix.Masked().String())
			if err != nil {
				return rollback("parse route", err)
			}
			route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
			if err := netlink.RouteReplace(route); err != nil {
				return rollback("add route "+prefix.String(), err)
			}
		}
	}

	core.Log.Infof("VPN", "Interface %s up for tunnel %q (%d peers)", ifname, name, len(cfg.Peers))
	return nil
}

func (k *Kernel) Stop(ctx context.Context, name string) error {
	ifname := k.ifname(name)
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to find interface %s: %w", ifname, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete interface %s: %w", ifname, err)
	}
	core.Log.Infof("VPN", "Interface %s removed for tunnel %q", ifname, name)
	return nil
}

func (k *Kernel) Status(ctx context.Context, name string) (Status, error) {
	dev, err := k.client.Device(k.ifname(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Down, nil
		}
		return Down, fmt.Errorf("failed to query %s: %w", k.ifname(name), err)
	}
	for _, p := range dev.Peers {
		if p.PersistentKeepaliveInterval > 0 && !p.LastHandshakeTime.IsZero() &&
			time.Since(p.LastHandshakeTime) > staleHandshake {
			return Reasserting, nil
		}
	}
	return Up, nil
}

func (k *Kernel) Close() error {
	return k.client.Close()
}
