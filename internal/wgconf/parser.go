package wgconf

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ParseError reports the line a parse failure occurred on.
type ParseError struct {
	Line    int
	Section string
	Key     string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: [%s] %s: %v", e.Line, e.Section, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFile reads a wg-quick .conf file.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ParseString parses wg-quick text.
func ParseString(s string) (*Config, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads a wg-quick configuration. Unknown keys (including AmneziaWG
// obfuscation fields and wg-quick hooks) are ignored. The result is not
// validated; call Validate.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	section := ""
	var peer *Peer
	interfaceSeen := false

	flushPeer := func() {
		if peer != nil {
			cfg.Peers = append(cfg.Peers, *peer)
			peer = nil
		}
	}

	lineNo := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		// Strip UTF-8 BOM from the first line (common in Windows-exported configs).
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\xEF\xBB\xBF")
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			flushPeer()
			section = strings.ToLower(strings.Trim(line, "[] "))
			switch section {
			case "interface":
				if interfaceSeen {
					return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("multiple [Interface] sections")}
				}
				interfaceSeen = true
			case "peer":
				peer = &Peer{}
			default:
				return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("unknown section %q", line)}
			}
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, &ParseError{Line: lineNo, Section: section, Err: fmt.Errorf("expected key = value, got %q", line)}
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		var err error
		switch section {
		case "interface":
			err = parseInterfaceKey(key, value, &cfg.Interface)
		case "peer":
			err = parsePeerKey(key, value, peer)
		default:
			err = fmt.Errorf("key outside of a section")
		}
		if err != nil {
			return nil, &ParseError{Line: lineNo, Section: sectionTitle(section), Key: key, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	flushPeer()

	if !interfaceSeen {
		return nil, fmt.Errorf("no [Interface] section")
	}
	return cfg, nil
}

func sectionTitle(s string) string {
	switch s {
	case "interface":
		return "Interface"
	case "peer":
		return "Peer"
	}
	return s
}

func parseInterfaceKey(key, value string, iface *Interface) error {
	switch strings.ToLower(key) {
	case "privatekey":
		k, err := wgtypes.ParseKey(value)
		if err != nil {
			return err
		}
		iface.PrivateKey = k
	case "listenport":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port %q", value)
		}
		iface.ListenPort = port
	case "address":
		for _, s := range splitCSV(value) {
			prefix, err := parsePrefixOrAddr(s)
			if err != nil {
				return fmt.Errorf("invalid address %q", s)
			}
			// Addresses keep their host bits.
			iface.Addresses = append(iface.Addresses, prefix)
		}
	case "dns":
		for _, s := range splitCSV(value) {
			if ip, err := netip.ParseAddr(s); err == nil {
				iface.DNS = append(iface.DNS, ip)
			} else {
				iface.DNSSearch = append(iface.DNSSearch, s)
			}
		}
	case "mtu":
		mtu, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MTU %q", value)
		}
		iface.MTU = mtu
	}
	return nil
}

func parsePeerKey(key, value string, peer *Peer) error {
	switch strings.ToLower(key) {
	case "publickey":
		k, err := wgtypes.ParseKey(value)
		if err != nil {
			return err
		}
		peer.PublicKey = k
	case "presharedkey":
		k, err := wgtypes.ParseKey(value)
		if err != nil {
			return err
		}
		peer.PresharedKey = &k
	case "endpoint":
		peer.Endpoint = value
	case "allowedips":
		for _, s := range splitCSV(value) {
			prefix, err := parsePrefixOrAddr(s)
			if err != nil {
				return fmt.Errorf("invalid allowed IP %q", s)
			}
			peer.AllowedIPs = append(peer.AllowedIPs, prefix.Masked())
		}
	case "persistentkeepalive":
		if strings.EqualFold(value, "off") {
			peer.PersistentKeepalive = 0
			return nil
		}
		ka, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid keepalive %q", value)
		}
		peer.PersistentKeepalive = ka
	}
	return nil
}

func parsePrefixOrAddr(s string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders the config as wg-quick text. Parse(String()) round-trips.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", c.Interface.PrivateKey.String())
	if len(c.Interface.Addresses) > 0 {
		fmt.Fprintf(&b, "Address = %s\n", joinStringers(c.Interface.Addresses))
	}
	if c.Interface.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", c.Interface.ListenPort)
	}
	if c.Interface.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", c.Interface.MTU)
	}
	if len(c.Interface.DNS) > 0 || len(c.Interface.DNSSearch) > 0 {
		dns := make([]string, 0, len(c.Interface.DNS)+len(c.Interface.DNSSearch))
		for _, ip := range c.Interface.DNS {
			dns = append(dns, ip.String())
		}
		dns = append(dns, c.Interface.DNSSearch...)
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(dns, ", "))
	}

	for _, p := range c.Peers {
		b.WriteString("\n[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey.String())
		if p.PresharedKey != nil {
			fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey.String())
		}
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(&b, "AllowedIPs = %s\n", joinStringers(p.AllowedIPs))
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.PersistentKeepalive)
		}
	}
	return b.String()
}

// UAPI renders the config in the cross-platform userspace API format
// (public_key is always first within a peer).
func (c *Config) UAPI() string {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", hex.EncodeToString(c.Interface.PrivateKey[:]))
	if c.Interface.ListenPort > 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", c.Interface.ListenPort)
	}
	if len(c.Peers) > 0 {
		b.WriteString("replace_peers=true\n")
	}
	for _, p := range c.Peers {
		fmt.Fprintf(&b, "public_key=%s\n", hex.EncodeToString(p.PublicKey[:]))
		if p.PresharedKey != nil {
			fmt.Fprintf(&b, "preshared_key=%s\n", hex.EncodeToString(p.PresharedKey[:]))
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", p.PersistentKeepalive)
		}
		b.WriteString("replace_allowed_ips=true\n")
		for _, prefix := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", prefix.String())
		}
	}
	return b.String()
}

func joinStringers(prefixes []netip.Prefix) string {
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return strings.Join(out, ", ")
}
