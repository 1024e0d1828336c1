package core

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TunnelStatus represents the lifecycle state of a VPN tunnel.
type TunnelStatus int

const (
	StatusInactive TunnelStatus = iota
	StatusActivating
	StatusActive
	StatusDeactivating
	StatusReasserting // OS layer is re-establishing a live tunnel
	StatusRestarting  // stop+start after a config change
)

func (s TunnelStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	case StatusDeactivating:
		return "deactivating"
	case StatusReasserting:
		return "reasserting"
	case StatusRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// IsOperational reports whether the tunnel holds the system VPN slot.
// Everything except inactive counts.
func (s TunnelStatus) IsOperational() bool {
	return s != StatusInactive
}

// MarshalText implements encoding.TextMarshaler.
func (s TunnelStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TunnelStatus) UnmarshalText(b []byte) error {
	for st := StatusInactive; st <= StatusRestarting; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown tunnel status: %q", string(b))
}

// OnDemandOption selects which interfaces trigger automatic activation.
type OnDemandOption int

const (
	OnDemandOff OnDemandOption = iota
	OnDemandAnyInterface
	OnDemandWiFiOnly
	OnDemandNonWiFiOnly
)

func (o OnDemandOption) String() string {
	switch o {
	case OnDemandOff:
		return "off"
	case OnDemandAnyInterface:
		return "any"
	case OnDemandWiFiOnly:
		return "wifi"
	case OnDemandNonWiFiOnly:
		return "non_wifi"
	default:
		return "unknown"
	}
}

// ParseOnDemandOption parses a string into an OnDemandOption.
func ParseOnDemandOption(s string) (OnDemandOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return OnDemandOff, nil
	case "any", "any_interface":
		return OnDemandAnyInterface, nil
	case "wifi", "wifi_only":
		return OnDemandWiFiOnly, nil
	case "non_wifi", "non_wifi_only", "ethernet":
		return OnDemandNonWiFiOnly, nil
	default:
		return OnDemandOff, fmt.Errorf("unknown on-demand option: %q", s)
	}
}

// SSIDMatch selects how OnDemandRules.SSIDs is applied to Wi-Fi networks.
type SSIDMatch int

const (
	SSIDAny SSIDMatch = iota
	SSIDOnly
	SSIDExcept
)

func (m SSIDMatch) String() string {
	switch m {
	case SSIDAny:
		return "any"
	case SSIDOnly:
		return "only"
	case SSIDExcept:
		return "except"
	default:
		return "unknown"
	}
}

// ParseSSIDMatch parses a string into an SSIDMatch.
func ParseSSIDMatch(s string) (SSIDMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any", "":
		return SSIDAny, nil
	case "only":
		return SSIDOnly, nil
	case "except":
		return SSIDExcept, nil
	default:
		return SSIDAny, fmt.Errorf("unknown ssid match: %q", s)
	}
}

// OnDemandRules describes when a tunnel should be activated automatically.
type OnDemandRules struct {
	Option    OnDemandOption `yaml:"option" json:"option"`
	SSIDMatch SSIDMatch      `yaml:"ssid_match,omitempty" json:"ssid_match"`
	SSIDs     []string       `yaml:"ssids,omitempty" json:"ssids,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler for OnDemandOption.
func (o *OnDemandOption) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseOnDemandOption(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for OnDemandOption.
func (o OnDemandOption) MarshalYAML() (any, error) {
	return o.String(), nil
}

// MarshalText implements encoding.TextMarshaler for OnDemandOption.
func (o OnDemandOption) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for OnDemandOption.
func (o *OnDemandOption) UnmarshalText(b []byte) error {
	parsed, err := ParseOnDemandOption(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for SSIDMatch.
func (m *SSIDMatch) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseSSIDMatch(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for SSIDMatch.
func (m SSIDMatch) MarshalYAML() (any, error) {
	if m == SSIDAny {
		return nil, nil // omit default
	}
	return m.String(), nil
}

// MarshalText implements encoding.TextMarshaler for SSIDMatch.
func (m SSIDMatch) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for SSIDMatch.
func (m *SSIDMatch) UnmarshalText(b []byte) error {
	parsed, err := ParseSSIDMatch(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
