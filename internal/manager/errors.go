package manager

import (
	"errors"
	"fmt"
)

var (
	ErrTunnelNotFound      = errors.New("tunnel not found")
	ErrTunnelAlreadyExists = errors.New("a tunnel with this name already exists")
	ErrTunnelNameEmpty     = errors.New("tunnel name is empty")
	ErrConfigMissing       = errors.New("tunnel configuration is missing")
	ErrIndexOutOfRange     = errors.New("tunnel index out of range")
	ErrClosed              = errors.New("tunnel manager is closed")
)

// LoadError is returned by Create when the persisted tunnels cannot be read.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("failed to load tunnels: %v", e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// AttemptKind says why an activation was refused before reaching the OS.
type AttemptKind int

const (
	KindTunnelNotFound AttemptKind = iota
	KindTunnelIsNotInactive
	KindAnotherTunnelIsOperational
	KindInvalidConfiguration
)

func (k AttemptKind) String() string {
	switch k {
	case KindTunnelNotFound:
		return "tunnelNotFound"
	case KindTunnelIsNotInactive:
		return "tunnelIsNotInactive"
	case KindAnotherTunnelIsOperational:
		return "anotherTunnelIsOperational"
	case KindInvalidConfiguration:
		return "invalidConfiguration"
	default:
		return "unknown"
	}
}

// ActivationAttemptError is a pre-flight rejection. It is delivered as an
// EventActivationAttemptFailed event, never returned.
type ActivationAttemptError struct {
	Tunnel string
	Kind   AttemptKind
	// Operational names the tunnel holding the VPN slot, for
	// KindAnotherTunnelIsOperational.
	Operational string
	// Err is the validation failure, for KindInvalidConfiguration.
	Err error
}

func (e *ActivationAttemptError) Error() string {
	switch e.Kind {
	case KindTunnelNotFound:
		return fmt.Sprintf("cannot activate %q: tunnel not found", e.Tunnel)
	case KindTunnelIsNotInactive:
		return fmt.Sprintf("cannot activate %q: tunnel is not inactive", e.Tunnel)
	case KindAnotherTunnelIsOperational:
		return fmt.Sprintf("cannot activate %q: tunnel %q is operational", e.Tunnel, e.Operational)
	case KindInvalidConfiguration:
		return fmt.Sprintf("cannot activate %q: invalid configuration: %v", e.Tunnel, e.Err)
	default:
		return fmt.Sprintf("cannot activate %q", e.Tunnel)
	}
}

func (e *ActivationAttemptError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTunnelNotFound) match KindTunnelNotFound.
func (e *ActivationAttemptError) Is(target error) bool {
	return target == ErrTunnelNotFound && e.Kind == KindTunnelNotFound
}

// ActivationError is a failure reported by the VPN backend after an
// activation (or restart) was attempted.
type ActivationError struct {
	Tunnel string
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation of %q failed: %v", e.Tunnel, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// RemoveError is one failed removal inside a RemoveMultiple result.
type RemoveError struct {
	Name string
	Err  error
}

func (e *RemoveError) Error() string { return fmt.Sprintf("remove %q: %v", e.Name, e.Err) }

func (e *RemoveError) Unwrap() error { return e.Err }

// AddError is one failed import inside an AddMultiple result.
type AddError struct {
	Name string
	Err  error
}

func (e *AddError) Error() string { return fmt.Sprintf("add %q: %v", e.Name, e.Err) }

func (e *AddError) Unwrap() error { return e.Err }
