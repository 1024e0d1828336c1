//go:build !linux

package vpn

import (
	"context"
	"errors"

	"wg-tunnels/internal/wgconf"
)

var errKernelUnsupported = errors.New("[VPN] kernel driver is only available on Linux")

// Kernel is unavailable on this platform; use the memory driver.
type Kernel struct{}

func NewKernel(prefix string) (*Kernel, error) {
	return nil, errKernelUnsupported
}

func (k *Kernel) Start(ctx context.Context, name string, cfg *wgconf.Config) error {
	return errKernelUnsupported
}

func (k *Kernel) Stop(ctx context.Context, name string) error { return errKernelUnsupported }

func (k *Kernel) Status(ctx context.Context, name string) (Status, error) {
	return Down, errKernelUnsupported
}

func (k *Kernel) Close() error { return nil }
