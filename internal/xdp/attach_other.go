//go:build !linux

package xdp

import (
	"fmt"

	"github.com/cilium/ebpf"

	"firestige.xyz/frameguard/internal/core"
)

// Hook is a program attached to one interface.
type Hook struct {
	iface string
}

// Attach is only available on linux.
func Attach(iface string, spec *ebpf.ProgramSpec, mode Mode) (*Hook, error) {
	return nil, fmt.Errorf("xdp attach to %s: %w", iface, core.ErrUnsupportedPlatform)
}

// Interface returns the name of the interface the hook is attached to.
func (h *Hook) Interface() string { return h.iface }

// Update is only available on linux.
func (h *Hook) Update(spec *ebpf.ProgramSpec) error {
	return core.ErrUnsupportedPlatform
}

// Close is a no-op.
func (h *Hook) Close() error { return nil }
