//go:build linux

package xdp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/vishvananda/netlink"
)

var removeMemlock = sync.OnceValue(rlimit.RemoveMemlock)

// Hook is a program attached to one interface.
type Hook struct {
	iface string
	index int
	mode  Mode

	mu   sync.Mutex
	prog *ebpf.Program
	link link.Link
}

func (m Mode) flags() link.XDPAttachFlags {
	switch m {
	case ModeDriver:
		return link.XDPDriverMode
	case ModeOffload:
		return link.XDPOffloadMode
	default:
		return link.XDPGenericMode
	}
}

// Attach loads spec and attaches it to iface.
func Attach(iface string, spec *ebpf.ProgramSpec, mode Mode) (*Hook, error) {
	if err := removeMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock rlimit: %w", err)
	}

	l, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}
	index := l.Attrs().Index

	prog, err := load(spec)
	if err != nil {
		return nil, err
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: index,
		Flags:     mode.flags(),
	})
	if err != nil {
		prog.Close()
		return nil, fmt.Errorf("attach xdp to %s (%s mode): %w", iface, mode, err)
	}

	slog.Info("xdp program attached",
		"interface", iface,
		"ifindex", index,
		"mode", mode,
		"instructions", len(spec.Instructions))

	return &Hook{iface: iface, index: index, mode: mode, prog: prog, link: lnk}, nil
}

func load(spec *ebpf.ProgramSpec) (*ebpf.Program, error) {
	prog, err := ebpf.NewProgram(spec)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			slog.Error("xdp program rejected by verifier", "log", fmt.Sprintf("%+v", ve))
		}
		return nil, fmt.Errorf("load xdp program: %w", err)
	}
	return prog, nil
}

// Interface returns the name of the interface the hook is attached to.
func (h *Hook) Interface() string { return h.iface }

// Update loads spec and atomically replaces the attached program. On error
// the previous program stays attached.
func (h *Hook) Update(spec *ebpf.ProgramSpec) error {
	prog, err := load(spec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.link == nil {
		prog.Close()
		return fmt.Errorf("xdp hook on %s is closed", h.iface)
	}
	if err := h.link.Update(prog); err != nil {
		prog.Close()
		return fmt.Errorf("update xdp program on %s: %w", h.iface, err)
	}
	old := h.prog
	h.prog = prog
	old.Close()

	slog.Info("xdp program replaced", "interface", h.iface, "instructions", len(spec.Instructions))
	return nil
}

// Close detaches the program.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.link == nil {
		return nil
	}
	err := h.link.Close()
	h.prog.Close()
	h.link, h.prog = nil, nil
	slog.Info("xdp program detached", "interface", h.iface)
	return err
}
