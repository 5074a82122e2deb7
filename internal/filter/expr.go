package filter

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileExpr compiles a tcpdump filter expression for Ethernet frames.
func CompileExpr(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	compiled, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(compiled))
	for i, ins := range compiled {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// Matcher runs a cBPF program over frames in userspace.
type Matcher struct {
	vm *bpf.VM
}

// NewMatcher compiles expr into a Matcher.
func NewMatcher(expr string, snapLen int) (*Matcher, error) {
	raw, err := CompileExpr(expr, snapLen)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("filter %q: program holds instructions the VM cannot run", expr)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Matcher{vm: vm}, nil
}

// Match reports whether the program accepts frame.
func (m *Matcher) Match(frame []byte) bool {
	n, err := m.vm.Run(frame)
	return err == nil && n > 0
}
