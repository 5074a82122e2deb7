// Package filter compiles a rule table into a classic BPF socket filter.
//
// The program accepts exactly the frames the table gives a non-Pass verdict,
// so an AF_PACKET socket carrying it only delivers frames that need action.
// Programs handed to a socket also reject frames the host transmits itself.
// A cBPF load outside the frame aborts the program with 0, the same outcome
// as Pass, which is why only tables whose Truncated policy is Pass can be
// compiled.
package filter

import (
	"fmt"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
)

// DefaultSnapLen is returned for accepted frames when no snap length is given.
const DefaultSnapLen = 262144

// packetOutgoing is PACKET_OUTGOING from linux/if_packet.h.
const packetOutgoing = 4

const (
	offEtherType = 12
	offIPv4Proto = decoder.EthernetHeaderLen + 9
	offIPv6Next  = decoder.EthernetHeaderLen + 6
)

// Compile translates t into a cBPF program. Accepted frames are truncated to
// snapLen bytes; 0 selects DefaultSnapLen.
func Compile(t *classifier.Table, snapLen uint32) ([]bpf.Instruction, error) {
	if t.Policy().Truncated != core.Pass {
		return nil, fmt.Errorf("%w: truncated policy is %s", core.ErrPrefilterUnsupported, t.Policy().Truncated)
	}
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}

	p := newProgram(snapLen)
	// Frames without a link header are truncated whatever the table holds.
	p.requireLen(decoder.EthernetHeaderLen, "truncated")
	p.jumpAlways(ruleLabel(0))
	p.label("truncated")
	p.emit(bpf.RetConstant{Val: 0})
	for i, r := range t.Rules() {
		p.rule(i, r, t.IPv4Options())
	}
	p.label(ruleLabel(t.Len()))
	p.ret(t.Policy().Unmatched)

	return p.resolve()
}

// Assemble compiles t, guards it with IngressOnly and assembles the result
// for TPacket.SetBPF.
func Assemble(t *classifier.Table, snapLen uint32) ([]bpf.RawInstruction, error) {
	insns, err := Compile(t, snapLen)
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(IngressOnly(insns))
	if err != nil {
		return nil, fmt.Errorf("assemble prefilter: %w", err)
	}
	return raw, nil
}

// IngressOnly prepends a packet type check to insns that rejects frames
// leaving the host. Jumps in insns are relative and stay valid.
//
// The bpf VM does not implement the packet type extension, so tests run the
// unguarded program.
func IngressOnly(insns []bpf.Instruction) []bpf.Instruction {
	out := make([]bpf.Instruction, 0, len(insns)+3)
	out = append(out,
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: packetOutgoing, SkipFalse: 1},
		bpf.RetConstant{Val: 0},
	)
	return append(out, insns...)
}

// IngressAll is the socket filter for sources without a table prefilter:
// received frames are accepted up to snapLen bytes, transmitted ones are
// rejected.
func IngressAll(snapLen uint32) ([]bpf.RawInstruction, error) {
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}
	raw, err := bpf.Assemble(IngressOnly([]bpf.Instruction{bpf.RetConstant{Val: snapLen}}))
	if err != nil {
		return nil, fmt.Errorf("assemble ingress filter: %w", err)
	}
	return raw, nil
}

// Disassemble renders insns one per line in tcpdump -d style.
func Disassemble(insns []bpf.Instruction) string {
	var b strings.Builder
	for i, ins := range insns {
		fmt.Fprintf(&b, "(%03d) %s\n", i, ins)
	}
	return b.String()
}

func ruleLabel(i int) string   { return fmt.Sprintf("rule_%d", i) }
func rejectLabel(i int) string { return fmt.Sprintf("reject_%d", i) }

// jump is a conditional jump whose targets are labels. An empty label falls
// through to the next instruction.
type jump struct {
	at          int
	onTrue      string
	onFalse     string
	compareRegX bool
	always      bool
	cond        bpf.JumpTest
	val         uint32
}

type program struct {
	snapLen uint32
	insns   []bpf.Instruction
	labels  map[string]int
	jumps   []jump
}

func newProgram(snapLen uint32) *program {
	return &program{snapLen: snapLen, labels: make(map[string]int)}
}

func (p *program) emit(ins ...bpf.Instruction) {
	p.insns = append(p.insns, ins...)
}

func (p *program) label(name string) {
	p.labels[name] = len(p.insns)
}

func (p *program) jumpIf(cond bpf.JumpTest, val uint32, onTrue, onFalse string) {
	p.jumps = append(p.jumps, jump{at: len(p.insns), onTrue: onTrue, onFalse: onFalse, cond: cond, val: val})
	p.insns = append(p.insns, nil)
}

func (p *program) jumpIfX(cond bpf.JumpTest, onTrue, onFalse string) {
	p.jumps = append(p.jumps, jump{at: len(p.insns), onTrue: onTrue, onFalse: onFalse, cond: cond, compareRegX: true})
	p.insns = append(p.insns, nil)
}

func (p *program) jumpAlways(to string) {
	p.jumps = append(p.jumps, jump{at: len(p.insns), onTrue: to, always: true})
	p.insns = append(p.insns, nil)
}

func (p *program) ret(v core.Verdict) {
	if v == core.Pass {
		p.emit(bpf.RetConstant{Val: 0})
		return
	}
	p.emit(bpf.RetConstant{Val: p.snapLen})
}

// requireLen rejects the frame unless it holds at least n bytes.
func (p *program) requireLen(n uint32, reject string) {
	p.emit(bpf.LoadExtension{Num: bpf.ExtLen})
	p.jumpIf(bpf.JumpGreaterOrEqual, n, "", reject)
}

// requireLenX rejects the frame unless it holds at least X+n bytes. X is
// left holding X+n.
func (p *program) requireLenX(n uint32, reject string) {
	p.emit(
		bpf.TXA{},
		bpf.ALUOpConstant{Op: bpf.ALUOpAdd, Val: n},
		bpf.TAX{},
		bpf.LoadExtension{Num: bpf.ExtLen},
	)
	p.jumpIfX(bpf.JumpGreaterOrEqual, "", reject)
}

func (p *program) rule(i int, r classifier.Rule, ipv4Options bool) {
	next := ruleLabel(i + 1)
	reject := rejectLabel(i)

	p.label(ruleLabel(i))
	p.emit(bpf.LoadAbsolute{Off: offEtherType, Size: 2})
	p.jumpIf(bpf.JumpEqual, uint32(r.EtherType), "", next)

	if r.Protocol == classifier.AnyProtocol {
		p.ret(r.Verdict)
		return
	}

	proto := uint8(r.Protocol)
	transport := uint32(decoder.MinTransportHeaderLen(proto))

	switch {
	case r.EtherType == decoder.EtherTypeIPv6:
		l4 := uint32(decoder.EthernetHeaderLen + decoder.IPv6HeaderLen)
		p.requireLen(l4, reject)
		p.emit(bpf.LoadAbsolute{Off: offIPv6Next, Size: 1})
		p.jumpIf(bpf.JumpEqual, uint32(proto), "", next)
		if transport > 0 {
			p.requireLen(l4+transport, reject)
		}
	case ipv4Options:
		p.requireLen(decoder.EthernetHeaderLen+decoder.IPv4HeaderMinLen, reject)
		p.emit(
			bpf.LoadMemShift{Off: decoder.EthernetHeaderLen},
			bpf.TXA{},
		)
		p.jumpIf(bpf.JumpGreaterOrEqual, decoder.IPv4HeaderMinLen, "", reject)
		p.requireLenX(decoder.EthernetHeaderLen, reject)
		p.emit(bpf.LoadAbsolute{Off: offIPv4Proto, Size: 1})
		p.jumpIf(bpf.JumpEqual, uint32(proto), "", next)
		if transport > 0 {
			p.requireLenX(transport, reject)
		}
	default:
		l4 := uint32(decoder.EthernetHeaderLen + decoder.IPv4HeaderMinLen)
		p.requireLen(l4, reject)
		p.emit(bpf.LoadAbsolute{Off: offIPv4Proto, Size: 1})
		p.jumpIf(bpf.JumpEqual, uint32(proto), "", next)
		if transport > 0 {
			p.requireLen(l4+transport, reject)
		}
	}

	p.ret(r.Verdict)
	p.label(reject)
	p.emit(bpf.RetConstant{Val: 0})
}

func (p *program) resolve() ([]bpf.Instruction, error) {
	target := func(j jump, name string) (uint8, error) {
		if name == "" {
			return 0, nil
		}
		to, ok := p.labels[name]
		if !ok {
			return 0, fmt.Errorf("prefilter: undefined label %s", name)
		}
		skip := to - j.at - 1
		if skip < 0 || skip > 255 {
			return 0, fmt.Errorf("prefilter: jump from %d to %s out of range", j.at, name)
		}
		return uint8(skip), nil
	}

	for _, j := range p.jumps {
		st, err := target(j, j.onTrue)
		if err != nil {
			return nil, err
		}
		sf, err := target(j, j.onFalse)
		if err != nil {
			return nil, err
		}
		if j.always {
			p.insns[j.at] = bpf.Jump{Skip: uint32(st)}
			continue
		}
		if j.compareRegX {
			p.insns[j.at] = bpf.JumpIfX{Cond: j.cond, SkipTrue: st, SkipFalse: sf}
		} else {
			p.insns[j.at] = bpf.JumpIf{Cond: j.cond, Val: j.val, SkipTrue: st, SkipFalse: sf}
		}
	}
	return p.insns, nil
}
