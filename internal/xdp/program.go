// Package xdp compiles a rule table into an XDP program and attaches it to
// network interfaces.
//
// The generated program performs the same walk as the userspace classifier.
// Every packet load is preceded by an explicit data/data_end comparison so
// the kernel verifier can prove the access in bounds.
package xdp

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
)

// ProgramName is the name the program is loaded under.
const ProgramName = "frameguard"

const (
	symTruncated = "truncated"

	// struct xdp_md
	offData    = 0
	offDataEnd = 4

	offEtherType = 12
	offIPv4Proto = decoder.EthernetHeaderLen + 9
	offIPv6Next  = decoder.EthernetHeaderLen + 6
)

// Register use:
//
//	R1 ctx, R2 data, R3 data_end, R4 scratch end pointer,
//	R5 ether type, R6 protocol, R7 IPv4 header length.
const (
	regData      = asm.R2
	regDataEnd   = asm.R3
	regEnd       = asm.R4
	regEtherType = asm.R5
	regProto     = asm.R6
	regIHL       = asm.R7
)

func ruleSymbol(i int) string { return fmt.Sprintf("rule_%d", i) }

// Compile translates t into an XDP program spec.
func Compile(t *classifier.Table) (*ebpf.ProgramSpec, error) {
	insns, err := Instructions(t)
	if err != nil {
		return nil, err
	}
	return &ebpf.ProgramSpec{
		Name:         ProgramName,
		Type:         ebpf.XDP,
		License:      "Dual MIT/GPL",
		Instructions: insns,
	}, nil
}

// Instructions returns the program body for t.
func Instructions(t *classifier.Table) (asm.Instructions, error) {
	policy := t.Policy()
	if !policy.Unmatched.Valid() || !policy.Truncated.Valid() {
		return nil, fmt.Errorf("%w: invalid policy", core.ErrRuleInvalid)
	}

	insns := asm.Instructions{
		asm.LoadMem(regData, asm.R1, offData, asm.Word),
		asm.LoadMem(regDataEnd, asm.R1, offDataEnd, asm.Word),
	}
	insns = append(insns, boundsCheck(decoder.EthernetHeaderLen)...)
	insns = append(insns,
		asm.LoadMem(regEtherType, regData, offEtherType, asm.Half),
		asm.HostTo(asm.BE, regEtherType, asm.Half),
	)

	for i, r := range t.Rules() {
		block, err := ruleBlock(i, r, t.IPv4Options())
		if err != nil {
			return nil, err
		}
		insns = append(insns, block...)
	}

	insns = append(insns,
		asm.Mov.Imm(asm.R0, policy.Unmatched.XDPAction()).WithSymbol(ruleSymbol(t.Len())),
		asm.Return(),
		asm.Mov.Imm(asm.R0, policy.Truncated.XDPAction()).WithSymbol(symTruncated),
		asm.Return(),
	)
	return insns, nil
}

// boundsCheck jumps to the truncated block unless data+n <= data_end.
func boundsCheck(n int32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(regEnd, regData),
		asm.Add.Imm(regEnd, n),
		asm.JGT.Reg(regEnd, regDataEnd, symTruncated),
	}
}

// boundsCheckIHL is boundsCheck for data+14+IHL*4+n.
func boundsCheckIHL(n int32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(regEnd, regData),
		asm.Add.Reg(regEnd, regIHL),
		asm.Add.Imm(regEnd, decoder.EthernetHeaderLen+n),
		asm.JGT.Reg(regEnd, regDataEnd, symTruncated),
	}
}

func ruleBlock(i int, r classifier.Rule, ipv4Options bool) (asm.Instructions, error) {
	if !r.Verdict.Valid() {
		return nil, fmt.Errorf("%w: rule %d: verdict %s", core.ErrRuleInvalid, i, r.Verdict)
	}
	next := ruleSymbol(i + 1)
	verdict := asm.Instructions{
		asm.Mov.Imm(asm.R0, r.Verdict.XDPAction()),
		asm.Return(),
	}

	insns := asm.Instructions{
		asm.JNE.Imm(regEtherType, int32(r.EtherType), next).WithSymbol(ruleSymbol(i)),
	}
	if r.Protocol == classifier.AnyProtocol {
		return append(insns, verdict...), nil
	}

	proto := uint8(r.Protocol)
	transport := int32(decoder.MinTransportHeaderLen(proto))

	switch {
	case r.EtherType == decoder.EtherTypeIPv6:
		l4 := int32(decoder.EthernetHeaderLen + decoder.IPv6HeaderLen)
		insns = append(insns, boundsCheck(l4)...)
		insns = append(insns,
			asm.LoadMem(regProto, regData, offIPv6Next, asm.Byte),
			asm.JNE.Imm(regProto, int32(proto), next),
		)
		if transport > 0 {
			insns = append(insns, boundsCheck(l4+transport)...)
		}
	case r.EtherType == decoder.EtherTypeIPv4 && ipv4Options:
		insns = append(insns, boundsCheck(decoder.EthernetHeaderLen+decoder.IPv4HeaderMinLen)...)
		insns = append(insns,
			asm.LoadMem(regIHL, regData, decoder.EthernetHeaderLen, asm.Byte),
			asm.And.Imm(regIHL, 0x0f),
			asm.LSh.Imm(regIHL, 2),
			asm.JLT.Imm(regIHL, decoder.IPv4HeaderMinLen, symTruncated),
		)
		insns = append(insns, boundsCheckIHL(0)...)
		insns = append(insns,
			asm.LoadMem(regProto, regData, offIPv4Proto, asm.Byte),
			asm.JNE.Imm(regProto, int32(proto), next),
		)
		if transport > 0 {
			insns = append(insns, boundsCheckIHL(transport)...)
		}
	case r.EtherType == decoder.EtherTypeIPv4:
		l4 := int32(decoder.EthernetHeaderLen + decoder.IPv4HeaderMinLen)
		insns = append(insns, boundsCheck(l4)...)
		insns = append(insns,
			asm.LoadMem(regProto, regData, offIPv4Proto, asm.Byte),
			asm.JNE.Imm(regProto, int32(proto), next),
		)
		if transport > 0 {
			insns = append(insns, boundsCheck(l4+transport)...)
		}
	default:
		return nil, fmt.Errorf("%w: rule %d: protocol match on ether type 0x%04x", core.ErrRuleInvalid, i, r.EtherType)
	}

	return append(insns, verdict...), nil
}
