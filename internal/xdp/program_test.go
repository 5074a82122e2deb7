package xdp

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
	"firestige.xyz/frameguard/internal/fixtures"
)

func mixedTable(t *testing.T, opts ...classifier.TableOption) *classifier.Table {
	t.Helper()
	table, err := classifier.NewTable([]classifier.Rule{
		{Name: "tcp4", EtherType: decoder.EtherTypeIPv4, Protocol: decoder.ProtocolTCP, Verdict: core.Redirect},
		{Name: "icmp4", EtherType: decoder.EtherTypeIPv4, Protocol: decoder.ProtocolICMP, Verdict: core.Pass},
		{Name: "ipv4", EtherType: decoder.EtherTypeIPv4, Protocol: classifier.AnyProtocol, Verdict: core.Drop},
		{Name: "udp6", EtherType: decoder.EtherTypeIPv6, Protocol: decoder.ProtocolUDP, Verdict: core.Drop},
		{Name: "arp", EtherType: decoder.EtherTypeARP, Protocol: classifier.AnyProtocol, Verdict: core.Pass},
	}, opts...)
	require.NoError(t, err)
	return table
}

func TestCompileSpec(t *testing.T) {
	spec, err := Compile(classifier.DefaultTable())
	require.NoError(t, err)

	assert.Equal(t, ProgramName, spec.Name)
	assert.Equal(t, ebpf.XDP, spec.Type)
	assert.NotEmpty(t, spec.License)
	assert.Equal(t, asm.Return().OpCode, spec.Instructions[len(spec.Instructions)-1].OpCode)
}

func TestInstructionsReferencesResolve(t *testing.T) {
	tables := map[string]*classifier.Table{
		"default": classifier.DefaultTable(),
		"mixed":   mixedTable(t),
		"options": mixedTable(t, classifier.WithIPv4Options(true)),
	}
	empty, err := classifier.NewTable(nil)
	require.NoError(t, err)
	tables["empty"] = empty

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			insns, err := Instructions(table)
			require.NoError(t, err)

			symbols := map[string]bool{}
			for _, ins := range insns {
				if sym := ins.Symbol(); sym != "" {
					assert.False(t, symbols[sym], "duplicate symbol %s", sym)
					symbols[sym] = true
				}
			}
			for _, ins := range insns {
				if ref := ins.Reference(); ref != "" {
					assert.True(t, symbols[ref], "unresolved reference %s", ref)
				}
			}
			for i := 0; i <= table.Len(); i++ {
				assert.True(t, symbols[ruleSymbol(i)], "missing %s", ruleSymbol(i))
			}
			assert.True(t, symbols[symTruncated])

			var buf bytes.Buffer
			require.NoError(t, insns.Marshal(&buf, binary.LittleEndian))
		})
	}
}

func TestInstructionsBoundsCheckBeforeLoad(t *testing.T) {
	insns, err := Instructions(mixedTable(t, classifier.WithIPv4Options(true)))
	require.NoError(t, err)

	// Every packet load must be covered by a preceding data_end comparison
	// spanning at least the byte loaded.
	checked := int64(-1)
	var pending int64
	for _, ins := range insns {
		switch {
		case ins.OpCode == asm.Mov.Op(asm.RegSource) && ins.Dst == regEnd:
			pending = 0
		case ins.OpCode == asm.Add.Op(asm.ImmSource) && ins.Dst == regEnd:
			pending += ins.Constant
		case ins.OpCode.JumpOp() == asm.JGT && ins.Dst == regEnd && ins.Src == regDataEnd:
			if pending > checked {
				checked = pending
			}
		case ins.OpCode.Class().IsLoad() && ins.Src == regData:
			end := int64(ins.Offset) + int64(ins.OpCode.Size().Sizeof())
			assert.LessOrEqual(t, end, checked, "load %v not bounds checked", ins)
		}
	}
}

func TestInstructionsEtherTypeByteOrder(t *testing.T) {
	insns, err := Instructions(classifier.DefaultTable())
	require.NoError(t, err)

	load := -1
	for i, ins := range insns {
		if ins.OpCode.Class().IsLoad() && ins.Src == regData && ins.Dst == regEtherType {
			load = i
			break
		}
	}
	require.GreaterOrEqual(t, load, 0, "ether type load not found")
	require.Less(t, load+1, len(insns))

	// The field is big endian on the wire and compared as a host value.
	want := asm.HostTo(asm.BE, regEtherType, asm.Half)
	got := insns[load+1]
	assert.Equal(t, want.OpCode, got.OpCode)
	assert.Equal(t, regEtherType, got.Dst)
	assert.Equal(t, int64(16), got.Constant)
}

func TestInstructionsVerdictMapping(t *testing.T) {
	insns, err := Instructions(mixedTable(t))
	require.NoError(t, err)

	actions := map[int64]bool{}
	for _, ins := range insns {
		if ins.OpCode == asm.Mov.Op(asm.ImmSource) && ins.Dst == asm.R0 {
			actions[ins.Constant] = true
		}
	}
	assert.True(t, actions[core.XDPPass])
	assert.True(t, actions[core.XDPTx])
	assert.True(t, actions[core.XDPDrop])
	assert.False(t, actions[core.XDPAborted])
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"":        ModeGeneric,
		"generic": ModeGeneric,
		"SKB":     ModeGeneric,
		"driver":  ModeDriver,
		"native":  ModeDriver,
		"offload": ModeOffload,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("turbo")
	assert.Error(t, err)
}

// TestProgramRun loads the program into the kernel and compares its verdicts
// with the userspace classifier.
func TestProgramRun(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("Skipping eBPF test - requires root privileges")
	}

	for name, table := range map[string]*classifier.Table{
		"default": classifier.DefaultTable(),
		"mixed":   mixedTable(t),
		"options": mixedTable(t, classifier.WithIPv4Options(true)),
	} {
		t.Run(name, func(t *testing.T) {
			spec, err := Compile(table)
			require.NoError(t, err)

			prog, err := ebpf.NewProgram(spec)
			if err != nil {
				t.Skipf("cannot load xdp program: %v", err)
			}
			defer prog.Close()

			for frameName, frame := range fixtures.Corpus() {
				// The kernel refuses test runs shorter than an Ethernet header.
				for l := len(frame); l >= decoder.EthernetHeaderLen; l-- {
					in := frame[:l]
					ret, err := prog.Run(&ebpf.RunOptions{Data: in})
					require.NoError(t, err)
					assert.Equal(t, uint32(table.Classify(in).XDPAction()), ret,
						"frame %s prefix %d: %s", frameName, l, table.Explain(in))
				}
			}
		})
	}
}
