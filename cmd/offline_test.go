package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/config"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/fixtures"
	"firestige.xyz/frameguard/internal/source"
)

// hexString renders frame the way tcpdump -xx groups it.
func hexString(frame []byte) string {
	var b strings.Builder
	for i := 0; i < len(frame); i += 2 {
		end := i + 2
		if end > len(frame) {
			end = len(frame)
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(hex.EncodeToString(frame[i:end]))
	}
	return b.String()
}

func TestParseHexFrame(t *testing.T) {
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	for _, in := range []string{"deadbeef", "0xdeadbeef", "de:ad:be:ef", "dead beef\n", "DE AD\tBE EF"} {
		got, err := parseHexFrame(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseHexFrame("abc")
	assert.Error(t, err)
	_, err = parseHexFrame("zz")
	assert.Error(t, err)
}

func TestRunClassify(t *testing.T) {
	table := classifier.DefaultTable()

	tests := []struct {
		name  string
		frame []byte
		want  []string
	}{
		{"tcp4", fixtures.TCP4(nil), []string{"decision: redirect (matched, rule 0)", "rule:     ipv4-tcp: ipv4/tcp -> redirect"}},
		{"udp4", fixtures.UDP4(nil), []string{"decision: pass (unmatched)"}},
		{"truncated tcp4", fixtures.TCP4(nil)[:30], []string{"decision: pass (truncated_network, rule 0)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, runClassify(table, hexString(tt.frame), &buf))
			assert.Contains(t, buf.String(), fmt.Sprintf("frame:    %d bytes", len(tt.frame)))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestRunCompile(t *testing.T) {
	table := classifier.DefaultTable()

	var buf bytes.Buffer
	require.NoError(t, runCompile(table, targetCBPF, 0, false, &buf))
	assert.Contains(t, buf.String(), "(000) ld #type")
	assert.Contains(t, buf.String(), "(003) ld #len")
	assert.Contains(t, buf.String(), "ldh [12]")

	buf.Reset()
	require.NoError(t, runCompile(table, targetCBPF, 96, true, &buf))
	assert.Contains(t, buf.String(), "{ 0x20, 0, 0, 0xfffff004 },")
	assert.Contains(t, buf.String(), "{ 0x15, 0, 1, 0x00000004 },")
	assert.Contains(t, buf.String(), "{ 0x80, 0, 0, 0x00000000 },")
	assert.Contains(t, buf.String(), "{ 0x06, 0, 0, 0x00000060 },")

	buf.Reset()
	require.NoError(t, runCompile(table, targetXDP, 0, false, &buf))
	assert.Contains(t, buf.String(), "rule_0:")
	assert.Contains(t, buf.String(), "truncated:")

	err := runCompile(table, "ebpf", 0, false, &buf)
	assert.Error(t, err)
}

func TestRunCompile_FailClosed(t *testing.T) {
	table, err := classifier.NewTable(nil, classifier.WithPolicy(classifier.Policy{Unmatched: core.Pass, Truncated: core.Drop}))
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runCompile(table, targetCBPF, 0, false, &buf)
	assert.ErrorIs(t, err, core.ErrPrefilterUnsupported)

	// The XDP program can express a fail-closed policy.
	assert.NoError(t, runCompile(table, targetXDP, 0, false, &buf))
}

const validateConfig = `
frameguard:
  hook:
    interfaces: [eth0]
  rules:
    unmatched: pass
    table:
      - name: ghost
        ether_type: ipv4
        protocol: tcp
        verdict: ghost
      - ether_type: arp
        verdict: drop
`

func TestRunValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(validateConfig), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(path, false, &buf))
	assert.Contains(t, buf.String(), "2 rule(s), unmatched -> pass, truncated -> pass, mode afpacket")

	buf.Reset()
	require.NoError(t, runValidate(path, true, &buf))
	out := buf.String()
	assert.Contains(t, out, "rules:")
	assert.Contains(t, out, "name: ghost")
	assert.Contains(t, out, "verdict: redirect")
	assert.Contains(t, out, "ether_type: arp")

	// The dump is itself a valid rules section.
	dumped := filepath.Join(t.TempDir(), "dumped.yml")
	require.NoError(t, os.WriteFile(dumped, []byte("frameguard:\n"+indent(out)), 0644))
	cfg, err := config.Load(dumped)
	require.NoError(t, err)
	table, err := cfg.Rules.BuildTable()
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestRunValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
frameguard:
  rules:
    table:
      - ether_type: arp
        protocol: udp
`), 0644))

	var buf bytes.Buffer
	err := runValidate(path, false, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.ErrorIs(t, err, core.ErrRuleInvalid)
}

func TestRunReplay(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pcap")
	require.NoError(t, fixtures.WritePcap(input,
		fixtures.TCP4([]byte("a")),
		fixtures.UDP4(nil),
		fixtures.TCP6(nil),
		fixtures.TCP4(nil)[:20],
		fixtures.ARP(),
	))

	table, err := classifier.NewTable([]classifier.Rule{
		{Name: "tcp4", EtherType: 0x0800, Protocol: 6, Verdict: core.Redirect},
		{Name: "arp", EtherType: 0x0806, Protocol: classifier.AnyProtocol, Verdict: core.Drop},
	})
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), table, replayOptions{input: input, output: out, verbose: true}, &buf))

	s := buf.String()
	assert.Contains(t, s, "frames     5")
	assert.Contains(t, s, "pass       3")
	assert.Contains(t, s, "redirect   1")
	assert.Contains(t, s, "drop       1")
	assert.Contains(t, s, "truncated  1")
	assert.Contains(t, s, "rule hits:")
	assert.Contains(t, s, "redirect (matched, rule 0)")

	assert.Equal(t, 1, countFrames(t, filepath.Join(out, "redirect.pcap")))
	assert.Equal(t, 1, countFrames(t, filepath.Join(out, "drop.pcap")))
	_, err = os.Stat(filepath.Join(out, "pass.pcap"))
	assert.True(t, os.IsNotExist(err), "pass frames are not recorded by default")
}

func TestRunReplay_Filter(t *testing.T) {
	input := filepath.Join(t.TempDir(), "in.pcap")
	require.NoError(t, fixtures.WritePcap(input, fixtures.TCP4(nil), fixtures.UDP4(nil), fixtures.ARP()))

	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), classifier.DefaultTable(),
		replayOptions{input: input, filter: "ip"}, &buf))

	s := buf.String()
	assert.Contains(t, s, "filtered   1")
	assert.Contains(t, s, "frames     2")
	assert.Contains(t, s, "redirect   1")

	err := runReplay(context.Background(), classifier.DefaultTable(),
		replayOptions{input: input, filter: "not a filter ("}, &buf)
	assert.Error(t, err)
}

func TestRunReplay_MissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := runReplay(context.Background(), classifier.DefaultTable(),
		replayOptions{input: filepath.Join(t.TempDir(), "missing.pcap")}, &buf)
	assert.Error(t, err)
}

func countFrames(t *testing.T, path string) int {
	t.Helper()
	src, err := source.NewPcapFile(path)
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	n := 0
	for {
		if _, err := src.ReadFrame(); err != nil {
			return n
		}
		n++
	}
}

func TestMetricsURL(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{":9091", "http://127.0.0.1:9091/metrics"},
		{"0.0.0.0:9091", "http://127.0.0.1:9091/metrics"},
		{"10.0.0.5:8080", "http://10.0.0.5:8080/metrics"},
		{"[::]:9091", "http://127.0.0.1:9091/metrics"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, metricsURL(config.MetricsConfig{Listen: tt.listen, Path: "/metrics"}), tt.listen)
	}
}

func TestRunMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `# HELP frameguard_frames_total Frames classified.
# TYPE frameguard_frames_total counter
frameguard_frames_total{interface="eth0",verdict="redirect"} 12
frameguard_frames_total{interface="eth0",verdict="pass"} 30
# HELP frameguard_table_generation Generation of the active rule table.
# TYPE frameguard_table_generation gauge
frameguard_table_generation 3
# HELP go_goroutines Number of goroutines.
# TYPE go_goroutines gauge
go_goroutines 9
`)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	require.NoError(t, runMetrics(context.Background(), srv.URL, &buf))

	out := buf.String()
	assert.Contains(t, out, "frameguard_frames_total{interface=eth0,verdict=redirect}")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "frameguard_table_generation")
	assert.NotContains(t, out, "go_goroutines")
}
