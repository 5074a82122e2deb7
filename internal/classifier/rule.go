package classifier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
)

// MaxRules bounds the work done per frame.
const MaxRules = 64

// Protocol is an IP protocol number, or AnyProtocol.
type Protocol uint16

// AnyProtocol matches every frame of the rule's EtherType without looking
// past the link header.
const AnyProtocol Protocol = 0x100

func (p Protocol) String() string {
	if p == AnyProtocol {
		return "any"
	}
	if p > 0xFF {
		return fmt.Sprintf("protocol(%d)", uint16(p))
	}
	name := layers.IPProtocol(p).String()
	if strings.HasPrefix(name, "Unknown") {
		return strconv.Itoa(int(p))
	}
	return strings.ToLower(name)
}

// Rule maps an (EtherType, IP protocol) pair to a verdict.
type Rule struct {
	Name      string
	EtherType uint16
	Protocol  Protocol
	Verdict   core.Verdict
}

func (r Rule) String() string {
	name := r.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s: %s/%s -> %s", name, EtherTypeName(r.EtherType), r.Protocol, r.Verdict)
}

// Policy holds the verdicts returned when no rule decides the frame.
type Policy struct {
	// Unmatched is returned when no rule matched.
	Unmatched core.Verdict
	// Truncated is returned when a header needed to evaluate a rule is
	// missing or malformed.
	Truncated core.Verdict
}

// FailOpen is the default policy: anything the table cannot decide passes.
var FailOpen = Policy{Unmatched: core.Pass, Truncated: core.Pass}

// Table is an immutable, validated, ordered rule set. First match wins.
type Table struct {
	rules       []Rule
	policy      Policy
	ipv4Options bool
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithPolicy sets the fallback verdicts.
func WithPolicy(p Policy) TableOption {
	return func(t *Table) { t.policy = p }
}

// WithIPv4Options makes the walk honour the IPv4 IHL field instead of
// assuming a 20-byte header.
func WithIPv4Options(enabled bool) TableOption {
	return func(t *Table) { t.ipv4Options = enabled }
}

// NewTable validates rules and returns a table holding a private copy of them.
// All problems are reported at once; each wraps core.ErrRuleInvalid.
func NewTable(rules []Rule, opts ...TableOption) (*Table, error) {
	t := &Table{policy: FailOpen}
	for _, opt := range opts {
		opt(t)
	}

	var errs []error
	if len(rules) > MaxRules {
		errs = append(errs, fmt.Errorf("%w: %d rules exceeds limit of %d", core.ErrRuleInvalid, len(rules), MaxRules))
	}
	if !t.policy.Unmatched.Valid() {
		errs = append(errs, fmt.Errorf("%w: unmatched policy: %s", core.ErrRuleInvalid, t.policy.Unmatched))
	}
	if !t.policy.Truncated.Valid() {
		errs = append(errs, fmt.Errorf("%w: truncated policy: %s", core.ErrRuleInvalid, t.policy.Truncated))
	}

	seen := make(map[string]int, len(rules))
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, r.Name, err))
		}
		if r.Name == "" {
			continue
		}
		if j, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("rule %d: %w: name %q already used by rule %d", i, core.ErrRuleInvalid, r.Name, j))
			continue
		}
		seen[r.Name] = i
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	t.rules = append([]Rule(nil), rules...)
	return t, nil
}

func validateRule(r Rule) error {
	if !r.Verdict.Valid() {
		return fmt.Errorf("%w: unknown verdict %s", core.ErrRuleInvalid, r.Verdict)
	}
	if r.Protocol == AnyProtocol {
		return nil
	}
	if r.Protocol > 0xFF {
		return fmt.Errorf("%w: protocol %d out of range", core.ErrRuleInvalid, uint16(r.Protocol))
	}
	if r.EtherType != decoder.EtherTypeIPv4 && r.EtherType != decoder.EtherTypeIPv6 {
		return fmt.Errorf("%w: protocol %s requires an ipv4 or ipv6 ether type, got %s",
			core.ErrRuleInvalid, r.Protocol, EtherTypeName(r.EtherType))
	}
	return nil
}

// DefaultTable redirects IPv4 TCP and passes everything else.
func DefaultTable() *Table {
	return &Table{
		rules: []Rule{{
			Name:      "ipv4-tcp",
			EtherType: decoder.EtherTypeIPv4,
			Protocol:  decoder.ProtocolTCP,
			Verdict:   core.Redirect,
		}},
		policy: FailOpen,
	}
}

// Rules returns a copy of the rules in evaluation order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }

// Policy returns the fallback verdicts.
func (t *Table) Policy() Policy { return t.policy }

// IPv4Options reports whether the walk honours IHL.
func (t *Table) IPv4Options() bool { return t.ipv4Options }

func (t *Table) String() string {
	var b strings.Builder
	for i, r := range t.rules {
		fmt.Fprintf(&b, "%2d  %s\n", i, r)
	}
	fmt.Fprintf(&b, "    unmatched -> %s, truncated -> %s", t.policy.Unmatched, t.policy.Truncated)
	if t.ipv4Options {
		b.WriteString(", ipv4 options honoured")
	}
	return b.String()
}

var etherTypeNames = map[string]uint16{
	"ipv4": decoder.EtherTypeIPv4,
	"ip":   decoder.EtherTypeIPv4,
	"ipv6": decoder.EtherTypeIPv6,
	"ip6":  decoder.EtherTypeIPv6,
	"arp":  decoder.EtherTypeARP,
	"vlan": decoder.EtherTypeVLAN,
	"qinq": decoder.EtherTypeQinQ,
}

// ParseEtherType accepts a name (ipv4, ipv6, arp, vlan, qinq) or a number in
// decimal or 0x-prefixed hex.
func ParseEtherType(s string) (uint16, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, ok := etherTypeNames[s]; ok {
		return v, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: ether type %q", core.ErrRuleInvalid, s)
	}
	return uint16(v), nil
}

// EtherTypeName returns a lower-case name for well-known ether types and
// 0x-prefixed hex for the rest.
func EtherTypeName(et uint16) string {
	name := layers.EthernetType(et).String()
	if strings.HasPrefix(name, "Unknown") {
		return fmt.Sprintf("0x%04x", et)
	}
	return strings.ToLower(name)
}

var protocolNames = map[string]Protocol{
	"":       AnyProtocol,
	"any":    AnyProtocol,
	"*":      AnyProtocol,
	"icmp":   decoder.ProtocolICMP,
	"tcp":    decoder.ProtocolTCP,
	"udp":    decoder.ProtocolUDP,
	"gre":    decoder.ProtocolGRE,
	"esp":    decoder.ProtocolESP,
	"icmpv6": decoder.ProtocolICMPv6,
	"sctp":   decoder.ProtocolSCTP,
}

// ParseProtocol accepts a protocol name, "any", or a number 0-255.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := protocolNames[s]; ok {
		return p, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: protocol %q", core.ErrRuleInvalid, s)
	}
	return Protocol(v), nil
}
