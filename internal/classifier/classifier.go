// Package classifier implements the per-frame ingress classifier.
//
// Classification is a pure function of the frame bytes and an immutable rule
// table. It never allocates, never reads outside the frame and never fails:
// a frame whose headers cannot be read gets the table's Truncated verdict,
// which is Pass unless configured otherwise.
package classifier

import (
	"errors"
	"fmt"
	"sync/atomic"

	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
)

// Reason explains how a Decision was reached.
type Reason uint8

const (
	ReasonMatched Reason = iota
	ReasonUnmatched
	ReasonTruncatedLink
	ReasonTruncatedNetwork
	ReasonTruncatedTransport
	ReasonBadHeaderLength
)

// Reasons lists every reason in declaration order.
var Reasons = [...]Reason{
	ReasonMatched,
	ReasonUnmatched,
	ReasonTruncatedLink,
	ReasonTruncatedNetwork,
	ReasonTruncatedTransport,
	ReasonBadHeaderLength,
}

func (r Reason) String() string {
	switch r {
	case ReasonMatched:
		return "matched"
	case ReasonUnmatched:
		return "unmatched"
	case ReasonTruncatedLink:
		return "truncated_link"
	case ReasonTruncatedNetwork:
		return "truncated_network"
	case ReasonTruncatedTransport:
		return "truncated_transport"
	case ReasonBadHeaderLength:
		return "bad_header_length"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Truncated reports whether the reason is a header that could not be read.
func (r Reason) Truncated() bool {
	return r >= ReasonTruncatedLink
}

// Decision is a verdict together with how it was reached.
type Decision struct {
	Verdict core.Verdict
	// Rule is the index of the rule that matched, or of the rule being
	// evaluated when a header was missing. -1 when no rule was involved.
	Rule   int
	Reason Reason
}

func (d Decision) String() string {
	if d.Rule < 0 {
		return fmt.Sprintf("%s (%s)", d.Verdict, d.Reason)
	}
	return fmt.Sprintf("%s (%s, rule %d)", d.Verdict, d.Reason, d.Rule)
}

var defaultTable = DefaultTable()

// Classify classifies frame against DefaultTable.
func Classify(frame core.Frame) core.Verdict {
	return defaultTable.Explain(frame).Verdict
}

// Classify returns the verdict for frame.
func (t *Table) Classify(frame core.Frame) core.Verdict {
	return t.Explain(frame).Verdict
}

// Explain walks the rules in order and returns the first decision reached.
func (t *Table) Explain(frame core.Frame) Decision {
	eth, err := decoder.Ethernet(frame)
	if err != nil {
		return Decision{Verdict: t.policy.Truncated, Rule: -1, Reason: ReasonTruncatedLink}
	}
	etherType := eth.EtherType()

	// The network header is parsed at most once, when the first rule that
	// needs it is reached.
	var (
		parsed bool
		proto  uint8
		l4Off  int
		netErr error
	)
	for i := range t.rules {
		r := &t.rules[i]
		if r.EtherType != etherType {
			continue
		}
		if r.Protocol == AnyProtocol {
			return Decision{Verdict: r.Verdict, Rule: i, Reason: ReasonMatched}
		}
		if !parsed {
			parsed = true
			proto, l4Off, netErr = t.network(frame, etherType)
		}
		if netErr != nil {
			reason := ReasonTruncatedNetwork
			if errors.Is(netErr, core.ErrBadHeaderLength) {
				reason = ReasonBadHeaderLength
			}
			return Decision{Verdict: t.policy.Truncated, Rule: i, Reason: reason}
		}
		if Protocol(proto) != r.Protocol {
			continue
		}
		if _, err := decoder.Transport(frame, l4Off, proto); err != nil {
			return Decision{Verdict: t.policy.Truncated, Rule: i, Reason: ReasonTruncatedTransport}
		}
		return Decision{Verdict: r.Verdict, Rule: i, Reason: ReasonMatched}
	}
	return Decision{Verdict: t.policy.Unmatched, Rule: -1, Reason: ReasonUnmatched}
}

// network returns the IP protocol and the offset of the transport header.
func (t *Table) network(frame core.Frame, etherType uint16) (uint8, int, error) {
	switch etherType {
	case decoder.EtherTypeIPv4:
		ip, err := decoder.IPv4(frame, decoder.EthernetHeaderLen, t.ipv4Options)
		if err != nil {
			return 0, 0, err
		}
		return ip.Protocol(), decoder.EthernetHeaderLen + ip.HeaderLen(), nil
	case decoder.EtherTypeIPv6:
		ip, err := decoder.IPv6(frame, decoder.EthernetHeaderLen)
		if err != nil {
			return 0, 0, err
		}
		return ip.NextHeader(), decoder.EthernetHeaderLen + ip.HeaderLen(), nil
	default:
		return 0, 0, core.ErrUnsupportedProto
	}
}

// Classifier classifies frames against a table that can be replaced while
// other goroutines are classifying. Each call sees exactly one table.
type Classifier struct {
	table      atomic.Pointer[Table]
	generation atomic.Uint64
}

// New returns a Classifier using t, or DefaultTable when t is nil.
func New(t *Table) *Classifier {
	if t == nil {
		t = DefaultTable()
	}
	c := &Classifier{}
	c.table.Store(t)
	c.generation.Store(1)
	return c
}

// Classify returns the verdict for frame under the current table.
func (c *Classifier) Classify(frame core.Frame) core.Verdict {
	return c.table.Load().Explain(frame).Verdict
}

// Explain returns the decision for frame under the current table.
func (c *Classifier) Explain(frame core.Frame) Decision {
	return c.table.Load().Explain(frame)
}

// Table returns the table currently in use.
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Generation starts at 1 and increases by one on every Swap.
func (c *Classifier) Generation() uint64 {
	return c.generation.Load()
}

// Swap installs t and returns the table it replaced.
func (c *Classifier) Swap(t *Table) (*Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil table", core.ErrRuleInvalid)
	}
	old := c.table.Swap(t)
	c.generation.Add(1)
	return old, nil
}
