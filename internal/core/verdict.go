// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of classifying one frame. The set is closed.
type Verdict uint8

const (
	// Pass lets the frame continue normal receive processing.
	Pass Verdict = iota
	// Redirect transmits the frame back out the interface it arrived on
	// without handing it up the stack.
	Redirect
	// Drop discards the frame silently.
	Drop
)

// XDP return codes, from linux/bpf.h.
const (
	XDPAborted = 0
	XDPDrop    = 1
	XDPPass    = 2
	XDPTx      = 3
)

// Verdicts lists every verdict in declaration order.
var Verdicts = [...]Verdict{Pass, Redirect, Drop}

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Redirect:
		return "redirect"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Valid reports whether v is one of the defined verdicts.
func (v Verdict) Valid() bool {
	return v <= Drop
}

// XDPAction maps the verdict to the XDP action the kernel hook returns.
func (v Verdict) XDPAction() int32 {
	switch v {
	case Redirect:
		return XDPTx
	case Drop:
		return XDPDrop
	default:
		return XDPPass
	}
}

// ParseVerdict parses a verdict name. "tx", "bounce" and "ghost" are accepted
// as aliases of redirect.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "accept", "":
		return Pass, nil
	case "redirect", "tx", "bounce", "ghost":
		return Redirect, nil
	case "drop", "discard":
		return Drop, nil
	default:
		return Pass, fmt.Errorf("unknown verdict %q (must be pass/redirect/drop)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid verdict %d", uint8(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
