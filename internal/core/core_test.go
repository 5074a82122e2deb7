package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{Pass, "pass"},
		{Redirect, "redirect"},
		{Drop, "drop"},
		{Verdict(9), "verdict(9)"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", uint8(tt.v), got, tt.want)
		}
	}
}

func TestVerdictZeroValueIsPass(t *testing.T) {
	var v Verdict
	if v != Pass {
		t.Errorf("expected zero Verdict to be Pass, got %v", v)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		input string
		want  Verdict
	}{
		{"pass", Pass},
		{"PASS", Pass},
		{"", Pass},
		{"redirect", Redirect},
		{"tx", Redirect},
		{"ghost", Redirect},
		{" drop ", Drop},
		{"discard", Drop},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVerdict(tt.input)
			if err != nil {
				t.Fatalf("ParseVerdict(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseVerdict(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseVerdict("reject"); err == nil {
		t.Error("expected error for unknown verdict")
	}
}

func TestVerdictXDPAction(t *testing.T) {
	if Pass.XDPAction() != XDPPass {
		t.Errorf("Pass -> %d, want XDP_PASS", Pass.XDPAction())
	}
	if Redirect.XDPAction() != XDPTx {
		t.Errorf("Redirect -> %d, want XDP_TX", Redirect.XDPAction())
	}
	if Drop.XDPAction() != XDPDrop {
		t.Errorf("Drop -> %d, want XDP_DROP", Drop.XDPAction())
	}
}

func TestVerdictText(t *testing.T) {
	for _, v := range Verdicts {
		text, err := v.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) failed: %v", v, err)
		}
		var back Verdict
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) failed: %v", text, err)
		}
		if back != v {
			t.Errorf("text round trip: got %v, want %v", back, v)
		}
	}

	if _, err := Verdict(7).MarshalText(); err == nil {
		t.Error("expected error marshalling invalid verdict")
	}
}

func TestRawPacketTruncated(t *testing.T) {
	p := RawPacket{Data: make(Frame, 64), Timestamp: time.Now(), CaptureLen: 64, OrigLen: 1500}
	if !p.Truncated() {
		t.Error("expected truncated capture")
	}
	if p.Data.Len() != 64 {
		t.Errorf("expected frame length 64, got %d", p.Data.Len())
	}
	p.OrigLen = 64
	if p.Truncated() {
		t.Error("expected complete capture")
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("Distinct", func(t *testing.T) {
		errs := []error{
			ErrPacketTooShort, ErrBadHeaderLength, ErrUnsupportedProto,
			ErrRuleInvalid, ErrPrefilterUnsupported, ErrPipelineStopped,
			ErrSourceNotStarted, ErrUnsupportedPlatform, ErrConfigInvalid,
			ErrDaemonNotRunning,
		}
		for i := range errs {
			for j := i + 1; j < len(errs); j++ {
				if errors.Is(errs[i], errs[j]) {
					t.Errorf("%v should not match %v", errs[i], errs[j])
				}
			}
		}
	})

	t.Run("Wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("rule 3: %w", ErrRuleInvalid)
		if !errors.Is(wrapped, ErrRuleInvalid) {
			t.Error("wrapped error should match ErrRuleInvalid")
		}
	})
}
