package xdp

import (
	"fmt"
	"strings"
)

// Mode selects where the kernel runs the program.
type Mode string

const (
	// ModeGeneric runs in the networking stack after skb allocation. Works on
	// every driver.
	ModeGeneric Mode = "generic"
	// ModeDriver runs in the driver receive path. Requires driver support.
	ModeDriver Mode = "driver"
	// ModeOffload runs on the NIC.
	ModeOffload Mode = "offload"
)

// ParseMode parses a mode name. An empty string selects ModeGeneric.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeGeneric, "skb":
		return ModeGeneric, nil
	case ModeDriver, "native", "drv":
		return ModeDriver, nil
	case ModeOffload, "hw":
		return ModeOffload, nil
	default:
		return "", fmt.Errorf("unknown xdp mode %q (must be generic/driver/offload)", s)
	}
}
