// Package actuator carries out verdicts in userspace.
package actuator

import (
	"firestige.xyz/frameguard/internal/core"
)

// Actuator applies a verdict to the frame it was computed for.
type Actuator interface {
	Apply(v core.Verdict, pkt core.RawPacket) error
	Close() error
}

// PacketWriter transmits a raw frame. *source.AFPacket implements it.
type PacketWriter interface {
	WritePacketData(frame []byte) error
}

// Transmitter sends Redirect frames back out the interface they arrived on.
// Pass and Drop need no action in userspace: a frame seen on an AF_PACKET
// socket is a copy, and the kernel hook owns real drops.
type Transmitter struct {
	w PacketWriter
}

// NewTransmitter returns a Transmitter writing through w.
func NewTransmitter(w PacketWriter) *Transmitter {
	return &Transmitter{w: w}
}

func (t *Transmitter) Apply(v core.Verdict, pkt core.RawPacket) error {
	if v != core.Redirect {
		return nil
	}
	return t.w.WritePacketData(pkt.Data)
}

func (t *Transmitter) Close() error { return nil }

// Discard ignores every verdict.
type Discard struct{}

func (Discard) Apply(core.Verdict, core.RawPacket) error { return nil }
func (Discard) Close() error                             { return nil }
