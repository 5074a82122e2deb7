// Package core defines core data structures with zero external dependencies.
package core

import "time"

// Frame is a raw link-layer frame. It is read-only for the classifier.
type Frame []byte

// Len returns the frame length L.
func (f Frame) Len() int { return len(f) }

// RawPacket is captured from the network interface, zero-copy reference to ring buffer.
type RawPacket struct {
	Data           Frame     // Raw frame data, zero-copy slice
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index the frame arrived on
}

// Truncated reports whether the capture cut the frame short.
func (p RawPacket) Truncated() bool {
	return p.OrigLen > p.CaptureLen
}
