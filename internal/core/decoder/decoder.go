// Package decoder implements bounds-checked header views over raw frames.
//
// A view is a sub-slice of the frame it was taken from. Views copy nothing,
// own nothing and must not outlive the frame. Every constructor checks the
// bytes it projects are inside the frame and reports core.ErrPacketTooShort
// (or core.ErrBadHeaderLength) otherwise; accessor methods only read inside
// the projected range. The zero value of a view is not valid.
package decoder

// Protocol numbers
const (
	ProtocolICMP   = 1
	ProtocolTCP    = 6
	ProtocolUDP    = 17
	ProtocolGRE    = 47
	ProtocolESP    = 50
	ProtocolICMPv6 = 58
	ProtocolSCTP   = 132
)

// MinTransportHeaderLen returns the fixed part of the transport header for
// proto, or 0 when the protocol has no header the classifier needs to see.
func MinTransportHeaderLen(proto uint8) int {
	switch proto {
	case ProtocolTCP:
		return tcpHeaderMinLen
	case ProtocolUDP:
		return udpHeaderLen
	case ProtocolICMP, ProtocolICMPv6:
		return icmpHeaderLen
	case ProtocolSCTP:
		return sctpHeaderLen
	default:
		return 0
	}
}
