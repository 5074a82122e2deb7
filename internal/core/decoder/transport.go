package decoder

import (
	"encoding/binary"

	"firestige.xyz/frameguard/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	icmpHeaderLen   = 8
	sctpHeaderLen   = 12
)

// TransportView is a read-only projection of the fixed part of a transport
// header. It spans MinTransportHeaderLen(proto) bytes, which may be zero.
type TransportView struct {
	b     []byte
	proto uint8
}

// Transport projects the transport header for proto that starts at off.
func Transport(frame []byte, off int, proto uint8) (TransportView, error) {
	need := MinTransportHeaderLen(proto)
	if off < 0 || len(frame)-off < need {
		return TransportView{}, core.ErrPacketTooShort
	}
	end := off + need
	return TransportView{b: frame[off:end:end], proto: proto}, nil
}

// Protocol returns the protocol number the view was taken for.
func (t TransportView) Protocol() uint8 { return t.proto }

// Len returns the number of bytes this view spans.
func (t TransportView) Len() int { return len(t.b) }

// HasPorts reports whether the protocol carries 16-bit ports in its first
// four bytes.
func (t TransportView) HasPorts() bool {
	switch t.proto {
	case ProtocolTCP, ProtocolUDP, ProtocolSCTP:
		return len(t.b) >= 4
	default:
		return false
	}
}

// SrcPort returns the source port, or 0 when the protocol has none.
func (t TransportView) SrcPort() uint16 {
	if !t.HasPorts() {
		return 0
	}
	return binary.BigEndian.Uint16(t.b[0:2])
}

// DstPort returns the destination port, or 0 when the protocol has none.
func (t TransportView) DstPort() uint16 {
	if !t.HasPorts() {
		return 0
	}
	return binary.BigEndian.Uint16(t.b[2:4])
}

// TCPFlags returns the six classic TCP flag bits (URG ACK PSH RST SYN FIN),
// or 0 for other protocols.
func (t TransportView) TCPFlags() uint8 {
	if t.proto != ProtocolTCP {
		return 0
	}
	// Byte 13: | CWR ECE | URG ACK PSH RST SYN FIN |
	return t.b[13] & 0x3F
}
