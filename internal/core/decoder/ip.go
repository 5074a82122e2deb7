package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/frameguard/internal/core"
)

const (
	// IPv4HeaderMinLen is the length of an IPv4 header without options.
	IPv4HeaderMinLen = 20
	// IPv6HeaderLen is the length of the fixed IPv6 header.
	IPv6HeaderLen = 40

	ipv4ProtocolOffset   = 9
	ipv6NextHeaderOffset = 6
)

// IPv4View is a read-only projection of an IPv4 header.
type IPv4View struct {
	b []byte
}

// IPv4 projects the IPv4 header that starts at off.
//
// With honorIHL false the header is taken to be exactly IPv4HeaderMinLen
// bytes and the IHL field is ignored; options, if present, are treated as
// transport bytes. With honorIHL true the header spans IHL*4 bytes, an IHL
// below 5 yields core.ErrBadHeaderLength and the full header must fit.
func IPv4(frame []byte, off int, honorIHL bool) (IPv4View, error) {
	if off < 0 || len(frame)-off < IPv4HeaderMinLen {
		return IPv4View{}, core.ErrPacketTooShort
	}
	headerLen := IPv4HeaderMinLen
	if honorIHL {
		headerLen = int(frame[off]&0x0F) * 4
		if headerLen < IPv4HeaderMinLen {
			return IPv4View{}, core.ErrBadHeaderLength
		}
		if len(frame)-off < headerLen {
			return IPv4View{}, core.ErrPacketTooShort
		}
	}
	end := off + headerLen
	return IPv4View{b: frame[off:end:end]}, nil
}

// Version returns the version nibble as found in the frame.
func (v IPv4View) Version() uint8 { return v.b[0] >> 4 }

// IHL returns the header length field in 32-bit words.
func (v IPv4View) IHL() uint8 { return v.b[0] & 0x0F }

// HeaderLen returns the number of bytes this view spans.
func (v IPv4View) HeaderLen() int { return len(v.b) }

// TotalLen returns the Total Length field.
func (v IPv4View) TotalLen() uint16 { return binary.BigEndian.Uint16(v.b[2:4]) }

// TTL returns the time-to-live field.
func (v IPv4View) TTL() uint8 { return v.b[8] }

// Protocol returns the transport protocol number.
func (v IPv4View) Protocol() uint8 { return v.b[ipv4ProtocolOffset] }

// SrcIP returns the source address.
func (v IPv4View) SrcIP() netip.Addr { return netip.AddrFrom4([4]byte(v.b[12:16])) }

// DstIP returns the destination address.
func (v IPv4View) DstIP() netip.Addr { return netip.AddrFrom4([4]byte(v.b[16:20])) }

// IsFragment reports whether MF is set or the fragment offset is non-zero.
func (v IPv4View) IsFragment() bool {
	flagsOffset := binary.BigEndian.Uint16(v.b[6:8])
	return flagsOffset&0x2000 != 0 || flagsOffset&0x1FFF != 0
}

// IPv6View is a read-only projection of the fixed IPv6 header.
// Extension headers are not followed.
type IPv6View struct {
	b []byte
}

// IPv6 projects the fixed IPv6 header that starts at off.
func IPv6(frame []byte, off int) (IPv6View, error) {
	if off < 0 || len(frame)-off < IPv6HeaderLen {
		return IPv6View{}, core.ErrPacketTooShort
	}
	end := off + IPv6HeaderLen
	return IPv6View{b: frame[off:end:end]}, nil
}

// PayloadLen returns the Payload Length field.
func (v IPv6View) PayloadLen() uint16 { return binary.BigEndian.Uint16(v.b[4:6]) }

// NextHeader returns the Next Header field.
func (v IPv6View) NextHeader() uint8 { return v.b[ipv6NextHeaderOffset] }

// HopLimit returns the Hop Limit field.
func (v IPv6View) HopLimit() uint8 { return v.b[7] }

// SrcIP returns the source address.
func (v IPv6View) SrcIP() netip.Addr { return netip.AddrFrom16([16]byte(v.b[8:24])) }

// DstIP returns the destination address.
func (v IPv6View) DstIP() netip.Addr { return netip.AddrFrom16([16]byte(v.b[24:40])) }

// HeaderLen returns the number of bytes this view spans.
func (v IPv6View) HeaderLen() int { return len(v.b) }
