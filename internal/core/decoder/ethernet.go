package decoder

import (
	"encoding/binary"

	"firestige.xyz/frameguard/internal/core"
)

const (
	// EthernetHeaderLen is the length of an untagged Ethernet II header.
	EthernetHeaderLen = 14
	etherTypeOffset   = 12

	// EtherType values
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeVLAN = 0x8100
	EtherTypeIPv6 = 0x86DD
	EtherTypeQinQ = 0x88A8
)

// EthernetView is a read-only projection of an Ethernet II header.
// VLAN tags are not unwrapped: a tagged frame reports EtherTypeVLAN.
type EthernetView struct {
	b []byte
}

// Ethernet projects the Ethernet header at the start of frame.
func Ethernet(frame []byte) (EthernetView, error) {
	if len(frame) < EthernetHeaderLen {
		return EthernetView{}, core.ErrPacketTooShort
	}
	return EthernetView{b: frame[:EthernetHeaderLen:EthernetHeaderLen]}, nil
}

// DstMAC returns the destination MAC address.
func (e EthernetView) DstMAC() [6]byte {
	var mac [6]byte
	copy(mac[:], e.b[0:6])
	return mac
}

// SrcMAC returns the source MAC address.
func (e EthernetView) SrcMAC() [6]byte {
	var mac [6]byte
	copy(mac[:], e.b[6:12])
	return mac
}

// EtherType returns the protocol field in host byte order.
func (e EthernetView) EtherType() uint16 {
	return binary.BigEndian.Uint16(e.b[etherTypeOffset : etherTypeOffset+2])
}

// Len returns the header length.
func (e EthernetView) Len() int {
	return len(e.b)
}
