// Package fixtures builds well-formed test frames and pcap files.
package fixtures

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
	srcV4  = net.IP{10, 0, 0, 1}
	dstV4  = net.IP{10, 0, 0, 2}
	srcV6  = net.ParseIP("2001:db8::1")
	dstV6  = net.ParseIP("2001:db8::2")

	epoch = time.Unix(1700000000, 0)
)

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(fmt.Sprintf("fixtures: serialize: %v", err))
	}
	return append([]byte(nil), buf.Bytes()...)
}

func ethernet(et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: et}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: srcV4, DstIP: dstV4}
}

func ipv6(next layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: next, SrcIP: srcV6, DstIP: dstV6}
}

func tcp(ip gopacket.NetworkLayer) *layers.TCP {
	t := &layers.TCP{SrcPort: 40000, DstPort: 443, Seq: 1, SYN: true, Window: 14600}
	if err := t.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return t
}

func udp(ip gopacket.NetworkLayer) *layers.UDP {
	u := &layers.UDP{SrcPort: 40000, DstPort: 53}
	if err := u.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return u
}

// TCP4 returns an Ethernet/IPv4/TCP frame.
func TCP4(payload []byte) []byte {
	ip := ipv4(layers.IPProtocolTCP)
	return serialize(ethernet(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload(payload))
}

// TCP4Options returns an Ethernet/IPv4/TCP frame whose IPv4 header carries
// one word of options (IHL 6).
func TCP4Options(payload []byte) []byte {
	ip := ipv4(layers.IPProtocolTCP)
	ip.Options = []layers.IPv4Option{{OptionType: 1}, {OptionType: 1}, {OptionType: 1}, {OptionType: 1}}
	return serialize(ethernet(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload(payload))
}

// UDP4 returns an Ethernet/IPv4/UDP frame.
func UDP4(payload []byte) []byte {
	ip := ipv4(layers.IPProtocolUDP)
	return serialize(ethernet(layers.EthernetTypeIPv4), ip, udp(ip), gopacket.Payload(payload))
}

// ICMP4 returns an Ethernet/IPv4/ICMP echo request.
func ICMP4() []byte {
	ip := ipv4(layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	return serialize(ethernet(layers.EthernetTypeIPv4), ip, icmp)
}

// TCP6 returns an Ethernet/IPv6/TCP frame.
func TCP6(payload []byte) []byte {
	ip := ipv6(layers.IPProtocolTCP)
	return serialize(ethernet(layers.EthernetTypeIPv6), ip, tcp(ip), gopacket.Payload(payload))
}

// UDP6 returns an Ethernet/IPv6/UDP frame.
func UDP6(payload []byte) []byte {
	ip := ipv6(layers.IPProtocolUDP)
	return serialize(ethernet(layers.EthernetTypeIPv6), ip, udp(ip), gopacket.Payload(payload))
}

// ARP returns an Ethernet/ARP request.
func ARP() []byte {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcV4.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    dstV4.To4(),
	}
	return serialize(ethernet(layers.EthernetTypeARP), arp)
}

// Corpus returns one frame of every kind the fixtures build, keyed by name.
func Corpus() map[string][]byte {
	return map[string][]byte{
		"tcp4":         TCP4([]byte("hello")),
		"tcp4-options": TCP4Options(nil),
		"udp4":         UDP4([]byte{0x01, 0x02}),
		"icmp4":        ICMP4(),
		"tcp6":         TCP6(nil),
		"udp6":         UDP6([]byte{0x01}),
		"arp":          ARP(),
	}
}

// WritePcap writes frames to path as an Ethernet pcap file.
func WritePcap(path string, frames ...[]byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create pcap: %w", err)
	}
	defer file.Close()

	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     epoch.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := writer.WritePacket(ci, frame); err != nil {
			return fmt.Errorf("write packet %d: %w", i, err)
		}
	}
	return nil
}
