// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil builds well-formed Ethernet frames for pipeline tests and
// the traffic simulator.
package testutil

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	// SrcMAC and DstMAC are the fixture MAC addresses.
	SrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// TCPFlags selects the flag bits of a synthesized TCP segment.
type TCPFlags struct {
	SYN, ACK, FIN, RST, PSH bool
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       SrcMAC,
		DstMAC:       DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
}

// TCPFrame builds an Ethernet+IPv4+TCP frame.
func TCPFrame(srcIP, dstIP string, srcPort, dstPort uint16, flags TCPFlags, seq, ack uint32, payload []byte) []byte {
	eth := ethernet()
	ip := ipv4(srcIP, dstIP, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		Ack:     ack,
		SYN:     flags.SYN,
		ACK:     flags.ACK,
		FIN:     flags.FIN,
		RST:     flags.RST,
		PSH:     flags.PSH,
		Window:  65535,
	}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

// UDPFrame builds an Ethernet+IPv4+UDP frame.
func UDPFrame(srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
	eth := ethernet()
	ip := ipv4(srcIP, dstIP, layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// ICMPFrame builds an Ethernet+IPv4+ICMP frame of the given type.
func ICMPFrame(srcIP, dstIP string, icmpType uint8, payload []byte) []byte {
	eth := ethernet()
	ip := ipv4(srcIP, dstIP, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(icmpType, 0),
	}
	return serialize(eth, ip, icmp, gopacket.Payload(payload))
}

// FragmentFrame builds a fragmented IPv4 frame. offset is in 8-byte units;
// more sets the more-fragments flag.
func FragmentFrame(srcIP, dstIP string, offset uint16, more bool, payload []byte) []byte {
	eth := ethernet()
	ip := ipv4(srcIP, dstIP, layers.IPProtocolUDP)
	ip.FragOffset = offset
	if more {
		ip.Flags = layers.IPv4MoreFragments
	}
	return serialize(eth, ip, gopacket.Payload(payload))
}

// VLANFrame wraps an IPv4+UDP packet in an 802.1Q tag.
func VLANFrame(vlanID uint16, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       SrcMAC,
		DstMAC:       DstMAC,
		EthernetType: layers.EthernetTypeDot1Q,
	}
	dot1q := &layers.Dot1Q{
		VLANIdentifier: vlanID,
		Type:           layers.EthernetTypeIPv4,
	}
	ip := ipv4(srcIP, dstIP, layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, dot1q, ip, udp, gopacket.Payload(payload))
}

// DNSQuery packs a single-question DNS query payload.
func DNSQuery(name string) []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	out, err := msg.Pack()
	if err != nil {
		panic(err)
	}
	return out
}

// DNSResponse packs a DNS response carrying the given number of A records,
// amplification-shaped when answers is large.
func DNSResponse(name string, answers int) []byte {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg := new(dns.Msg)
	msg.SetReply(q)
	for i := 0; i < answers; i++ {
		rr := &dns.A{
			Hdr: dns.RR_Header{
				Name:   dns.Fqdn(name),
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    300,
			},
			A: net.IPv4(192, 0, 2, byte(i+1)),
		}
		msg.Answer = append(msg.Answer, rr)
	}
	out, err := msg.Pack()
	if err != nil {
		panic(err)
	}
	return out
}

// NTPPayload builds an NTP header with the given mode and total length.
func NTPPayload(mode uint8, length int) []byte {
	if length < 1 {
		length = 1
	}
	p := make([]byte, length)
	// LI=0 VN=2, mode in the low three bits.
	p[0] = 2<<3 | mode&0x07
	return p
}
