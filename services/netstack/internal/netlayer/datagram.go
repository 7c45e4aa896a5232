package netlayer

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/net/ipv6"

	"nodestack-go/types"
)

const protoUDP = 17

// LinkLocal is the fe80::/64 address of a link address.
func LinkLocal(a types.LinkAddr) netip.Addr {
	var b [16]byte
	b[0], b[1] = 0xfe, 0x80
	iid := a.IID()
	copy(b[8:], iid[:])
	return netip.AddrFrom16(b)
}

// AllNodes is ff02::1.
var AllNodes = netip.MustParseAddr("ff02::1")

// UDP builds an IPv6 datagram carrying one UDP message.
func UDP(src, dst netip.Addr, sport, dport uint16, hopLimit uint8, payload []byte) []byte {
	ulen := 8 + len(payload)
	b := make([]byte, ipv6.HeaderLen+ulen)
	h := header{plen: ulen, nh: protoUDP, hlim: hopLimit, src: src.As16(), dst: dst.As16()}
	h.put(b)
	u := b[ipv6.HeaderLen:]
	binary.BigEndian.PutUint16(u[0:], sport)
	binary.BigEndian.PutUint16(u[2:], dport)
	binary.BigEndian.PutUint16(u[4:], uint16(ulen))
	copy(u[8:], payload)
	binary.BigEndian.PutUint16(u[6:], udpChecksum(&h, u))
	return b
}

// UDPPayload returns the ports and payload of a UDP datagram, or ok=false.
func UDPPayload(datagram []byte) (sport, dport uint16, payload []byte, ok bool) {
	h, err := parseHeader(datagram)
	if err != nil || h.nh != protoUDP || h.plen < 8 {
		return 0, 0, nil, false
	}
	u := datagram[ipv6.HeaderLen:]
	return binary.BigEndian.Uint16(u[0:]), binary.BigEndian.Uint16(u[2:]), u[8:], true
}

// udpChecksum is the RFC 8200 checksum over the pseudo-header and u, with
// u's checksum field zero.
func udpChecksum(h *header, u []byte) uint16 {
	var sum uint32
	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(b[i])<<8 | uint32(b[i+1])
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	add(h.src[:])
	add(h.dst[:])
	sum += uint32(len(u)) + protoUDP
	add(u)
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	c := ^uint16(sum)
	if c == 0 {
		c = 0xffff
	}
	return c
}
