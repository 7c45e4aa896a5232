package netlayer

import (
	"bytes"

	"golang.org/x/net/ipv6"

	"nodestack-go/errcode"
	"nodestack-go/types"
)

// Dispatch values (RFC 4944, RFC 6282).
const (
	dispatchIPv6  = 0x41
	dispatchIPHC  = 0x60 // 011xxxxx
	dispatchFrag1 = 0xc0 // 11000xxx
	dispatchFragN = 0xe0 // 11100xxx

	frag1Len = 4
	fragNLen = 5

	// maxHeader bounds either header form: dispatch plus a full IPv6 header,
	// or the largest IPHC encoding.
	maxHeader = 1 + ipv6.HeaderLen
)

const (
	iphcTF   = 3 << 3
	iphcNH   = 1 << 2
	iphcHLIM = 3

	iphcCID = 1 << 7
	iphcSAC = 1 << 6
	iphcSAM = 3 << 4
	iphcM   = 1 << 3
	iphcDAC = 1 << 2
	iphcDAM = 3
)

var errMalformed = &errcode.E{C: errcode.MalformedFrame, Op: "sicslowpan"}

func malformed(msg string) error {
	return &errcode.E{C: errcode.MalformedFrame, Op: "sicslowpan", Msg: msg}
}

// header is the fixed IPv6 header.
type header struct {
	tc   uint8
	flow uint32
	plen int
	nh   uint8
	hlim uint8
	src  [16]byte
	dst  [16]byte
}

func parseHeader(b []byte) (header, error) {
	var h header
	ih, err := ipv6.ParseHeader(b)
	if err != nil {
		return h, &errcode.E{C: errcode.InvalidPayload, Op: "sicslowpan", Err: err}
	}
	if ih.Version != ipv6.Version {
		return h, &errcode.E{C: errcode.InvalidPayload, Op: "sicslowpan", Msg: "not an IPv6 datagram"}
	}
	if ipv6.HeaderLen+ih.PayloadLen != len(b) {
		return h, &errcode.E{C: errcode.InvalidPayload, Op: "sicslowpan", Msg: "payload length does not match datagram"}
	}
	h.tc = uint8(ih.TrafficClass)
	h.flow = uint32(ih.FlowLabel)
	h.plen = ih.PayloadLen
	h.nh = uint8(ih.NextHeader)
	h.hlim = uint8(ih.HopLimit)
	copy(h.src[:], ih.Src.To16())
	copy(h.dst[:], ih.Dst.To16())
	return h, nil
}

// put writes the 40-byte header to b.
func (h *header) put(b []byte) {
	b[0] = 0x60 | h.tc>>4
	b[1] = h.tc<<4 | uint8(h.flow>>16)&0x0f
	b[2] = uint8(h.flow >> 8)
	b[3] = uint8(h.flow)
	b[4] = uint8(h.plen >> 8)
	b[5] = uint8(h.plen)
	b[6] = h.nh
	b[7] = h.hlim
	copy(b[8:24], h.src[:])
	copy(b[24:40], h.dst[:])
}

func isLinkLocal(a *[16]byte) bool {
	return a[0] == 0xfe && a[1] == 0x80 && bytes.Equal(a[2:8], zero8[:6])
}

func isMulticast(a *[16]byte) bool { return a[0] == 0xff }

var zero8 [8]byte

// contexts is the stateful address compression table.
type contexts struct {
	valid  [types.MaxContexts]bool
	prefix [types.MaxContexts][8]byte
}

func newContexts(cfg []types.ContextConfig) (*contexts, error) {
	c := &contexts{}
	for _, cc := range cfg {
		p, err := cc.ParsePrefix()
		if err != nil {
			return nil, err
		}
		if cc.Index < 0 || cc.Index >= types.MaxContexts {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "sicslowpan", Msg: "context index out of range"}
		}
		a := p.Addr().As16()
		copy(c.prefix[cc.Index][:], a[:8])
		c.valid[cc.Index] = true
	}
	return c, nil
}

func (c *contexts) match(a *[16]byte) (int, bool) {
	for i := range c.prefix {
		if c.valid[i] && bytes.Equal(c.prefix[i][:], a[:8]) {
			return i, true
		}
	}
	return 0, false
}

// addrEnc is the compressed form of one address.
type addrEnc struct {
	ctx    bool // SAC/DAC
	cid    int
	mode   uint8 // SAM/DAM
	inline []byte
}

// encodeUnicast picks the shortest encoding of a under prefix
// compression, eliding what the link address already says.
func (c *contexts) encodeUnicast(a *[16]byte, ll types.LinkAddr) addrEnc {
	var e addrEnc
	switch {
	case *a == [16]byte{}:
		return addrEnc{ctx: true} // unspecified
	case isLinkLocal(a):
	default:
		i, ok := c.match(a)
		if !ok {
			return addrEnc{inline: a[:]}
		}
		e.ctx, e.cid = true, i
	}
	iid := ll.IID()
	switch {
	case !ll.IsZero() && !ll.IsBroadcast() && bytes.Equal(a[8:], iid[:]):
		e.mode = 3
	case bytes.Equal(a[8:14], []byte{0, 0, 0, 0xff, 0xfe, 0}):
		e.mode, e.inline = 2, a[14:]
	default:
		e.mode, e.inline = 1, a[8:]
	}
	return e
}

// encodeMulticast compresses ff02::XX to one byte and sends the rest inline.
func encodeMulticast(a *[16]byte) addrEnc {
	if a[1] == 0x02 && bytes.Equal(a[2:15], make([]byte, 13)) {
		return addrEnc{mode: 3, inline: a[15:]}
	}
	return addrEnc{inline: a[:]}
}

// compress writes the IPHC form of h into out and returns its length.
// src and dst are the link addresses of the frame that will carry it.
func (c *contexts) compress(h *header, src, dst types.LinkAddr, out []byte) int {
	se := c.encodeUnicast(&h.src, src)
	var de addrEnc
	multicast := isMulticast(&h.dst)
	if multicast {
		de = encodeMulticast(&h.dst)
	} else {
		de = c.encodeUnicast(&h.dst, dst)
	}

	b0 := byte(dispatchIPHC)
	var b1 byte
	n := 2
	if se.cid != 0 || de.cid != 0 {
		b1 |= iphcCID
		out[n] = byte(se.cid<<4 | de.cid)
		n++
	}

	ecn, dscp := h.tc&3, h.tc>>2
	switch {
	case h.tc == 0 && h.flow == 0:
		b0 |= 3 << 3
	case h.flow == 0:
		b0 |= 2 << 3
		out[n] = ecn<<6 | dscp
		n++
	case dscp == 0:
		b0 |= 1 << 3
		out[n] = ecn<<6 | uint8(h.flow>>16)&0x0f
		out[n+1] = uint8(h.flow >> 8)
		out[n+2] = uint8(h.flow)
		n += 3
	default:
		out[n] = ecn<<6 | dscp
		out[n+1] = uint8(h.flow>>16) & 0x0f
		out[n+2] = uint8(h.flow >> 8)
		out[n+3] = uint8(h.flow)
		n += 4
	}

	out[n] = h.nh
	n++

	switch h.hlim {
	case 1:
		b0 |= 1
	case 64:
		b0 |= 2
	case 255:
		b0 |= 3
	default:
		out[n] = h.hlim
		n++
	}

	if se.ctx {
		b1 |= iphcSAC
	}
	b1 |= se.mode << 4
	n += copy(out[n:], se.inline)

	if multicast {
		b1 |= iphcM
	}
	if de.ctx {
		b1 |= iphcDAC
	}
	b1 |= de.mode
	n += copy(out[n:], de.inline)

	out[0], out[1] = b0, b1
	return n
}

// decompress parses an IPHC or uncompressed IPv6 header at the start of b.
// It returns the header, with plen unset, and the bytes consumed.
func (c *contexts) decompress(b []byte, src, dst types.LinkAddr) (header, int, error) {
	var h header
	if len(b) == 0 {
		return h, 0, errMalformed
	}
	if b[0] == dispatchIPv6 {
		if len(b) < maxHeader {
			return h, 0, malformed("truncated IPv6 header")
		}
		if b[1]>>4 != ipv6.Version {
			return h, 0, malformed("not an IPv6 header")
		}
		return rawHeader(b[1:maxHeader]), maxHeader, nil
	}
	if b[0]&0xe0 != dispatchIPHC || len(b) < 2 {
		return h, 0, malformed("unknown dispatch")
	}
	b0, b1 := b[0], b[1]
	n := 2
	need := func(k int) bool { return n+k <= len(b) }

	var sci, dci int
	if b1&iphcCID != 0 {
		if !need(1) {
			return h, 0, errMalformed
		}
		sci, dci = int(b[n]>>4), int(b[n]&0x0f)
		n++
	}

	switch (b0 & iphcTF) >> 3 {
	case 0:
		if !need(4) {
			return h, 0, errMalformed
		}
		ecn, dscp := b[n]>>6, b[n]&0x3f
		h.tc = dscp<<2 | ecn
		h.flow = uint32(b[n+1]&0x0f)<<16 | uint32(b[n+2])<<8 | uint32(b[n+3])
		n += 4
	case 1:
		if !need(3) {
			return h, 0, errMalformed
		}
		h.tc = b[n] >> 6
		h.flow = uint32(b[n]&0x0f)<<16 | uint32(b[n+1])<<8 | uint32(b[n+2])
		n += 3
	case 2:
		if !need(1) {
			return h, 0, errMalformed
		}
		h.tc = (b[n]&0x3f)<<2 | b[n]>>6
		n++
	}

	if b0&iphcNH != 0 {
		return h, 0, &errcode.E{C: errcode.MalformedFrame, Op: "sicslowpan", Msg: "compressed next header not supported"}
	}
	if !need(1) {
		return h, 0, errMalformed
	}
	h.nh = b[n]
	n++

	switch b0 & iphcHLIM {
	case 0:
		if !need(1) {
			return h, 0, errMalformed
		}
		h.hlim = b[n]
		n++
	case 1:
		h.hlim = 1
	case 2:
		h.hlim = 64
	case 3:
		h.hlim = 255
	}

	var err error
	n, err = c.decodeUnicast(b, n, b1&iphcSAC != 0, sci, (b1&iphcSAM)>>4, src, &h.src)
	if err != nil {
		return h, 0, err
	}
	if b1&iphcM != 0 {
		if b1&iphcDAC != 0 {
			return h, 0, malformed("context-based multicast not supported")
		}
		n, err = decodeMulticast(b, n, b1&iphcDAM, &h.dst)
	} else {
		n, err = c.decodeUnicast(b, n, b1&iphcDAC != 0, dci, b1&iphcDAM, dst, &h.dst)
	}
	if err != nil {
		return h, 0, err
	}
	return h, n, nil
}

// rawHeader reads the fixed fields; the payload length comes from the frame.
func rawHeader(b []byte) header {
	var h header
	h.tc = b[0]<<4 | b[1]>>4
	h.flow = uint32(b[1]&0x0f)<<16 | uint32(b[2])<<8 | uint32(b[3])
	h.nh = b[6]
	h.hlim = b[7]
	copy(h.src[:], b[8:24])
	copy(h.dst[:], b[24:40])
	return h
}

func (c *contexts) decodeUnicast(b []byte, n int, ctx bool, cid int, mode uint8, ll types.LinkAddr, out *[16]byte) (int, error) {
	if ctx {
		if mode == 0 {
			*out = [16]byte{} // unspecified
			return n, nil
		}
		if !c.valid[cid] {
			return n, &errcode.E{C: errcode.MalformedFrame, Op: "sicslowpan", Msg: "unknown address context"}
		}
		copy(out[:8], c.prefix[cid][:])
	} else if mode != 0 {
		out[0], out[1] = 0xfe, 0x80
	}
	switch mode {
	case 0:
		if n+16 > len(b) {
			return n, errMalformed
		}
		copy(out[:], b[n:n+16])
		return n + 16, nil
	case 1:
		if n+8 > len(b) {
			return n, errMalformed
		}
		copy(out[8:], b[n:n+8])
		return n + 8, nil
	case 2:
		if n+2 > len(b) {
			return n, errMalformed
		}
		copy(out[8:], []byte{0, 0, 0, 0xff, 0xfe, 0, b[n], b[n+1]})
		return n + 2, nil
	default:
		if ll.IsZero() {
			return n, malformed("address elided without a link address")
		}
		iid := ll.IID()
		copy(out[8:], iid[:])
		return n, nil
	}
}

func decodeMulticast(b []byte, n int, mode uint8, out *[16]byte) (int, error) {
	*out = [16]byte{}
	out[0] = 0xff
	switch mode {
	case 0:
		if n+16 > len(b) {
			return n, errMalformed
		}
		copy(out[:], b[n:n+16])
		return n + 16, nil
	case 1: // ffXX::00XX:XXXX:XXXX
		if n+6 > len(b) {
			return n, errMalformed
		}
		out[1] = b[n]
		copy(out[11:], b[n+1:n+6])
		return n + 6, nil
	case 2: // ffXX::00XX:XXXX
		if n+4 > len(b) {
			return n, errMalformed
		}
		out[1] = b[n]
		copy(out[13:], b[n+1:n+4])
		return n + 4, nil
	default: // ff02::00XX
		if n+1 > len(b) {
			return n, errMalformed
		}
		out[1] = 0x02
		out[15] = b[n]
		return n + 1, nil
	}
}
