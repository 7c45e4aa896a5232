package netlayer

import (
	"github.com/golang/glog"
	"golang.org/x/net/ipv6"

	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

// Sicslowpan carries IPv6 datagrams over 802.15.4: IPHC or uncompressed
// headers, RFC 4944 fragmentation, and next-hop resolution from the
// destination address.
type Sicslowpan struct {
	d     Deps
	ctx   *contexts
	tx    sender
	reasm *reassembly
	tag   uint16
	hdr   [maxHeader]byte
	rx    []byte
	stats types.NetStats
}

var _ link.Network = (*Sicslowpan)(nil)

func NewSicslowpan(d Deps) (*Sicslowpan, error) {
	ctx, err := newContexts(d.Config.Contexts)
	if err != nil {
		return nil, err
	}
	s := &Sicslowpan{d: d, ctx: ctx, rx: make([]byte, d.Config.MaxPacket)}
	s.tx = sender{d: &s.d, name: types.NetSicslowpan, failed: s.failed, sent: s.sent}
	s.reasm = newReassembly(d.Loop, d.Config.MaxReassemblies, d.Config.MaxPacket, d.Config.MaxAge)
	s.reasm.expired = s.expired
	d.RDC.SetUpper(s)
	return s, nil
}

func (s *Sicslowpan) Stats() types.NetStats { return s.stats }

// Reassembling is the number of datagrams partially received.
func (s *Sicslowpan) Reassembling() int { return s.reasm.active() }

func (s *Sicslowpan) failed(err error) {
	s.stats.TxFailed++
	event(&s.d, types.NetSicslowpan, types.EventTxFailed, errcode.Reason(err), types.LinkAddr{})
}

func (s *Sicslowpan) sent(frames int) {
	s.stats.TxPackets++
	if frames > 1 {
		s.stats.TxFragments += uint32(frames)
	}
}

// ---- send ----

func (s *Sicslowpan) Send(pkt link.Packet, done func(error)) error {
	if len(pkt.Data) > s.d.Config.MaxPacket {
		return &errcode.E{C: errcode.PacketTooLarge, Op: types.NetSicslowpan}
	}
	h, err := parseHeader(pkt.Data)
	if err != nil {
		return err
	}
	next, ok := s.nextHop(pkt, &h)
	if !ok {
		return s.fallback(pkt, done)
	}

	var hl int
	if s.d.Config.Compression == types.CompressionIPv6 {
		s.hdr[0] = dispatchIPv6
		copy(s.hdr[1:], pkt.Data[:ipv6.HeaderLen])
		hl = maxHeader
	} else {
		hl = s.ctx.compress(&h, s.d.Self, next, s.hdr[:])
	}
	payload := pkt.Data[ipv6.HeaderLen:]
	space := room(&s.d, next)

	if hl+len(payload) <= space {
		return s.sendWhole(next, s.hdr[:hl], payload, done)
	}
	if !s.d.Config.Fragmentation {
		return &errcode.E{C: errcode.PacketTooLarge, Op: types.NetSicslowpan, Msg: "fragmentation disabled"}
	}
	return s.sendFragments(next, s.hdr[:hl], pkt.Data, space, done)
}

func (s *Sicslowpan) sendWhole(next types.LinkAddr, hdr, payload []byte, done func(error)) error {
	hs, err := acquire(s.d.Buffers.Queue, 1)
	if err != nil {
		s.poolExhausted(next)
		return err
	}
	buf := s.d.Buffers.Queue.Bytes(hs[0])
	n := copy(buf, hdr)
	n += copy(buf[n:], payload)
	f := &link.Frame{Type: link.TypeData, Dst: next, Payload: buf[:n], Buf: hs[0]}
	return s.tx.start(&txn{frames: []*link.Frame{f}, done: done})
}

// sendFragments splits datagram into FRAG1 and FRAGN frames. All buffers
// are taken before anything is sent.
func (s *Sicslowpan) sendFragments(next types.LinkAddr, hdr, datagram []byte, space int, done func(error)) error {
	size := len(datagram)
	first := (ipv6.HeaderLen+space-frag1Len-len(hdr))&^7 - ipv6.HeaderLen
	per := (space - fragNLen) &^ 7
	if first <= 0 || per <= 0 {
		return &errcode.E{C: errcode.PacketTooLarge, Op: types.NetSicslowpan, Msg: "no room for fragments"}
	}
	count := 1
	for off := ipv6.HeaderLen + first; off < size; off += per {
		count++
	}
	hs, err := acquire(s.d.Buffers.Queue, count)
	if err != nil {
		s.poolExhausted(next)
		return err
	}

	s.tag++
	tag := s.tag
	frames := make([]*link.Frame, count)

	buf := s.d.Buffers.Queue.Bytes(hs[0])
	putFrag1(buf, size, tag)
	n := frag1Len + copy(buf[frag1Len:], hdr)
	n += copy(buf[n:], datagram[ipv6.HeaderLen:ipv6.HeaderLen+first])
	frames[0] = &link.Frame{Type: link.TypeData, Dst: next, Payload: buf[:n], Buf: hs[0]}

	off := ipv6.HeaderLen + first
	for i := 1; i < count; i++ {
		end := off + per
		if end > size {
			end = size
		}
		buf := s.d.Buffers.Queue.Bytes(hs[i])
		putFragN(buf, size, tag, off)
		n := fragNLen + copy(buf[fragNLen:], datagram[off:end])
		frames[i] = &link.Frame{Type: link.TypeData, Dst: next, Payload: buf[:n], Buf: hs[i]}
		off = end
	}
	if glog.V(2) {
		glog.Infof("[sicslowpan] %d bytes to %s in %d fragments, tag %d", size, next, count, tag)
	}
	return s.tx.start(&txn{frames: frames, done: done})
}

func (s *Sicslowpan) poolExhausted(peer types.LinkAddr) {
	glog.Warningf("[sicslowpan] no queue buffers for packet to %s", peer)
	event(&s.d, types.NetSicslowpan, types.EventPoolExhausted, errcode.PoolExhausted, peer)
}

// nextHop resolves the link address a datagram is sent to.
func (s *Sicslowpan) nextHop(pkt link.Packet, h *header) (types.LinkAddr, bool) {
	switch {
	case !pkt.NextHop.IsZero():
		return pkt.NextHop, true
	case isMulticast(&h.dst):
		return types.BroadcastAddr, true
	}
	var iid [8]byte
	copy(iid[:], h.dst[8:])
	if isLinkLocal(&h.dst) {
		if a, ok := types.LinkAddrFromIID(iid, s.d.AddrSize); ok {
			return a, true
		}
	}
	for _, e := range s.d.Neighbors.Snapshot() {
		if e.Addr.IID() == iid {
			return e.Addr, true
		}
	}
	return types.LinkAddr{}, false
}

func (s *Sicslowpan) fallback(pkt link.Packet, done func(error)) error {
	if s.d.Fallback == nil {
		s.stats.TxNoRoute++
		event(&s.d, types.NetSicslowpan, types.EventNoRoute, errcode.NoRoute, pkt.Dst)
		return &errcode.E{C: errcode.NoRoute, Op: types.NetSicslowpan}
	}
	if rc := s.d.Fallback.Output(pkt.Data); rc != 0 {
		s.stats.TxNoRoute++
		return fallbackErr(types.NetSicslowpan, rc)
	}
	s.stats.TxFallback++
	if done != nil {
		s.d.Loop.After(0, func() { done(nil) })
	}
	return nil
}

// ---- receive ----

func (s *Sicslowpan) Input(f *link.Frame) {
	b := f.Payload
	if len(b) == 0 {
		s.drop(f, errMalformed)
		return
	}
	switch b[0] & 0xf8 {
	case dispatchFrag1:
		s.inputFragment(f, true)
		return
	case dispatchFragN:
		s.inputFragment(f, false)
		return
	}
	h, n, err := s.ctx.decompress(b, f.Src, f.Dst)
	if err != nil {
		s.drop(f, err)
		return
	}
	h.plen = len(b) - n
	if ipv6.HeaderLen+h.plen > len(s.rx) {
		s.drop(f, malformed("datagram larger than max_packet"))
		return
	}
	out := s.rx[:ipv6.HeaderLen+h.plen]
	h.put(out)
	copy(out[ipv6.HeaderLen:], b[n:])
	s.deliver(f, out)
}

func (s *Sicslowpan) inputFragment(f *link.Frame, first bool) {
	b := f.Payload
	hl := fragNLen
	if first {
		hl = frag1Len
	}
	if len(b) < hl {
		s.drop(f, malformed("truncated fragment header"))
		return
	}
	size, tag := fragSize(b), fragTag(b)
	if size < ipv6.HeaderLen || size > s.d.Config.MaxPacket {
		s.drop(f, malformed("fragment datagram size out of range"))
		return
	}
	off := ipv6.HeaderLen
	if !first {
		// Offset 0 belongs to FRAG1, and the IPv6 header is never sent in a FRAGN.
		if off = int(b[4]) * 8; off < ipv6.HeaderLen {
			s.drop(f, malformed("FRAGN offset inside the IPv6 header"))
			return
		}
	}
	s.stats.RxFragments++
	sl := s.reasm.get(f.Src, tag, size)
	if sl == nil {
		s.stats.ReassemblyDropped++
		glog.Warningf("[sicslowpan] no reassembly slot for %s tag %d", f.Src, tag)
		return
	}

	data := b[hl:]
	if first {
		h, n, err := s.ctx.decompress(data, f.Src, f.Dst)
		if err != nil {
			s.drop(f, err)
			return
		}
		h.plen = size - ipv6.HeaderLen
		h.put(sl.buf[:ipv6.HeaderLen])
		data = data[n:]
		sl.mark(0, ipv6.HeaderLen)
	}
	if off+len(data) > size {
		s.drop(f, malformed("fragment beyond datagram size"))
		return
	}
	copy(sl.buf[off:], data)
	sl.mark(off, off+len(data))

	if sl.complete() {
		s.stats.Reassembled++
		s.deliver(f, sl.buf[:size])
		s.reasm.release(sl)
	}
}

func (s *Sicslowpan) deliver(f *link.Frame, datagram []byte) {
	s.stats.RxPackets++
	if s.d.Deliver != nil {
		s.d.Deliver(link.Packet{Src: f.Src, Dst: f.Dst, Data: datagram})
	}
}

func (s *Sicslowpan) drop(f *link.Frame, err error) {
	s.stats.RxMalformed++
	if glog.V(2) {
		glog.Infof("[sicslowpan] drop frame from %s: %v", f.Src, err)
	}
	event(&s.d, types.NetSicslowpan, types.EventMalformed, errcode.MalformedFrame, f.Src)
}

func (s *Sicslowpan) expired(src types.LinkAddr, tag uint16) {
	s.stats.ReassemblyTimeouts++
	glog.Warningf("[sicslowpan] reassembly from %s tag %d timed out", src, tag)
	event(&s.d, types.NetSicslowpan, types.EventReassemblyTimeout, errcode.ReassemblyTimeout, src)
}
