package mac

import (
	"time"

	"github.com/golang/glog"

	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/types"
)

// rxFilter remembers recently accepted (source, sequence) pairs.
type rxFilter struct {
	hist   []seen
	next   int
	window time.Duration
}

type seen struct {
	src types.LinkAddr
	seq uint8
	at  time.Time
}

func (r *rxFilter) init(n int, window time.Duration) {
	if n <= 0 {
		n = 1
	}
	r.hist = make([]seen, n)
	r.window = window
}

// duplicate reports whether (src, seq) was accepted within the window and
// records it otherwise.
func (r *rxFilter) duplicate(src types.LinkAddr, seq uint8, now time.Time) bool {
	for i := range r.hist {
		h := &r.hist[i]
		if h.src == src && h.seq == seq && !h.at.IsZero() && now.Sub(h.at) <= r.window {
			h.at = now
			return true
		}
	}
	r.hist[r.next] = seen{src: src, seq: seq, at: now}
	r.next = (r.next + 1) % len(r.hist)
	return false
}

// Poll drains the radio. Each frame borrows a queue buffer for the time it
// takes to pass it up; without one the frame is dropped.
func (m *MAC) Poll() {
	q := m.d.Buffers.Queue
	for {
		h, err := q.Acquire()
		if err != nil {
			if !m.d.Radio.PendingPacket() {
				return
			}
			var sink [types.MaxFrameLen]byte
			if _, ok := m.d.Radio.Receive(sink[:]); !ok {
				return
			}
			m.stats.RxDropped++
			glog.Warningf("[mac] rx dropped: %v", err)
			m.event(types.EventPoolExhausted, errcode.PoolExhausted, types.LinkAddr{})
			m.heard()
			continue
		}
		buf := q.Bytes(h)
		n, ok := m.d.Radio.Receive(buf)
		if !ok {
			q.Release(h)
			return
		}
		m.input(buf[:n], h)
		q.Release(h)
		m.heard()
	}
}

func (m *MAC) heard() {
	if l, ok := m.upper.(link.Listener); ok {
		l.Heard()
	}
}

func (m *MAC) input(b []byte, h queuebuf.Handle) {
	var f link.Frame
	if err := m.d.Framer.Decode(b, &f); err != nil {
		m.stats.RxMalformed++
		if glog.V(2) {
			glog.Infof("[mac] malformed frame (%d bytes): %v", len(b), err)
		}
		m.event(types.EventMalformed, errcode.MalformedFrame, types.LinkAddr{})
		return
	}
	f.Buf = h
	now := m.d.Loop.Now()
	f.Timestamp = now

	if f.Type == link.TypeAck {
		m.handleAck(&f)
		return
	}
	if !m.accept(&f) {
		m.stats.RxFiltered++
		return
	}
	if f.AckRequest && !f.IsBroadcast() && !m.caps.HardwareAck {
		n := framer.EncodeAck(f.Seq, false, m.ack[:])
		m.d.Radio.Send(m.ack[:n])
		m.stats.AcksSent++
	}
	if m.rx.duplicate(f.Src, f.Seq, now) {
		m.stats.RxDup++
		if glog.V(2) {
			glog.Infof("[mac] duplicate %s seq %d", f.Src, f.Seq)
		}
		return
	}
	m.d.Neighbors.Touch(f.Src, now)
	m.stats.RxOK++
	if m.upper != nil {
		m.upper.Input(&f)
	}
}

// accept is the address filter: data for us or for everyone, on our PAN.
func (m *MAC) accept(f *link.Frame) bool {
	if f.Type != link.TypeData || f.Src.IsZero() {
		return false
	}
	if f.DstPAN != m.d.PANID && f.DstPAN != 0xffff {
		return false
	}
	return f.Dst == m.d.Self || f.IsBroadcast()
}
