// Package netlayer adapts upper-layer packets to link frames: 6LoWPAN
// header compression and fragmentation for IPv6, or a flat single-frame
// network.
package netlayer

import (
	"fmt"

	"github.com/golang/glog"

	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/nbr"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
)

// Deps are the collaborators a network layer is built from. It registers
// itself as the RDC's upper layer.
type Deps struct {
	Loop      *sched.Loop
	RDC       link.RDC
	Framer    framer.Framer
	Buffers   *queuebuf.Buffers
	Neighbors *nbr.Table
	Self      types.LinkAddr
	PANID     uint16
	AddrSize  int
	Config    types.NetworkConfig

	// Deliver receives every complete packet. Packet.Data is only valid
	// for the duration of the call.
	Deliver func(link.Packet)
	// Fallback takes packets without an on-link next hop; nil means NoRoute.
	Fallback link.Fallback
	Events   func(types.LinkEvent)
}

// room is the link payload space for a frame from us to dst.
func room(d *Deps, dst types.LinkAddr) int {
	f := link.Frame{Type: link.TypeData, Src: d.Self, Dst: dst, DstPAN: d.PANID, SrcPAN: d.PANID}
	return types.MaxFrameLen - d.Framer.HeaderLen(&f)
}

// txn is one packet on its way down as one or more frames, sent in order.
type txn struct {
	frames []*link.Frame
	next   int
	done   func(error)
}

// acquire takes n queue buffers or none.
func acquire(pool *queuebuf.Pool, n int) ([]queuebuf.Handle, error) {
	hs := make([]queuebuf.Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := pool.Acquire()
		if err != nil {
			for _, h := range hs {
				pool.Release(h)
			}
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// sender walks a txn down through the RDC, one frame at a time.
type sender struct {
	d      *Deps
	name   string
	failed func(err error)
	sent   func(frames int)
}

func (s *sender) release(f *link.Frame) {
	if f.Buf != 0 {
		if err := s.d.Buffers.Queue.Release(f.Buf); err != nil {
			glog.Errorf("[%s] release frame buffer: %v", s.name, err)
		}
		f.Buf = 0
	}
}

// start hands the first frame down. An error means nothing was sent and
// every buffer has been released.
func (s *sender) start(t *txn) error {
	if err := s.send(t); err != nil {
		for _, f := range t.frames {
			s.release(f)
		}
		return err
	}
	return nil
}

func (s *sender) send(t *txn) error {
	f := t.frames[t.next]
	return s.d.RDC.Send(f, func(f *link.Frame, err error) {
		s.release(f)
		if err != nil {
			s.abort(t, err)
			return
		}
		t.next++
		if t.next == len(t.frames) {
			s.sent(len(t.frames))
			if t.done != nil {
				t.done(nil)
			}
			return
		}
		if err := s.send(t); err != nil {
			s.release(t.frames[t.next])
			s.abort(t, err)
		}
	})
}

// abort drops the frames not yet sent and reports err once.
func (s *sender) abort(t *txn, err error) {
	for _, f := range t.frames[t.next+1:] {
		s.release(f)
	}
	if s.failed != nil {
		s.failed(err)
	}
	if t.done != nil {
		t.done(err)
	}
}

func event(d *Deps, layer string, kind types.EventKind, code errcode.Code, peer types.LinkAddr) {
	if d.Events != nil {
		d.Events(types.LinkEvent{Kind: kind, Code: string(code), Layer: layer, Peer: peer, TS: d.Loop.Now().UnixMilli()})
	}
}

func fallbackErr(op string, rc int) error {
	return &errcode.E{C: errcode.NoRoute, Op: op, Msg: fmt.Sprintf("fallback returned %d", rc)}
}
