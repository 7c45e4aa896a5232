package netlayer

import (
	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

// Rime is the flat network: a packet is carried verbatim in one frame to
// its link destination.
type Rime struct {
	d     Deps
	tx    sender
	stats types.NetStats
}

var _ link.Network = (*Rime)(nil)

func NewRime(d Deps) *Rime {
	r := &Rime{d: d}
	r.tx = sender{d: &r.d, name: types.NetRime, failed: r.failed, sent: r.sent}
	d.RDC.SetUpper(r)
	return r
}

func (r *Rime) Stats() types.NetStats { return r.stats }
func (r *Rime) sent(int)              { r.stats.TxPackets++ }

func (r *Rime) failed(err error) {
	r.stats.TxFailed++
	event(&r.d, types.NetRime, types.EventTxFailed, errcode.Reason(err), types.LinkAddr{})
}

func (r *Rime) Send(pkt link.Packet, done func(error)) error {
	dst := pkt.NextHop
	if dst.IsZero() {
		dst = pkt.Dst
	}
	if dst.IsZero() {
		r.stats.TxNoRoute++
		return &errcode.E{C: errcode.NoRoute, Op: types.NetRime, Msg: "no destination"}
	}
	if len(pkt.Data) > r.d.Config.MaxPacket || len(pkt.Data) > room(&r.d, dst) {
		return &errcode.E{C: errcode.PacketTooLarge, Op: types.NetRime}
	}
	hs, err := acquire(r.d.Buffers.Queue, 1)
	if err != nil {
		event(&r.d, types.NetRime, types.EventPoolExhausted, errcode.PoolExhausted, dst)
		return err
	}
	buf := r.d.Buffers.Queue.Bytes(hs[0])
	n := copy(buf, pkt.Data)
	f := &link.Frame{Type: link.TypeData, Dst: dst, Payload: buf[:n], Buf: hs[0]}
	return r.tx.start(&txn{frames: []*link.Frame{f}, done: done})
}

func (r *Rime) Input(f *link.Frame) {
	r.stats.RxPackets++
	if r.d.Deliver != nil {
		r.d.Deliver(link.Packet{Src: f.Src, Dst: f.Dst, Data: f.Payload})
	}
}
