// Package rdc holds the radio duty cycling layers. An RDC sits between the
// network layer and the MAC: it decides when the radio listens, and how a
// frame reaches a neighbor whose radio is mostly off.
package rdc

import (
	"math/rand"
	"time"

	"nodestack-go/drivers/radio"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/nbr"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
)

// Deps are the collaborators an RDC is built from. The RDC registers itself
// as the MAC's upper layer.
type Deps struct {
	Loop      *sched.Loop
	Radio     radio.Driver
	MAC       link.MAC
	Framer    framer.Framer
	Buffers   *queuebuf.Buffers
	Neighbors *nbr.Table
	Seq       *link.Seq
	Self      types.LinkAddr
	PANID     uint16
	Config    types.RDCConfig
	Rand      *rand.Rand
	Events    func(types.LinkEvent)
	// QueueLen bounds the frames waiting for their turn to strobe.
	QueueLen  int
}

// onTimer accounts for the time the radio spends awake.
type onTimer struct {
	on    bool
	since time.Time
	total time.Duration
}

func (o *onTimer) wake(now time.Time) {
	if !o.on {
		o.on = true
		o.since = now
	}
}

func (o *onTimer) sleep(now time.Time) {
	if o.on {
		o.total += now.Sub(o.since)
		o.on = false
	}
}

func (o *onTimer) ms(now time.Time) int64 {
	t := o.total
	if o.on {
		t += now.Sub(o.since)
	}
	return int64(t / time.Millisecond)
}

// Null keeps the radio on and passes frames straight through.
type Null struct {
	d     Deps
	upper link.Upper
	on    onTimer
}

var _ link.RDC = (*Null)(nil)

func NewNull(d Deps) *Null {
	r := &Null{d: d}
	d.MAC.SetUpper(r)
	return r
}

func (r *Null) SetUpper(u link.Upper)   { r.upper = u }
func (r *Null) Interval() time.Duration { return 0 }

func (r *Null) Send(f *link.Frame, done link.SentFunc) error {
	return r.d.MAC.Send(f, link.TxOptions{}, done)
}

func (r *Null) Input(f *link.Frame) {
	if r.upper != nil {
		r.upper.Input(f)
	}
}

func (r *Null) On() error {
	r.on.wake(r.d.Loop.Now())
	return r.d.Radio.Wake()
}

func (r *Null) Off() error {
	r.on.sleep(r.d.Loop.Now())
	return r.d.Radio.Sleep()
}

func (r *Null) Stats() types.RDCStats {
	return types.RDCStats{OnTimeMs: r.on.ms(r.d.Loop.Now())}
}
