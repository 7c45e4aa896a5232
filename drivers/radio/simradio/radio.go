package simradio

import (
	"time"

	"github.com/golang/glog"

	"nodestack-go/drivers/radio"
	"nodestack-go/types"
)

type Options struct {
	Channel      uint8
	RxBuffers    int
	HardwareAck  bool
	HardwareCSMA bool
}

// FromConfig takes the options from a stack's radio section.
func FromConfig(c types.RadioConfig) Options {
	return Options{
		Channel:      c.Channel,
		RxBuffers:    c.RxBuffers,
		HardwareAck:  c.HardwareAck,
		HardwareCSMA: c.HardwareCSMA,
	}
}

// Energy is the time a radio spent with its receiver on and transmitting.
type Energy struct {
	On time.Duration
	Tx time.Duration
}

type RadioStats struct {
	TxFrames   uint32
	TxBusy     uint32
	RxFrames   uint32
	RxOverflow uint32
}

// Radio is one simulated transceiver attached to a Medium.
// It implements radio.Driver and radio.AsyncSender.
type Radio struct {
	m       *Medium
	addr    types.LinkAddr
	opts    Options
	channel uint8
	power   int8

	on        bool
	onSince   time.Time
	energy    Energy
	airEnd    time.Time // own frame leaves the air
	txEnd     time.Time // airEnd plus any hardware ack wait
	receiving int

	rxq    [][]byte
	notify func()
	stats  RadioStats
}

var _ radio.Driver = (*Radio)(nil)
var _ radio.AsyncSender = (*Radio)(nil)

// NewRadio attaches a radio with link address addr. It starts asleep.
func (m *Medium) NewRadio(addr types.LinkAddr, opts Options) *Radio {
	if opts.Channel == 0 {
		opts.Channel = 26
	}
	if opts.RxBuffers <= 0 {
		opts.RxBuffers = 4
	}
	r := &Radio{m: m, addr: addr, opts: opts, channel: opts.Channel}
	m.radios = append(m.radios, r)
	return r
}

func (r *Radio) Addr() types.LinkAddr { return r.addr }
func (r *Radio) Stats() RadioStats    { return r.stats }

func (r *Radio) now() time.Time { return r.m.sched.Now() }

func (r *Radio) listening() bool { return r.on && !r.now().Before(r.airEnd) }

// ---- radio.Driver ----

func (r *Radio) Send(frame []byte) radio.TxResult {
	if len(frame) == 0 || len(frame) > radio.MaxFrameLen {
		return radio.TxErr
	}
	now := r.now()
	if r.opts.HardwareCSMA && !r.ChannelClear() {
		r.stats.TxBusy++
		return radio.TxCollision
	}

	start := now
	if r.airEnd.After(now) {
		start = r.airEnd
	}
	tx := &transmission{
		from:     r,
		ch:       r.channel,
		start:    start,
		end:      start.Add(Airtime(len(frame))),
		frame:    append([]byte(nil), frame...),
		collided: map[*Radio]bool{},
		lost:     map[*Radio]bool{},
	}
	r.stats.TxFrames++
	r.energy.Tx += tx.end.Sub(tx.start)
	r.airEnd = tx.end
	r.txEnd = tx.end

	dst, wantAck := frameDst(frame)
	wantAck = wantAck && r.opts.HardwareAck && !dst.IsBroadcast()
	var acked bool
	if start.Equal(now) {
		idle := !r.m.busy(r.channel, r)
		r.m.begin(tx)
		acked = wantAck && idle && tx.heardBy(dst)
	} else {
		acked = wantAck && r.m.ackVerdict(r, dst)
		r.m.sched.AfterFunc(start.Sub(now), func() { r.m.begin(tx) })
	}
	r.m.sched.AfterFunc(tx.end.Sub(now), func() { r.m.end(tx) })

	if glog.V(2) {
		glog.Infof("[sim] %s tx %d bytes until +%v", r.addr, len(frame), tx.end.Sub(now))
	}
	if !wantAck {
		return radio.TxOK
	}
	r.txEnd = tx.end.Add(hwAckTime)
	if !acked {
		return radio.TxNoAck
	}
	return radio.TxOK
}

func (r *Radio) TxEnd() time.Time { return r.txEnd }

func (r *Radio) deliver(frame []byte) {
	if len(r.rxq) >= r.opts.RxBuffers {
		r.stats.RxOverflow++
		return
	}
	r.rxq = append(r.rxq, frame)
	r.stats.RxFrames++
	if r.notify != nil {
		r.notify()
	}
}

func (r *Radio) Receive(buf []byte) (int, bool) {
	if len(r.rxq) == 0 {
		return 0, false
	}
	f := r.rxq[0]
	r.rxq[0] = nil
	r.rxq = r.rxq[1:]
	return copy(buf, f), true
}

func (r *Radio) SetReceiveNotify(fn func()) { r.notify = fn }

// ChannelClear ignores the radio's own transmissions.
func (r *Radio) ChannelClear() bool { return !r.m.busy(r.channel, r) }

func (r *Radio) ReceivingPacket() bool { return r.on && r.receiving > 0 }
func (r *Radio) PendingPacket() bool   { return len(r.rxq) > 0 }

func (r *Radio) SetChannel(ch uint8) error {
	if ch < 11 || ch > 26 {
		return errBadChannel
	}
	r.channel = ch
	return nil
}

func (r *Radio) SetTxPower(level int8) error {
	r.power = level
	return nil
}

func (r *Radio) Sleep() error {
	if r.on {
		r.energy.On += r.now().Sub(r.onSince)
		r.on = false
	}
	return nil
}

func (r *Radio) Wake() error {
	if !r.on {
		r.on = true
		r.onSince = r.now()
	}
	return nil
}

func (r *Radio) State() radio.State {
	switch {
	case r.now().Before(r.airEnd):
		return radio.StateTX
	case !r.on:
		return radio.StateSleep
	case r.receiving > 0:
		return radio.StateRX
	}
	return radio.StateIdle
}

func (r *Radio) Capabilities() radio.Capabilities {
	return radio.Capabilities{
		HardwareAck:  r.opts.HardwareAck,
		HardwareCSMA: r.opts.HardwareCSMA,
		MaxFrameLen:  radio.MaxFrameLen,
	}
}

// Energy reports on-time so far, including the current on period.
func (r *Radio) Energy() Energy {
	e := r.energy
	if r.on {
		e.On += r.now().Sub(r.onSince)
	}
	return e
}
