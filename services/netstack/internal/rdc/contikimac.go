package rdc

import (
	"errors"
	"time"

	"github.com/golang/glog"

	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
)

// ContikiMAC duty cycles the radio: it sleeps except for a short channel
// check every interval, and reaches sleeping neighbors by repeating a frame
// until their next check catches it.
type ContikiMAC struct {
	d        Deps
	upper    link.Upper
	interval time.Duration

	running   bool
	nextCheck time.Time
	check     *sched.Timer
	checking  bool
	listening bool
	listen    *sched.Timer
	on        onTimer

	jobs  []*strobe
	cur   *strobe
	stats types.RDCStats
}

// strobe is one frame on its way down, either repeated by the RDC or
// handed to the MAC once.
type strobe struct {
	f      *link.Frame
	done   link.SentFunc
	ref    queuebuf.Handle
	until  time.Time
	lastAt time.Time
	copies int
	aired  int
	phased bool
}

var (
	_ link.RDC      = (*ContikiMAC)(nil)
	_ link.Listener = (*ContikiMAC)(nil)
)

// NewContikiMAC builds the RDC with check interval 1/check_rate. Checks
// start with On.
func NewContikiMAC(d Deps) *ContikiMAC {
	rate := d.Config.CheckRate
	if rate <= 0 {
		rate = 8
	}
	if d.QueueLen <= 0 {
		d.QueueLen = 4
	}
	c := &ContikiMAC{d: d, interval: time.Second / time.Duration(rate)}
	d.MAC.SetUpper(c)
	return c
}

func (c *ContikiMAC) SetUpper(u link.Upper)   { c.upper = u }
func (c *ContikiMAC) Interval() time.Duration { return c.interval }

func (c *ContikiMAC) Stats() types.RDCStats {
	s := c.stats
	s.OnTimeMs = c.on.ms(c.d.Loop.Now())
	return s
}

// ---- power ----

func (c *ContikiMAC) wake() {
	c.on.wake(c.d.Loop.Now())
	if err := c.d.Radio.Wake(); err != nil {
		glog.Warningf("[contikimac] wake: %v", err)
	}
}

func (c *ContikiMAC) sleepIfIdle() {
	if c.cur != nil || c.listening || c.checking {
		return
	}
	c.on.sleep(c.d.Loop.Now())
	if err := c.d.Radio.Sleep(); err != nil {
		glog.Warningf("[contikimac] sleep: %v", err)
	}
}

func (c *ContikiMAC) On() error {
	if c.running {
		return nil
	}
	c.running = true
	var offset time.Duration
	if c.d.Rand != nil {
		offset = time.Duration(c.d.Rand.Int63n(int64(c.interval)))
	}
	c.nextCheck = c.d.Loop.Now().Add(offset)
	c.check = c.d.Loop.At(c.nextCheck, c.channelCheck)
	c.sleepIfIdle()
	return nil
}

func (c *ContikiMAC) Off() error {
	c.running = false
	c.check.Stop()
	c.listen.Stop()
	c.checking = false
	c.listening = false
	c.sleepIfIdle()
	return nil
}

// ---- receive side ----

func (c *ContikiMAC) channelCheck() {
	if !c.running {
		return
	}
	c.nextCheck = c.nextCheck.Add(c.interval)
	c.check = c.d.Loop.At(c.nextCheck, c.channelCheck)
	if c.cur != nil || c.listening || c.checking {
		return
	}
	c.stats.Checks++
	c.checking = true
	c.wake()
	c.sample(1)
}

// sample is the i-th clear channel assessment of a check.
func (c *ContikiMAC) sample(i int) {
	if !c.checking {
		return
	}
	if c.activity() {
		c.checking = false
		c.stats.Detections++
		c.listening = true
		c.listen = c.d.Loop.After(c.d.Config.ListenAfterDetect, c.endListen)
		if glog.V(3) {
			glog.Infof("[contikimac] %s activity on check sample %d", c.d.Self, i)
		}
		return
	}
	if i < c.d.Config.CCACount {
		c.d.Loop.After(c.d.Config.CCASpacing, func() { c.sample(i + 1) })
		return
	}
	c.checking = false
	c.sleepIfIdle()
}

func (c *ContikiMAC) activity() bool {
	r := c.d.Radio
	return !r.ChannelClear() || r.ReceivingPacket() || r.PendingPacket()
}

func (c *ContikiMAC) endListen() {
	c.listening = false
	c.sleepIfIdle()
}

// Heard ends a listen window once a frame has come in. Any ack the MAC
// queued for that frame goes out before the radio sleeps.
func (c *ContikiMAC) Heard() {
	if !c.listening {
		return
	}
	c.stats.RxWakeups++
	c.listen.Stop()
	c.listening = false
	now := c.d.Loop.Now()
	c.d.Loop.At(radio.TxDoneAt(c.d.Radio, now), c.sleepIfIdle)
}

func (c *ContikiMAC) Input(f *link.Frame) {
	if c.upper != nil {
		c.upper.Input(f)
	}
}

// ---- transmit side ----

func (c *ContikiMAC) Send(f *link.Frame, done link.SentFunc) error {
	if len(c.jobs)+c.inflight() >= c.d.QueueLen {
		return &errcode.E{C: errcode.QueueFull, Op: types.RDCContikiMAC}
	}
	c.jobs = append(c.jobs, &strobe{f: f, done: done})
	if c.cur == nil {
		c.startNext()
	}
	return nil
}

func (c *ContikiMAC) inflight() int {
	if c.cur != nil {
		return 1
	}
	return 0
}

func (c *ContikiMAC) startNext() {
	if c.cur != nil || len(c.jobs) == 0 {
		return
	}
	j := c.jobs[0]
	c.jobs[0] = nil
	c.jobs = c.jobs[1:]
	c.cur = j
	c.checking = false
	c.wake()

	if c.passThrough(j.f) {
		if err := c.d.MAC.Send(j.f, link.TxOptions{}, func(f *link.Frame, err error) { c.finish(j, err) }); err != nil {
			c.failLater(j, err)
		}
		return
	}
	if err := c.prepare(j); err != nil {
		c.failLater(j, err)
		return
	}
	if delay := c.phaseDelay(j.f.Dst); delay > 0 {
		j.phased = true
		c.d.Loop.After(delay, func() { c.begin(j) })
		return
	}
	c.begin(j)
}

// passThrough reports whether f skips strobing: the platform retries in
// hardware, or the neighbor never sleeps.
func (c *ContikiMAC) passThrough(f *link.Frame) bool {
	if c.d.Config.HardwareRetry {
		return true
	}
	if f.IsBroadcast() {
		return false
	}
	e := c.d.Neighbors.Lookup(f.Dst)
	return e != nil && e.AlwaysOn
}

// prepare fixes the frame's header fields and encodes the header once into
// a reference buffer shared by every copy.
func (c *ContikiMAC) prepare(j *strobe) error {
	f := j.f
	if f.Src.IsZero() {
		f.Src = c.d.Self
	}
	if f.DstPAN == 0 {
		f.DstPAN = c.d.PANID
	}
	if f.SrcPAN == 0 {
		f.SrcPAN = c.d.PANID
	}
	f.AckRequest = f.Type == link.TypeData && !f.IsBroadcast()
	c.d.Seq.Assign(f)

	h, err := c.d.Buffers.Ref.Acquire()
	if err != nil {
		c.event(types.EventPoolExhausted, errcode.PoolExhausted, f.Dst)
		return err
	}
	j.ref = h
	buf := c.d.Buffers.Ref.Bytes(h)
	n, err := c.d.Framer.EncodeHeader(f, buf)
	if err != nil {
		return err
	}
	f.Header = buf[:n]
	return nil
}

// phaseDelay is how long to hold a strobe so that it starts a guard time
// before dst's learned wake-up.
func (c *ContikiMAC) phaseDelay(dst types.LinkAddr) time.Duration {
	if !c.d.Config.PhaseOptimization || dst.IsBroadcast() {
		return 0
	}
	e := c.d.Neighbors.Lookup(dst)
	if e == nil || !e.HasPhase() {
		return 0
	}
	now := c.d.Loop.Now()
	start := now.Add(c.d.Config.PhaseGuard)
	since := start.Sub(e.WakeAt)
	k := since / c.interval
	if since%c.interval > 0 {
		k++
	}
	wake := e.WakeAt.Add(time.Duration(k) * c.interval)
	return wake.Add(-c.d.Config.PhaseGuard).Sub(now)
}

func (c *ContikiMAC) begin(j *strobe) {
	j.until = c.d.Loop.Now().Add(time.Duration(c.d.Config.MinStrobePeriods) * c.interval)
	c.stats.Strobes++
	if glog.V(2) {
		glog.Infof("[contikimac] strobe to %s seq %d until +%v (phase %v)", j.f.Dst, j.f.Seq, j.until.Sub(c.d.Loop.Now()), j.phased)
	}
	c.sendCopy(j)
}

func (c *ContikiMAC) sendCopy(j *strobe) {
	j.copies++
	j.lastAt = c.d.Loop.Now()
	c.stats.StrobeCopies++
	opts := link.TxOptions{MaxTransmissions: 1, AwaitAck: !j.f.IsBroadcast()}
	err := c.d.MAC.Send(j.f, opts, func(f *link.Frame, err error) {
		c.copyDone(j, err)
	})
	if err != nil {
		c.finish(j, err)
	}
}

func (c *ContikiMAC) copyDone(j *strobe, err error) {
	switch {
	case err == nil:
		j.aired++
		if !j.f.IsBroadcast() {
			c.learnPhase(j)
			c.finish(j, nil)
			return
		}
	case errors.Is(err, errcode.NoAck):
		j.aired++
	case errors.Is(err, errcode.ChannelBusy):
	default:
		c.finish(j, err)
		return
	}

	next := c.d.Loop.Now().Add(c.d.Config.InterFrameGap)
	if next.Before(j.until) {
		c.d.Loop.At(next, func() { c.sendCopy(j) })
		return
	}
	switch {
	case j.aired == 0:
		c.finish(j, errcode.Failed(types.RDCContikiMAC, errcode.ChannelBusy))
	case j.f.IsBroadcast():
		c.finish(j, nil)
	default:
		c.finish(j, errcode.Failed(types.RDCContikiMAC, errcode.NoAck))
	}
}

// learnPhase records when an acked copy went out; the receiver checked
// the channel just before.
func (c *ContikiMAC) learnPhase(j *strobe) {
	if !c.d.Config.PhaseOptimization {
		return
	}
	if j.phased {
		c.stats.PhaseHits++
	}
	if e := c.d.Neighbors.Touch(j.f.Dst, c.d.Loop.Now()); e != nil {
		e.WakeAt = j.lastAt
	}
}

func (c *ContikiMAC) failLater(j *strobe, err error) {
	c.d.Loop.After(0, func() { c.finish(j, err) })
}

func (c *ContikiMAC) finish(j *strobe, err error) {
	if c.cur != j {
		return
	}
	c.cur = nil
	if j.ref != 0 {
		if rerr := c.d.Buffers.Ref.Release(j.ref); rerr != nil {
			glog.Errorf("[contikimac] release ref buffer: %v", rerr)
		}
		j.ref = 0
		j.f.Header = nil
	}
	if err != nil {
		glog.Warningf("[contikimac] to %s seq %d failed after %d copies: %v", j.f.Dst, j.f.Seq, j.copies, err)
	} else if glog.V(2) {
		glog.Infof("[contikimac] to %s seq %d sent, %d copies", j.f.Dst, j.f.Seq, j.copies)
	}
	if j.done != nil {
		j.done(j.f, err)
	}
	c.sleepIfIdle()
	c.startNext()
}

func (c *ContikiMAC) event(kind types.EventKind, code errcode.Code, peer types.LinkAddr) {
	if c.d.Events != nil {
		c.d.Events(types.LinkEvent{Kind: kind, Code: string(code), Layer: types.RDCContikiMAC, Peer: peer, TS: c.d.Loop.Now().UnixMilli()})
	}
}
