package mac

import (
	"math/rand"
	"time"

	"github.com/golang/glog"

	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/nbr"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
	"nodestack-go/x/mathx"
)

// Deps are the collaborators a MAC is built from.
type Deps struct {
	Loop      *sched.Loop
	Radio     radio.Driver
	Framer    framer.Framer
	Buffers   *queuebuf.Buffers
	Neighbors *nbr.Table
	Seq       *link.Seq
	Self      types.LinkAddr
	PANID     uint16
	Config    types.MACConfig
	Rand      *rand.Rand
	Events    func(types.LinkEvent)
}

type state uint8

const (
	stIdle state = iota
	stPending
	stAwaitAck
	stBackoff
	stDone
)

type job struct {
	f        *link.Frame
	max      int
	awaitAck bool
	done     link.SentFunc
	attempts int
	n        int // encoded length in tx
}

// MAC implements both the csma and nullmac variants. csma performs CCA,
// binary exponential backoff, software acks and retries; nullmac makes a
// single attempt with neither CCA nor an ack wait, unless the sender asks
// for the ack through TxOptions.AwaitAck.
type MAC struct {
	d     Deps
	name  string
	csma  bool
	caps  radio.Capabilities
	upper link.Upper

	queue []*job
	cur   *job
	st    state
	timer *sched.Timer
	tx    [types.MaxFrameLen]byte
	ack   [framer.AckLen]byte

	rx    rxFilter
	stats types.MACStats
}

var _ link.MAC = (*MAC)(nil)

func NewCSMA(d Deps) *MAC { return newMAC(d, types.MACCSMA, true) }
func NewNull(d Deps) *MAC { return newMAC(d, types.MACNull, false) }

func newMAC(d Deps, name string, csma bool) *MAC {
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Config.MaxTransmissions <= 0 {
		d.Config.MaxTransmissions = 1
	}
	if d.Config.QueueLen <= 0 {
		d.Config.QueueLen = 1
	}
	m := &MAC{
		d:    d,
		name: name,
		csma: csma,
		caps: d.Radio.Capabilities(),
	}
	m.rx.init(d.Config.DupHistory, d.Config.DupWindow)
	return m
}

func (m *MAC) SetUpper(u link.Upper) { m.upper = u }
func (m *MAC) Stats() types.MACStats { return m.stats }
func (m *MAC) Idle() bool            { return m.cur == nil && len(m.queue) == 0 }

// ---- send path ----

func (m *MAC) Send(f *link.Frame, opts link.TxOptions, done link.SentFunc) error {
	if len(m.queue)+m.inflight() >= m.d.Config.QueueLen {
		m.stats.TxQueueFull++
		return &errcode.E{C: errcode.QueueFull, Op: m.name}
	}
	if f.Src.IsZero() {
		f.Src = m.d.Self
	}
	if f.DstPAN == 0 {
		f.DstPAN = m.d.PANID
	}
	if f.SrcPAN == 0 {
		f.SrcPAN = m.d.PANID
	}
	if f.Header == nil {
		f.AckRequest = f.Type == link.TypeData && !f.IsBroadcast()
	}
	m.d.Seq.Assign(f)

	max := m.d.Config.MaxTransmissions
	if opts.MaxTransmissions > 0 {
		max = opts.MaxTransmissions
	}
	if !m.csma {
		max = 1
	}
	m.queue = append(m.queue, &job{f: f, max: max, awaitAck: m.csma || opts.AwaitAck, done: done})
	if m.cur == nil {
		m.startNext()
	}
	return nil
}

func (m *MAC) inflight() int {
	if m.cur != nil {
		return 1
	}
	return 0
}

func (m *MAC) startNext() {
	if m.cur != nil || len(m.queue) == 0 {
		return
	}
	j := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.cur = j
	m.st = stPending

	n, err := framer.Assemble(m.d.Framer, j.f, m.tx[:])
	if err != nil {
		m.timer = m.d.Loop.After(0, func() { m.finish(err) })
		return
	}
	j.n = n
	m.timer = m.d.Loop.After(0, m.attempt)
}

func (m *MAC) attempt() {
	j := m.cur
	if j == nil {
		return
	}
	j.attempts++
	j.f.Attempts = j.attempts
	m.stats.TxAttempts++

	if m.csma && !m.caps.HardwareCSMA && !m.d.Radio.ChannelClear() {
		if glog.V(2) {
			glog.Infof("[mac] %s seq %d attempt %d/%d: channel busy", j.f.Dst, j.f.Seq, j.attempts, j.max)
		}
		m.retry(errcode.ChannelBusy, m.d.Loop.Now())
		return
	}

	res := m.d.Radio.Send(m.tx[:j.n])
	now := m.d.Loop.Now()
	doneAt := radio.TxDoneAt(m.d.Radio, now)
	if glog.V(2) {
		glog.Infof("[mac] %s seq %d attempt %d/%d: %s", j.f.Dst, j.f.Seq, j.attempts, j.max, res)
	}

	switch res {
	case radio.TxOK:
		if j.awaitAck && j.f.AckRequest && !m.caps.HardwareAck {
			m.st = stAwaitAck
			m.timer = m.d.Loop.After(doneAt.Sub(now)+m.d.Config.AckWait, func() {
				m.retry(errcode.NoAck, m.d.Loop.Now())
			})
			return
		}
		m.st = stDone
		m.timer = m.d.Loop.At(doneAt, func() { m.finish(nil) })
	case radio.TxCollision:
		m.retry(errcode.ChannelBusy, doneAt)
	case radio.TxNoAck:
		m.retry(errcode.NoAck, doneAt)
	default:
		m.st = stDone
		m.timer = m.d.Loop.At(doneAt, func() {
			m.finish(errcode.Failed(m.name, errcode.RadioError))
		})
	}
}

// retry backs off and tries again, or fails the frame once its ceiling is reached.
func (m *MAC) retry(reason errcode.Code, from time.Time) {
	j := m.cur
	switch reason {
	case errcode.NoAck:
		m.stats.TxNoAck++
	case errcode.ChannelBusy:
		m.stats.TxBusy++
	}
	if j.attempts >= j.max {
		m.st = stDone
		m.timer = m.d.Loop.At(from, func() { m.finish(errcode.Failed(m.name, reason)) })
		return
	}
	m.st = stBackoff
	delay := from.Sub(m.d.Loop.Now()) + m.backoff(j.attempts)
	m.timer = m.d.Loop.After(delay, m.attempt)
}

func (m *MAC) backoff(attempts int) time.Duration {
	be := mathx.Min(m.d.Config.MinBE+attempts-1, m.d.Config.MaxBE)
	if be <= 0 {
		return 0
	}
	return time.Duration(m.d.Rand.Intn(1<<be)) * m.d.Config.BackoffUnit
}

func (m *MAC) finish(err error) {
	j := m.cur
	if j == nil {
		return
	}
	m.cur = nil
	m.st = stIdle
	m.timer = nil

	if err == nil {
		if e := m.d.Neighbors.Touch(j.f.Dst, m.d.Loop.Now()); e != nil {
			e.TxOK++
		}
	} else if e := m.d.Neighbors.Lookup(j.f.Dst); e != nil {
		e.TxFail++
	}
	if err == nil {
		m.stats.TxOK++
	} else if j.max > 1 {
		glog.Warningf("[mac] %s seq %d to %s failed after %d attempts: %v", m.name, j.f.Seq, j.f.Dst, j.attempts, err)
	} else if glog.V(2) {
		glog.Infof("[mac] %s seq %d to %s: %v", m.name, j.f.Seq, j.f.Dst, err)
	}
	if j.done != nil {
		j.done(j.f, err)
	}
	m.startNext()
}

func (m *MAC) handleAck(f *link.Frame) {
	j := m.cur
	if j == nil || m.st != stAwaitAck || f.Seq != j.f.Seq {
		return
	}
	m.timer.Stop()
	m.st = stDone
	m.finish(nil)
}

func (m *MAC) event(kind types.EventKind, code errcode.Code, peer types.LinkAddr) {
	if m.d.Events != nil {
		m.d.Events(types.LinkEvent{Kind: kind, Code: string(code), Layer: m.name, Peer: peer, TS: m.d.Loop.Now().UnixMilli()})
	}
}
