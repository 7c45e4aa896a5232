// Package serialradio drives a radio co-processor attached over a serial
// line. Commands and frames travel SLIP-framed:
//
//	host -> radio   !S<id><frame>   transmit, answered by !R<id><status>
//	                !C<channel>     set channel
//	                !P<power>       set tx power
//	                !c              clear channel query, answered by !c<0|1>
//	radio -> host   !F<frame>       received frame
//
// The co-processor does CCA and acknowledgments itself.
package serialradio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/x/shmring"
	"nodestack-go/x/slip"
)

// Port is the byte stream to the co-processor.
type Port interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Line is an output line that powers the co-processor's receiver
// (1 = listening).
type Line interface {
	SetValue(v int) error
}

// Transmit status bytes in !R replies.
const (
	statusOK        = 0
	statusCollision = 1
	statusNoAck     = 2
)

type Config struct {
	// ReplyTimeout bounds the wait for !R and !c replies.
	ReplyTimeout time.Duration
	// RingSize is the receive ring size in bytes, a power of two.
	RingSize int
	// Line, when set, is driven by Sleep and Wake.
	Line Line
}

var (
	ErrTimeout = errors.New("serialradio: no reply from radio")
	ErrChannel = errors.New("serialradio: channel outside 11..26")
)

type reply struct {
	kind byte
	id   byte
	val  byte
}

// Radio implements radio.Driver over a Port.
type Radio struct {
	port Port
	cfg  Config

	ring    *shmring.Ring
	replies chan reply
	wmu     sync.Mutex
	wbuf    []byte

	nmu    sync.Mutex
	notify func()

	on      atomic.Bool
	sending atomic.Bool
	nextID  uint8
	lastErr error

	rxFrames  atomic.Uint32
	rxBad     atomic.Uint32
	timeouts  atomic.Uint32
	rxDropped atomic.Uint32
}

var _ radio.Driver = (*Radio)(nil)

func New(port Port, cfg Config) *Radio {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 100 * time.Millisecond
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1024
	}
	return &Radio{
		port:    port,
		cfg:     cfg,
		ring:    shmring.New(cfg.RingSize),
		replies: make(chan reply, 4),
		wbuf:    make([]byte, 0, 2*radio.MaxPHYPacket+8),
	}
}

// Run reads from the port until ctx is done. It must be running for Send
// and ChannelClear to get their replies.
func (r *Radio) Run(ctx context.Context) error {
	dec := slip.NewDecoder(radio.MaxPHYPacket + 8)
	buf := make([]byte, 64)
	for {
		n, err := r.port.RecvSomeContext(ctx, buf)
		for _, b := range buf[:n] {
			if f, ok := dec.Feed(b); ok {
				r.dispatch(f)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			glog.Errorf("[serialradio] read: %v", err)
			return err
		}
	}
}

func (r *Radio) dispatch(f []byte) {
	if len(f) < 2 || f[0] != '!' {
		r.rxBad.Add(1)
		return
	}
	switch {
	case f[1] == 'F' && len(f) > 2:
		if !r.on.Load() {
			return
		}
		if !r.ring.Push(f[2:]) {
			r.rxDropped.Add(1)
			return
		}
		r.rxFrames.Add(1)
		r.nmu.Lock()
		fn := r.notify
		r.nmu.Unlock()
		if fn != nil {
			fn()
		}
	case f[1] == 'R' && len(f) == 4:
		r.putReply(reply{kind: 'R', id: f[2], val: f[3]})
	case f[1] == 'c' && len(f) == 3:
		r.putReply(reply{kind: 'c', val: f[2]})
	default:
		r.rxBad.Add(1)
	}
}

func (r *Radio) putReply(rp reply) {
	select {
	case r.replies <- rp:
	default:
		glog.Warningf("[serialradio] reply %c dropped, nobody waiting", rp.kind)
	}
}

func (r *Radio) write(parts ...[]byte) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	r.wbuf = slip.Append(r.wbuf[:0], parts...)
	_, err := r.port.Write(r.wbuf)
	return err
}

// await waits for a reply of kind (and id, for !R), discarding stale ones.
func (r *Radio) await(kind, id byte) (reply, bool) {
	t := time.NewTimer(r.cfg.ReplyTimeout)
	defer t.Stop()
	for {
		select {
		case rp := <-r.replies:
			if rp.kind == kind && (kind != 'R' || rp.id == id) {
				return rp, true
			}
		case <-t.C:
			r.timeouts.Add(1)
			return reply{}, false
		}
	}
}

// ---- radio.Driver ----

func (r *Radio) Send(frame []byte) radio.TxResult {
	if len(frame) == 0 || len(frame) > radio.MaxFrameLen {
		return radio.TxErr
	}
	r.sending.Store(true)
	defer r.sending.Store(false)

	r.nextID++
	id := r.nextID
	if err := r.write([]byte{'!', 'S', id}, frame); err != nil {
		r.lastErr = &errcode.E{C: errcode.RadioError, Op: "serialradio", Err: err}
		return radio.TxErr
	}
	rp, ok := r.await('R', id)
	if !ok {
		r.lastErr = &errcode.E{C: errcode.Timeout, Op: "serialradio", Err: ErrTimeout}
		glog.Warningf("[serialradio] no tx status for frame %d", id)
		return radio.TxErr
	}
	switch rp.val {
	case statusOK:
		return radio.TxOK
	case statusCollision:
		return radio.TxCollision
	case statusNoAck:
		return radio.TxNoAck
	}
	return radio.TxErr
}

func (r *Radio) Receive(buf []byte) (int, bool) { return r.ring.Pop(buf) }

func (r *Radio) SetReceiveNotify(fn func()) {
	r.nmu.Lock()
	r.notify = fn
	r.nmu.Unlock()
}

// ChannelClear asks the co-processor; no answer counts as busy.
func (r *Radio) ChannelClear() bool {
	if err := r.write([]byte{'!', 'c'}); err != nil {
		return false
	}
	rp, ok := r.await('c', 0)
	return ok && rp.val == 1
}

// ReceivingPacket is not reported by the co-processor.
func (r *Radio) ReceivingPacket() bool { return false }
func (r *Radio) PendingPacket() bool   { return r.ring.Len() > 0 }

func (r *Radio) SetChannel(ch uint8) error {
	if ch < 11 || ch > 26 {
		return ErrChannel
	}
	return r.write([]byte{'!', 'C', ch})
}

func (r *Radio) SetTxPower(level int8) error { return r.write([]byte{'!', 'P', byte(level)}) }

func (r *Radio) Sleep() error {
	r.on.Store(false)
	if r.cfg.Line != nil {
		return r.cfg.Line.SetValue(0)
	}
	return nil
}

func (r *Radio) Wake() error {
	r.on.Store(true)
	if r.cfg.Line != nil {
		return r.cfg.Line.SetValue(1)
	}
	return nil
}

func (r *Radio) State() radio.State {
	switch {
	case r.sending.Load():
		return radio.StateTX
	case !r.on.Load():
		return radio.StateSleep
	}
	return radio.StateIdle
}

func (r *Radio) Capabilities() radio.Capabilities {
	return radio.Capabilities{HardwareAck: true, HardwareCSMA: true, MaxFrameLen: radio.MaxFrameLen}
}

// LastErr is the cause of the last TxErr.
func (r *Radio) LastErr() error { return r.lastErr }

type Stats struct {
	RxFrames  uint32
	RxBad     uint32
	RxDropped uint32
	Timeouts  uint32
}

func (r *Radio) Stats() Stats {
	return Stats{
		RxFrames:  r.rxFrames.Load(),
		RxBad:     r.rxBad.Load(),
		RxDropped: r.rxDropped.Load(),
		Timeouts:  r.timeouts.Load(),
	}
}
