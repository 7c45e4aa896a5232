package simradio

import (
	"errors"
	"time"

	"github.com/golang/glog"

	"nodestack-go/types"
)

// Scheduler is the run loop the medium schedules airtime events on.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func())
}

const (
	byteTime   = 32 * time.Microsecond // 250 kbit/s O-QPSK
	phyBytes   = 6                     // preamble, SFD, PHR
	turnaround = 192 * time.Microsecond
)

// Airtime is the time a frame of n bytes occupies the channel.
func Airtime(n int) time.Duration { return time.Duration(n+phyBytes) * byteTime }

// hwAckTime covers the turnaround and the 3-byte ack a hardware-ack radio waits for.
var hwAckTime = turnaround + Airtime(3)

// TxRecord describes one transmission, for observers.
type TxRecord struct {
	From    types.LinkAddr
	Channel uint8
	Start   time.Time
	End     time.Time
	Frame   []byte
}

type Stats struct {
	Frames     uint32
	Delivered  uint32
	Collisions uint32
	Lost       uint32
	Busy       time.Duration
}

type transmission struct {
	from     *Radio
	ch       uint8
	start    time.Time
	end      time.Time
	frame    []byte
	rx       []*Radio
	collided map[*Radio]bool
	lost     map[*Radio]bool
}

// Medium is a shared radio channel. Each frame is on air for its airtime;
// it reaches every radio on the same channel that was listening when it
// started and is still awake when it ends. Receptions that overlap at a
// radio are lost together.
type Medium struct {
	sched  Scheduler
	radios []*Radio
	air    []*transmission
	stats  Stats

	// Loss, when set, is consulted once per receiver and frame; true drops it.
	Loss func(from, to *Radio, frame []byte) bool
	// OnTransmit, when set, observes every frame put on air.
	OnTransmit func(TxRecord)
}

func NewMedium(s Scheduler) *Medium { return &Medium{sched: s} }

func (m *Medium) Stats() Stats     { return m.stats }
func (m *Medium) Radios() []*Radio { return m.radios }

func (m *Medium) busy(ch uint8, except *Radio) bool {
	for _, tx := range m.air {
		if tx.ch == ch && tx.from != except {
			return true
		}
	}
	return false
}

// begin puts tx on air and decides who may hear it.
func (m *Medium) begin(tx *transmission) {
	m.stats.Frames++
	// A radio that starts transmitting loses whatever it was receiving.
	for _, other := range m.air {
		for _, r := range other.rx {
			if r == tx.from {
				other.collided[r] = true
			}
		}
	}
	for _, r := range m.radios {
		if r == tx.from || r.channel != tx.ch || !r.listening() {
			continue
		}
		if r.receiving > 0 {
			tx.collided[r] = true
			for _, other := range m.air {
				for _, o := range other.rx {
					if o == r {
						other.collided[r] = true
					}
				}
			}
		}
		if m.Loss != nil && m.Loss(tx.from, r, tx.frame) {
			tx.lost[r] = true
		}
		r.receiving++
		tx.rx = append(tx.rx, r)
	}
	m.air = append(m.air, tx)
	if m.OnTransmit != nil {
		m.OnTransmit(TxRecord{From: tx.from.addr, Channel: tx.ch, Start: tx.start, End: tx.end, Frame: tx.frame})
	}
}

func (m *Medium) end(tx *transmission) {
	for i, t := range m.air {
		if t == tx {
			m.air = append(m.air[:i], m.air[i+1:]...)
			break
		}
	}
	m.stats.Busy += tx.end.Sub(tx.start)
	for _, r := range tx.rx {
		r.receiving--
		switch {
		case tx.collided[r]:
			m.stats.Collisions++
			if glog.V(2) {
				glog.Infof("[sim] collision at %s", r.addr)
			}
		case tx.lost[r]:
			m.stats.Lost++
		case !r.on || r.channel != tx.ch:
			// went to sleep or retuned mid-frame
		default:
			m.stats.Delivered++
			r.deliver(tx.frame)
		}
	}
}

// heardBy reports whether addr started receiving tx cleanly.
func (tx *transmission) heardBy(addr types.LinkAddr) bool {
	for _, r := range tx.rx {
		if r.addr == addr {
			return !tx.collided[r] && !tx.lost[r]
		}
	}
	return false
}

// ackVerdict predicts the hardware ack for a frame queued behind the
// sender's current transmission: the addressee is listening and nothing
// else is on air.
func (m *Medium) ackVerdict(from *Radio, dst types.LinkAddr) bool {
	if m.busy(from.channel, from) {
		return false
	}
	for _, r := range m.radios {
		if r != from && r.addr == dst && r.channel == from.channel && r.listening() && r.receiving == 0 {
			return true
		}
	}
	return false
}

// frameDst extracts the destination of an 802.15.4 data frame that
// requests an acknowledgment.
func frameDst(b []byte) (types.LinkAddr, bool) {
	if len(b) < 3 {
		return types.LinkAddr{}, false
	}
	fcf := uint16(b[0]) | uint16(b[1])<<8
	if fcf&(1<<5) == 0 {
		return types.LinkAddr{}, false
	}
	var l int
	switch (fcf >> 10) & 3 {
	case 2:
		l = 2
	case 3:
		l = 8
	default:
		return types.LinkAddr{}, false
	}
	if len(b) < 5+l {
		return types.LinkAddr{}, false
	}
	var raw [8]byte
	for i := 0; i < l; i++ {
		raw[i] = b[5+l-1-i]
	}
	a, err := types.LinkAddrFromBytes(raw[:l])
	return a, err == nil
}

var errBadChannel = errors.New("simradio: channel outside 11..26")
