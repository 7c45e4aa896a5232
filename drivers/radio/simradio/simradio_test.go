package simradio

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/drivers/radio"
	"nodestack-go/types"
)

// stepSched is a minimal virtual-time scheduler for driving the medium.
type stepSched struct {
	now    time.Time
	seq    int
	events []event
}

type event struct {
	at  time.Time
	seq int
	fn  func()
}

func newSched() *stepSched { return &stepSched{now: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (s *stepSched) Now() time.Time { return s.now }

func (s *stepSched) AfterFunc(d time.Duration, fn func()) {
	s.seq++
	s.events = append(s.events, event{at: s.now.Add(d), seq: s.seq, fn: fn})
}

func (s *stepSched) advance(d time.Duration) {
	end := s.now.Add(d)
	for {
		sort.Slice(s.events, func(i, j int) bool {
			if s.events[i].at.Equal(s.events[j].at) {
				return s.events[i].seq < s.events[j].seq
			}
			return s.events[i].at.Before(s.events[j].at)
		})
		if len(s.events) == 0 || s.events[0].at.After(end) {
			break
		}
		ev := s.events[0]
		s.events = s.events[1:]
		s.now = ev.at
		ev.fn()
	}
	s.now = end
}

// dataFrame builds a minimal 802.15.4 data frame with short addresses.
func dataFrame(dst, src uint16, ackReq bool, size int) []byte {
	fcf := uint16(0x8841)
	if ackReq {
		fcf |= 1 << 5
	}
	b := []byte{byte(fcf), byte(fcf >> 8), 1, 0xcd, 0xab, byte(dst), byte(dst >> 8), byte(src), byte(src >> 8)}
	for len(b) < size {
		b = append(b, 0x55)
	}
	return b
}

func recvAll(r *Radio) [][]byte {
	var out [][]byte
	buf := make([]byte, radio.MaxFrameLen)
	for {
		n, ok := r.Receive(buf)
		if !ok {
			return out
		}
		out = append(out, append([]byte(nil), buf[:n]...))
	}
}

func TestDeliveryAfterAirtime(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	b := m.NewRadio(types.ShortAddr(2), Options{})
	c := m.NewRadio(types.ShortAddr(3), Options{})
	require.NoError(t, b.Wake())

	notified := 0
	b.SetReceiveNotify(func() { notified++ })

	frame := dataFrame(2, 1, false, 20)
	require.Equal(t, radio.TxOK, a.Send(frame))
	require.Equal(t, radio.StateTX, a.State())
	require.False(t, b.ChannelClear())
	require.True(t, a.ChannelClear())
	require.True(t, b.ReceivingPacket())

	s.advance(Airtime(len(frame)) - time.Microsecond)
	require.False(t, b.PendingPacket())

	s.advance(time.Microsecond)
	require.Equal(t, 1, notified)
	require.Equal(t, [][]byte{frame}, recvAll(b))
	require.Empty(t, recvAll(c), "sleeping radio hears nothing")
	require.True(t, b.ChannelClear())
	require.Equal(t, uint32(1), m.Stats().Delivered)
}

func TestSleepMidFrameLosesIt(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	b := m.NewRadio(types.ShortAddr(2), Options{})
	b.Wake()

	a.Send(dataFrame(2, 1, false, 40))
	s.advance(100 * time.Microsecond)
	b.Sleep()
	s.advance(time.Millisecond)
	b.Wake()
	require.Empty(t, recvAll(b))
}

func TestCollision(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	b := m.NewRadio(types.ShortAddr(2), Options{})
	c := m.NewRadio(types.ShortAddr(3), Options{})
	c.Wake()

	a.Send(dataFrame(3, 1, false, 30))
	s.advance(200 * time.Microsecond)
	b.Send(dataFrame(3, 2, false, 30))
	s.advance(5 * time.Millisecond)

	require.Empty(t, recvAll(c))
	require.Equal(t, uint32(2), m.Stats().Collisions)
}

func TestHardwareAckAndCSMA(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	opts := Options{HardwareAck: true, HardwareCSMA: true}
	a := m.NewRadio(types.ShortAddr(1), opts)
	b := m.NewRadio(types.ShortAddr(2), opts)
	c := m.NewRadio(types.ShortAddr(3), opts)

	// Addressee asleep: no ack.
	frame := dataFrame(2, 1, true, 20)
	require.Equal(t, radio.TxNoAck, a.Send(frame))
	require.Equal(t, s.Now().Add(Airtime(20)+hwAckTime), a.TxEnd())
	s.advance(10 * time.Millisecond)

	b.Wake()
	require.Equal(t, radio.TxOK, a.Send(frame))
	s.advance(10 * time.Millisecond)
	require.Len(t, recvAll(b), 1)

	// Broadcasts never wait for an ack.
	require.Equal(t, radio.TxOK, a.Send(dataFrame(0xffff, 1, false, 20)))
	require.Equal(t, s.Now().Add(Airtime(20)), a.TxEnd())

	// CCA fails while a's broadcast is on air.
	require.Equal(t, radio.TxCollision, c.Send(dataFrame(2, 3, true, 20)))
	require.Equal(t, uint32(1), c.Stats().TxBusy)
}

func TestLossAndOverflow(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	b := m.NewRadio(types.ShortAddr(2), Options{RxBuffers: 2})
	b.Wake()

	drop := true
	m.Loss = func(from, to *Radio, frame []byte) bool { return drop }
	a.Send(dataFrame(2, 1, false, 10))
	s.advance(time.Millisecond)
	require.Empty(t, recvAll(b))
	require.Equal(t, uint32(1), m.Stats().Lost)

	drop = false
	for i := 0; i < 3; i++ {
		a.Send(dataFrame(2, 1, false, 10))
		s.advance(time.Millisecond)
	}
	require.Equal(t, uint32(1), b.Stats().RxOverflow)
	require.Len(t, recvAll(b), 2)
}

func TestQueuedSendsSerialize(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	var recs []TxRecord
	m.OnTransmit = func(r TxRecord) { recs = append(recs, r) }

	a.Send(dataFrame(2, 1, false, 20))
	a.Send(dataFrame(2, 1, false, 20))
	s.advance(10 * time.Millisecond)
	require.Len(t, recs, 2)
	require.Equal(t, recs[0].End, recs[1].Start)
}

func TestEnergy(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	a := m.NewRadio(types.ShortAddr(1), Options{})
	a.Wake()
	s.advance(3 * time.Millisecond)
	a.Sleep()
	s.advance(10 * time.Millisecond)
	a.Wake()
	s.advance(time.Millisecond)
	a.Send(dataFrame(2, 1, false, 10))

	e := a.Energy()
	require.Equal(t, 4*time.Millisecond, e.On)
	require.Equal(t, Airtime(10), e.Tx)
	require.Error(t, a.SetChannel(27))
	require.NoError(t, a.SetChannel(15))
}

func TestFromConfig(t *testing.T) {
	s := newSched()
	m := NewMedium(s)
	cfg := types.RadioConfig{Channel: 15, RxBuffers: 1, HardwareAck: true, HardwareCSMA: true}
	a := m.NewRadio(types.ShortAddr(1), FromConfig(types.RadioConfig{Channel: 15}))
	b := m.NewRadio(types.ShortAddr(2), FromConfig(cfg))
	require.NoError(t, b.Wake())

	caps := b.Capabilities()
	require.True(t, caps.HardwareAck)
	require.True(t, caps.HardwareCSMA)
	require.False(t, a.Capabilities().HardwareAck)

	for i := 0; i < 2; i++ {
		require.Equal(t, radio.TxOK, a.Send(dataFrame(2, 1, false, 10)))
		s.advance(time.Millisecond)
	}
	require.Equal(t, uint32(1), b.Stats().RxOverflow, "one receive buffer")
	require.Len(t, recvAll(b), 1)
}
