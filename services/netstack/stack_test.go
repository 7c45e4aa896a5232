package netstack

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/drivers/radio/simradio"
	"nodestack-go/errcode"
	"nodestack-go/types"
)

type testNode struct {
	st  *Stack
	r   *simradio.Radio
	got [][]byte
}

func newTestNode(t *testing.T, loop *Loop, med *simradio.Medium, addr uint16, cfg types.StackConfig) *testNode {
	n := &testNode{r: med.NewRadio(types.ShortAddr(addr), simradio.FromConfig(cfg.Radio))}
	cfg.AddrSize = 2
	st, err := New(cfg, n.r, Options{
		Loop:    loop,
		Rand:    rand.New(rand.NewSource(int64(addr))),
		Deliver: func(p Packet) { n.got = append(n.got, append([]byte(nil), p.Data...)) },
	})
	require.NoError(t, err)
	require.NoError(t, st.Start())
	n.st = st
	return n
}

func TestStackDeliversUDP(t *testing.T) {
	for _, rdc := range []string{types.RDCContikiMAC, types.RDCNull} {
		t.Run(rdc, func(t *testing.T) {
			loop := NewVirtualLoop()
			med := simradio.NewMedium(loop)
			cfg := types.StackConfig{Layers: types.LayersConfig{RDC: rdc}}
			a := newTestNode(t, loop, med, 1, cfg)
			b := newTestNode(t, loop, med, 2, cfg)
			require.Equal(t, types.ShortAddr(1), a.st.Addr(), "address taken from the driver")

			var done bool
			var sendErr error
			err := a.st.SendUDP(LinkLocal(b.st.Addr()), 5683, 5683, []byte("hello"), func(err error) {
				done, sendErr = true, err
			})
			require.NoError(t, err)
			require.True(t, loop.RunUntil(func() bool { return done }, 2*time.Second))
			require.NoError(t, sendErr)
			loop.RunFor(10 * time.Millisecond)

			require.Len(t, b.got, 1)
			sp, dp, payload, ok := UDPPayload(b.got[0])
			require.True(t, ok)
			require.Equal(t, uint16(5683), sp)
			require.Equal(t, uint16(5683), dp)
			require.Equal(t, []byte("hello"), payload)

			st := a.st.Stats()
			require.Equal(t, uint32(1), st.Net.TxPackets)
			require.Equal(t, 0, st.Queue.InUse)
			require.Equal(t, 0, st.Ref.InUse)
			require.Len(t, a.st.Neighbors(), 1)
			require.Equal(t, b.st.Addr(), a.st.Neighbors()[0].Addr)
		})
	}
}

func TestStackFragmentsOverDutyCycle(t *testing.T) {
	loop := NewVirtualLoop()
	med := simradio.NewMedium(loop)
	cfg := types.StackConfig{Network: types.NetworkConfig{Fragmentation: true, MaxPacket: 400}}
	a := newTestNode(t, loop, med, 1, cfg)
	b := newTestNode(t, loop, med, 2, cfg)

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	var done bool
	require.NoError(t, a.st.SendUDP(LinkLocal(b.st.Addr()), 1, 2, payload, func(err error) {
		require.NoError(t, err)
		done = true
	}))
	require.True(t, loop.RunUntil(func() bool { return done }, 10*time.Second))
	loop.RunFor(10 * time.Millisecond)

	require.Len(t, b.got, 1)
	_, _, got, ok := UDPPayload(b.got[0])
	require.True(t, ok)
	require.Equal(t, payload, got)
	require.True(t, a.st.Stats().Net.TxFragments > 1)
	require.Equal(t, uint32(1), b.st.Stats().Net.Reassembled)
}

func TestNewRejects(t *testing.T) {
	loop := NewVirtualLoop()
	med := simradio.NewMedium(loop)
	r := med.NewRadio(types.ShortAddr(1), simradio.Options{})

	_, err := New(types.StackConfig{AddrSize: 2}, nil, Options{Loop: loop})
	require.True(t, errors.Is(err, errcode.InvalidParams))

	_, err = New(types.StackConfig{AddrSize: 2, Radio: types.RadioConfig{Channel: 30}}, r, Options{Loop: loop})
	require.True(t, errors.Is(err, errcode.InvalidConfig))

	cfg := types.StackConfig{AddrSize: 2, Network: types.NetworkConfig{
		Contexts: []types.ContextConfig{{Index: 0, Prefix: "aaaa::/48"}},
	}}
	_, err = New(cfg, r, Options{Loop: loop})
	require.True(t, errors.Is(err, errcode.InvalidConfig))
}

func TestSendBeforeStart(t *testing.T) {
	loop := NewVirtualLoop()
	med := simradio.NewMedium(loop)
	st, err := New(types.StackConfig{AddrSize: 2}, med.NewRadio(types.ShortAddr(1), simradio.Options{}), Options{Loop: loop})
	require.NoError(t, err)
	err = st.Send(Packet{Data: []byte{1}}, nil)
	require.True(t, errors.Is(err, errcode.NotReady))
	require.False(t, st.Started())

	require.NoError(t, st.Start())
	require.NoError(t, st.Stop())
	require.NoError(t, st.Stop())
}

func TestRimeHasNoUDP(t *testing.T) {
	loop := NewVirtualLoop()
	med := simradio.NewMedium(loop)
	cfg := types.StackConfig{Layers: types.LayersConfig{Network: types.NetRime, RDC: types.RDCNull}}
	a := newTestNode(t, loop, med, 1, cfg)
	b := newTestNode(t, loop, med, 2, cfg)

	err := a.st.SendUDP(LinkLocal(b.st.Addr()), 1, 2, []byte("x"), nil)
	require.True(t, errors.Is(err, errcode.Unsupported))

	require.NoError(t, a.st.Send(Packet{Dst: b.st.Addr(), Data: []byte("flat")}, nil))
	loop.RunFor(100 * time.Millisecond)
	require.Equal(t, [][]byte{[]byte("flat")}, b.got)
}
