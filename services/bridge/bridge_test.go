package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/songgao/packets/ethernet"
	"github.com/stretchr/testify/require"

	"nodestack-go/bus"
	"nodestack-go/types"
	"nodestack-go/x/slip"
)

// ipv6Packet is a minimal datagram from fe80::1 to aaaa::2 with an 8-byte payload.
func ipv6Packet() []byte {
	p := make([]byte, 48)
	p[0] = 0x60
	p[5] = 8
	p[6] = 17
	p[7] = 64
	p[8], p[9], p[23] = 0xfe, 0x80, 1
	p[24], p[25], p[39] = 0xaa, 0xaa, 2
	copy(p[40:], "payload!")
	return p
}

func TestTapFallbackFraming(t *testing.T) {
	var buf bytes.Buffer
	src := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dst := net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
	fb := NewTapFallback(&buf, src, dst)
	fb.Init()

	pkt := ipv6Packet()
	require.Equal(t, 0, fb.Output(pkt))

	f := ethernet.Frame(buf.Bytes())
	require.Equal(t, dst, f.Destination())
	require.Equal(t, src, f.Source())
	require.Equal(t, ethernet.IPv6, f.Ethertype())
	require.Equal(t, []byte{0x86, 0xdd}, buf.Bytes()[12:14])
	require.Equal(t, pkt, f.Payload())

	p, ok := unframe(f)
	require.True(t, ok)
	require.Equal(t, pkt, p)

	buf.Reset()
	require.Equal(t, -1, fb.Output([]byte{0x45, 0, 0}), "not IPv6")
	require.Zero(t, buf.Len())

	bc := NewTapFallback(&buf, src, nil)
	require.Equal(t, 0, bc.Output(pkt))
	require.Equal(t, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, ethernet.Frame(buf.Bytes()).Destination())
}

func TestLogFallbackTakesEverything(t *testing.T) {
	var fb LogFallback
	fb.Init()
	require.Equal(t, 0, fb.Output(ipv6Packet()))
	require.Equal(t, 0, fb.Output([]byte{1, 2}))
}

func TestOutputWithoutLinkDrops(t *testing.T) {
	s := NewService()
	require.Equal(t, -1, s.Output(ipv6Packet()))
	_, _, dropped := s.Counts()
	require.Equal(t, uint32(1), dropped)
}

func TestUARTLinkForwardsBothWays(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	sendSub := conn.Subscribe(bus.T("netstack", "send"))
	stateSub := conn.Subscribe(bus.T("bridge", "state"))

	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	remotes := make(chan net.Conn, 1)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		select {
		case remotes <- rc:
		default:
		}
		return lc, nil
	}

	s := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, conn))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "idle", "awaiting_config")

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		map[string]any{"transport": map[string]any{"type": "uart", "uart": map[string]any{"baud": 115200}}}, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")
	remote := <-remotes

	// Inbound: a SLIP frame from the border becomes a send request.
	pkt := ipv6Packet()
	go remote.Write(slip.Append(nil, pkt))
	select {
	case m := <-sendSub.Channel():
		require.Equal(t, types.SendRequest{Data: pkt}, m.Payload)
	case <-time.After(time.Second):
		t.Fatal("no send request")
	}

	// Outbound: Output writes one SLIP frame.
	done := make(chan int, 1)
	go func() { done <- s.Output(pkt) }()
	dec := slip.NewDecoder(maxPacket)
	rd := make([]byte, 128)
	var got []byte
	for got == nil {
		n, err := remote.Read(rd)
		require.NoError(t, err)
		for _, c := range rd[:n] {
			if f, ok := dec.Feed(c); ok {
				got = append([]byte(nil), f...)
			}
		}
	}
	require.Equal(t, pkt, got)
	require.Equal(t, 0, <-done)
	out, in, _ := s.Counts()
	require.Equal(t, uint32(1), out)
	require.Equal(t, uint32(1), in)

	remote.Close()
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "degraded", "link_lost_retrying")
}

func TestUnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")
	stateSub := conn.Subscribe(bus.T("bridge", "state"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewService().Start(ctx, conn))
	_ = nextStatePayload(t, stateSub, time.Second)

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), "transport: {type: bogus}\n", false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "error", "transport_init_failed")
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
