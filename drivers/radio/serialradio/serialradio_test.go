package serialradio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/x/slip"
)

// coproc plays the radio side of the serial link.
type coproc struct {
	rx      chan []byte
	pending []byte

	mu     sync.Mutex
	dec    *slip.Decoder
	cmds   [][]byte
	status byte
	clear  byte
	silent bool
}

func newCoproc() *coproc {
	return &coproc{rx: make(chan []byte, 16), dec: slip.NewDecoder(300), clear: 1}
}

func (c *coproc) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		f, ok := c.dec.Feed(b)
		if !ok {
			continue
		}
		cmd := append([]byte(nil), f...)
		c.cmds = append(c.cmds, cmd)
		if c.silent {
			continue
		}
		switch cmd[1] {
		case 'S':
			c.rx <- slip.Append(nil, []byte{'!', 'R', cmd[2], c.status})
		case 'c':
			c.rx <- slip.Append(nil, []byte{'!', 'c', c.clear})
		}
	}
	return len(p), nil
}

func (c *coproc) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case b := <-c.rx:
			c.pending = b
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *coproc) frame(b []byte) { c.rx <- slip.Append(nil, []byte{'!', 'F'}, b) }

func (c *coproc) set(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

func (c *coproc) commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.cmds...)
}

type line struct {
	mu sync.Mutex
	v  []int
}

func (l *line) SetValue(v int) error {
	l.mu.Lock()
	l.v = append(l.v, v)
	l.mu.Unlock()
	return nil
}

func start(t *testing.T, cfg Config) (*Radio, *coproc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := newCoproc()
	r := New(c, cfg)
	go r.Run(ctx)
	return r, c
}

func TestSendStatus(t *testing.T) {
	r, c := start(t, Config{})
	for status, want := range map[byte]radio.TxResult{
		statusOK:        radio.TxOK,
		statusCollision: radio.TxCollision,
		statusNoAck:     radio.TxNoAck,
		9:               radio.TxErr,
	} {
		c.set(func() { c.status = status })
		require.Equal(t, want, r.Send([]byte{0x41, 0x88, slip.End}))
	}
	cmds := c.commands()
	require.Len(t, cmds, 4)
	require.Equal(t, []byte{'!', 'S', 1, 0x41, 0x88, slip.End}, cmds[0])
	require.Equal(t, radio.TxErr, r.Send(nil))
	require.Equal(t, radio.StateSleep, r.State())
}

func TestSendTimeout(t *testing.T) {
	r, c := start(t, Config{ReplyTimeout: 20 * time.Millisecond})
	c.set(func() { c.silent = true })
	require.Equal(t, radio.TxErr, r.Send([]byte{1}))
	require.True(t, errors.Is(r.LastErr(), errcode.Timeout))
	require.False(t, r.ChannelClear())
	require.Equal(t, uint32(2), r.Stats().Timeouts)
}

func TestReceiveAndNotify(t *testing.T) {
	l := &line{}
	r, c := start(t, Config{Line: l})
	notified := make(chan struct{}, 4)
	r.SetReceiveNotify(func() { notified <- struct{}{} })

	r.dispatch([]byte("!Fasleep"))
	require.False(t, r.PendingPacket(), "frames are dropped while asleep")
	require.NoError(t, r.Wake())
	c.frame([]byte{0x61, slip.End, slip.Esc})
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no notify")
	}
	require.True(t, r.PendingPacket())
	buf := make([]byte, radio.MaxFrameLen)
	n, ok := r.Receive(buf)
	require.True(t, ok)
	require.Equal(t, []byte{0x61, slip.End, slip.Esc}, buf[:n])
	_, ok = r.Receive(buf)
	require.False(t, ok)
	require.Equal(t, uint32(1), r.Stats().RxFrames)

	require.NoError(t, r.Sleep())
	require.Equal(t, []int{1, 0}, l.v)
}

func TestChannelCommands(t *testing.T) {
	r, c := start(t, Config{})
	require.True(t, r.ChannelClear())
	c.set(func() { c.clear = 0 })
	require.False(t, r.ChannelClear())

	require.NoError(t, r.SetChannel(15))
	require.Equal(t, ErrChannel, r.SetChannel(27))
	require.NoError(t, r.SetTxPower(-3))
	cmds := c.commands()
	require.Equal(t, []byte{'!', 'C', 15}, cmds[len(cmds)-2])
	require.Equal(t, []byte{'!', 'P', 0xfd}, cmds[len(cmds)-1])
	require.True(t, r.Capabilities().HardwareAck)
}
