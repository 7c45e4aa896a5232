package co2sa

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*fakeI2C)(nil)

// fakeI2C answers reads with the value held for the last command.
type fakeI2C struct {
	writes [][]byte
	addrs  []uint16
	values map[[2]byte]int16
	last   [2]byte
	badSum bool
	fail   error
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.addrs = append(f.addrs, addr)
	if len(w) > 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
		if len(w) == 4 {
			f.last = [2]byte{w[2], w[3]}
		}
	}
	if len(r) == 4 {
		v := uint16(f.values[f.last])
		r[0] = 0x21
		r[1] = byte(v >> 8)
		r[2] = byte(v)
		r[3] = r[0] + r[1] + r[2]
		if f.badSum {
			r[3]++
		}
	}
	return nil
}

func newDevice(bus *fakeI2C) (*Device, *[]time.Duration) {
	d := New(bus, Config{})
	var slept []time.Duration
	d.sleep = func(t time.Duration) { slept = append(slept, t) }
	return d, &slept
}

func TestReadSequence(t *testing.T) {
	bus := &fakeI2C{values: map[[2]byte]int16{
		{0x08, 0x2A}: 612,
		{0x12, 0x34}: 2150,
		{0x14, 0x36}: -5,
	}}
	d, slept := newDevice(bus)

	require.Equal(t, 612, d.Value(CO2))
	require.Equal(t, 2150, d.Value(Temperature))
	require.Equal(t, -5, d.Value(Humidity))
	require.NoError(t, d.LastErr())

	require.Equal(t, [][]byte{
		{0x22, 0x00, 0x08, 0x2A},
		{0x22, 0x00, 0x12, 0x34},
		{0x22, 0x00, 0x14, 0x36},
	}, bus.writes)
	require.Equal(t, []time.Duration{settle, settle, settle}, *slept)
	for _, a := range bus.addrs {
		require.Equal(t, uint16(Address), a)
	}
}

func TestChecksumMismatch(t *testing.T) {
	bus := &fakeI2C{values: map[[2]byte]int16{{0x08, 0x2A}: 800}, badSum: true}
	d, _ := newDevice(bus)

	require.Equal(t, 0, d.Value(CO2))
	require.True(t, errors.Is(d.LastErr(), ErrChecksum))

	bus.badSum = false
	require.Equal(t, 800, d.Value(CO2))
	require.NoError(t, d.LastErr())
}

func TestBusErrorAndUnknownVariable(t *testing.T) {
	boom := errors.New("nack")
	d, slept := newDevice(&fakeI2C{fail: boom})

	require.Equal(t, 0, d.Value(CO2))
	require.True(t, errors.Is(d.LastErr(), boom))
	require.Empty(t, *slept)

	require.Equal(t, 0, d.Value(7))
	require.True(t, errors.Is(d.LastErr(), ErrVariable))

	require.Equal(t, 0, d.Status(0))
	require.Equal(t, 0, d.Configure(0, 1))
}
