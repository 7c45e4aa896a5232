package aht20

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*fakeI2C)(nil)

// 25.00 C and 50.00 %RH.
var sample = [7]byte{statusCalibrated, 0x80, 0x00, 0x06, 0x00, 0x00, 0x00}

type fakeI2C struct {
	status byte
	busy   int // data reads reporting busy before a sample
	writes [][]byte
	fail   error
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if len(w) > 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
		if w[0] == cmdInitialize {
			f.status |= statusCalibrated
		}
	}
	switch {
	case len(w) == 1 && w[0] == cmdStatus && len(r) == 1:
		r[0] = f.status
	case len(w) == 0 && len(r) == 7:
		copy(r, sample[:])
		if f.busy > 0 {
			f.busy--
			r[0] |= statusBusy
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

func TestInitialisesThenReads(t *testing.T) {
	bus := &fakeI2C{busy: 2}
	d, _ := newDevice(bus)

	require.Equal(t, 2500, d.Value(Temperature))
	require.NoError(t, d.LastErr())
	require.Equal(t, []byte{cmdStatus}, bus.writes[0])
	require.Equal(t, []byte{cmdInitialize, 0x08, 0x00}, bus.writes[1])
	require.Equal(t, []byte{cmdTrigger, 0x33, 0x00}, bus.writes[2])

	bus.writes = nil
	require.Equal(t, 5000, d.Value(Humidity))
	require.Equal(t, [][]byte{{cmdTrigger, 0x33, 0x00}}, bus.writes, "no re-initialisation")
	require.Equal(t, 1, d.Status(StatusCalibrated))
}

func TestBusyTimesOut(t *testing.T) {
	bus := &fakeI2C{status: statusCalibrated, busy: 1000}
	d, slept := newDevice(bus)

	require.Equal(t, 0, d.Value(Humidity))
	require.True(t, errors.Is(d.LastErr(), ErrTimeout))
	var total time.Duration
	for _, s := range *slept {
		total += s
	}
	require.True(t, total <= d.cfg.CollectTimeout+2*d.cfg.PollInterval)
}

func TestErrors(t *testing.T) {
	boom := errors.New("nack")
	d, _ := newDevice(&fakeI2C{fail: boom})
	require.Equal(t, 0, d.Value(Temperature))
	require.True(t, errors.Is(d.LastErr(), boom))
	require.Equal(t, 0, d.Status(StatusCalibrated))
	require.Equal(t, 0, d.Configure(ConfigReset, 0))

	d, _ = newDevice(&fakeI2C{})
	require.Equal(t, 0, d.Value(9))
	require.True(t, errors.Is(d.LastErr(), ErrVariable))
}

func TestResetForcesInit(t *testing.T) {
	bus := &fakeI2C{status: statusCalibrated}
	d, _ := newDevice(bus)
	require.Equal(t, 2500, d.Value(Temperature))
	require.Equal(t, 1, d.Configure(ConfigReset, 0))

	bus.writes = nil
	d.Value(Temperature)
	require.Equal(t, []byte{cmdStatus}, bus.writes[0])
}
