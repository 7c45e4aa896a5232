// Package aht20 drives the AHT20 temperature/humidity sensor through the
// synchronous Status/Configure/Value sensor interface.
//
// A reading is a trigger followed by bounded polling of the status byte:
//
//	write  0xAC 0x33 0x00
//	read   status, 5 data bytes, crc   (repeat while busy)
//
// I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package aht20

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x38

// Variables readable through Value.
const (
	Temperature = iota
	Humidity
)

// Status kinds.
const (
	// StatusCalibrated reports 1 once the device has loaded its calibration.
	StatusCalibrated = iota
)

// Configure kinds.
const (
	// ConfigReset with any value issues a soft reset.
	ConfigReset = iota
)

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

// Errors recorded in LastErr.
var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrVariable = errors.New("aht20: unknown variable")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x38 if zero.
	Address uint16
	// PollInterval is the wait between status polls. Default 15 ms.
	PollInterval time.Duration
	// CollectTimeout bounds one reading. Default 250 ms.
	CollectTimeout time.Duration
}

// Device wraps an I2C connection to an AHT20 device.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg     Config
	ready   bool
	sleep   func(time.Duration)
	buf     [7]byte
	lastErr error
}

// New creates a Device. The I2C bus must already be configured; the device
// is initialised on first use.
func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	return &Device{bus: bus, Address: cfg.Address, cfg: cfg, sleep: time.Sleep}
}

// Status returns 1 for StatusCalibrated when the device reports calibration,
// 0 otherwise.
func (d *Device) Status(kind int) int {
	if kind != StatusCalibrated {
		return 0
	}
	st, err := d.status()
	if err != nil || st&statusCalibrated == 0 {
		return 0
	}
	return 1
}

// Configure handles ConfigReset and returns 1 on success.
func (d *Device) Configure(kind, value int) int {
	if kind != ConfigReset {
		return 0
	}
	if err := d.bus.Tx(d.Address, []byte{cmdSoftReset}, nil); err != nil {
		return 0
	}
	d.ready = false
	d.sleep(20 * time.Millisecond)
	return 1
}

// Value takes a fresh reading and returns one variable: temperature in
// hundredths of a degree C, humidity in hundredths of a percent. It returns
// 0 on failure and records the cause in LastErr.
func (d *Device) Value(variable int) int {
	v, err := d.Read(variable)
	d.lastErr = err
	if err != nil {
		return 0
	}
	return v
}

// Read is Value with the error returned.
func (d *Device) Read(variable int) (int, error) {
	if variable != Temperature && variable != Humidity {
		return 0, ErrVariable
	}
	if err := d.init(); err != nil {
		return 0, err
	}
	if err := d.bus.Tx(d.Address, []byte{cmdTrigger, 0x33, 0x00}, nil); err != nil {
		return 0, err
	}
	for waited := time.Duration(0); ; waited += d.cfg.PollInterval {
		d.sleep(d.cfg.PollInterval)
		if err := d.bus.Tx(d.Address, nil, d.buf[:]); err != nil {
			return 0, err
		}
		if d.buf[0]&statusBusy == 0 {
			break
		}
		if waited >= d.cfg.CollectTimeout {
			return 0, ErrTimeout
		}
	}
	b := d.buf
	if variable == Humidity {
		raw := uint32(b[1])<<12 | uint32(b[2])<<4 | uint32(b[3])>>4
		return int(uint64(raw) * 10000 >> 20), nil
	}
	raw := uint32(b[3]&0x0F)<<16 | uint32(b[4])<<8 | uint32(b[5])
	return int(uint64(raw)*20000>>20) - 5000, nil
}

// LastErr is the cause of the last failed Value, or nil.
func (d *Device) LastErr() error { return d.lastErr }

// init loads calibration once per power cycle or reset.
func (d *Device) init() error {
	if d.ready {
		return nil
	}
	st, err := d.status()
	if err != nil {
		return err
	}
	if st&statusCalibrated == 0 {
		if err := d.bus.Tx(d.Address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
			return err
		}
		d.sleep(10 * time.Millisecond)
	}
	d.ready = true
	return nil
}

func (d *Device) status() (byte, error) {
	if err := d.bus.Tx(d.Address, []byte{cmdStatus}, d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}
