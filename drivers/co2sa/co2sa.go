// Package co2sa drives a SenseAir K-series CO2 sensor over I2C. The sensor
// also reports temperature and relative humidity.
//
// Every read is one synchronous exchange:
//
//	write  0x22 0x00 <cmd hi> <cmd lo>
//	wait   20 ms
//	read   status, value hi, value lo, checksum
//
// The checksum is the low byte of the sum of the three preceding bytes.
package co2sa

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x68

// Variables readable through Value.
const (
	CO2 = iota
	Temperature
	Humidity
)

const (
	cmdReadRAM = 0x22
	settle     = 20 * time.Millisecond
)

// Errors recorded in LastErr.
var (
	ErrChecksum = errors.New("co2sa: checksum mismatch")
	ErrVariable = errors.New("co2sa: unknown variable")
)

var commands = [...][2]byte{
	CO2:         {0x08, 0x2A},
	Temperature: {0x12, 0x34},
	Humidity:    {0x14, 0x36},
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x68 if zero.
	Address uint16
	// Settle is the wait between command and read. Default 20 ms.
	Settle time.Duration
}

// Device wraps an I2C connection to the sensor.
type Device struct {
	bus     drivers.I2C
	Address uint16

	settle  time.Duration
	sleep   func(time.Duration)
	w       [4]byte
	r       [4]byte
	lastErr error
}

// New creates a Device. The I2C bus must already be configured.
func New(bus drivers.I2C, cfg Config) *Device {
	d := &Device{bus: bus, Address: cfg.Address, settle: cfg.Settle, sleep: time.Sleep}
	if d.Address == 0 {
		d.Address = Address
	}
	if d.settle <= 0 {
		d.settle = settle
	}
	return d
}

// Status reports the sensor status; this device has none to report.
func (d *Device) Status(kind int) int { return 0 }

// Configure is accepted and ignored.
func (d *Device) Configure(kind, value int) int { return 0 }

// Value reads one variable. It returns 0 on any failure and records the
// cause in LastErr. CO2 is in ppm, temperature in hundredths of a degree C,
// humidity in hundredths of a percent.
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
	if variable < 0 || variable >= len(commands) {
		return 0, ErrVariable
	}
	d.w = [4]byte{cmdReadRAM, 0x00, commands[variable][0], commands[variable][1]}
	if err := d.bus.Tx(d.Address, d.w[:], nil); err != nil {
		return 0, err
	}
	d.sleep(d.settle)
	if err := d.bus.Tx(d.Address, nil, d.r[:]); err != nil {
		return 0, err
	}
	if d.r[0]+d.r[1]+d.r[2] != d.r[3] {
		return 0, ErrChecksum
	}
	return int(int16(uint16(d.r[1])<<8 | uint16(d.r[2]))), nil
}

// LastErr is the cause of the last failed Value, or nil.
func (d *Device) LastErr() error { return d.lastErr }
