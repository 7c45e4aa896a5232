//go:build linux

package serialradio

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/warthog618/gpiod"
	"golang.org/x/sys/unix"
)

var bauds = map[uint32]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// SerialPort is a raw 8N1 tty.
type SerialPort struct {
	f *os.File
}

// OpenSerial opens name in raw mode at baud.
func OpenSerial(name string, baud uint32) (*SerialPort, error) {
	rate, ok := bauds[baud]
	if !ok {
		return nil, errors.New("serialradio: unsupported baud rate")
	}
	// Non-blocking so reads go through the runtime poller and honour deadlines.
	f, err := os.OpenFile(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | rate
	t.Ispeed, t.Ospeed = rate, rate
	t.Cc[unix.VMIN], t.Cc[unix.VTIME] = 1, 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, err
	}
	return &SerialPort{f: f}, nil
}

func (p *SerialPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *SerialPort) Close() error                { return p.f.Close() }

// RecvSomeContext blocks until some bytes arrive or ctx is done.
func (p *SerialPort) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p.f.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := p.f.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, err
		}
	}
}

// OpenLine requests a GPIO output line, initially low (radio asleep).
func OpenLine(chip string, offset int) (*gpiod.Line, error) {
	return gpiod.RequestLine(chip, offset, gpiod.AsOutput(0))
}
