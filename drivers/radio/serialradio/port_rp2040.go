//go:build rp2040

package serialradio

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// OpenUART configures one of the rp2040 UARTs for the co-processor link.
// *uartx.UART already satisfies Port.
func OpenUART(n int, baud uint32, tx, rx machine.Pin) (Port, error) {
	hw := uartx.UART0
	if n == 1 {
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{BaudRate: baud, TX: tx, RX: rx}); err != nil {
		return nil, err
	}
	return hw, nil
}

// PinLine drives a plain GPIO pin as the radio's sleep line.
type PinLine machine.Pin

func NewPinLine(p machine.Pin) PinLine {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Low()
	return PinLine(p)
}

func (l PinLine) SetValue(v int) error {
	machine.Pin(l).Set(v != 0)
	return nil
}
