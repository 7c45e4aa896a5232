package radio

import (
	"time"

	"nodestack-go/errcode"
	"nodestack-go/types"
)

// Physical limits, re-exported for drivers.
const (
	MaxPHYPacket = types.MaxPHYPacket
	FCSLen       = types.FCSLen
	MaxFrameLen  = types.MaxFrameLen
)

// TxResult is the outcome of one transmission.
type TxResult uint8

const (
	TxOK        TxResult = iota // sent (and acknowledged, when the driver waits for acks)
	TxCollision                 // clear channel assessment failed
	TxNoAck                     // hardware ack wait expired
	TxErr                       // driver or bus failure
)

func (r TxResult) String() string {
	switch r {
	case TxOK:
		return "ok"
	case TxCollision:
		return "collision"
	case TxNoAck:
		return "noack"
	default:
		return "err"
	}
}

// Err maps a result onto the stack's error codes; TxOK maps to nil.
func (r TxResult) Err() error {
	switch r {
	case TxOK:
		return nil
	case TxCollision:
		return errcode.ChannelBusy
	case TxNoAck:
		return errcode.NoAck
	default:
		return errcode.RadioError
	}
}

type State uint8

const (
	StateSleep State = iota
	StateIdle
	StateRX
	StateTX
)

func (s State) String() string {
	switch s {
	case StateSleep:
		return "sleep"
	case StateIdle:
		return "idle"
	case StateRX:
		return "rx"
	default:
		return "tx"
	}
}

// Capabilities tells the MAC which work the hardware already does.
type Capabilities struct {
	HardwareAck  bool // Send waits for the ack and reports TxNoAck
	HardwareCSMA bool // Send performs CCA and reports TxCollision
	MaxFrameLen  int
}

// Driver owns one transceiver. Frames passed to and from a driver exclude
// the FCS. Apart from SetReceiveNotify's callback, all methods are called
// from the stack's run loop.
type Driver interface {
	// Send transmits frame and returns when the radio is done with it.
	Send(frame []byte) TxResult
	// Receive copies the oldest received frame into buf without blocking.
	Receive(buf []byte) (int, bool)
	// SetReceiveNotify registers fn, called from interrupt context when a
	// frame becomes available. fn must not block.
	SetReceiveNotify(fn func())

	ChannelClear() bool
	ReceivingPacket() bool
	PendingPacket() bool

	SetChannel(ch uint8) error
	SetTxPower(level int8) error
	// Sleep turns the receiver off. Wake turns it on (listening).
	Sleep() error
	Wake() error
	State() State

	Capabilities() Capabilities
}

// AsyncSender is implemented by drivers whose Send returns before the frame
// has left the air (a simulated radio). TxEnd reports when the last
// transmission, including any hardware ack wait, completes. Drivers whose
// Send blocks until then need not implement it.
type AsyncSender interface {
	TxEnd() time.Time
}

// TxDoneAt returns when the last Send on d completes, given the current time.
func TxDoneAt(d Driver, now time.Time) time.Time {
	if a, ok := d.(AsyncSender); ok {
		if end := a.TxEnd(); end.After(now) {
			return end
		}
	}
	return now
}
