package link

import (
	"time"

	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/types"
)

// FrameType is the 802.15.4 frame type field.
type FrameType uint8

const (
	TypeBeacon  FrameType = 0
	TypeData    FrameType = 1
	TypeAck     FrameType = 2
	TypeCommand FrameType = 3
)

// Frame is one link frame plus its metadata. A frame has exactly one owner
// at a time. Payload normally points into the owner's queue buffer (Buf).
type Frame struct {
	Type       FrameType
	Src        types.LinkAddr
	Dst        types.LinkAddr
	DstPAN     uint16
	SrcPAN     uint16
	Seq        uint8
	AckRequest bool
	Pending    bool
	Payload    []byte

	// Header, when set, is a pre-encoded link header; the MAC sends
	// Header+Payload instead of encoding the frame again.
	Header []byte

	Buf       queuebuf.Handle
	HasSeq    bool
	Attempts  int
	Timestamp time.Time
}

// IsBroadcast reports whether the frame is addressed to everyone.
func (f *Frame) IsBroadcast() bool { return f.Dst.IsBroadcast() }

// SentFunc reports the final outcome of a send. err is nil on success and
// an *errcode.E with code TxFailed (cause ChannelBusy or NoAck) otherwise,
// or another code for local failures (PoolExhausted, PacketTooLarge...).
type SentFunc func(f *Frame, err error)

// TxOptions tune one MAC send.
type TxOptions struct {
	// MaxTransmissions caps the attempts for this frame; 0 uses the MAC default.
	MaxTransmissions int
	// AwaitAck makes success mean acknowledged even on a MAC that does not
	// wait for acks by default.
	AwaitAck bool
}

// Upper receives frames from the layer below. The frame and its payload are
// only valid for the duration of the call.
type Upper interface {
	Input(f *Frame)
}

// UpperFunc adapts a function to Upper.
type UpperFunc func(f *Frame)

func (fn UpperFunc) Input(f *Frame) { fn(f) }

// MAC sends frames with channel access and retries and filters received
// frames before handing them up.
type MAC interface {
	// Send queues f. An error means f was rejected (QueueFull) and done is
	// not called; otherwise done is called exactly once.
	Send(f *Frame, opts TxOptions, done SentFunc) error
	// Poll drains frames waiting in the radio.
	Poll()
	SetUpper(u Upper)
	// Idle reports whether no frame is queued or in flight.
	Idle() bool
	Stats() types.MACStats
}

// RDC decides when the radio listens, and how frames reach sleeping neighbors.
type RDC interface {
	Send(f *Frame, done SentFunc) error
	// Input is called by the MAC for every accepted frame.
	Input(f *Frame)
	SetUpper(u Upper)
	On() error
	Off() error
	// Interval is the channel check period (0 for an always-on RDC).
	Interval() time.Duration
	Stats() types.RDCStats
}

// Packet is the upper-layer unit handed to and delivered by a Network.
type Packet struct {
	Src     types.LinkAddr
	Dst     types.LinkAddr
	NextHop types.LinkAddr
	Data    []byte
}

// Network adapts packets to link frames.
type Network interface {
	// Send transmits pkt. A non-nil return means nothing was sent and done
	// is not called; otherwise done is called once with the final status.
	Send(pkt Packet, done func(error)) error
	Input(f *Frame)
	Stats() types.NetStats
}

// Seq hands out link sequence numbers. One counter is shared by all layers
// of a stack that originate frames.
type Seq struct{ n uint8 }

func NewSeq(start uint8) *Seq { return &Seq{n: start} }

func (s *Seq) Next() uint8 {
	s.n++
	return s.n
}

// Assign sets f.Seq once per logical frame.
func (s *Seq) Assign(f *Frame) {
	if !f.HasSeq {
		f.Seq = s.Next()
		f.HasSeq = true
	}
}

// Listener is optionally implemented by an Upper that wants to know about
// every frame the radio delivered, including ones the MAC filtered out.
type Listener interface {
	Heard()
}

// Fallback takes packets that have no on-link next hop, typically towards a
// border router. Output returns 0 when the packet was taken.
type Fallback interface {
	Output(pkt []byte) int
}
