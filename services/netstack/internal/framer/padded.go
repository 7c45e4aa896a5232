package framer

import (
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

const (
	paddedID       = 0xca
	paddedOverhead = 2
)

// Padded wraps the 802.15.4 framer for duty-cycled links: a one-byte id and
// the payload length follow the MAC header, and short frames are zero
// padded so a receiver's channel check cannot fall between two copies.
type Padded struct {
	Inner          IEEE802154
	ShortestPacket int
}

func NewPadded(shortest int) *Padded { return &Padded{ShortestPacket: shortest} }

func (p *Padded) Name() string { return types.FramerPadded }
func (p *Padded) MinLen() int  { return p.ShortestPacket }

func (p *Padded) HeaderLen(f *link.Frame) int {
	return p.Inner.HeaderLen(f) + paddedOverhead
}

func (p *Padded) EncodeHeader(f *link.Frame, dst []byte) (int, error) {
	if len(f.Payload) > 0xff {
		return 0, tooLarge
	}
	n, err := p.Inner.EncodeHeader(f, dst)
	if err != nil {
		return 0, err
	}
	if n+paddedOverhead > len(dst) {
		return 0, shortBuf
	}
	dst[n] = paddedID
	dst[n+1] = byte(len(f.Payload))
	return n + paddedOverhead, nil
}

func (p *Padded) Encode(f *link.Frame, dst []byte) (int, error) {
	if p.HeaderLen(f)+len(f.Payload) > types.MaxFrameLen {
		return 0, tooLarge
	}
	n, err := p.EncodeHeader(f, dst)
	if err != nil {
		return 0, err
	}
	if n+len(f.Payload) > len(dst) {
		return 0, shortBuf
	}
	n += copy(dst[n:], f.Payload)
	return pad(dst, n, p.ShortestPacket), nil
}

func (p *Padded) Decode(b []byte, f *link.Frame) error {
	n, err := decodeHeader(b, f)
	if err != nil {
		return err
	}
	if f.Type == link.TypeAck {
		f.Payload = b[n:]
		return nil
	}
	rest := b[n:]
	if len(rest) < paddedOverhead || rest[0] != paddedID {
		return malformed
	}
	l := int(rest[1])
	if paddedOverhead+l > len(rest) {
		return malformedf("declared length exceeds frame")
	}
	f.Payload = rest[paddedOverhead : paddedOverhead+l]
	return nil
}
