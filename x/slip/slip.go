// Package slip implements SLIP framing (RFC 1055).
package slip

const (
	End    = 0xc0
	Esc    = 0xdb
	EscEnd = 0xdc
	EscEsc = 0xdd
)

// Append appends the SLIP encoding of the concatenated parts to dst.
func Append(dst []byte, parts ...[]byte) []byte {
	dst = append(dst, End)
	for _, p := range parts {
		for _, b := range p {
			switch b {
			case End:
				dst = append(dst, Esc, EscEnd)
			case Esc:
				dst = append(dst, Esc, EscEsc)
			default:
				dst = append(dst, b)
			}
		}
	}
	return append(dst, End)
}

// Decoder reassembles SLIP frames from a byte stream. Frames longer
// than the buffer are discarded whole.
type Decoder struct {
	buf  []byte
	n    int
	esc  bool
	over bool
}

func NewDecoder(max int) *Decoder { return &Decoder{buf: make([]byte, max)} }

// Feed consumes one byte and returns a complete frame when b ends one. The
// frame aliases the decoder's buffer until the next call.
func (d *Decoder) Feed(b byte) ([]byte, bool) {
	switch {
	case b == End:
		n, over := d.n, d.over
		d.n, d.esc, d.over = 0, false, false
		if n == 0 || over {
			return nil, false
		}
		return d.buf[:n], true
	case d.esc:
		d.esc = false
		switch b {
		case EscEnd:
			b = End
		case EscEsc:
			b = Esc
		}
	case b == Esc:
		d.esc = true
		return nil, false
	}
	if d.n == len(d.buf) {
		d.over = true
		return nil, false
	}
	d.buf[d.n] = b
	d.n++
	return nil, false
}
