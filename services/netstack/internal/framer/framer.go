package framer

import (
	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

// Framer turns link.Frame metadata into bytes and back. Implementations are
// stateless; Decode does not copy, so the decoded payload aliases b.
type Framer interface {
	Name() string
	HeaderLen(f *link.Frame) int
	EncodeHeader(f *link.Frame, dst []byte) (int, error)
	Encode(f *link.Frame, dst []byte) (int, error)
	Decode(b []byte, f *link.Frame) error
	// MinLen is the shortest frame the framer emits (shorter frames are padded).
	MinLen() int
}

// Assemble writes the on-air bytes for f into dst. A frame carrying a
// pre-encoded Header reuses it instead of encoding again.
func Assemble(fr Framer, f *link.Frame, dst []byte) (int, error) {
	if f.Header == nil {
		return fr.Encode(f, dst)
	}
	n := len(f.Header) + len(f.Payload)
	if n > types.MaxFrameLen {
		return 0, tooLarge
	}
	if n > len(dst) {
		return 0, shortBuf
	}
	copy(dst, f.Header)
	copy(dst[len(f.Header):], f.Payload)
	return pad(dst, n, fr.MinLen()), nil
}

func pad(dst []byte, n, min int) int {
	for n < min && n < len(dst) {
		dst[n] = 0
		n++
	}
	return n
}

var (
	malformed = &errcode.E{C: errcode.MalformedFrame, Op: "framer"}
	tooLarge  = &errcode.E{C: errcode.PacketTooLarge, Op: "framer"}
	shortBuf  = &errcode.E{C: errcode.InvalidParams, Op: "framer", Msg: "buffer too small"}
)

func malformedf(msg string) error {
	return &errcode.E{C: errcode.MalformedFrame, Op: "framer", Msg: msg}
}
