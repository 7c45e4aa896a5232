package framer

import (
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

// ---- frame control field ----

const (
	fcfSecurity = 1 << 3
	fcfPending  = 1 << 4
	fcfAckReq   = 1 << 5
	fcfPANComp  = 1 << 6

	fcfDstShift     = 10
	fcfVersionShift = 12
	fcfSrcShift     = 14

	modeNone  = 0
	modeShort = 2
	modeExt   = 3

	version2006 = 1
)

// IEEE802154 is the plain 802.15.4-2006 framer. Security is not supported;
// secured frames decode as malformed.
type IEEE802154 struct{}

func (IEEE802154) Name() string { return types.Framer802154 }
func (IEEE802154) MinLen() int  { return 0 }

func addrMode(a types.LinkAddr) (int, bool) {
	switch a.Len() {
	case 0:
		return modeNone, true
	case types.ShortAddrLen:
		return modeShort, true
	case types.ExtAddrLen:
		return modeExt, true
	}
	return 0, false
}

func modeLen(m int) int {
	switch m {
	case modeShort:
		return 2
	case modeExt:
		return 8
	}
	return 0
}

func panCompressed(f *link.Frame) bool {
	return !f.Dst.IsZero() && !f.Src.IsZero() && f.DstPAN == f.SrcPAN
}

func (IEEE802154) HeaderLen(f *link.Frame) int {
	n := 3
	if !f.Dst.IsZero() {
		n += 2 + f.Dst.Len()
	}
	if !f.Src.IsZero() {
		if !panCompressed(f) {
			n += 2
		}
		n += f.Src.Len()
	}
	return n
}

func (fr IEEE802154) EncodeHeader(f *link.Frame, dst []byte) (int, error) {
	dm, ok1 := addrMode(f.Dst)
	sm, ok2 := addrMode(f.Src)
	if !ok1 || !ok2 || f.Type > link.TypeCommand {
		return 0, malformedf("unsupported address width or frame type")
	}
	hl := fr.HeaderLen(f)
	if hl > types.MaxFrameLen {
		return 0, tooLarge
	}
	if hl > len(dst) {
		return 0, shortBuf
	}

	fcf := uint16(f.Type) | uint16(dm)<<fcfDstShift | uint16(sm)<<fcfSrcShift | version2006<<fcfVersionShift
	if f.Pending {
		fcf |= fcfPending
	}
	if f.AckRequest {
		fcf |= fcfAckReq
	}
	comp := panCompressed(f)
	if comp {
		fcf |= fcfPANComp
	}
	dst[0] = byte(fcf)
	dst[1] = byte(fcf >> 8)
	dst[2] = f.Seq
	n := 3
	if dm != modeNone {
		n = putPAN(dst, n, f.DstPAN)
		n = putAddr(dst, n, f.Dst)
	}
	if sm != modeNone {
		if !comp {
			n = putPAN(dst, n, f.SrcPAN)
		}
		n = putAddr(dst, n, f.Src)
	}
	return n, nil
}

func (fr IEEE802154) Encode(f *link.Frame, dst []byte) (int, error) {
	if fr.HeaderLen(f)+len(f.Payload) > types.MaxFrameLen {
		return 0, tooLarge
	}
	n, err := fr.EncodeHeader(f, dst)
	if err != nil {
		return 0, err
	}
	if n+len(f.Payload) > len(dst) {
		return 0, shortBuf
	}
	n += copy(dst[n:], f.Payload)
	return n, nil
}

// decodeHeader parses the MAC header and returns its length.
func decodeHeader(b []byte, f *link.Frame) (int, error) {
	if len(b) > types.MaxFrameLen {
		return 0, malformedf("frame exceeds mtu")
	}
	if len(b) < 3 {
		return 0, malformedf("short frame")
	}
	fcf := uint16(b[0]) | uint16(b[1])<<8
	if fcf&fcfSecurity != 0 {
		return 0, malformedf("security not supported")
	}
	typ := link.FrameType(fcf & 7)
	if typ > link.TypeCommand {
		return 0, malformedf("reserved frame type")
	}
	if (fcf>>fcfVersionShift)&3 > version2006 {
		return 0, malformedf("unsupported frame version")
	}
	dm := int(fcf>>fcfDstShift) & 3
	sm := int(fcf>>fcfSrcShift) & 3
	if dm == 1 || sm == 1 {
		return 0, malformedf("reserved address mode")
	}
	comp := fcf&fcfPANComp != 0
	if comp && (dm == modeNone || sm == modeNone) {
		return 0, malformedf("pan compression without both addresses")
	}

	need := 3
	if dm != modeNone {
		need += 2 + modeLen(dm)
	}
	if sm != modeNone {
		if !comp {
			need += 2
		}
		need += modeLen(sm)
	}
	if len(b) < need {
		return 0, malformedf("truncated header")
	}

	*f = link.Frame{
		Type:       typ,
		Seq:        b[2],
		Pending:    fcf&fcfPending != 0,
		AckRequest: fcf&fcfAckReq != 0,
		HasSeq:     true,
	}
	n := 3
	if dm != modeNone {
		f.DstPAN, n = getPAN(b, n)
		f.Dst, n = getAddr(b, n, modeLen(dm))
	}
	if sm != modeNone {
		if comp {
			f.SrcPAN = f.DstPAN
		} else {
			f.SrcPAN, n = getPAN(b, n)
		}
		f.Src, n = getAddr(b, n, modeLen(sm))
	}
	return n, nil
}

func (IEEE802154) Decode(b []byte, f *link.Frame) error {
	n, err := decodeHeader(b, f)
	if err != nil {
		return err
	}
	f.Payload = b[n:]
	return nil
}

// ---- little-endian field helpers ----

func putPAN(dst []byte, n int, pan uint16) int {
	dst[n] = byte(pan)
	dst[n+1] = byte(pan >> 8)
	return n + 2
}

func getPAN(b []byte, n int) (uint16, int) {
	return uint16(b[n]) | uint16(b[n+1])<<8, n + 2
}

// Addresses travel least significant byte first.
func putAddr(dst []byte, n int, a types.LinkAddr) int {
	raw := a.Array()
	l := a.Len()
	for i := 0; i < l; i++ {
		dst[n+i] = raw[l-1-i]
	}
	return n + l
}

func getAddr(b []byte, n, l int) (types.LinkAddr, int) {
	var raw [8]byte
	for i := 0; i < l; i++ {
		raw[i] = b[n+l-1-i]
	}
	a, _ := types.LinkAddrFromBytes(raw[:l])
	return a, n + l
}

// AckLen is the size of an acknowledgment frame without FCS.
const AckLen = 3

// EncodeAck writes an acknowledgment for seq. Acks carry no addresses and
// are never padded.
func EncodeAck(seq uint8, pending bool, dst []byte) int {
	fcf := uint16(link.TypeAck) | version2006<<fcfVersionShift
	if pending {
		fcf |= fcfPending
	}
	dst[0] = byte(fcf)
	dst[1] = byte(fcf >> 8)
	dst[2] = seq
	return AckLen
}
