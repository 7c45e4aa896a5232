package types

import (
	"encoding/hex"
	"errors"

	"github.com/denisbrodbeck/machineid"

	"nodestack-go/x/conv"
)

// Link-layer address widths.
const (
	ShortAddrLen  = 2
	LegacyAddrLen = 4
	ExtAddrLen    = 8
)

var ErrAddrFormat = errors.New("linkaddr: bad address")

// LinkAddr is a fixed-width link-layer address (2, 4 or 8 bytes).
// The zero value is the unset address. Values are comparable with ==.
type LinkAddr struct {
	n uint8
	b [8]byte
}

// BroadcastAddr is the 802.15.4 short broadcast address 0xffff.
var BroadcastAddr = LinkAddr{n: ShortAddrLen, b: [8]byte{0xff, 0xff}}

func ShortAddr(v uint16) LinkAddr {
	return LinkAddr{n: ShortAddrLen, b: [8]byte{byte(v >> 8), byte(v)}}
}

func ExtAddr(b [8]byte) LinkAddr { return LinkAddr{n: ExtAddrLen, b: b} }

// LinkAddrFromBytes copies b (big-endian, as printed) into an address.
func LinkAddrFromBytes(b []byte) (LinkAddr, error) {
	switch len(b) {
	case ShortAddrLen, LegacyAddrLen, ExtAddrLen:
	default:
		return LinkAddr{}, ErrAddrFormat
	}
	var a LinkAddr
	a.n = uint8(len(b))
	copy(a.b[:], b)
	return a, nil
}

// ParseLinkAddr parses "00:12:4b:00:01:02:03:04", "00124b0001020304" or "ff:ff".
func ParseLinkAddr(s string) (LinkAddr, error) {
	var tmp [8]byte
	n, ok := conv.ParseHexColon(tmp[:], s)
	if !ok {
		return LinkAddr{}, ErrAddrFormat
	}
	return LinkAddrFromBytes(tmp[:n])
}

func (a LinkAddr) Len() int          { return int(a.n) }
func (a LinkAddr) Bytes() []byte     { return append([]byte(nil), a.b[:a.n]...) }
func (a LinkAddr) IsZero() bool      { return a.n == 0 }
func (a LinkAddr) IsBroadcast() bool { return a == BroadcastAddr }

// Short returns the 16-bit value of a 2-byte address.
func (a LinkAddr) Short() uint16 { return uint16(a.b[0])<<8 | uint16(a.b[1]) }

// Array returns the address bytes left-aligned in an 8-byte array.
func (a LinkAddr) Array() [8]byte { return a.b }

func (a LinkAddr) String() string {
	if a.n == 0 {
		return "-"
	}
	var buf [24]byte
	return string(conv.AppendHexColon(buf[:0], a.b[:a.n]))
}

func (a LinkAddr) MarshalText() ([]byte, error) {
	if a.n == 0 {
		return []byte{}, nil
	}
	return conv.AppendHexColon(nil, a.b[:a.n]), nil
}

func (a *LinkAddr) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = LinkAddr{}
		return nil
	}
	v, err := ParseLinkAddr(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// IID returns the IPv6 interface identifier derived from the address:
// EUI-64 with the U/L bit inverted for 8-byte addresses, 0000:00ff:fe00:XXXX
// for 2-byte addresses, and the 4 bytes padded into the low half otherwise.
func (a LinkAddr) IID() [8]byte {
	var iid [8]byte
	switch a.n {
	case ExtAddrLen:
		iid = a.b
		iid[0] ^= 0x02
	case ShortAddrLen:
		iid[3], iid[4] = 0xff, 0xfe
		iid[6], iid[7] = a.b[0], a.b[1]
	case LegacyAddrLen:
		copy(iid[4:], a.b[:4])
	}
	return iid
}

// LinkAddrFromIID is the inverse of IID for the 2- and 8-byte forms.
// size selects the expected width.
func LinkAddrFromIID(iid [8]byte, size int) (LinkAddr, bool) {
	switch size {
	case ExtAddrLen:
		b := iid
		b[0] ^= 0x02
		return ExtAddr(b), true
	case ShortAddrLen:
		if iid[0]|iid[1]|iid[2]|iid[5] != 0 || iid[3] != 0xff || iid[4] != 0xfe {
			return LinkAddr{}, false
		}
		return ShortAddr(uint16(iid[6])<<8 | uint16(iid[7])), true
	case LegacyAddrLen:
		if iid[0]|iid[1]|iid[2]|iid[3] != 0 {
			return LinkAddr{}, false
		}
		a, err := LinkAddrFromBytes(iid[4:])
		return a, err == nil
	}
	return LinkAddr{}, false
}

// LinkAddrFromMachineID derives a stable, locally administered address of the
// given width from the host's machine ID.
func LinkAddrFromMachineID(size int) (LinkAddr, error) {
	id, err := machineid.ProtectedID("nodestack")
	if err != nil {
		return LinkAddr{}, err
	}
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) < ExtAddrLen {
		return LinkAddr{}, ErrAddrFormat
	}
	switch size {
	case ExtAddrLen:
		var b [8]byte
		copy(b[:], raw)
		b[0] = (b[0] | 0x02) &^ 0x01
		return ExtAddr(b), nil
	case ShortAddrLen, LegacyAddrLen:
		a, _ := LinkAddrFromBytes(raw[:size])
		if a == BroadcastAddr {
			a.b[1] = 0xfe
		}
		return a, nil
	}
	return LinkAddr{}, ErrAddrFormat
}
