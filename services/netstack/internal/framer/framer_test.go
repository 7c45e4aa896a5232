package framer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/types"
)

var (
	extA = types.ExtAddr([8]byte{0x00, 0x12, 0x4b, 0x00, 0x01, 0x02, 0x03, 0x04})
	extB = types.ExtAddr([8]byte{0x00, 0x12, 0x4b, 0x00, 0x0a, 0x0b, 0x0c, 0x0d})
)

func TestWireLayout(t *testing.T) {
	f := &link.Frame{
		Type:       link.TypeData,
		Src:        types.ShortAddr(0x0102),
		Dst:        types.ShortAddr(0x0304),
		DstPAN:     0xabcd,
		SrcPAN:     0xabcd,
		Seq:        7,
		AckRequest: true,
		Payload:    []byte{0xee},
	}
	var buf [types.MaxFrameLen]byte
	n, err := IEEE802154{}.Encode(f, buf[:])
	require.NoError(t, err)
	// fcf 0x9861: data, ack request, pan compression, short/short, 2006.
	require.Equal(t, []byte{0x61, 0x98, 7, 0xcd, 0xab, 0x04, 0x03, 0x02, 0x01, 0xee}, buf[:n])
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	addrs := []types.LinkAddr{{}, types.ShortAddr(0x1234), types.BroadcastAddr, extA, extB}
	framers := []Framer{IEEE802154{}, NewPadded(43)}
	var buf [types.MaxFrameLen]byte

	for _, fr := range framers {
		for _, dst := range addrs {
			for _, src := range addrs {
				if dst.IsZero() && src.IsZero() {
					continue
				}
				for _, samePAN := range []bool{true, false} {
					f := link.Frame{
						Type:       link.TypeData,
						Dst:        dst,
						Src:        src,
						Seq:        uint8(rng.Intn(256)),
						AckRequest: rng.Intn(2) == 0,
						Pending:    rng.Intn(2) == 0,
						HasSeq:     true,
					}
					if !dst.IsZero() {
						f.DstPAN = 0xabcd
					}
					if !src.IsZero() {
						f.SrcPAN = 0xabcd
						if !samePAN {
							f.SrcPAN = 0x1111
						}
					}
					room := types.MaxFrameLen - fr.HeaderLen(&f)
					for _, size := range []int{0, 1, room / 2, room} {
						f.Payload = make([]byte, size)
						rng.Read(f.Payload)

						n, err := fr.Encode(&f, buf[:])
						require.NoError(t, err)
						require.True(t, n >= fr.MinLen())

						var got link.Frame
						require.NoError(t, fr.Decode(buf[:n], &got), "%s %v->%v", fr.Name(), src, dst)
						require.Equal(t, f, got)
					}
				}
			}
		}
	}
}

func TestRejectsOversize(t *testing.T) {
	var buf [types.MaxPHYPacket]byte
	for _, fr := range []Framer{IEEE802154{}, NewPadded(43)} {
		f := &link.Frame{Type: link.TypeData, Dst: extB, Src: extA, Payload: make([]byte, types.MaxFrameLen)}
		_, err := fr.Encode(f, buf[:])
		require.Equal(t, errcode.PacketTooLarge, errcode.Of(err))

		var got link.Frame
		err = fr.Decode(buf[:types.MaxFrameLen+1], &got)
		require.Equal(t, errcode.MalformedFrame, errcode.Of(err))
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"short":     {0x41},
		"security":  {0x49, 0x88, 1, 0xcd, 0xab, 0xff, 0xff, 0x01, 0x00},
		"truncated": {0x41, 0xcc, 1, 0xcd, 0xab, 1, 2, 3},
		"reserved":  {0x41, 0x84, 1, 0xcd, 0xab, 1},
		"version":   {0x41, 0xa8, 1, 0xcd, 0xab, 0xff, 0xff, 0x01, 0x00},
	}
	for name, b := range cases {
		var f link.Frame
		err := IEEE802154{}.Decode(b, &f)
		require.Equal(t, errcode.MalformedFrame, errcode.Of(err), name)
	}
}

func TestPaddedLength(t *testing.T) {
	p := NewPadded(43)
	f := &link.Frame{Type: link.TypeData, Dst: types.BroadcastAddr, Src: extA, DstPAN: 0xabcd, SrcPAN: 0xabcd, Payload: []byte("hi")}
	var buf [types.MaxFrameLen]byte
	n, err := p.Encode(f, buf[:])
	require.NoError(t, err)
	require.Equal(t, 43, n)
	hl := p.HeaderLen(f)
	require.Equal(t, []byte{paddedID, 2, 'h', 'i', 0}, buf[hl-2:hl+3])

	// A declared length past the end of the frame is rejected.
	buf[hl-1] = 200
	var got link.Frame
	require.Equal(t, errcode.MalformedFrame, errcode.Of(p.Decode(buf[:n], &got)))

	buf[hl-1] = 2
	buf[hl-2] = 0x00
	require.Equal(t, errcode.MalformedFrame, errcode.Of(p.Decode(buf[:n], &got)))
}

func TestAssembleWithHeader(t *testing.T) {
	p := NewPadded(43)
	f := &link.Frame{Type: link.TypeData, Dst: extB, Src: extA, DstPAN: 1, SrcPAN: 1, Seq: 9, HasSeq: true, Payload: []byte("strobe")}

	var hdr [types.RefBufSize]byte
	hn, err := p.EncodeHeader(f, hdr[:])
	require.NoError(t, err)
	var want, got [types.MaxFrameLen]byte
	wn, err := p.Encode(f, want[:])
	require.NoError(t, err)

	f.Header = hdr[:hn]
	gn, err := Assemble(p, f, got[:])
	require.NoError(t, err)
	require.Equal(t, want[:wn], got[:gn])
}

func TestAck(t *testing.T) {
	var buf [AckLen]byte
	n := EncodeAck(42, false, buf[:])
	for _, fr := range []Framer{IEEE802154{}, NewPadded(43)} {
		var f link.Frame
		require.NoError(t, fr.Decode(buf[:n], &f))
		require.Equal(t, link.TypeAck, f.Type)
		require.Equal(t, uint8(42), f.Seq)
		require.True(t, f.Dst.IsZero())
	}
}
