package conv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexColonRoundTrip(t *testing.T) {
	in := []byte{0x00, 0x12, 0x4b, 0xff}
	s := string(AppendHexColon(nil, in))
	require.Equal(t, "00:12:4b:ff", s)

	var out [8]byte
	n, ok := ParseHexColon(out[:], s)
	require.True(t, ok)
	require.Equal(t, in, out[:n])
}

func TestParseHexColonRejects(t *testing.T) {
	var out [2]byte
	for _, s := range []string{"0", "zz", "00:11:22", "0:01"} {
		_, ok := ParseHexColon(out[:], s)
		require.False(t, ok, s)
	}
	n, ok := ParseHexColon(out[:], "abCD")
	require.True(t, ok)
	require.Equal(t, []byte{0xab, 0xcd}, out[:n])
}

func TestU32Hex(t *testing.T) {
	var buf [8]byte
	require.Equal(t, "00c0ffee", string(U32Hex(buf[:], 0xc0ffee)))
}
