package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLinkAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
		n    int
	}{
		{"00:12:4b:00:01:02:03:04", "00:12:4b:00:01:02:03:04", 8},
		{"00124B0001020304", "00:12:4b:00:01:02:03:04", 8},
		{"ab-cd", "ab:cd", 2},
		{"0a:0b:0c:0d", "0a:0b:0c:0d", 4},
	}
	for _, tc := range cases {
		a, err := ParseLinkAddr(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.n, a.Len())
		require.Equal(t, tc.want, a.String())
	}

	for _, bad := range []string{"", "abc", "00:11:22", "zz:zz", "0:011"} {
		_, err := ParseLinkAddr(bad)
		require.True(t, errors.Is(err, ErrAddrFormat), bad)
	}
}

func TestLinkAddrEquality(t *testing.T) {
	a, _ := ParseLinkAddr("ff:ff")
	require.True(t, a.IsBroadcast())
	require.Equal(t, BroadcastAddr, a)
	require.Equal(t, ShortAddr(0x0102), mustAddr(t, "01:02"))
	require.NotEqual(t, ShortAddr(0x0102), mustAddr(t, "00:00:01:02"))
	require.True(t, LinkAddr{}.IsZero())
	require.Equal(t, "-", LinkAddr{}.String())
}

func TestLinkAddrText(t *testing.T) {
	var a LinkAddr
	require.NoError(t, a.UnmarshalText([]byte("02:00:00:00:00:00:00:01")))
	b, err := a.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "02:00:00:00:00:00:00:01", string(b))

	require.NoError(t, a.UnmarshalText(nil))
	require.True(t, a.IsZero())
}

func TestIIDRoundTrip(t *testing.T) {
	ext := mustAddr(t, "02:12:4b:00:01:02:03:04")
	iid := ext.IID()
	require.Equal(t, byte(0x00), iid[0])
	back, ok := LinkAddrFromIID(iid, ExtAddrLen)
	require.True(t, ok)
	require.Equal(t, ext, back)

	short := ShortAddr(0xbeef)
	iid = short.IID()
	require.Equal(t, [8]byte{0, 0, 0, 0xff, 0xfe, 0, 0xbe, 0xef}, iid)
	back, ok = LinkAddrFromIID(iid, ShortAddrLen)
	require.True(t, ok)
	require.Equal(t, short, back)

	iid[5] = 1
	_, ok = LinkAddrFromIID(iid, ShortAddrLen)
	require.False(t, ok)
}

func mustAddr(t *testing.T, s string) LinkAddr {
	t.Helper()
	a, err := ParseLinkAddr(s)
	require.NoError(t, err)
	return a
}
