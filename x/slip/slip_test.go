package slip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapes(t *testing.T) {
	enc := Append(nil, []byte{End, 1}, []byte{Esc})
	require.Equal(t, []byte{End, Esc, EscEnd, 1, Esc, EscEsc, End}, enc)

	d := NewDecoder(4)
	var got [][]byte
	stream := append(Append(nil, []byte{1, 2, 3, 4, 5}), enc...)
	for _, b := range stream {
		if f, ok := d.Feed(b); ok {
			got = append(got, append([]byte(nil), f...))
		}
	}
	require.Equal(t, [][]byte{{End, 1, Esc}}, got, "oversized frame discarded")
}

func TestEmptyFramesSkipped(t *testing.T) {
	d := NewDecoder(8)
	var got [][]byte
	for _, b := range []byte{End, End, 7, End} {
		if f, ok := d.Feed(b); ok {
			got = append(got, append([]byte(nil), f...))
		}
	}
	require.Equal(t, [][]byte{{7}}, got)
}
