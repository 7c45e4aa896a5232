package shmring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderAcrossWrap(t *testing.T) {
	r := New(64)
	next := byte(0)
	want := byte(0)
	var dst [32]byte

	// Frames of varying size force the records to straddle the end of the buffer.
	for round := 0; round < 500; round++ {
		size := 1 + round%20
		f := make([]byte, size)
		for i := range f {
			f[i] = next
			next++
		}
		require.True(t, r.Push(f), "round %d", round)

		n, ok := r.Pop(dst[:])
		require.True(t, ok)
		require.Equal(t, size, n)
		for i := 0; i < n; i++ {
			require.Equal(t, want, dst[i])
			want++
		}
	}
	_, ok := r.Pop(dst[:])
	require.False(t, ok)
}

func TestPushRejectsWhenFull(t *testing.T) {
	r := New(16)
	require.True(t, r.Push(make([]byte, 10))) // 11 bytes used
	require.False(t, r.Push(make([]byte, 5))) // needs 6, 5 free
	require.True(t, r.Push(make([]byte, 4)))
	require.Equal(t, 2, r.Len())
	require.Equal(t, uint32(1), r.Drops())

	require.False(t, r.Push(nil))
	require.False(t, r.Push(make([]byte, MaxFrame+1)))
	require.Equal(t, uint32(3), r.Drops())
}

func TestPopTruncates(t *testing.T) {
	r := New(32)
	r.Push([]byte{1, 2, 3, 4})
	r.Push([]byte{9})
	var dst [2]byte
	n, ok := r.Pop(dst[:])
	require.True(t, ok)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{1, 2}, dst[:])
	n, ok = r.Pop(dst[:])
	require.True(t, ok)
	require.Equal(t, []byte{9}, dst[:n])
}

func TestReadableEdge(t *testing.T) {
	r := New(32)
	select {
	case <-r.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}
	r.Push([]byte{1})
	r.Push([]byte{2})
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected Readable")
	}
	select {
	case <-r.Readable():
		t.Fatal("unexpected extra Readable")
	default:
	}
}
