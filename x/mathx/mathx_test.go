package mathx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, 2, Min(2, 9))
	require.Equal(t, 9, Max(2, 9))
	require.Equal(t, int8(-7), Min(int8(-7), 3))
	require.Equal(t, uint8(5), Max(uint8(5), 5))
}

func TestCeilDivAndPow2(t *testing.T) {
	require.Equal(t, 14, CeilDiv(1280, 96))
	require.Equal(t, 0, CeilDiv(5, 0))
	require.Equal(t, uint8(1), CeilDiv(uint8(1), uint8(8)))

	for _, v := range []int{1, 2, 8, 128} {
		require.True(t, IsPow2(v), v)
	}
	for _, v := range []int{0, -8, 3, 12} {
		require.False(t, IsPow2(v), v)
	}
}
