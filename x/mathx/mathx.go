// Package mathx holds the small generic integer helpers used by the stack's
// configuration and backoff arithmetic.
package mathx

import "golang.org/x/exp/constraints"

func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}

func Max[T constraints.Ordered](a, b T) T {
	if b > a {
		return b
	}
	return a
}

// CeilDiv returns ceil(a/b) for non-negative a and positive b; 0 when b <= 0.
func CeilDiv[T constraints.Integer](a, b T) T {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// IsPow2 reports whether v is a positive power of two.
func IsPow2[T constraints.Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}
