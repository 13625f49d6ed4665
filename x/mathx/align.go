package mathx

import "golang.org/x/exp/constraints"

// Aligned reports whether v is a multiple of n. n must be a power of two.
func Aligned[T constraints.Unsigned](v, n T) bool { return v&(n-1) == 0 }

// AlignDown rounds v down to a multiple of n (power of two).
func AlignDown[T constraints.Unsigned](v, n T) T { return v &^ (n - 1) }

// InRange reports whether [off, off+n) lies inside [0, size) without overflow.
func InRange[T constraints.Unsigned](off, n, size T) bool {
	return off <= size && n <= size-off
}
