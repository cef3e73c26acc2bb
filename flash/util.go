package flash

import (
	"golang.org/x/exp/constraints"
)

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// max will return the maximum of the two values
func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
