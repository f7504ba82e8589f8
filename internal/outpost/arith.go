package outpost

import (
	"fmt"
	"math/bits"
)

func addU64(a, b uint64, what string) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s %d + %d", ErrOverflow, what, a, b)
	}
	return sum, nil
}

func subU64(a, b uint64, what string) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %s %d - %d", ErrUnderflow, what, a, b)
	}
	return diff, nil
}

func mulU64(a, b uint64, what string) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %s %d * %d", ErrOverflow, what, a, b)
	}
	return lo, nil
}
