package domain

import (
	"fmt"
	"math/big"
)

// Zero returns a fresh zero-valued integer.
func Zero() *big.Int { return new(big.Int) }

// AddBig returns a+b without mutating either operand. Nil is treated as zero.
func AddBig(a, b *big.Int) *big.Int {
	out := new(big.Int)
	if a != nil {
		out.Set(a)
	}
	if b != nil {
		out.Add(out, b)
	}
	return out
}

// CopyBig returns an independent copy of v, or zero when v is nil.
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MaxBig returns the larger of a and b as a fresh value.
func MaxBig(a, b *big.Int) *big.Int {
	a, b = CopyBig(a), CopyBig(b)
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// BigString renders v in base 10, with nil rendered as "0".
func BigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ParseBig parses a base-10 integer.
func ParseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse integer %q", s)
	}
	return v, nil
}
