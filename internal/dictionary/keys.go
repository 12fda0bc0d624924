package dictionary

import (
	"math/bits"

	"github.com/zeebo/xxh3"
)

// PairKey is two tokens adjacent in the same line, in line order.
type PairKey struct {
	A, B string
}

// TripleKey is three consecutive tokens of the same line, in line order.
type TripleKey struct {
	A, B, C string
}

// Each component is hashed separately and mixed with a rotation so that
// ("ab","c") and ("a","bc") land in different shards without concatenating.

func hashToken(t string) uint64 {
	return xxh3.HashString(t)
}

func hashPair(k PairKey) uint64 {
	return xxh3.HashString(k.A) ^ bits.RotateLeft64(xxh3.HashString(k.B), 23)
}

func hashTriple(k TripleKey) uint64 {
	return xxh3.HashString(k.A) ^
		bits.RotateLeft64(xxh3.HashString(k.B), 23) ^
		bits.RotateLeft64(xxh3.HashString(k.C), 47)
}
