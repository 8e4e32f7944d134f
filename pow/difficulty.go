package pow

import (
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/Maxnflaxl/beam/common"
)

// Difficulty is the packed target representation carried in block
// headers: 8-bit order and 24-bit mantissa, encoding the work amount
// (1 + mantissa/2^24) * 2^order.
type Difficulty uint32

const (
	mantissaBits = 24
	mantissaMask = 1<<mantissaBits - 1
)

func MakeDifficulty(order, mantissa uint32) Difficulty {
	return Difficulty(order<<mantissaBits | mantissa&mantissaMask)
}

func (d Difficulty) Order() uint32    { return uint32(d) >> mantissaBits }
func (d Difficulty) Mantissa() uint32 { return uint32(d) & mantissaMask }

// ToWork expands the packed difficulty to the expected work amount,
// rounded down to an integer.
func (d Difficulty) ToWork() *uint256.Int {
	w := uint256.NewInt(uint64(1<<mantissaBits | d.Mantissa()))
	if d.Order() >= mantissaBits {
		return w.Lsh(w, uint(d.Order()-mantissaBits))
	}
	return w.Rsh(w, uint(mantissaBits-d.Order()))
}

// mulWide multiplies a 256-bit value by a small factor, returning the
// overflow word and the low 256 bits.
func mulWide(h *uint256.Int, m uint64) (uint64, uint256.Int) {
	var lo uint256.Int
	var carry uint64
	for i := 0; i < len(h); i++ {
		hiW, loW := bits.Mul64(h[i], m)
		s, c := bits.Add64(loW, carry, 0)
		lo[i] = s
		carry = hiW + c
	}
	return carry, lo
}

// IsTargetReached reports whether a solution hash, read as a
// big-endian number, meets the difficulty: hash * work < 2^256.
func (d Difficulty) IsTargetReached(solution common.Hash) bool {
	var h uint256.Int
	h.SetBytes(solution[:])
	if h.IsZero() {
		return true
	}

	// hash * (2^24 + mantissa) * 2^order < 2^(256+24)
	t := 256 + mantissaBits - int(d.Order())
	if t < 0 {
		return false
	}
	hi, lo := mulWide(&h, uint64(1<<mantissaBits|d.Mantissa()))
	if t >= 256 {
		return hi < 1<<uint(t-256)
	}
	return hi == 0 && lo.BitLen() <= t
}

// AddWork folds one block's work into an accumulated chain work value.
func AddWork(acc *uint256.Int, d Difficulty) {
	acc.Add(acc, d.ToWork())
}
