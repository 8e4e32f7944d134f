package pow

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/Maxnflaxl/beam/common"
)

func TestDifficultyPacking(t *testing.T) {
	d := MakeDifficulty(152, 0x123456)
	require.Equal(t, uint32(152), d.Order())
	require.Equal(t, uint32(0x123456), d.Mantissa())

	// mantissa overflow bits are dropped
	d = MakeDifficulty(1, 0xFF000001)
	require.Equal(t, uint32(1), d.Order())
	require.Equal(t, uint32(1), d.Mantissa())
}

func TestDifficultyToWork(t *testing.T) {
	require.Equal(t, uint256.NewInt(1), MakeDifficulty(0, 0).ToWork())
	require.Equal(t, uint256.NewInt(1<<24), MakeDifficulty(24, 0).ToWork())
	require.Equal(t, uint256.NewInt(3<<23), MakeDifficulty(24, 1<<23).ToWork())
	require.Equal(t, uint256.NewInt(3), MakeDifficulty(1, 1<<23).ToWork())

	big := MakeDifficulty(200, 0).ToWork()
	require.Equal(t, 201, big.BitLen())
}

// hashWithBit returns a big-endian hash equal to 2^bit.
func hashWithBit(bit uint) common.Hash {
	var h common.Hash
	h[31-bit/8] = 1 << (bit % 8)
	return h
}

func TestTargetBoundary(t *testing.T) {
	// order 152, mantissa 0: the target is 2^104
	d := MakeDifficulty(152, 0)

	require.True(t, d.IsTargetReached(hashWithBit(103)))

	var below common.Hash
	for i := 19; i < 32; i++ {
		below[i] = 0xFF // 2^104 - 1
	}
	require.True(t, d.IsTargetReached(below))

	require.False(t, d.IsTargetReached(hashWithBit(104)))
	require.False(t, d.IsTargetReached(hashWithBit(200)))
}

func TestTargetZeroHash(t *testing.T) {
	require.True(t, MakeDifficulty(255, mantissaMask).IsTargetReached(common.Hash{}))
}

func TestTargetTrivialDifficulty(t *testing.T) {
	// work 1 admits every hash
	d := MakeDifficulty(0, 0)
	var worst common.Hash
	for i := range worst {
		worst[i] = 0xFF
	}
	require.True(t, d.IsTargetReached(worst))
}

func TestTargetMantissaMatters(t *testing.T) {
	var h common.Hash
	h[19] = 0xC0 // 3 * 2^102
	// 3 * 2^102 * (2^24 + m) crosses 2^128 between these two mantissas
	require.True(t, MakeDifficulty(152, 5_592_405).IsTargetReached(h))
	require.False(t, MakeDifficulty(152, 5_592_406).IsTargetReached(h))
}

func TestAddWork(t *testing.T) {
	acc := uint256.NewInt(0)
	AddWork(acc, MakeDifficulty(24, 0))
	AddWork(acc, MakeDifficulty(24, 0))
	require.Equal(t, uint256.NewInt(1<<25), acc)
}
