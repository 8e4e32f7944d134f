package bvm

import (
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/Maxnflaxl/beam/types"
)

func commitmentBytes(m FundsChangeMap) [33]byte {
	var out [33]byte
	exportPoint(out[:], m.Commitment())
	return out
}

func TestFundsBalancedIsNeutral(t *testing.T) {
	m := make(FundsChangeMap)
	m.Add(0, 1_000_000, true)
	m.Add(0, 1_000_000, false)
	require.True(t, m.IsNeutral())
	require.Equal(t, [33]byte{}, commitmentBytes(m))
}

func TestFundsLockCommitment(t *testing.T) {
	m := make(FundsChangeMap)
	m.Add(3, 42, true)
	require.False(t, m.IsNeutral())

	var want secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(amountScalar(42), generatorH(3), &want)
	var wb [33]byte
	exportPoint(wb[:], &want)
	require.Equal(t, wb, commitmentBytes(m))
}

func TestFundsMultiAsset(t *testing.T) {
	m := make(FundsChangeMap)
	m.Add(1, 10, true)
	m.Add(2, 20, true)
	m.Add(1, 4, false)

	var a, b, sum secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(amountScalar(6), generatorH(1), &a)
	secp256k1.ScalarMultNonConst(amountScalar(20), generatorH(2), &b)
	secp256k1.AddNonConst(&a, &b, &sum)
	var wb [33]byte
	exportPoint(wb[:], &sum)
	require.Equal(t, wb, commitmentBytes(m))
}

func TestFundsNetNegative(t *testing.T) {
	m := make(FundsChangeMap)
	m.Add(0, 5, false)
	m.Add(0, 2, true)
	require.False(t, m.IsNeutral())

	// -3 * H(0) == -(3 * H(0))
	var pos, neg secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(amountScalar(3), generatorH(0), &pos)
	neg = pos
	neg.Y.Normalize()
	neg.Y.Negate(1)
	neg.Y.Normalize()
	var wb [33]byte
	exportPoint(wb[:], &neg)
	require.Equal(t, wb, commitmentBytes(m))
}

func TestFundsZeroAmountIgnored(t *testing.T) {
	m := make(FundsChangeMap)
	m.Add(types.AssetID(7), 0, true)
	require.True(t, m.IsNeutral())
}
