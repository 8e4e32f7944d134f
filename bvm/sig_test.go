package bvm

import (
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/Maxnflaxl/beam/types"
)

func scalarFromUint(v uint32) *secp256k1.ModNScalar {
	s := new(secp256k1.ModNScalar)
	s.SetInt(v)
	return s
}

func pubKeyOf(sk *secp256k1.ModNScalar) types.PubKey {
	var pt secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(sk, &pt)
	var pk types.PubKey
	exportPoint(pk[:], &pt)
	return pk
}

func TestSignVerifyAggregate(t *testing.T) {
	msg := []byte("kernel body")
	sk := scalarFromUint(12345)
	nonce := scalarFromUint(777)

	sig := SignAggregate(msg, []*secp256k1.ModNScalar{sk}, nonce)
	require.True(t, VerifyAggregate(msg, []types.PubKey{pubKeyOf(sk)}, &sig))
	require.False(t, VerifyAggregate([]byte("other body"), []types.PubKey{pubKeyOf(sk)}, &sig))
}

func TestSignVerifyTwoKeys(t *testing.T) {
	msg := []byte("two signers")
	sk1 := scalarFromUint(1001)
	sk2 := scalarFromUint(2002)
	nonce := scalarFromUint(31337)

	sig := SignAggregate(msg, []*secp256k1.ModNScalar{sk1, sk2}, nonce)
	pks := []types.PubKey{pubKeyOf(sk1), pubKeyOf(sk2)}
	require.True(t, VerifyAggregate(msg, pks, &sig))

	// one key missing from the aggregate
	require.False(t, VerifyAggregate(msg, pks[:1], &sig))
}

func TestVerifyRejectsDegenerate(t *testing.T) {
	msg := []byte("m")
	sk := scalarFromUint(5)
	sig := SignAggregate(msg, []*secp256k1.ModNScalar{sk}, scalarFromUint(6))
	pks := []types.PubKey{pubKeyOf(sk)}

	require.False(t, VerifyAggregate(msg, pks, nil))
	require.False(t, VerifyAggregate(msg, nil, &sig))

	tampered := sig
	tampered.K[31] ^= 1
	require.False(t, VerifyAggregate(msg, pks, &tampered))

	var badNonce types.Signature
	require.False(t, VerifyAggregate(msg, pks, &badNonce))
}
