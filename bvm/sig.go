package bvm

import (
	"crypto/sha256"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Maxnflaxl/beam/types"
)

// challenge derives the Schnorr challenge scalar e = H(R.X || msg).
func challenge(noncePub types.PubKey, msg []byte) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(noncePub[:32])
	h.Write(msg)
	e := new(secp256k1.ModNScalar)
	e.SetByteSlice(h.Sum(nil))
	return e
}

// VerifyAggregate checks a Schnorr-style signature over msg against
// the sum of the given public keys: k*G == R + e*sum(P).
func VerifyAggregate(msg []byte, pks []types.PubKey, sig *types.Signature) bool {
	if sig == nil || len(pks) == 0 {
		return false
	}

	var r secp256k1.JacobianPoint
	if !importPoint(&r, sig.NoncePub[:]) {
		return false
	}

	var sum secp256k1.JacobianPoint
	for i := range pks {
		var pt secp256k1.JacobianPoint
		if !importPoint(&pt, pks[i][:]) {
			return false
		}
		secp256k1.AddNonConst(&sum, &pt, &sum)
	}

	var k secp256k1.ModNScalar
	if k.SetByteSlice(sig.K[:]) {
		return false
	}

	var lhs secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &lhs)

	var rhs secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(challenge(sig.NoncePub, msg), &sum, &rhs)
	secp256k1.AddNonConst(&rhs, &r, &rhs)

	return pointsEqual(&lhs, &rhs)
}

// SignAggregate produces a signature verifiable by VerifyAggregate,
// given every private key whose public key the contract accumulated.
func SignAggregate(msg []byte, sks []*secp256k1.ModNScalar, nonce *secp256k1.ModNScalar) types.Signature {
	var sig types.Signature

	var r secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(nonce, &r)
	exportPoint(sig.NoncePub[:], &r)

	k := new(secp256k1.ModNScalar).Set(nonce)
	e := challenge(sig.NoncePub, msg)
	for _, sk := range sks {
		var t secp256k1.ModNScalar
		t.Mul2(e, sk)
		k.Add(&t)
	}
	kb := k.Bytes()
	copy(sig.K[:], kb[:])
	return sig
}

func pointsEqual(a, b *secp256k1.JacobianPoint) bool {
	if pointIsZero(a) || pointIsZero(b) {
		return pointIsZero(a) == pointIsZero(b)
	}
	aa, bb := *a, *b
	aa.ToAffine()
	bb.ToAffine()
	return aa.X.Equals(&bb.X) && aa.Y.Equals(&bb.Y)
}
