package bvm

import (
	"encoding/binary"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"

	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// FundsChangeMap accumulates per-asset locked minus unlocked amounts
// as curve scalars. A zeroed entry is removed, so an empty map means a
// fully balanced invocation.
type FundsChangeMap map[types.AssetID]*secp256k1.ModNScalar

func amountScalar(amount types.Amount) *secp256k1.ModNScalar {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(amount))
	s := new(secp256k1.ModNScalar)
	s.SetByteSlice(b[:])
	return s
}

// Add folds one lock (or unlock) into the accumulator.
func (m FundsChangeMap) Add(aid types.AssetID, amount types.Amount, lock bool) {
	d := amountScalar(amount)
	if !lock {
		d.Negate()
	}
	s, ok := m[aid]
	if !ok {
		if !d.IsZero() {
			m[aid] = d
		}
		return
	}
	s.Add(d)
	if s.IsZero() {
		delete(m, aid)
	}
}

// Commitment materializes the accumulator to the curve point
// sum_a(value_a * H(a)). The empty map yields the neutral point.
func (m FundsChangeMap) Commitment() *secp256k1.JacobianPoint {
	res := new(secp256k1.JacobianPoint)
	var tmp secp256k1.JacobianPoint
	for aid, s := range m {
		secp256k1.ScalarMultNonConst(s, generatorH(uint32(aid)), &tmp)
		secp256k1.AddNonConst(res, &tmp, res)
	}
	return res
}

// IsNeutral reports whether the accumulator commits to the neutral
// point.
func (m FundsChangeMap) IsNeutral() bool {
	return len(m) == 0
}

const lockedTotalSize = 16

// adjustLocked maintains the contract's per-asset locked total, stored
// as a 16-byte big-endian variable. Unlocking more than is locked
// faults; a total that reaches zero deletes the variable.
func (p *ContractProcessor) adjustLocked(aid types.AssetID, amount types.Amount, lock bool) {
	if amount == 0 {
		return
	}
	vk := makeVarKey(p.curCid(), TagLockedAmount, binary.LittleEndian.AppendUint32(nil, uint32(aid)))
	total := new(uint256.Int)
	if v := p.loadVar(vk); v != nil {
		wasm.Test(len(v) == lockedTotalSize)
		total.SetBytes(v)
	}
	delta := uint256.NewInt(uint64(amount))
	if lock {
		total.Add(total, delta)
		wasm.Test(total.BitLen() <= lockedTotalSize*8)
	} else {
		_, underflow := total.SubOverflow(total, delta)
		wasm.Test(!underflow)
	}
	if total.IsZero() {
		p.saveVar(vk, nil)
		return
	}
	buf := total.Bytes32()
	p.saveVar(vk, buf[32-lockedTotalSize:])
}
