package bvm

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Maxnflaxl/beam/wasm"
)

func (p *Processor) getScalar(h uint32) *secp256k1.ModNScalar {
	s, ok := p.scalars[h]
	if !ok {
		wasm.Throw(wasm.FaultCondition, "bad scalar handle")
	}
	return s
}

func (p *Processor) getPoint(h uint32) *secp256k1.JacobianPoint {
	pt, ok := p.points[h]
	if !ok {
		wasm.Throw(wasm.FaultCondition, "bad point handle")
	}
	return pt
}

func (p *Processor) invokeSecp(binding uint32) {
	switch binding {

	case bindSecpScalarAlloc:
		h := p.newHandle()
		p.scalars[h] = new(secp256k1.ModNScalar)
		p.VM.Push(h)

	case bindSecpScalarFree:
		h := p.VM.Pop()
		p.getScalar(h)
		delete(p.scalars, h)

	case bindSecpScalarImport:
		data := p.VM.Pop()
		s := p.getScalar(p.VM.Pop())
		overflow := s.SetByteSlice(p.memAt(data, 32))
		p.VM.Push(boolWord(!overflow))

	case bindSecpScalarExport:
		data := p.VM.Pop()
		s := p.getScalar(p.VM.Pop())
		b := s.Bytes()
		copy(p.memAt(data, 32), b[:])

	case bindSecpScalarNeg:
		src := p.getScalar(p.VM.Pop())
		dst := p.getScalar(p.VM.Pop())
		dst.NegateVal(src)

	case bindSecpScalarAdd:
		b := p.getScalar(p.VM.Pop())
		a := p.getScalar(p.VM.Pop())
		dst := p.getScalar(p.VM.Pop())
		dst.Add2(a, b)

	case bindSecpScalarMul:
		b := p.getScalar(p.VM.Pop())
		a := p.getScalar(p.VM.Pop())
		dst := p.getScalar(p.VM.Pop())
		dst.Mul2(a, b)

	case bindSecpScalarInv:
		src := p.getScalar(p.VM.Pop())
		dst := p.getScalar(p.VM.Pop())
		dst.InverseValNonConst(src)

	case bindSecpScalarSet:
		val := p.VM.Pop64()
		s := p.getScalar(p.VM.Pop())
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], val)
		s.SetByteSlice(b[:])

	case bindSecpPointAlloc:
		h := p.newHandle()
		p.points[h] = new(secp256k1.JacobianPoint)
		p.VM.Push(h)

	case bindSecpPointFree:
		h := p.VM.Pop()
		p.getPoint(h)
		delete(p.points, h)

	case bindSecpPointImport:
		data := p.VM.Pop()
		pt := p.getPoint(p.VM.Pop())
		b := p.memAt(data, 33)
		ok := importPoint(pt, b)
		p.VM.Push(boolWord(ok))

	case bindSecpPointExport:
		data := p.VM.Pop()
		pt := p.getPoint(p.VM.Pop())
		exportPoint(p.memAt(data, 33), pt)

	case bindSecpPointNeg:
		src := p.getPoint(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		*dst = *src
		dst.Y.Negate(1)
		dst.Y.Normalize()

	case bindSecpPointAdd:
		b := p.getPoint(p.VM.Pop())
		a := p.getPoint(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		secp256k1.AddNonConst(a, b, dst)

	case bindSecpPointMul:
		s := p.getScalar(p.VM.Pop())
		pt := p.getPoint(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		secp256k1.ScalarMultNonConst(s, pt, dst)

	case bindSecpPointIsZero:
		pt := p.getPoint(p.VM.Pop())
		p.VM.Push(boolWord(pointIsZero(pt)))

	case bindSecpPointMulG:
		s := p.getScalar(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		secp256k1.ScalarBaseMultNonConst(s, dst)

	case bindSecpPointMulJ:
		s := p.getScalar(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		secp256k1.ScalarMultNonConst(s, generatorJ(), dst)

	case bindSecpPointMulH:
		aid := p.VM.Pop()
		s := p.getScalar(p.VM.Pop())
		dst := p.getPoint(p.VM.Pop())
		secp256k1.ScalarMultNonConst(s, generatorH(aid), dst)
	}
}

func pointIsZero(pt *secp256k1.JacobianPoint) bool {
	return pt.Z.IsZero()
}

// importPoint decodes X (big-endian) plus a Y-parity byte.
func importPoint(pt *secp256k1.JacobianPoint, b []byte) bool {
	var x secp256k1.FieldVal
	if x.SetByteSlice(b[:32]) {
		return false
	}
	var y secp256k1.FieldVal
	if !secp256k1.DecompressY(&x, b[32]&1 == 1, &y) {
		return false
	}
	pt.X = x
	pt.Y = y
	pt.Y.Normalize()
	pt.Z.SetInt(1)
	return true
}

func exportPoint(b []byte, pt *secp256k1.JacobianPoint) {
	if pointIsZero(pt) {
		for i := range b {
			b[i] = 0
		}
		return
	}
	aff := *pt
	aff.ToAffine()
	aff.X.PutBytesUnchecked(b[:32])
	b[32] = 0
	if aff.Y.IsOdd() {
		b[32] = 1
	}
}

// hashToPoint maps a tag to a curve point by try-and-increment over
// sha256(tag || counter), even-Y branch. Deterministic.
func hashToPoint(tag []byte) *secp256k1.JacobianPoint {
	var ctr [4]byte
	for i := uint32(0); ; i++ {
		binary.LittleEndian.PutUint32(ctr[:], i)
		h := sha256.New()
		h.Write(tag)
		h.Write(ctr[:])
		digest := h.Sum(nil)

		var x secp256k1.FieldVal
		if x.SetByteSlice(digest) {
			continue
		}
		var y secp256k1.FieldVal
		if !secp256k1.DecompressY(&x, false, &y) {
			continue
		}
		pt := new(secp256k1.JacobianPoint)
		pt.X = x
		pt.Y = y
		pt.Y.Normalize()
		pt.Z.SetInt(1)
		return pt
	}
}

var (
	genJOnce sync.Once
	genJ     *secp256k1.JacobianPoint

	genHMu sync.Mutex
	genH   = map[uint32]*secp256k1.JacobianPoint{}
)

func generatorJ() *secp256k1.JacobianPoint {
	genJOnce.Do(func() {
		genJ = hashToPoint([]byte("beam/gen/J"))
	})
	return genJ
}

// generatorH returns the per-asset generator. Asset 0 is the native
// coin and shares the J generator's derivation family.
func generatorH(aid uint32) *secp256k1.JacobianPoint {
	genHMu.Lock()
	defer genHMu.Unlock()
	if pt, ok := genH[aid]; ok {
		return pt
	}
	tag := make([]byte, 0, 16)
	tag = append(tag, "beam/gen/H/"...)
	tag = binary.LittleEndian.AppendUint32(tag, aid)
	pt := hashToPoint(tag)
	genH[aid] = pt
	return pt
}
