package bvm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Maxnflaxl/beam/common"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// KernelBlueprint is a transaction-kernel skeleton emitted by a
// manager run, to be completed and signed by the wallet.
type KernelBlueprint struct {
	Cid     types.ContractID
	Method  uint32
	Args    []byte
	Charge  uint64
	Comment string
}

// ManagerProcessor executes manager (app shader) code off-chain. The
// variable store is read-only; results flow out through a structured
// document and kernel blueprints.
type ManagerProcessor struct {
	Processor

	Vars store.Store
	Args map[string]string
	Seed [32]byte

	Doc     *docWriter
	Kernels []KernelBlueprint

	iter     store.Iterator
	iterDone bool
	frames   int
	done     bool
}

// NewManagerProcessor returns a processor with a fresh runtime over a
// read-only view of the store. args carries the invocation parameters
// the module reads back through DocGet*.
func NewManagerProcessor(vars store.Store, oracle types.ChainOracle, args map[string]string, ceiling uint64) *ManagerProcessor {
	p := &ManagerProcessor{
		Vars: vars,
		Args: args,
		Doc:  newDocWriter(),
	}
	p.Oracle = oracle
	p.ChargeCeiling = ceiling
	p.initRuntime(p.invokeManager)
	p.VM.OnCall = func(uint32) { p.frames++ }
	p.VM.OnRet = p.onRet
	return p
}

func (p *ManagerProcessor) Done() bool {
	return p.done
}

func (p *ManagerProcessor) onRet(retAddr uint32) {
	if p.frames > 0 {
		p.frames--
		p.VM.Jmp(retAddr)
		return
	}
	p.done = true
}

func (p *ManagerProcessor) arg(ptr uint32) (string, bool) {
	v, ok := p.Args[string(p.realizeStr(ptr))]
	return v, ok
}

func (p *ManagerProcessor) invokeManager(binding uint32) bool {
	switch binding {

	case bindLoadVar:
		// raw store key: the manager addresses any contract's state
		nVal := p.VM.Pop()
		pVal := p.VM.Pop()
		nKey := p.VM.Pop()
		pKey := p.VM.Pop()
		v, err := p.Vars.Load(p.memAt(pKey, nKey))
		if err != nil {
			wasm.Throw(wasm.FaultCondition, "variable store unavailable")
		}
		n := uint32(len(v))
		if n > nVal {
			n = nVal
		}
		copy(p.memAt(pVal, n), v[:n])
		p.VM.Push(uint32(len(v)))

	case bindVarsEnum:
		nMax := p.VM.Pop()
		pMax := p.VM.Pop()
		nMin := p.VM.Pop()
		pMin := p.VM.Pop()
		if p.iter != nil {
			p.iter.Release()
		}
		min := append([]byte(nil), p.memAt(pMin, nMin)...)
		max := append([]byte(nil), p.memAt(pMax, nMax)...)
		it, err := p.Vars.Enum(min, max)
		if err != nil {
			wasm.Throw(wasm.FaultCondition, "variable store unavailable")
		}
		p.iter = it
		p.iterDone = false

	case bindVarsMoveNext:
		pnVal := p.VM.Pop()
		pVal := p.VM.Pop()
		pnKey := p.VM.Pop()
		pKey := p.VM.Pop()
		wasm.Test(p.iter != nil)
		if p.iterDone || !p.iter.Next() {
			p.iterDone = true
			p.VM.Push(0)
			return true
		}
		key, val := p.iter.Key(), p.iter.Value()
		p.putSized(pKey, pnKey, key)
		p.putSized(pVal, pnVal, val)
		p.VM.Push(1)

	case bindVarGetProof:
		// no commitment structure is available off-chain
		p.VM.Pop() // nKey
		p.VM.Pop() // pKey
		p.VM.Push(0)

	case bindDerivePk:
		nID := p.VM.Pop()
		pID := p.VM.Pop()
		pPk := p.VM.Pop()
		pk := derivePk(p.Seed, p.memAt(pID, nID))
		copy(p.memAt(pPk, 33), pk[:])

	case bindDocAddGroup:
		p.Doc.openGroup(string(p.realizeStr(p.VM.Pop())))

	case bindDocCloseGroup:
		wasm.Test(p.Doc.closeGroup())

	case bindDocAddText:
		pVal := p.VM.Pop()
		pID := p.VM.Pop()
		p.Doc.addText(string(p.realizeStr(pID)), string(p.realizeStr(pVal)))

	case bindDocAddNum32:
		val := p.VM.Pop()
		pID := p.VM.Pop()
		p.Doc.addNum64(string(p.realizeStr(pID)), uint64(val))

	case bindDocAddNum64:
		val := p.VM.Pop64()
		pID := p.VM.Pop()
		p.Doc.addNum64(string(p.realizeStr(pID)), val)

	case bindDocAddArray:
		p.Doc.openArray(string(p.realizeStr(p.VM.Pop())))

	case bindDocCloseArray:
		wasm.Test(p.Doc.closeArray())

	case bindDocAddBlob:
		n := p.VM.Pop()
		ptr := p.VM.Pop()
		pID := p.VM.Pop()
		p.Doc.addText(string(p.realizeStr(pID)), common.Bytes2Hex(p.memAt(ptr, n)))

	case bindDocGetText:
		nOut := p.VM.Pop()
		pOut := p.VM.Pop()
		pID := p.VM.Pop()
		v, ok := p.arg(pID)
		if !ok {
			p.VM.Push(0)
			return true
		}
		n := uint32(len(v))
		if nOut > 0 {
			cp := n
			if cp > nOut-1 {
				cp = nOut - 1
			}
			b := p.memAt(pOut, cp+1)
			copy(b, v[:cp])
			b[cp] = 0
		}
		p.VM.Push(n + 1)

	case bindDocGetNum32:
		v, _ := p.arg(p.VM.Pop())
		n, _ := strconv.ParseUint(v, 0, 32)
		p.VM.Push(uint32(n))

	case bindDocGetNum64:
		v, _ := p.arg(p.VM.Pop())
		n, _ := strconv.ParseUint(v, 0, 64)
		p.VM.Push64(n)

	case bindDocGetBlob:
		nOut := p.VM.Pop()
		pOut := p.VM.Pop()
		pID := p.VM.Pop()
		v, ok := p.arg(pID)
		if !ok {
			p.VM.Push(0)
			return true
		}
		raw, err := hex.DecodeString(v)
		if err != nil {
			p.VM.Push(0)
			return true
		}
		n := uint32(len(raw))
		cp := n
		if cp > nOut {
			cp = nOut
		}
		copy(p.memAt(pOut, cp), raw[:cp])
		p.VM.Push(n)

	case bindGenerateKernel:
		charge := p.VM.Pop64()
		nArgs := p.VM.Pop()
		pArgs := p.VM.Pop()
		iMethod := p.VM.Pop()
		pCid := p.VM.Pop()
		var k KernelBlueprint
		copy(k.Cid[:], p.memAt(pCid, 32))
		k.Method = iMethod
		k.Args = append([]byte(nil), p.memAt(pArgs, nArgs)...)
		k.Charge = charge
		p.Kernels = append(p.Kernels, k)

	default:
		return false
	}
	return true
}

// putSized writes data into a buffer whose capacity is read from, and
// whose actual size is written back to, a u32 at pSize.
func (p *ManagerProcessor) putSized(ptr, pSize uint32, data []byte) {
	sz := p.memAt(pSize, 4)
	limit := binary.LittleEndian.Uint32(sz)
	n := uint32(len(data))
	cp := n
	if cp > limit {
		cp = limit
	}
	copy(p.memAt(ptr, cp), data[:cp])
	binary.LittleEndian.PutUint32(sz, n)
}

// derivePk derives the deterministic subkey G * H(seed || id),
// re-hashing on the negligible chance the digest is not a valid
// scalar.
func derivePk(seed [32]byte, id []byte) types.PubKey {
	digest := sha256.New()
	digest.Write(seed[:])
	digest.Write(id)
	d := digest.Sum(nil)

	var s secp256k1.ModNScalar
	for s.SetByteSlice(d) || s.IsZero() {
		sum := sha256.Sum256(d)
		d = sum[:]
	}

	var pt secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &pt)
	var pk types.PubKey
	exportPoint(pk[:], &pt)
	return pk
}
