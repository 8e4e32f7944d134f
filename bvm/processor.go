package bvm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Maxnflaxl/beam/pow"
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// Linear memory arena. The first memGuard bytes are never addressable,
// so address 0 behaves as a null pointer. The heap grows up from
// heapBase, the memory stack grows down from memTotal.
const (
	memGuard  = 8
	heapBase  = memGuard
	stackBase = heapBase + LimitHeapSize
	memTotal  = stackBase + LimitStackSize
)

// Processor is the execution core shared by the contract and manager
// runtimes: interpreter, linear memory, allocators, charge accounting
// and the common host catalog. Mode-specific bindings are dispatched
// through invokeMode.
type Processor struct {
	VM     wasm.Processor
	Oracle types.ChainOracle

	ChargeCeiling  uint64
	ChargeConsumed uint64

	mem  []byte
	sPos uint32
	heap Heap

	hashes     map[uint32]*hashContext
	scalars    map[uint32]*secp256k1.ModNScalar
	points     map[uint32]*secp256k1.JacobianPoint
	nextHandle uint32

	invokeMode func(binding uint32) bool
}

func (p *Processor) initRuntime(invokeMode func(uint32) bool) {
	p.mem = make([]byte, memTotal)
	p.sPos = memTotal
	p.heap.Init(heapBase, LimitHeapSize)

	p.hashes = make(map[uint32]*hashContext)
	p.scalars = make(map[uint32]*secp256k1.ModNScalar)
	p.points = make(map[uint32]*secp256k1.JacobianPoint)

	p.invokeMode = invokeMode
	p.VM.Memory = procMemory{p}
	p.VM.Host = p
	p.VM.Charge = func() { p.Discharge(1) }
}

// procMemory exposes the arena to the interpreter. The arena's upper
// bound is inclusive: a region ending exactly at memTotal is
// addressable.
type procMemory struct {
	p *Processor
}

func (m procMemory) At(offset, size uint32) []byte {
	return m.p.memAt(offset, size)
}

func (p *Processor) memAt(offset, size uint32) []byte {
	if offset < memGuard {
		wasm.Throw(wasm.FaultBounds, "null pointer dereference")
	}
	end := uint64(offset) + uint64(size)
	if end > memTotal {
		wasm.Throw(wasm.FaultBounds, "linear memory access out of range")
	}
	return p.mem[offset:end]
}

// realizeStr returns the bytes of a NUL-terminated string at ptr,
// terminator excluded.
func (p *Processor) realizeStr(ptr uint32) []byte {
	if ptr < memGuard || ptr >= memTotal {
		wasm.Throw(wasm.FaultBounds, "string out of range")
	}
	i := bytes.IndexByte(p.mem[ptr:], 0)
	if i < 0 {
		wasm.Throw(wasm.FaultBounds, "unterminated string")
	}
	return p.mem[ptr : ptr+uint32(i)]
}

func (p *Processor) newHandle() uint32 {
	p.nextHandle++
	return p.nextHandle
}

// Discharge spends charge units. Crossing the ceiling pins the counter
// to the ceiling and faults.
func (p *Processor) Discharge(units uint64) {
	c := p.ChargeConsumed + units
	if c < p.ChargeConsumed || c > p.ChargeCeiling {
		p.ChargeConsumed = p.ChargeCeiling
		wasm.Throw(wasm.FaultOutOfGas, "charge ceiling crossed")
	}
	p.ChargeConsumed = c
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// InvokeExt dispatches a host call. The binding id selects the
// handler; arguments are popped last-declared first, return values
// pushed.
func (p *Processor) InvokeExt(binding uint32) {
	p.Discharge(bindingCharge(binding))
	if p.invokeCommon(binding) {
		return
	}
	if p.invokeMode != nil && p.invokeMode(binding) {
		return
	}
	wasm.Throw(wasm.FaultBadInstruction, fmt.Sprintf("unknown binding 0x%x", binding))
}

func (p *Processor) invokeCommon(binding uint32) bool {
	switch binding {

	case bindMemcpy:
		n := p.VM.Pop()
		src := p.VM.Pop()
		dst := p.VM.Pop()
		copy(p.memAt(dst, n), p.memAt(src, n))
		p.VM.Push(dst)

	case bindMemset:
		n := p.VM.Pop()
		val := p.VM.Pop()
		dst := p.VM.Pop()
		b := p.memAt(dst, n)
		for i := range b {
			b[i] = byte(val)
		}
		p.VM.Push(dst)

	case bindMemcmp:
		n := p.VM.Pop()
		p2 := p.VM.Pop()
		p1 := p.VM.Pop()
		p.VM.Push(uint32(int32(bytes.Compare(p.memAt(p1, n), p.memAt(p2, n)))))

	case bindMemis0:
		n := p.VM.Pop()
		ptr := p.VM.Pop()
		res := uint32(1)
		for _, c := range p.memAt(ptr, n) {
			if c != 0 {
				res = 0
				break
			}
		}
		p.VM.Push(res)

	case bindStrlen:
		ptr := p.VM.Pop()
		p.VM.Push(uint32(len(p.realizeStr(ptr))))

	case bindStrcmp:
		p2 := p.VM.Pop()
		p1 := p.VM.Pop()
		p.VM.Push(uint32(int32(bytes.Compare(p.realizeStr(p1), p.realizeStr(p2)))))

	case bindStackAlloc:
		n := p.VM.Pop()
		if n > p.sPos-stackBase || p.sPos < stackBase {
			wasm.Throw(wasm.FaultStack, "linear stack overflow")
		}
		p.sPos -= n
		p.VM.Push(p.sPos)

	case bindStackFree:
		n := p.VM.Pop()
		if uint64(p.sPos)+uint64(n) > memTotal {
			wasm.Throw(wasm.FaultStack, "linear stack underflow")
		}
		p.sPos += n

	case bindHeapAlloc:
		n := p.VM.Pop()
		pos, ok := p.heap.Alloc(n)
		if !ok {
			p.VM.Push(0)
		} else {
			p.VM.Push(pos)
		}

	case bindHeapFree:
		p.heap.Free(p.VM.Pop())

	case bindHalt:
		wasm.Throw(wasm.FaultHalt, "halted")

	case bindHashCreateSha256:
		p.hashCreateSha256()
	case bindHashCreateBlake2b:
		p.hashCreateBlake2b()
	case bindHashCreateKeccak256:
		p.hashCreateKeccak256()
	case bindHashWrite:
		p.hashWrite()
	case bindHashGetValue:
		p.hashGetValue()
	case bindHashFree:
		p.hashFree()

	case bindGetHeight:
		p.VM.Push64(uint64(p.Oracle.Height()))

	case bindGetHdrInfo:
		ptr := p.VM.Pop()
		b := p.memAt(ptr, hdrInfoSize)
		hdr, ok := p.Oracle.HeaderAt(types.Height(binary.LittleEndian.Uint64(b)))
		wasm.Test(ok)
		putHdrInfo(b, hdr)

	case bindGetHdrFull:
		ptr := p.VM.Pop()
		b := p.memAt(ptr, hdrFullSize)
		hdr, ok := p.Oracle.HeaderAt(types.Height(binary.LittleEndian.Uint64(b)))
		wasm.Test(ok)
		putHdrFull(b, hdr)

	case bindGetRulesCfg:
		out := p.VM.Pop()
		h := p.VM.Pop64()
		cfg, fork := p.Oracle.RulesCfg(types.Height(h))
		copy(p.memAt(out, 32), cfg[:])
		p.VM.Push64(uint64(fork))

	case bindVerifyBeamHashIII:
		nSol := p.VM.Pop()
		pSol := p.VM.Pop()
		nNonce := p.VM.Pop()
		pNonce := p.VM.Pop()
		nInp := p.VM.Pop()
		pInp := p.VM.Pop()
		ok := pow.Verify(p.memAt(pInp, nInp), p.memAt(pNonce, nNonce), p.memAt(pSol, nSol))
		p.VM.Push(boolWord(ok))

	case bindSecpScalarAlloc, bindSecpScalarFree, bindSecpScalarImport,
		bindSecpScalarExport, bindSecpScalarNeg, bindSecpScalarAdd,
		bindSecpScalarMul, bindSecpScalarInv, bindSecpScalarSet,
		bindSecpPointAlloc, bindSecpPointFree, bindSecpPointImport,
		bindSecpPointExport, bindSecpPointNeg, bindSecpPointAdd,
		bindSecpPointMul, bindSecpPointIsZero, bindSecpPointMulG,
		bindSecpPointMulJ, bindSecpPointMulH:
		p.invokeSecp(binding)

	default:
		return false
	}
	return true
}

// Header wire layout, little-endian.
const (
	hdrInfoSize = 8 + 8 + 32
	hdrFullSize = hdrInfoSize + 4*32
)

func putHdrInfo(b []byte, hdr *types.HdrFull) {
	binary.LittleEndian.PutUint64(b, uint64(hdr.Height))
	binary.LittleEndian.PutUint64(b[8:], uint64(hdr.Timestamp))
	copy(b[16:48], hdr.Hash[:])
}

func putHdrFull(b []byte, hdr *types.HdrFull) {
	putHdrInfo(b, hdr)
	copy(b[48:80], hdr.Prev[:])
	copy(b[80:112], hdr.ChainWork[:])
	copy(b[112:144], hdr.Kernels[:])
	copy(b[144:176], hdr.Definition[:])
}
