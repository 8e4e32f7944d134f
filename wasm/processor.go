package wasm

import (
	"encoding/binary"
	"math"
)

// StackWords is the operand stack capacity, in 32-bit words.
const StackWords = 0x10000 / 4

// Memory is the linear address space an executing module sees. At
// faults when the requested range is out of bounds.
type Memory interface {
	At(offset, size uint32) []byte
}

// FlatMemory is a Memory over a plain byte slice.
type FlatMemory []byte

func (m FlatMemory) At(offset, size uint32) []byte {
	if offset+size < size || uint64(offset)+uint64(size) > uint64(len(m)) {
		Throw(FaultBounds, "linear memory access out of range")
	}
	return m[offset : offset+size]
}

// ExtHost resolves call_ext instructions.
type ExtHost interface {
	InvokeExt(binding uint32)
}

// Processor steps through rewritten code one instruction at a time.
// Faults are raised as panics; the embedder recovers them at its own
// boundary.
type Processor struct {
	Code   []byte
	Stack  [StackWords]uint32
	Sp     uint32
	Memory Memory
	Host   ExtHost

	// Charge, if set, runs before every instruction.
	Charge func()

	// OnCall, if set, observes every near call after the return address
	// has been pushed.
	OnCall func(retAddr uint32)

	// OnRet, if set, takes over the control transfer of ret: the hook
	// must Jmp (possibly after swapping Code). Unset, ret jumps to the
	// return address directly.
	OnRet func(retAddr uint32)

	instr Reader
}

// Jmp moves the instruction pointer to an absolute code position.
func (p *Processor) Jmp(ip uint32) {
	if ip >= uint32(len(p.Code)) {
		Throw(FaultBounds, "jump out of code")
	}
	p.instr = Reader{data: p.Code, pos: int(ip)}
}

// IP returns the current instruction position.
func (p *Processor) IP() uint32 {
	return uint32(p.instr.pos)
}

func (p *Processor) Push(x uint32) {
	if p.Sp >= StackWords {
		Throw(FaultStack, "operand stack overflow")
	}
	p.Stack[p.Sp] = x
	p.Sp++
}

func (p *Processor) Pop() uint32 {
	if p.Sp == 0 {
		Throw(FaultStack, "operand stack underflow")
	}
	p.Sp--
	return p.Stack[p.Sp]
}

// Push64 pushes an i64 as two words, low word first.
func (p *Processor) Push64(x uint64) {
	p.Push(uint32(x))
	p.Push(uint32(x >> 32))
}

func (p *Processor) Pop64() uint64 {
	hi := p.Pop()
	lo := p.Pop()
	return uint64(hi)<<32 | uint64(lo)
}

func b2w(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// readAddr consumes a rewritten 4-byte absolute code position.
func (p *Processor) readAddr() uint32 {
	return binary.BigEndian.Uint32(p.instr.Consume(4))
}

func (p *Processor) onLocal(set, get bool) {
	offs := p.instr.ReadU32()

	t := typeBase + byte(3&(offs-uint32(typeBase)))
	size := TypeSizeOf(t) >> 2
	offs >>= 2

	if offs < size || offs > p.Sp {
		Throw(FaultStack, "local offset out of frame")
	}

	base := p.Sp - offs
	switch {
	case !set: // local.get
		if p.Sp+size > StackWords {
			Throw(FaultStack, "operand stack overflow")
		}
		for i := uint32(0); i < size; i++ {
			p.Stack[p.Sp+i] = p.Stack[base+i]
		}
		p.Sp += size
	case get: // local.tee
		for i := uint32(0); i < size; i++ {
			p.Stack[base+i] = p.Stack[p.Sp-size+i]
		}
	default: // local.set
		for i := uint32(0); i < size; i++ {
			p.Stack[base+i] = p.Stack[p.Sp-size+i]
		}
		p.Sp -= size
	}
}

func (p *Processor) loadAddr(size uint32) []byte {
	p.instr.ReadU32() // alignment
	offs := p.instr.ReadU32()
	offs += p.Pop()
	return p.Memory.At(offs, size)
}

func (p *Processor) onRet() {
	rets := p.instr.ReadU32()
	locals := p.instr.ReadU32()
	args := p.instr.ReadU32()

	// stack layout, bottom up: args, retaddr, locals, retval
	posRetSrc := p.Sp - rets
	if posRetSrc > p.Sp {
		Throw(FaultStack, "ret without return values")
	}
	posAddr := posRetSrc - (locals + 1)
	if posAddr >= posRetSrc {
		Throw(FaultStack, "ret without frame")
	}
	posRetDst := posAddr - args
	if posRetDst > posAddr {
		Throw(FaultStack, "ret without args")
	}

	retAddr := p.Stack[posAddr]
	for i := uint32(0); i < rets; i++ {
		p.Stack[posRetDst+i] = p.Stack[posRetSrc+i]
	}
	p.Sp = posRetDst + rets

	if p.OnRet != nil {
		p.OnRet(retAddr)
	} else {
		p.Jmp(retAddr)
	}
}

// RunOnce executes a single instruction.
func (p *Processor) RunOnce() {
	if p.Charge != nil {
		p.Charge()
	}

	op := p.instr.Read1()
	switch op {

	case opReserve:
		n := p.instr.ReadU32()
		if p.Sp+n > StackWords || p.Sp+n < p.Sp {
			Throw(FaultStack, "operand stack overflow")
		}
		for i := uint32(0); i < n; i++ {
			p.Stack[p.Sp+i] = 0
		}
		p.Sp += n

	case opLocalGet:
		p.onLocal(false, true)
	case opLocalSet:
		p.onLocal(true, false)
	case opLocalTee:
		p.onLocal(true, true)

	case opDrop:
		size := TypeSizeOf(p.instr.Read1()) >> 2
		if p.Sp < size {
			Throw(FaultStack, "operand stack underflow")
		}
		p.Sp -= size

	case opSelect:
		size := TypeSizeOf(p.instr.Read1()) >> 2
		sel := p.Pop()
		if p.Sp < size*2 {
			Throw(FaultStack, "operand stack underflow")
		}
		p.Sp -= size
		if sel == 0 {
			for i := uint32(0); i < size; i++ {
				p.Stack[p.Sp+i-size] = p.Stack[p.Sp+i]
			}
		}

	case opI32Load8U:
		p.Push(uint32(p.loadAddr(1)[0]))

	case opI32Load8S:
		p.Push(uint32(int32(int8(p.loadAddr(1)[0]))))

	case opI32Store8:
		val := p.Pop()
		p.instr.ReadU32() // alignment
		offs := p.instr.ReadU32()
		offs += p.Pop()
		p.Memory.At(offs, 1)[0] = byte(val)

	case opBr:
		p.Jmp(p.readAddr())

	case opBrIf:
		addr := p.readAddr()
		if p.Pop() != 0 {
			p.Jmp(addr)
		}

	case opCall:
		addr := p.readAddr()
		retAddr := uint32(p.instr.pos)
		p.Push(retAddr)
		if p.OnCall != nil {
			p.OnCall(retAddr)
		}
		p.Jmp(addr)

	case opCallExt:
		if p.Host == nil {
			Throw(FaultCondition, "unresolved binding")
		}
		p.Host.InvokeExt(p.instr.ReadU32())

	case opRet:
		p.onRet()

	case opI32Const:
		p.Push(uint32(p.instr.ReadS32()))

	case opI32Eqz:
		p.Push(b2w(p.Pop() == 0))
	case opI64Eqz:
		p.Push(b2w(p.Pop64() == 0))

	case opI32Eq:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a == b))
	case opI32Ne:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a != b))
	case opI32LtS:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(int32(a) < int32(b)))
	case opI32LtU:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a < b))
	case opI32GtS:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(int32(a) > int32(b)))
	case opI32GtU:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a > b))
	case opI32LeS:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(int32(a) <= int32(b)))
	case opI32LeU:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a <= b))
	case opI32GeS:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(int32(a) >= int32(b)))
	case opI32GeU:
		b, a := p.Pop(), p.Pop()
		p.Push(b2w(a >= b))

	case opI32Add:
		b, a := p.Pop(), p.Pop()
		p.Push(a + b)
	case opI32Sub:
		b, a := p.Pop(), p.Pop()
		p.Push(a - b)
	case opI32Mul:
		b, a := p.Pop(), p.Pop()
		p.Push(a * b)

	case opI32DivS:
		b, a := p.Pop(), p.Pop()
		if b == 0 {
			Throw(FaultDivZero, "i32.div_s")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			Throw(FaultOverflow, "i32.div_s")
		}
		p.Push(uint32(int32(a) / int32(b)))
	case opI32DivU:
		b, a := p.Pop(), p.Pop()
		if b == 0 {
			Throw(FaultDivZero, "i32.div_u")
		}
		p.Push(a / b)
	case opI32RemS:
		b, a := p.Pop(), p.Pop()
		if b == 0 {
			Throw(FaultDivZero, "i32.rem_s")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			p.Push(0)
		} else {
			p.Push(uint32(int32(a) % int32(b)))
		}
	case opI32RemU:
		b, a := p.Pop(), p.Pop()
		if b == 0 {
			Throw(FaultDivZero, "i32.rem_u")
		}
		p.Push(a % b)

	case opI32And:
		b, a := p.Pop(), p.Pop()
		p.Push(a & b)
	case opI32Or:
		b, a := p.Pop(), p.Pop()
		p.Push(a | b)
	case opI32Xor:
		b, a := p.Pop(), p.Pop()
		p.Push(a ^ b)

	case opI32Shl:
		b, a := p.Pop(), p.Pop()
		if b >= 32 {
			Throw(FaultShift, "i32.shl")
		}
		p.Push(a << b)
	case opI32ShrS:
		b, a := p.Pop(), p.Pop()
		if b >= 32 {
			Throw(FaultShift, "i32.shr_s")
		}
		p.Push(uint32(int32(a) >> b))
	case opI32ShrU:
		b, a := p.Pop(), p.Pop()
		if b >= 32 {
			Throw(FaultShift, "i32.shr_u")
		}
		p.Push(a >> b)
	case opI32Rotl:
		b, a := p.Pop(), p.Pop()
		if b >= 32 {
			Throw(FaultShift, "i32.rotl")
		}
		if b == 0 {
			p.Push(a)
		} else {
			p.Push(a<<b | a>>(32-b))
		}
	case opI32Rotr:
		b, a := p.Pop(), p.Pop()
		if b >= 32 {
			Throw(FaultShift, "i32.rotr")
		}
		if b == 0 {
			p.Push(a)
		} else {
			p.Push(a>>b | a<<(32-b))
		}

	case opI64Eq:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a == b))
	case opI64Ne:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a != b))
	case opI64LtS:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(int64(a) < int64(b)))
	case opI64LtU:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a < b))
	case opI64GtS:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(int64(a) > int64(b)))
	case opI64GtU:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a > b))
	case opI64LeS:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(int64(a) <= int64(b)))
	case opI64LeU:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a <= b))
	case opI64GeS:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(int64(a) >= int64(b)))
	case opI64GeU:
		b, a := p.Pop64(), p.Pop64()
		p.Push(b2w(a >= b))

	default:
		Throw(FaultBadInstruction, "")
	}
}
