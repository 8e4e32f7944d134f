package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FuncType is a function signature. Element bytes are value type tags.
type FuncType struct {
	Args []byte
	Rets []byte
}

// Local is a declared local variable, args included. Pos is the byte
// offset of the variable within the local frame.
type Local struct {
	Type byte
	Pos  uint32
	Size uint32
}

// Import is an imported function. Binding is the host binding id,
// resolved by the embedder between Parse and Build.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
	Binding uint32
}

// Function is a module-local function.
type Function struct {
	TypeIdx uint32
	Locals  []Local
	body    Reader
}

// Export is an exported entity. Kind 0 denotes a function; for those
// Idx is already rebased past the imports.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

type labelTarget struct {
	item uint32
	pos  uint32
}

// Compiler parses a module and rewrites its code into the executable
// form: local accesses become frame offsets, branch and call targets
// become absolute positions, returns carry their frame geometry.
type Compiler struct {
	Types     []FuncType
	Imports   []Import
	Functions []Function
	Exports   []Export

	// Result is the rewritten code, one function after another, valid
	// after Build.
	Result []byte

	labelItems   []uint32
	labelTargets []labelTarget
}

var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6D}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

const (
	sectionType   = 1
	sectionImport = 2
	sectionFuncs  = 3
	sectionGlobal = 6
	sectionExport = 7
	sectionCode   = 10
)

func localsByteSize(locals []Local) uint32 {
	if len(locals) == 0 {
		return 0
	}
	last := locals[len(locals)-1]
	return last.Pos + last.Size
}

func addLocal(locals []Local, t byte) []Local {
	return append(locals, Local{
		Type: t,
		Pos:  localsByteSize(locals),
		Size: TypeSizeOf(t),
	})
}

// Parse reads the binary sections of a module. It leaves import
// bindings unresolved; the embedder assigns them before Build.
func (c *Compiler) Parse(data []byte) (err error) {
	defer func() {
		err = recoverCompile(recover())
	}()
	c.parse(data)
	return nil
}

func (c *Compiler) parse(data []byte) {
	inp := NewReader(data)

	if !bytes.Equal(inp.Consume(4), wasmMagic) {
		panic(&CompileError{Reason: "bad magic"})
	}
	if !bytes.Equal(inp.Consume(4), wasmVersion) {
		panic(&CompileError{Reason: "bad version"})
	}

	for prevSection := byte(0); inp.Remaining() > 0; {
		section := inp.Read1()
		if prevSection != 0 && section != 0 && section <= prevSection {
			panic(&CompileError{Reason: "section out of order"})
		}

		n := inp.ReadU32()
		sub := NewReader(inp.Consume(n))

		switch section {
		case sectionType:
			c.parseTypes(&sub)
		case sectionImport:
			c.parseImports(&sub)
		case sectionFuncs:
			c.parseFuncs(&sub)
		case sectionGlobal:
			c.parseGlobals(&sub)
		case sectionExport:
			c.parseExports(&sub)
		case sectionCode:
			c.parseCode(&sub)
		default:
			// unrecognized sections are skipped whole
			sub.pos = len(sub.data)
		}
		if sub.Remaining() != 0 {
			panic(&CompileError{Reason: "trailing section bytes"})
		}

		if section != 0 {
			prevSection = section
		}
	}

	// the first labels are the function entry points
	c.labelItems = make([]uint32, len(c.Functions))
}

func readTypeVec(inp *Reader) []byte {
	n := inp.ReadU32()
	v := make([]byte, n)
	copy(v, inp.Consume(n))
	return v
}

func readName(inp *Reader) string {
	n := inp.ReadU32()
	return string(inp.Consume(n))
}

func (c *Compiler) parseTypes(inp *Reader) {
	n := inp.ReadU32()
	c.Types = make([]FuncType, n)

	for i := range c.Types {
		if inp.Read1() != 0x60 {
			panic(&CompileError{Reason: "bad function type form"})
		}
		c.Types[i].Args = readTypeVec(inp)
		c.Types[i].Rets = readTypeVec(inp)
		if len(c.Types[i].Rets) > 1 {
			panic(&CompileError{Reason: "multiple results"})
		}
	}
}

func (c *Compiler) parseImports(inp *Reader) {
	n := inp.ReadU32()
	c.Imports = make([]Import, n)

	for i := range c.Imports {
		x := &c.Imports[i]
		x.Module = readName(inp)
		x.Name = readName(inp)

		if inp.Read1() != 0 {
			panic(&CompileError{Reason: "only function imports supported"})
		}

		x.TypeIdx = inp.ReadU32()
		if x.TypeIdx >= uint32(len(c.Types)) {
			panic(&CompileError{Reason: "import type out of range"})
		}
	}
}

func (c *Compiler) parseFuncs(inp *Reader) {
	n := inp.ReadU32()
	c.Functions = make([]Function, n)

	for i := range c.Functions {
		c.Functions[i].TypeIdx = inp.ReadU32()
		if c.Functions[i].TypeIdx >= uint32(len(c.Types)) {
			panic(&CompileError{Reason: "function type out of range"})
		}
	}
}

func (c *Compiler) parseGlobals(inp *Reader) {
	if inp.ReadU32() != 0 {
		panic(&CompileError{Reason: "globals not supported"})
	}
}

func (c *Compiler) parseExports(inp *Reader) {
	n := inp.ReadU32()
	c.Exports = make([]Export, n)

	for i := range c.Exports {
		x := &c.Exports[i]
		x.Name = readName(inp)
		x.Kind = inp.Read1()
		x.Idx = inp.ReadU32()

		if x.Kind == 0 {
			x.Idx -= uint32(len(c.Imports))
			if x.Idx >= uint32(len(c.Functions)) {
				panic(&CompileError{Reason: "export function out of range"})
			}
		}
	}
}

func (c *Compiler) parseCode(inp *Reader) {
	n := inp.ReadU32()
	if n != uint32(len(c.Functions)) {
		panic(&CompileError{Reason: "code count mismatch"})
	}

	for i := range c.Functions {
		f := &c.Functions[i]

		size := inp.ReadU32()
		body := NewReader(inp.Consume(size))

		ftype := c.Types[f.TypeIdx]
		for _, t := range ftype.Args {
			f.Locals = addLocal(f.Locals, t)
		}

		groups := body.ReadU32()
		for g := uint32(0); g < groups; g++ {
			count := body.ReadU32()
			t := body.Read1()
			for ; count > 0; count-- {
				f.Locals = addLocal(f.Locals, t)
			}
		}

		f.body = body
	}
}

// FuncEntry returns the Result offset of a function, valid after Build.
func (c *Compiler) FuncEntry(iFunc uint32) uint32 {
	return c.labelItems[iFunc]
}

// Build rewrites every function body into Result and patches the
// collected label targets. Two builds of the same input are
// byte-identical.
func (c *Compiler) Build() (err error) {
	defer func() {
		err = recoverCompile(recover())
	}()

	for i := range c.Functions {
		ctx := fnContext{c: c, iFunc: uint32(i)}
		c.labelItems[i] = uint32(len(c.Result))
		ctx.compileFunc()
	}

	for _, trg := range c.labelTargets {
		binary.BigEndian.PutUint32(c.Result[trg.pos:], c.labelItems[trg.item])
	}
	return nil
}

type fnBlock struct {
	tp             FuncType
	operandsAtExit int
	iLabel         uint32
	loop           bool
}

type fnContext struct {
	c     *Compiler
	iFunc uint32
	code  Reader

	// instrStart marks where the current instruction begins; -1 once it
	// has been written (or replaced) already.
	instrStart int

	blocks       []fnBlock
	operands     []byte
	sizeOperands uint32
}

func (x *fnContext) top() *fnBlock {
	if len(x.blocks) == 0 {
		panic(&CompileError{Reason: "no open block"})
	}
	return &x.blocks[len(x.blocks)-1]
}

func (x *fnContext) pushT(t byte) {
	x.operands = append(x.operands, t)
	x.sizeOperands += TypeSizeOf(t)
}

func (x *fnContext) popAny() byte {
	if len(x.operands) == 0 {
		panic(&CompileError{Reason: "operand stack empty"})
	}
	t := x.operands[len(x.operands)-1]
	x.operands = x.operands[:len(x.operands)-1]
	x.sizeOperands -= TypeSizeOf(t)
	return t
}

func (x *fnContext) popT(t byte) {
	if got := x.popAny(); got != t {
		panic(&CompileError{Reason: fmt.Sprintf("operand type mismatch: want %#x, got %#x", t, got)})
	}
}

func (x *fnContext) testOperands(v []byte) {
	if len(v) == 0 {
		return
	}
	if len(x.operands) < len(v) || !bytes.Equal(x.operands[len(x.operands)-len(v):], v) {
		panic(&CompileError{Reason: "block operand mismatch"})
	}
}

func (x *fnContext) writeByte(b byte) {
	x.c.Result = append(x.c.Result, b)
}

func (x *fnContext) writeBytes(p []byte) {
	x.c.Result = append(x.c.Result, p...)
}

func (x *fnContext) writeU(v uint64) {
	for {
		n := byte(v)
		v >>= 7
		if v == 0 {
			x.writeByte(n & 0x7F)
			return
		}
		x.writeByte(n | 0x80)
	}
}

// writeInstruction copies the pending source bytes of the current
// instruction verbatim, if not already emitted.
func (x *fnContext) writeInstruction() {
	if x.instrStart >= 0 {
		x.writeBytes(x.code.data[x.instrStart:x.code.pos])
		x.instrStart = -1
	}
}

func (x *fnContext) blockOpen(tp FuncType) {
	b := fnBlock{tp: tp, operandsAtExit: len(x.operands)}

	if len(x.blocks) > 0 {
		// the outermost function block finds its args in the local
		// frame, not on the operand stack
		x.testOperands(tp.Args)
		b.operandsAtExit -= len(tp.Args)

		b.iLabel = uint32(len(x.c.labelItems))
		x.c.labelItems = append(x.c.labelItems, 0)
	}

	b.operandsAtExit += len(tp.Rets)
	x.blocks = append(x.blocks, b)
}

func (x *fnContext) blockOpenExplicit() {
	if x.code.ReadU32() != 0x40 {
		panic(&CompileError{Reason: "typed blocks not supported"})
	}
	x.blockOpen(FuncType{})
	x.instrStart = -1
}

func (x *fnContext) testBlockCanClose() {
	b := x.top()
	if len(x.operands) != b.operandsAtExit {
		panic(&CompileError{Reason: "operand stack unbalanced at block end"})
	}
	x.testOperands(b.tp.Rets)
}

func (x *fnContext) updTopBlockLabel() {
	x.c.labelItems[x.top().iLabel] = uint32(len(x.c.Result))
}

func sizeOfVars(v []byte) uint32 {
	var n uint32
	for _, t := range v {
		n += TypeSizeOf(t)
	}
	return n
}

// writeRet emits the rewritten return: the opcode plus the word counts
// of the return values, the non-arg locals and the args, so the
// processor can splice the frame without any side tables.
func (x *fnContext) writeRet() {
	x.writeByte(opRet)

	f := &x.c.Functions[x.iFunc]
	sizeLocal := localsByteSize(f.Locals)

	tp := x.top().tp
	sizeArgs := sizeOfVars(tp.Args)

	x.writeU(uint64(sizeOfVars(tp.Rets) >> 2))
	x.writeU(uint64((sizeLocal - sizeArgs) >> 2))
	x.writeU(uint64(sizeArgs >> 2))
}

func (x *fnContext) blockClose() {
	x.testBlockCanClose()

	if len(x.blocks) == 1 {
		x.writeRet() // end of function
	} else if !x.top().loop {
		x.updTopBlockLabel()
	}

	x.blocks = x.blocks[:len(x.blocks)-1]
	x.instrStart = -1
}

// putLabelTrg reserves a 4-byte big-endian slot for a label target,
// patched in Build once all positions are known.
func (x *fnContext) putLabelTrg(iLabel uint32) {
	x.c.labelTargets = append(x.c.labelTargets, labelTarget{
		item: iLabel,
		pos:  uint32(len(x.c.Result)),
	})
	x.writeBytes([]byte{0, 0, 0, 0})
}

func (x *fnContext) onBranch(op byte) {
	nLabel := x.code.ReadU32()
	if uint64(nLabel)+1 >= uint64(len(x.blocks)) {
		panic(&CompileError{Reason: "branch label out of scope"})
	}

	b := x.top()
	if b.loop {
		n := b.operandsAtExit + len(b.tp.Args) - len(b.tp.Rets)
		if len(x.operands) != n {
			panic(&CompileError{Reason: "operand stack unbalanced at loop branch"})
		}
		x.testOperands(b.tp.Args)
	} else {
		x.testBlockCanClose()
	}

	x.writeByte(op)
	x.instrStart = -1

	x.putLabelTrg(x.blocks[len(x.blocks)-1-int(nLabel)].iLabel)
}

// onLocalVar rewrites a local index into the frame offset: the byte
// distance from the stack pointer down to the variable, with the value
// type folded into the low 2 bits.
func (x *fnContext) onLocalVar() byte {
	x.writeInstruction()

	f := &x.c.Functions[x.iFunc]
	iVar := x.code.ReadU32()
	if iVar >= uint32(len(f.Locals)) {
		panic(&CompileError{Reason: "local index out of range"})
	}
	v := f.Locals[iVar]

	// stack layout, top down: operands, locals, retaddr, args
	offs := x.sizeOperands + localsByteSize(f.Locals) - v.Pos

	ftype := x.c.Types[f.TypeIdx]
	if iVar < uint32(len(ftype.Args)) {
		offs += 4 // skip the retaddr
	}

	offs |= uint32(v.Type - typeBase)
	x.writeU(uint64(offs))

	return v.Type
}

func (x *fnContext) onCall() {
	iFunc := x.code.ReadU32()

	imported := iFunc < uint32(len(x.c.Imports))
	if !imported {
		iFunc -= uint32(len(x.c.Imports))
		if iFunc >= uint32(len(x.c.Functions)) {
			panic(&CompileError{Reason: "call target out of range"})
		}
	}

	var iType uint32
	if imported {
		iType = x.c.Imports[iFunc].TypeIdx
	} else {
		iType = x.c.Functions[iFunc].TypeIdx
	}
	tp := x.c.Types[iType]

	for i := len(tp.Args); i > 0; i-- {
		x.popT(tp.Args[i-1])
	}
	for _, t := range tp.Rets {
		x.pushT(t)
	}

	x.instrStart = -1

	if imported {
		x.writeByte(opCallExt)
		x.writeU(uint64(x.c.Imports[iFunc].Binding))
	} else {
		x.writeByte(opCall)
		x.putLabelTrg(iFunc)
	}
}

func (x *fnContext) compileFunc() {
	f := &x.c.Functions[x.iFunc]

	x.code = f.body
	ftype := x.c.Types[f.TypeIdx]
	x.blockOpen(ftype)

	// the callee allocates its non-arg locals
	if extra := localsByteSize(f.Locals) - sizeOfVars(ftype.Args); extra > 0 {
		x.writeByte(opReserve)
		x.writeU(uint64(extra >> 2))
	}

	for len(x.blocks) > 0 {
		x.instrStart = x.code.pos
		op := x.code.Read1()

		switch op {
		case opBlock:
			x.blockOpenExplicit()

		case opLoop:
			x.blockOpenExplicit()
			x.top().loop = true
			x.updTopBlockLabel()

		case opEnd:
			x.blockClose()

		case opBr:
			x.onBranch(op)

		case opBrIf:
			x.popT(TypeI32) // condition
			x.onBranch(op)

		case opLocalGet:
			x.pushT(x.onLocalVar())

		case opLocalSet:
			x.popT(x.onLocalVar())

		case opLocalTee:
			t := x.onLocalVar()
			x.popT(t)
			x.pushT(t)

		case opDrop:
			x.writeInstruction()
			x.writeByte(x.popAny())

		case opSelect:
			x.writeInstruction()
			x.popT(TypeI32)
			t := x.popAny()
			x.popT(t)
			x.pushT(t)
			x.writeByte(t)

		case opI32Load8S, opI32Load8U:
			x.code.ReadU32() // alignment
			x.code.ReadU32() // offset
			x.popT(TypeI32)
			x.pushT(TypeI32)

		case opI32Store8:
			x.code.ReadU32() // alignment
			x.code.ReadU32() // offset
			x.popT(TypeI32)
			x.popT(TypeI32)

		case opI32Const:
			x.code.ReadS32()
			x.pushT(TypeI32)

		case opCall:
			x.onCall()

		case opI32Eqz:
			x.popT(TypeI32)
			x.pushT(TypeI32)

		case opI64Eqz:
			x.popT(TypeI64)
			x.pushT(TypeI32)

		case opI32Eq, opI32Ne, opI32LtS, opI32LtU, opI32GtS, opI32GtU,
			opI32LeS, opI32LeU, opI32GeS, opI32GeU,
			opI32Add, opI32Sub, opI32Mul, opI32DivS, opI32DivU,
			opI32RemS, opI32RemU, opI32And, opI32Or, opI32Xor,
			opI32Shl, opI32ShrS, opI32ShrU, opI32Rotl, opI32Rotr:
			x.popT(TypeI32)
			x.popT(TypeI32)
			x.pushT(TypeI32)

		case opI64Eq, opI64Ne, opI64LtS, opI64LtU, opI64GtS, opI64GtU,
			opI64LeS, opI64LeU, opI64GeS, opI64GeU:
			x.popT(TypeI64)
			x.popT(TypeI64)
			x.pushT(TypeI32)

		default:
			panic(&CompileError{Reason: fmt.Sprintf("unsupported opcode %#x", op)})
		}

		x.writeInstruction()
	}

	if x.code.Remaining() != 0 {
		panic(&CompileError{Reason: "trailing function bytes"})
	}
}
