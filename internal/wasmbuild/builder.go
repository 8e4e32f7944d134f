// Package wasmbuild assembles small WebAssembly binary modules
// directly from opcodes, for fixtures and tooling.
package wasmbuild

// Value type tags, as they appear in the binary format.
const (
	I32 = 0x7F
	I64 = 0x7E
)

// Opcodes used when composing function bodies.
const (
	OpBlock     = 0x02
	OpLoop      = 0x03
	OpEnd       = 0x0B
	OpBr        = 0x0C
	OpBrIf      = 0x0D
	OpCall      = 0x10
	OpDrop      = 0x1A
	OpSelect    = 0x1B
	OpLocalGet  = 0x20
	OpLocalSet  = 0x21
	OpLocalTee  = 0x22
	OpI32Load8U = 0x2D
	OpI32Store8 = 0x3A
	OpI32Const  = 0x41
	OpI32Eqz    = 0x45
	OpI32Add    = 0x6A
	OpI32Sub    = 0x6B
	OpI32Mul    = 0x6C
	OpI32DivS   = 0x6D
	OpI32RemS   = 0x6F
	OpI32Shl    = 0x74
)

// U appends an unsigned LEB128 value.
func U(b []byte, v uint64) []byte {
	for {
		n := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(b, n)
		}
		b = append(b, n|0x80)
	}
}

// S appends a signed LEB128 value.
func S(b []byte, v int64) []byte {
	for {
		n := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && n&0x40 == 0) || (v == -1 && n&0x40 != 0)
		if done {
			return append(b, n)
		}
		b = append(b, n|0x80)
	}
}

type funcDef struct {
	sig    uint32
	locals []byte
	body   []byte
}

type importDef struct {
	name string
	sig  uint32
}

type exportDef struct {
	name string
	fn   uint32
}

// Builder accumulates module pieces and serializes them with Build.
type Builder struct {
	sigs    [][2][]byte
	imports []importDef
	funcs   []funcDef
	exports []exportDef
}

// Type registers a function signature and returns its index.
func (b *Builder) Type(args, rets []byte) uint32 {
	b.sigs = append(b.sigs, [2][]byte{args, rets})
	return uint32(len(b.sigs) - 1)
}

// Import declares a host function from the env module. Imports occupy
// the low end of the function index space; declare them before any
// Func.
func (b *Builder) Import(name string, sig uint32) uint32 {
	b.imports = append(b.imports, importDef{name: name, sig: sig})
	return uint32(len(b.imports) - 1)
}

// Func adds a module function. locals lists the value types of the
// non-arg locals in order. The body must end with OpEnd. Returns the
// function's index in the full index space.
func (b *Builder) Func(sig uint32, locals, body []byte) uint32 {
	b.funcs = append(b.funcs, funcDef{sig: sig, locals: locals, body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Export makes a function visible under the given name.
func (b *Builder) Export(name string, fn uint32) {
	b.exports = append(b.exports, exportDef{name: name, fn: fn})
}

// Method is shorthand for Func+Export of a public entry point.
func (b *Builder) Method(idx uint32, sig uint32, locals, body []byte) {
	fn := b.Func(sig, locals, body)
	b.Export(methodName(idx), fn)
}

func methodName(idx uint32) string {
	digits := "0123456789"
	if idx < 10 {
		return "Method_" + string(digits[idx])
	}
	return "Method_" + string(digits[idx/10]) + string(digits[idx%10])
}

func section(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = U(out, uint64(len(payload)))
	return append(out, payload...)
}

func name(b []byte, s string) []byte {
	b = U(b, uint64(len(s)))
	return append(b, s...)
}

// Build serializes the module.
func (b *Builder) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = U(types, uint64(len(b.sigs)))
	for _, s := range b.sigs {
		types = append(types, 0x60)
		types = U(types, uint64(len(s[0])))
		types = append(types, s[0]...)
		types = U(types, uint64(len(s[1])))
		types = append(types, s[1]...)
	}
	out = section(out, 1, types)

	if len(b.imports) > 0 {
		var imp []byte
		imp = U(imp, uint64(len(b.imports)))
		for _, x := range b.imports {
			imp = name(imp, "env")
			imp = name(imp, x.name)
			imp = append(imp, 0x00)
			imp = U(imp, uint64(x.sig))
		}
		out = section(out, 2, imp)
	}

	var fns []byte
	fns = U(fns, uint64(len(b.funcs)))
	for _, f := range b.funcs {
		fns = U(fns, uint64(f.sig))
	}
	out = section(out, 3, fns)

	if len(b.exports) > 0 {
		var exp []byte
		exp = U(exp, uint64(len(b.exports)))
		for _, x := range b.exports {
			exp = name(exp, x.name)
			exp = append(exp, 0x00)
			exp = U(exp, uint64(x.fn))
		}
		out = section(out, 7, exp)
	}

	var code []byte
	code = U(code, uint64(len(b.funcs)))
	for _, f := range b.funcs {
		var body []byte
		body = U(body, uint64(len(f.locals)))
		for _, t := range f.locals {
			body = U(body, 1)
			body = append(body, t)
		}
		body = append(body, f.body...)

		code = U(code, uint64(len(body)))
		code = append(code, body...)
	}
	out = section(out, 10, code)

	return out
}
