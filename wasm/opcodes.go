package wasm

// Value type tags, as encoded in the binary format.
const (
	TypeI32 byte = 0x7F
	TypeI64 byte = 0x7E
	TypeF32 byte = 0x7D
	TypeF64 byte = 0x7C

	// typeBase lets a type tag fit in 2 bits: tag - typeBase.
	typeBase byte = 0x7C
)

// TypeSizeOf returns the byte width of a value type.
func TypeSizeOf(t byte) uint32 {
	switch t {
	case TypeI32, TypeF32:
		return 4
	case TypeI64, TypeF64:
		return 8
	default:
		Fail("bad value type")
		return 0
	}
}

const (
	opBlock byte = 0x02
	opLoop  byte = 0x03
	opEnd   byte = 0x0B
	opBr    byte = 0x0C
	opBrIf  byte = 0x0D
	opCall  byte = 0x10

	// Rewritten forms, absent from the source encoding. ret carries the
	// return/local/arg word counts; call_ext carries a host binding id;
	// reserve zero-fills the local frame at function entry.
	opRet     byte = 0x07
	opCallExt byte = 0x08
	opReserve byte = 0x09

	opDrop     byte = 0x1A
	opSelect   byte = 0x1B
	opLocalGet byte = 0x20
	opLocalSet byte = 0x21
	opLocalTee byte = 0x22

	opI32Load8S byte = 0x2C
	opI32Load8U byte = 0x2D
	opI32Store8 byte = 0x3A

	opI32Const byte = 0x41

	opI32Eqz byte = 0x45
	opI32Eq  byte = 0x46
	opI32Ne  byte = 0x47
	opI32LtS byte = 0x48
	opI32LtU byte = 0x49
	opI32GtS byte = 0x4A
	opI32GtU byte = 0x4B
	opI32LeS byte = 0x4C
	opI32LeU byte = 0x4D
	opI32GeS byte = 0x4E
	opI32GeU byte = 0x4F

	opI64Eqz byte = 0x50
	opI64Eq  byte = 0x51
	opI64Ne  byte = 0x52
	opI64LtS byte = 0x53
	opI64LtU byte = 0x54
	opI64GtS byte = 0x55
	opI64GtU byte = 0x56
	opI64LeS byte = 0x57
	opI64LeU byte = 0x58
	opI64GeS byte = 0x59
	opI64GeU byte = 0x5A

	opI32Add  byte = 0x6A
	opI32Sub  byte = 0x6B
	opI32Mul  byte = 0x6C
	opI32DivS byte = 0x6D
	opI32DivU byte = 0x6E
	opI32RemS byte = 0x6F
	opI32RemU byte = 0x70
	opI32And  byte = 0x71
	opI32Or   byte = 0x72
	opI32Xor  byte = 0x73
	opI32Shl  byte = 0x74
	opI32ShrS byte = 0x75
	opI32ShrU byte = 0x76
	opI32Rotl byte = 0x77
	opI32Rotr byte = 0x78
)
