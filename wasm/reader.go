package wasm

// Reader is a bounds-checked cursor over a byte stream. Any read past
// the end raises a bounds fault.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) Reader {
	return Reader{data: data}
}

// Pos returns the current offset into the underlying stream.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) ensure(n uint32) {
	if uint64(r.Remaining()) < uint64(n) {
		Throw(FaultBounds, "truncated stream")
	}
}

// Read1 reads a single byte.
func (r *Reader) Read1() byte {
	r.ensure(1)
	b := r.data[r.pos]
	r.pos++
	return b
}

// Consume reads the next n bytes without copying.
func (r *Reader) Consume(n uint32) []byte {
	r.ensure(n)
	p := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return p
}

func (r *Reader) readInternal(signed bool) uint64 {
	var ret uint64
	for shift := uint32(0); ; {
		n := r.Read1()
		end := n&0x80 == 0
		if !end {
			n &= 0x7F
		}

		ret |= uint64(n) << shift

		shift += 7
		if shift >= 64 {
			break
		}

		if end {
			if signed && n&0x40 != 0 {
				ret |= ^uint64(0) << shift
			}
			break
		}
	}
	return ret
}

// ReadU64 reads an unsigned LEB128 value.
func (r *Reader) ReadU64() uint64 {
	return r.readInternal(false)
}

// ReadU32 reads an unsigned LEB128 value truncated to 32 bits.
func (r *Reader) ReadU32() uint32 {
	return uint32(r.readInternal(false))
}

// ReadS64 reads a signed LEB128 value.
func (r *Reader) ReadS64() int64 {
	return int64(r.readInternal(true))
}

// ReadS32 reads a signed LEB128 value truncated to 32 bits.
func (r *Reader) ReadS32() int32 {
	return int32(r.readInternal(true))
}
