package bvm

import (
	"encoding/binary"

	"github.com/Maxnflaxl/beam/wasm"
)

// Executable image layout, all fields little-endian:
//
//	version    u32
//	numMethods u32
//	methods    [numMethods]u32   code offsets
//	code       rest
//
// Method 0 is the constructor, method 1 the destructor.
const imageVersion = 1

const (
	// MethodCtor runs at deployment, MethodDtor at destruction.
	MethodCtor = 0
	MethodDtor = 1
)

type image struct {
	methods []uint32
	code    []byte
}

func buildImage(methods []uint32, code []byte) []byte {
	out := make([]byte, 0, 8+4*len(methods)+len(code))
	out = binary.LittleEndian.AppendUint32(out, imageVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(methods)))
	for _, m := range methods {
		out = binary.LittleEndian.AppendUint32(out, m)
	}
	return append(out, code...)
}

// parseImage validates an image header. Faults on corruption, since it
// runs on far-call targets loaded from the store.
func parseImage(b []byte) image {
	wasm.Test(len(b) >= 8)
	wasm.Test(binary.LittleEndian.Uint32(b) == imageVersion)

	n := binary.LittleEndian.Uint32(b[4:])
	wasm.Test(n >= 2) // ctor + dtor at minimum

	hdr := uint64(8) + uint64(n)*4
	wasm.Test(uint64(len(b)) >= hdr)

	img := image{
		methods: make([]uint32, n),
		code:    b[hdr:],
	}
	for i := range img.methods {
		img.methods[i] = binary.LittleEndian.Uint32(b[8+i*4:])
		wasm.Test(img.methods[i] < uint32(len(img.code)))
	}
	return img
}

// NumMethods reports the method count of a compiled image.
func NumMethods(b []byte) uint32 {
	img := parseImage(b)
	return uint32(len(img.methods))
}
