// Package pow verifies BeamHash III proofs of work, an Equihash(150,5)
// variant personalized with "Beam-PoW".
package pow

import (
	"encoding/binary"

	"github.com/dchest/blake2b"
)

const (
	workN = 150
	workK = 5

	collisionBits = workN / (workK + 1) // 25
	indexBits     = collisionBits + 1   // 26
	numIndices    = 1 << workK          // 32

	// SolutionSize is the packed solution length in bytes.
	SolutionSize = numIndices * indexBits / 8 // 104

	hashBytes = (workN + 7) / 8 // 19
)

func personal() []byte {
	p := make([]byte, 0, 16)
	p = append(p, "Beam-PoW"...)
	p = binary.LittleEndian.AppendUint32(p, workN)
	p = binary.LittleEndian.AppendUint32(p, workK)
	return p
}

// indexHash produces the n-bit string bound to one solution index.
func indexHash(input, nonce []byte, idx uint32) []byte {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: personal()})
	if err != nil {
		panic(err)
	}
	h.Write(input)
	h.Write(nonce)
	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], idx)
	h.Write(le[:])

	out := h.Sum(nil)[:hashBytes]
	// mask the bits past n
	if rem := uint(workN % 8); rem != 0 {
		out[hashBytes-1] &= byte(0xFF << (8 - rem))
	}
	return out
}

// unpackIndices splits the big-endian packed solution into its
// 26-bit leaf indices.
func unpackIndices(sol []byte) []uint32 {
	out := make([]uint32, numIndices)
	var acc uint64
	var accBits uint
	pos := 0
	for i := range out {
		for accBits < indexBits {
			acc = acc<<8 | uint64(sol[pos])
			accBits += 8
			pos++
		}
		accBits -= indexBits
		out[i] = uint32(acc>>accBits) & (1<<indexBits - 1)
		acc &= 1<<accBits - 1
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// zeroBits reports whether the first n bits of b are zero.
func zeroBits(b []byte, n uint) bool {
	full := n / 8
	for _, c := range b[:full] {
		if c != 0 {
			return false
		}
	}
	if rem := n % 8; rem != 0 {
		if b[full]>>(8-rem) != 0 {
			return false
		}
	}
	return true
}

type node struct {
	hash    []byte
	minLeaf uint32
}

// Verify checks a packed 104-byte solution against input and nonce.
func Verify(input, nonce, solution []byte) bool {
	if len(solution) != SolutionSize {
		return false
	}

	indices := unpackIndices(solution)
	seen := make(map[uint32]bool, numIndices)
	for _, idx := range indices {
		if seen[idx] {
			return false
		}
		seen[idx] = true
	}

	level := make([]node, numIndices)
	for i, idx := range indices {
		level[i] = node{hash: indexHash(input, nonce, idx), minLeaf: idx}
	}

	for depth := uint(1); depth <= workK; depth++ {
		next := make([]node, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			l, r := level[i], level[i+1]
			if l.minLeaf >= r.minLeaf {
				return false
			}
			merged := make([]byte, hashBytes)
			copy(merged, l.hash)
			xorInto(merged, r.hash)
			if !zeroBits(merged, depth*collisionBits) {
				return false
			}
			next = append(next, node{hash: merged, minLeaf: l.minLeaf})
		}
		level = next
	}

	return zeroBits(level[0].hash, workN)
}
