package bvm

import (
	"sort"

	"github.com/Maxnflaxl/beam/wasm"
)

type heapEntry struct {
	pos  uint32
	size uint32
}

// Heap is a best-fit allocator over a linear-memory range. Free
// extents are kept in two ordered views: by (size, pos) for the
// best-fit pick, by pos for coalescing on free. There is no
// compaction.
type Heap struct {
	freeBySize []heapEntry
	freeByPos  []heapEntry
	allocated  map[uint32]uint32
}

// Init resets the heap to a single free extent [base, base+size).
func (h *Heap) Init(base, size uint32) {
	h.freeBySize = h.freeBySize[:0]
	h.freeByPos = h.freeByPos[:0]
	h.allocated = make(map[uint32]uint32)
	if size > 0 {
		h.insertFree(heapEntry{pos: base, size: size})
	}
}

func (h *Heap) sizeIdx(e heapEntry) int {
	return sort.Search(len(h.freeBySize), func(i int) bool {
		s := h.freeBySize[i]
		return s.size > e.size || (s.size == e.size && s.pos >= e.pos)
	})
}

func (h *Heap) posIdx(pos uint32) int {
	return sort.Search(len(h.freeByPos), func(i int) bool {
		return h.freeByPos[i].pos >= pos
	})
}

func (h *Heap) insertFree(e heapEntry) {
	i := h.sizeIdx(e)
	h.freeBySize = append(h.freeBySize, heapEntry{})
	copy(h.freeBySize[i+1:], h.freeBySize[i:])
	h.freeBySize[i] = e

	j := h.posIdx(e.pos)
	h.freeByPos = append(h.freeByPos, heapEntry{})
	copy(h.freeByPos[j+1:], h.freeByPos[j:])
	h.freeByPos[j] = e
}

func (h *Heap) removeFree(e heapEntry) {
	i := h.sizeIdx(e)
	h.freeBySize = append(h.freeBySize[:i], h.freeBySize[i+1:]...)

	j := h.posIdx(e.pos)
	h.freeByPos = append(h.freeByPos[:j], h.freeByPos[j+1:]...)
}

// Alloc returns the position of a fresh extent of at least size bytes,
// or false on exhaustion. Best fit, ties broken by lowest position.
func (h *Heap) Alloc(size uint32) (uint32, bool) {
	if size == 0 {
		return 0, false
	}

	i := sort.Search(len(h.freeBySize), func(i int) bool {
		return h.freeBySize[i].size >= size
	})
	if i == len(h.freeBySize) {
		return 0, false
	}

	e := h.freeBySize[i]
	h.removeFree(e)

	if e.size > size {
		h.insertFree(heapEntry{pos: e.pos + size, size: e.size - size})
	}

	h.allocated[e.pos] = size
	return e.pos, true
}

// Free releases an allocation, merging it with adjacent free extents.
func (h *Heap) Free(pos uint32) {
	size, ok := h.allocated[pos]
	if !ok {
		wasm.Throw(wasm.FaultHeap, "free of unallocated address")
	}
	delete(h.allocated, pos)

	e := heapEntry{pos: pos, size: size}

	// successor
	j := h.posIdx(pos + size)
	if j < len(h.freeByPos) && h.freeByPos[j].pos == pos+size {
		next := h.freeByPos[j]
		h.removeFree(next)
		e.size += next.size
	}

	// predecessor
	j = h.posIdx(pos)
	if j > 0 {
		prev := h.freeByPos[j-1]
		if prev.pos+prev.size == pos {
			h.removeFree(prev)
			e.pos = prev.pos
			e.size += prev.size
		}
	}

	h.insertFree(e)
}

// AllocatedCount reports the number of live allocations.
func (h *Heap) AllocatedCount() int {
	return len(h.allocated)
}
