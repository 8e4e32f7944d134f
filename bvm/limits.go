package bvm

import (
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// Hard limits of the contract runtime.
const (
	LimitFarCallDepth = 32
	LimitVarKeySize   = 256
	LimitVarSize      = 0x2000
	LimitStackSize    = 0x10000
	LimitHeapSize     = 0x80000
)

// Variable key tags. A stored key is cid || tag || user key.
const (
	TagInternal     byte = 0
	TagLockedAmount byte = 1
	TagRefs         byte = 2
	TagOwnedAsset   byte = 3
)

// VarKey is a fully-qualified variable key.
type VarKey struct {
	buf  [32 + 1 + LimitVarKeySize]byte
	size int
}

func (vk *VarKey) Set(cid types.ContractID) {
	copy(vk.buf[:32], cid[:])
	vk.size = 32
}

func (vk *VarKey) Append(tag byte, suffix []byte) {
	wasm.Test(len(suffix) <= LimitVarKeySize)
	vk.buf[vk.size] = tag
	vk.size++
	copy(vk.buf[vk.size:], suffix)
	vk.size += len(suffix)
}

func (vk *VarKey) Bytes() []byte {
	return vk.buf[:vk.size]
}

func makeVarKey(cid types.ContractID, tag byte, suffix []byte) VarKey {
	var vk VarKey
	vk.Set(cid)
	vk.Append(tag, suffix)
	return vk
}
