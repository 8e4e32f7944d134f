package bvm

import (
	"crypto/sha256"
	"hash"

	"github.com/dchest/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/Maxnflaxl/beam/wasm"
)

// hashContext is an open hash object owned by the executing module.
// GetValue snapshots the digest without finalizing, so a context can
// keep absorbing after being read.
type hashContext struct {
	h hash.Hash
}

func (p *Processor) getHash(h uint32) *hashContext {
	hc, ok := p.hashes[h]
	if !ok {
		wasm.Throw(wasm.FaultCondition, "bad hash handle")
	}
	return hc
}

func (p *Processor) addHash(h hash.Hash) {
	id := p.newHandle()
	p.hashes[id] = &hashContext{h: h}
	p.VM.Push(id)
}

func (p *Processor) hashCreateSha256() {
	p.addHash(sha256.New())
}

func (p *Processor) hashCreateBlake2b() {
	nResult := p.VM.Pop()
	nPersonal := p.VM.Pop()
	pPersonal := p.VM.Pop()

	if nResult == 0 || nResult > blake2b.Size || nPersonal > blake2b.PersonSize {
		p.VM.Push(0)
		return
	}
	cfg := &blake2b.Config{Size: uint8(nResult)}
	if nPersonal > 0 {
		cfg.Person = append([]byte(nil), p.memAt(pPersonal, nPersonal)...)
	}
	h, err := blake2b.New(cfg)
	if err != nil {
		p.VM.Push(0)
		return
	}
	p.addHash(h)
}

func (p *Processor) hashCreateKeccak256() {
	p.addHash(sha3.NewLegacyKeccak256())
}

func (p *Processor) hashWrite() {
	n := p.VM.Pop()
	ptr := p.VM.Pop()
	hc := p.getHash(p.VM.Pop())
	hc.h.Write(p.memAt(ptr, n))
}

func (p *Processor) hashGetValue() {
	n := p.VM.Pop()
	dst := p.VM.Pop()
	hc := p.getHash(p.VM.Pop())

	digest := hc.h.Sum(nil)
	wasm.Test(uint64(n) <= uint64(len(digest)))
	copy(p.memAt(dst, n), digest[:n])
}

func (p *Processor) hashFree() {
	h := p.VM.Pop()
	p.getHash(h)
	delete(p.hashes, h)
}
