package bvm

import (
	"encoding/binary"

	"github.com/Maxnflaxl/beam/log"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// farFrame is one level of the contract call chain. callerCode is the
// image code to restore when the frame returns; nil marks the
// top-level frame.
type farFrame struct {
	cid        types.ContractID
	callerCode []byte
	localDepth uint32
}

// ContractProcessor executes on-chain contract code. Variable writes
// go to a staged store, funds and signatures accumulate in memory;
// the driver commits or discards the lot.
type ContractProcessor struct {
	Processor

	Vars  *store.Staged
	Funds FundsChangeMap
	Sigs  []types.PubKey

	frames []farFrame
	done   bool
}

// NewContractProcessor returns a processor with a fresh runtime over
// the given staged store.
func NewContractProcessor(vars *store.Staged, oracle types.ChainOracle, ceiling uint64) *ContractProcessor {
	p := &ContractProcessor{
		Vars:  vars,
		Funds: make(FundsChangeMap),
	}
	p.Oracle = oracle
	p.ChargeCeiling = ceiling
	p.initRuntime(p.invokeContract)
	p.VM.OnCall = p.onCall
	p.VM.OnRet = p.onRet
	return p
}

func (p *ContractProcessor) curCid() types.ContractID {
	return p.frames[len(p.frames)-1].cid
}

// Done reports whether the top-level frame has returned.
func (p *ContractProcessor) Done() bool {
	return p.done
}

func (p *ContractProcessor) onCall(retAddr uint32) {
	p.frames[len(p.frames)-1].localDepth++
}

func (p *ContractProcessor) onRet(retAddr uint32) {
	top := &p.frames[len(p.frames)-1]
	if top.localDepth > 0 {
		top.localDepth--
		p.VM.Jmp(retAddr)
		return
	}
	callerCode := top.callerCode
	p.frames = p.frames[:len(p.frames)-1]
	if len(p.frames) == 0 {
		p.done = true
		return
	}
	p.VM.Code = callerCode
	p.VM.Jmp(retAddr)
}

// enterFrame switches execution to method iMethod of the given image.
// The caller must already have pushed the callee's arguments and the
// return address.
func (p *ContractProcessor) enterFrame(cid types.ContractID, body []byte, iMethod uint32) {
	if uint32(len(p.frames)) >= LimitFarCallDepth {
		wasm.Throw(wasm.FaultCallDepth, "far-call depth exceeded")
	}
	img := parseImage(body)
	wasm.Test(iMethod < uint32(len(img.methods)))

	p.frames = append(p.frames, farFrame{cid: cid, callerCode: p.VM.Code})
	p.VM.Code = img.code
	p.VM.Jmp(img.methods[iMethod])
}

// bodyKey is the variable key a contract's compiled image lives under.
func bodyKey(cid types.ContractID) VarKey {
	return makeVarKey(cid, TagInternal, nil)
}

func (p *ContractProcessor) loadBody(cid types.ContractID) []byte {
	vk := bodyKey(cid)
	body, err := p.Vars.Load(vk.Bytes())
	if err != nil {
		wasm.Throw(wasm.FaultCondition, "variable store unavailable")
	}
	wasm.Test(body != nil)
	return body
}

func (p *ContractProcessor) loadVar(vk VarKey) []byte {
	v, err := p.Vars.Load(vk.Bytes())
	if err != nil {
		wasm.Throw(wasm.FaultCondition, "variable store unavailable")
	}
	return v
}

func (p *ContractProcessor) saveVar(vk VarKey, val []byte) {
	if err := p.Vars.Save(vk.Bytes(), val); err != nil {
		wasm.Throw(wasm.FaultCondition, "variable store unavailable")
	}
}

func (p *ContractProcessor) invokeContract(binding uint32) bool {
	switch binding {

	case bindLoadVar:
		nVal := p.VM.Pop()
		pVal := p.VM.Pop()
		nKey := p.VM.Pop()
		pKey := p.VM.Pop()
		vk := makeVarKey(p.curCid(), TagInternal, p.memAt(pKey, nKey))
		v := p.loadVar(vk)
		n := uint32(len(v))
		if n > nVal {
			n = nVal
		}
		copy(p.memAt(pVal, n), v[:n])
		p.VM.Push(uint32(len(v)))

	case bindSaveVar:
		nVal := p.VM.Pop()
		pVal := p.VM.Pop()
		nKey := p.VM.Pop()
		pKey := p.VM.Pop()
		wasm.Test(nVal <= LimitVarSize)
		vk := makeVarKey(p.curCid(), TagInternal, p.memAt(pKey, nKey))
		prev := p.loadVar(vk)
		var val []byte
		if nVal > 0 {
			val = append([]byte(nil), p.memAt(pVal, nVal)...)
		}
		p.saveVar(vk, val)
		p.VM.Push(boolWord(prev == nil))

	case bindCallFar:
		nArgs := p.VM.Pop()
		pArgs := p.VM.Pop()
		iMethod := p.VM.Pop()
		pCid := p.VM.Pop()
		var cid types.ContractID
		copy(cid[:], p.memAt(pCid, 32))
		body := p.loadBody(cid)

		retAddr := p.VM.IP()
		p.VM.Push(pArgs)
		p.VM.Push(nArgs)
		p.VM.Push(retAddr)
		p.enterFrame(cid, body, iMethod)
		log.Trace(log.ContractMonitoring, "far call",
			"cid", cid.String(), "method", iMethod, "depth", len(p.frames))

	case bindCallDepth:
		p.VM.Push(uint32(len(p.frames)))

	case bindCallerCid:
		out := p.VM.Pop()
		iDepth := p.VM.Pop()
		b := p.memAt(out, 32)
		caller := int(len(p.frames)) - 2 - int(iDepth)
		if caller < 0 {
			// called from the transaction itself, not a contract
			for i := range b {
				b[i] = 0
			}
			return true
		}
		copy(b, p.frames[caller].cid[:])

	case bindAddSig:
		pPk := p.VM.Pop()
		var pk types.PubKey
		copy(pk[:], p.memAt(pPk, 33))
		p.Sigs = append(p.Sigs, pk)

	case bindFundsLock:
		amount := p.VM.Pop64()
		aid := p.VM.Pop()
		p.Funds.Add(types.AssetID(aid), types.Amount(amount), true)
		p.adjustLocked(types.AssetID(aid), types.Amount(amount), true)

	case bindFundsUnlock:
		amount := p.VM.Pop64()
		aid := p.VM.Pop()
		p.Funds.Add(types.AssetID(aid), types.Amount(amount), false)
		p.adjustLocked(types.AssetID(aid), types.Amount(amount), false)

	case bindRefAdd:
		pCid := p.VM.Pop()
		var cid types.ContractID
		copy(cid[:], p.memAt(pCid, 32))
		p.loadBody(cid) // must be a live contract
		vk := makeVarKey(cid, TagRefs, nil)
		refs := uint64(0)
		if v := p.loadVar(vk); v != nil {
			wasm.Test(len(v) == 8)
			refs = binary.LittleEndian.Uint64(v)
		}
		p.saveVar(vk, binary.LittleEndian.AppendUint64(nil, refs+1))

	case bindRefRelease:
		pCid := p.VM.Pop()
		var cid types.ContractID
		copy(cid[:], p.memAt(pCid, 32))
		vk := makeVarKey(cid, TagRefs, nil)
		v := p.loadVar(vk)
		wasm.Test(v != nil && len(v) == 8)
		refs := binary.LittleEndian.Uint64(v)
		wasm.Test(refs > 0)
		if refs == 1 {
			p.saveVar(vk, nil)
		} else {
			p.saveVar(vk, binary.LittleEndian.AppendUint64(nil, refs-1))
		}

	case bindAssetCreate:
		p.assetCreate()
	case bindAssetEmit:
		p.assetEmit()
	case bindAssetDestroy:
		p.assetDestroy()

	default:
		return false
	}
	return true
}

// refCount reads the reference counter of a contract.
func refCount(vars *store.Staged, cid types.ContractID) (uint64, error) {
	vk := makeVarKey(cid, TagRefs, nil)
	v, err := vars.Load(vk.Bytes())
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(v), nil
}
