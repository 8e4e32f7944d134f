package bvm

import (
	"encoding/binary"

	"github.com/Maxnflaxl/beam/log"
	"github.com/Maxnflaxl/beam/types"
)

// Asset bookkeeping lives in the variable store: a global id counter
// under the zero contract, and per-owner metadata and emitted-total
// records under the owning contract.
var assetCounterSuffix = []byte("asset.next")

func assetMetaSuffix(aid uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, aid)
}

func assetTotalSuffix(aid uint32) []byte {
	return append(binary.LittleEndian.AppendUint32(nil, aid), 't')
}

func (p *ContractProcessor) assetCreate() {
	nMeta := p.VM.Pop()
	pMeta := p.VM.Pop()
	if nMeta == 0 {
		p.VM.Push(0)
		return
	}
	meta := append([]byte(nil), p.memAt(pMeta, nMeta)...)

	counterKey := makeVarKey(types.ContractID{}, TagInternal, assetCounterSuffix)
	next := uint32(1)
	if v := p.loadVar(counterKey); v != nil {
		next = binary.LittleEndian.Uint32(v) + 1
	}
	p.saveVar(counterKey, binary.LittleEndian.AppendUint32(nil, next))
	p.saveVar(makeVarKey(p.curCid(), TagOwnedAsset, assetMetaSuffix(next)), meta)

	log.Debug(log.ContractMonitoring, "asset created",
		"cid", p.curCid().String(), "aid", next)
	p.VM.Push(next)
}

func (p *ContractProcessor) assetEmit() {
	emit := p.VM.Pop()
	amount := p.VM.Pop64()
	aid := p.VM.Pop()

	if p.loadVar(makeVarKey(p.curCid(), TagOwnedAsset, assetMetaSuffix(aid))) == nil {
		p.VM.Push(0)
		return
	}

	totalKey := makeVarKey(p.curCid(), TagOwnedAsset, assetTotalSuffix(aid))
	total := uint64(0)
	if v := p.loadVar(totalKey); v != nil {
		total = binary.LittleEndian.Uint64(v)
	}

	if emit != 0 {
		if total+amount < total {
			p.VM.Push(0)
			return
		}
		total += amount
	} else {
		if amount > total {
			p.VM.Push(0)
			return
		}
		total -= amount
	}

	if total == 0 {
		p.saveVar(totalKey, nil)
	} else {
		p.saveVar(totalKey, binary.LittleEndian.AppendUint64(nil, total))
	}
	p.Funds.Add(types.AssetID(aid), types.Amount(amount), emit == 0)
	p.VM.Push(1)
}

func (p *ContractProcessor) assetDestroy() {
	aid := p.VM.Pop()

	metaKey := makeVarKey(p.curCid(), TagOwnedAsset, assetMetaSuffix(aid))
	if p.loadVar(metaKey) == nil {
		p.VM.Push(0)
		return
	}
	if p.loadVar(makeVarKey(p.curCid(), TagOwnedAsset, assetTotalSuffix(aid))) != nil {
		// outstanding emission
		p.VM.Push(0)
		return
	}
	p.saveVar(metaKey, nil)
	p.VM.Push(1)
}
